package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFrame is returned by InboundFrame.Validate when a frame carries
	// neither text nor an image.
	ErrInvalidFrame = errors.New("text or image is required")

	// ErrNoRoute is the drop reason recorded when an outbound call targets a
	// conversation with no live handle. It is never returned to callers.
	ErrNoRoute = errors.New("no live handle for conversation")
)

// ParseError reports a malformed inbound frame.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError reports that an adapter could not acquire its listener or
// channel.
type TransportError struct {
	Platform string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Platform == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnknownPlatformError is returned for outbound calls naming a platform that
// has no registered adapter.
type UnknownPlatformError struct {
	Platform string
}

func (e *UnknownPlatformError) Error() string {
	return fmt.Sprintf("unknown platform: %s", e.Platform)
}

// IsUnknownPlatform reports whether err is or wraps an UnknownPlatformError.
func IsUnknownPlatform(err error) bool {
	var upe *UnknownPlatformError
	return errors.As(err, &upe)
}
