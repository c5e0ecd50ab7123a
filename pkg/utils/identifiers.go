package utils

import (
	"errors"
	"strings"
)

// ValidatePlatformName validates that a platform name used to register an
// adapter is non-empty and contains neither whitespace nor ':'. Session keys
// use ':' as their field separator, so a platform name containing one would
// make keys ambiguous.
func ValidatePlatformName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("platform name is required and must be a non-empty string")
	}
	if strings.ContainsAny(name, ": \t\r\n") {
		return errors.New("platform name must not contain ':' or whitespace")
	}
	return nil
}

// ValidateChannelPrefix validates a host-channel name prefix. It follows the
// same rules as platform names and additionally rejects path separators,
// since prefixes are also used to derive unix socket names.
func ValidateChannelPrefix(prefix string) error {
	if err := ValidatePlatformName(prefix); err != nil {
		return err
	}
	if strings.ContainsAny(prefix, "/\\") || strings.Contains(prefix, "..") {
		return errors.New("channel prefix must not contain path separators or '..'")
	}
	return nil
}
