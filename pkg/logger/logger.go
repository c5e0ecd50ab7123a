// Package logger provides component-tagged structured logging for switchboard.
//
// Every call names the component that produced it ("registry", "socket",
// "stream", ...) so log lines from different transports can be told apart.
// Output defaults to stderr: the pipe adapter owns stdout in stdio mode.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel maps a config string to a Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN", "warning":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

var (
	mu      sync.RWMutex
	out     io.Writer = os.Stderr
	jsonOut bool
	level           = INFO
	base            = build()
)

func build() zerolog.Logger {
	w := out
	if !jsonOut {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(w).Level(toZerolog(level)).With().Timestamp().Logger()
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLevel changes the minimum level that is written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
	base = build()
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// SetOutput redirects all log output to w. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	mu.Lock()
	defer mu.Unlock()
	out = w
	base = build()
}

// SetJSON switches between human console output and one JSON object per line.
func SetJSON(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	jsonOut = enabled
	base = build()
}

func logEvent(l Level, component, message string, fields map[string]any) {
	mu.RLock()
	lg := base
	mu.RUnlock()

	var ev *zerolog.Event
	switch l {
	case DEBUG:
		ev = lg.Debug()
	case WARN:
		ev = lg.Warn()
	case ERROR:
		ev = lg.Error()
	default:
		ev = lg.Info()
	}
	if ev == nil {
		return
	}
	if component != "" {
		ev = ev.Str("component", component)
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)
}

func Debug(message string) { logEvent(DEBUG, "", message, nil) }
func Info(message string)  { logEvent(INFO, "", message, nil) }
func Warn(message string)  { logEvent(WARN, "", message, nil) }
func Error(message string) { logEvent(ERROR, "", message, nil) }

func DebugC(component, message string) { logEvent(DEBUG, component, message, nil) }
func InfoC(component, message string)  { logEvent(INFO, component, message, nil) }
func WarnC(component, message string)  { logEvent(WARN, component, message, nil) }
func ErrorC(component, message string) { logEvent(ERROR, component, message, nil) }

func DebugCF(component, message string, fields map[string]any) {
	logEvent(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]any) {
	logEvent(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]any) {
	logEvent(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]any) {
	logEvent(ERROR, component, message, fields)
}
