package logger

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog levels so callers don't import zerolog directly.
type Level int8

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	mu  sync.RWMutex
	log = newLogger()
)

func newLogger() zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(toZerolog(level))
}

// UseJSON switches output from the console writer to plain JSON lines,
// for running under a process supervisor.
func UseJSON() {
	mu.Lock()
	defer mu.Unlock()
	log = zerolog.New(os.Stderr).Level(log.GetLevel()).With().Timestamp().Logger()
}

func toZerolog(level Level) zerolog.Level {
	switch level {
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

func current() *zerolog.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	return &l
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) {
	current().Debug().Str("component", component).Msg(msg)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) {
	current().Info().Str("component", component).Msg(msg)
}

// WarnC logs a warning for a component.
func WarnC(component, msg string) {
	current().Warn().Str("component", component).Msg(msg)
}

// ErrorC logs an error for a component.
func ErrorC(component, msg string) {
	current().Error().Str("component", component).Msg(msg)
}

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	current().Debug().Str("component", component).Fields(fields).Msg(msg)
}

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	current().Info().Str("component", component).Fields(fields).Msg(msg)
}

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	current().Warn().Str("component", component).Fields(fields).Msg(msg)
}

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	current().Error().Str("component", component).Fields(fields).Msg(msg)
}
