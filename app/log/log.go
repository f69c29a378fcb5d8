// Package log provides the service logger: a zerolog backend exposed through
// the Kratos log.Logger interface the rest of the code is written against.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/rs/zerolog"
)

type zeroLogLogger struct {
	logger zerolog.Logger
}

// New builds a logger writing to w at the given level, with the service
// identity attached to every entry.
func New(w io.Writer, level, service string) log.Logger {
	zl := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
	return zeroLogLogger{logger: zl}
}

// NewStderr builds the default logger writing to standard error.
func NewStderr(level, service string) log.Logger {
	return New(os.Stderr, level, service)
}

// ParseLevel maps a configuration string to a zerolog level, defaulting to
// info for anything it does not recognize.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Log implements the log.Logger interface. It converts Kratos log levels to
// zerolog levels and handles structured logging.
func (l zeroLogLogger) Log(level log.Level, keyvals ...interface{}) error {
	// Tolerate odd number of keyvals by appending a placeholder value
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "BAD_VALUE")
	}

	var event *zerolog.Event
	switch level {
	case log.LevelDebug:
		event = l.logger.Debug()
	case log.LevelInfo:
		event = l.logger.Info()
	case log.LevelWarn:
		event = l.logger.Warn()
	case log.LevelError:
		event = l.logger.Error()
	case log.LevelFatal:
		event = l.logger.Fatal()
	default:
		// Log unknown levels as warnings and include the original level
		event = l.logger.Warn().Interface("original_level", level)
	}

	var msg string
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("BAD_KEY_%d", i)
			event = event.Interface("original_key", keyvals[i])
		}

		val := keyvals[i+1]

		if key == "msg" {
			if str, ok := val.(string); ok {
				msg = str
			} else {
				msg = fmt.Sprint(val)
			}
			continue
		}

		if key == "err" || key == "error" {
			if e, ok := val.(error); ok {
				event = event.Err(e)
				continue
			}
		}

		event = event.Interface(key, val)
	}

	event.Msg(msg)
	return nil
}
