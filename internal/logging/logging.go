package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// scopeFieldName is the key of the component column in console output.
const scopeFieldName = "scope"

// NewLogger creates the root logger. Components derive their own
// sub-logger from it with WithScope at construction time.
func NewLogger(level zerolog.Level) zerolog.Logger {
	zerolog.SetGlobalLevel(level)
	return newLogger(os.Stderr, level)
}

// NewFileLogger appends to the file at path. It keeps log lines off the
// terminal while the dashboard owns it.
func NewFileLogger(path string, level zerolog.Level) (zerolog.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	return newLogger(f, level), f, nil
}

func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		PartsOrder: []string{
			zerolog.LevelFieldName,
			zerolog.TimestampFieldName,
			scopeFieldName,
			zerolog.MessageFieldName,
		},
		// Render the scope as [SCOPE] instead of scope=SCOPE.
		FormatPrepare: func(m map[string]any) error {
			if v, ok := m[scopeFieldName].(string); ok && v != "" {
				m[scopeFieldName] = fmt.Sprintf("[%s]", v)
			} else {
				m[scopeFieldName] = "[app]"
			}
			return nil
		},
		FieldsExclude: []string{scopeFieldName},
	}

	return zerolog.New(consoleWriter).Level(level).With().Timestamp().Logger()
}

// WithScope returns a sub-logger tagged with a component name.
func WithScope(logger zerolog.Logger, scope string) zerolog.Logger {
	return logger.With().Str(scopeFieldName, scope).Logger()
}

// ParseLevel accepts the usual zerolog level names and falls back to
// info for an empty string.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(s)
}

type joinableError interface {
	Unwrap() []error
}

// ErrorUnwrapped logs every error of a joined error on its own line.
func ErrorUnwrapped(logger *zerolog.Logger, msg string, err error) {
	logUnwrapped(logger, zerolog.ErrorLevel, msg, err)
}

// WarnUnwrapped is ErrorUnwrapped at warn level.
func WarnUnwrapped(logger *zerolog.Logger, msg string, err error) {
	logUnwrapped(logger, zerolog.WarnLevel, msg, err)
}

func logUnwrapped(logger *zerolog.Logger, level zerolog.Level, msg string, err error) {
	var joined joinableError
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			logger.WithLevel(level).Err(e).Msg(msg)
		}
		return
	}

	logger.WithLevel(level).Err(err).Msg(msg)
}
