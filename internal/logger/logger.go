// Package logger is the concrete, zerolog-backed implementation of
// mtglib.Logger: structured, leveled, console-or-JSON output depending on
// whether stderr is a terminal.
package logger

import (
	"os"

	"github.com/mtgrelay/mtgproxy/mtglib"
	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the small, chainable surface mtglib
// builds its own logging against.
type Logger struct {
	event zerolog.Logger
}

// NewLogger builds a Logger. debug raises the minimum level to Debug;
// otherwise only Info and above are emitted. human selects a colorized
// console writer (suitable for an interactive terminal) instead of raw
// JSON lines (suitable for log aggregators).
func NewLogger(debug, human bool) Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var writer = os.Stderr

	var base zerolog.Logger
	if human {
		base = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"})
	} else {
		base = zerolog.New(writer)
	}

	base = base.Level(level).With().Timestamp().Logger()

	return Logger{event: base}
}

func (l Logger) Named(name string) mtglib.Logger {
	return Logger{event: l.event.With().Str("logger", name).Logger()}
}

func (l Logger) BindStr(key, value string) mtglib.Logger {
	return Logger{event: l.event.With().Str(key, value).Logger()}
}

func (l Logger) BindInt(key string, value int) mtglib.Logger {
	return Logger{event: l.event.With().Int(key, value).Logger()}
}

func (l Logger) Debug(msg string) {
	l.event.Debug().Msg(msg)
}

func (l Logger) Info(msg string) {
	l.event.Info().Msg(msg)
}

func (l Logger) Warning(msg string) {
	l.event.Warn().Msg(msg)
}

func (l Logger) InfoError(msg string, err error) {
	l.event.Info().Err(err).Msg(msg)
}

func (l Logger) WarningError(msg string, err error) {
	l.event.Warn().Err(err).Msg(msg)
}

var _ mtglib.Logger = Logger{}
