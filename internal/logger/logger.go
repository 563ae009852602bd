// Package logger builds the process zerolog.Logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the log level and output format ("console" or "json").
type Options struct {
	Level  string
	Format string
}

// New returns a logger writing to stdout and stderr. In console format
// debug..warn go to stdout and error and above go to stderr.
func New(opts Options) zerolog.Logger {
	return NewWithWriters(opts, os.Stdout, os.Stderr)
}

// NewWithWriters is New with explicit destinations.
func NewWithWriters(opts Options, stdout, stderr io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writer io.Writer
	if opts.Format == "json" {
		writer = zerolog.MultiLevelWriter(
			SpecificLevelWriter{Writer: stdout, Levels: outLevels},
			SpecificLevelWriter{Writer: stderr, Levels: errLevels},
		)
	} else {
		writer = zerolog.MultiLevelWriter(
			SpecificLevelWriter{
				Writer: zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339},
				Levels: outLevels,
			},
			SpecificLevelWriter{
				Writer: zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339},
				Levels: errLevels,
			},
		)
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

var (
	outLevels = []zerolog.Level{zerolog.TraceLevel, zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel}
	errLevels = []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel}
)

// SpecificLevelWriter forwards only the listed levels to Writer.
type SpecificLevelWriter struct {
	io.Writer
	Levels []zerolog.Level
}

func (w SpecificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.Levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}
