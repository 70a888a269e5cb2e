package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Format string
	Level  string
	Writer io.Writer
}

type Logger struct {
	base zerolog.Logger
}

// New returns an info-level logger writing to stdout in the given format
// ("json" or "text").
func New(format string) *Logger {
	l, err := NewWithOptions(Options{Format: format})
	if err != nil {
		return &Logger{base: zerolog.New(os.Stdout).With().Timestamp().Logger()}
	}
	return l
}

func NewWithOptions(opts Options) (*Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	var output io.Writer = writer
	switch strings.ToLower(opts.Format) {
	case "", "json":
	case "text":
		console := zerolog.NewConsoleWriter()
		console.Out = writer
		console.TimeFormat = time.RFC3339
		console.NoColor = true
		output = console
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	return &Logger{base: zerolog.New(output).Level(level).With().Timestamp().Logger()}, nil
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

// With returns a child logger that always carries fields.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return nil
	}
	ctx := l.base.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, fieldValue(f.Value))
	}
	return &Logger{base: ctx.Logger()}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	if l == nil {
		return
	}
	write(l.base.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...Field) {
	if l == nil {
		return
	}
	write(l.base.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	if l == nil {
		return
	}
	write(l.base.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	if l == nil {
		return
	}
	write(l.base.Error(), msg, fields)
}

func write(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			ev = ev.AnErr(f.Key, v)
		case string:
			ev = ev.Str(f.Key, v)
		case int:
			ev = ev.Int(f.Key, v)
		case bool:
			ev = ev.Bool(f.Key, v)
		case time.Duration:
			ev = ev.Str(f.Key, v.String())
		case fmt.Stringer:
			ev = ev.Str(f.Key, v.String())
		default:
			ev = ev.Interface(f.Key, v)
		}
	}
	ev.Msg(msg)
}

func fieldValue(v interface{}) interface{} {
	switch t := v.(type) {
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

type Field struct {
	Key   string
	Value interface{}
}
