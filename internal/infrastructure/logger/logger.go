// Package logger builds the process zap logger and the adapters that route
// ORM output through it.
package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"backend-skeleton/internal/config"
)

// Options selects the sink once at startup.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Silent bool
	Out    io.Writer // defaults to stdout
}

// FromConfig maps the process configuration to logger options. The test run
// mode silences output.
func FromConfig(c *config.Config) Options {
	return Options{
		Level:  c.LogLevel,
		Format: c.LogFormat,
		Silent: c.IsTest(),
	}
}

// New returns a logger writing to Options.Out. Error entries carry a stack trace.
func New(o Options) (*zap.Logger, error) {
	if o.Silent {
		return zap.NewNop(), nil
	}

	lvl := zapcore.InfoLevel
	if o.Level != "" {
		var err error
		if lvl, err = zapcore.ParseLevel(o.Level); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", o.Level, err)
		}
	}

	enc, err := newEncoder(o.Format)
	if err != nil {
		return nil, err
	}

	out := o.Out
	if out == nil {
		out = os.Stdout
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), lvl)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	switch format {
	case config.FormatJSON:
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.StacktraceKey = "stack"
		return zapcore.NewJSONEncoder(ec), nil
	case config.FormatConsole, "":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 03:04:05 PM")
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
