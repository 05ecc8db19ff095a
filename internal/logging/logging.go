// Package logging builds the zap logger every ledger component writes to.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects encoding, level and destination.
type Config struct {
	Format string `env:"LOG_FORMAT" env-default:"console"` // console, logfmt or json
	Level  string `env:"LOG_LEVEL" env-default:"info"`     // debug, info, warn, error
	Output string `env:"LOG_OUTPUT" env-default:"stderr"`  // stderr, stdout or a file path
}

// New builds a logger from conf. Extra write syncers receive the same records, which lets tests
// capture output.
func New(conf Config, extraWriters ...zapcore.WriteSyncer) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(ts time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(ts.UTC().Format(time.RFC3339))
	}

	var encoder zapcore.Encoder
	switch conf.Format {
	case "logfmt":
		encoder = zaplogfmt.NewEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", conf.Format)
	}

	level := zapcore.InfoLevel
	if conf.Level != "" {
		l, err := zapcore.ParseLevel(conf.Level)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		level = l
	}

	ws, err := output(conf.Output)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(append(extraWriters, ws)...), level)
	return zap.New(core, zap.AddCaller()), nil
}

func output(dest string) (zapcore.WriteSyncer, error) {
	switch dest {
	case "", "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", dest, err)
	}
	return zapcore.AddSync(f), nil
}
