// Package logging builds the process's zap.Logger, optionally routing
// output through a rotating file writer (github.com/DeRuina/timberjack),
// mirroring the teacher's cmd/caddy logging setup (structured, leveled,
// stderr by default, file rotation only when a path is configured).
package logging

import (
	"os"

	"github.com/DeRuina/timberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	// Level is one of "debug", "info", "warn", "error"; defaults to "info".
	Level string
	// FilePath, when set, routes logs to a timberjack-rotated file instead
	// of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a zap.Logger from opts.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	var sink zapcore.WriteSyncer
	if opts.FilePath != "" {
		sink = zapcore.AddSync(&timberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    nonZero(opts.MaxSizeMB, 100),
			MaxBackups: opts.MaxBackups,
			MaxAge:     nonZero(opts.MaxAgeDays, 28),
		})
	} else {
		sink = zapcore.Lock(zapcore.AddSync(os.Stderr))
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
