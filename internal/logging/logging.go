// Package logging configures the process-wide structured logger.
// Output always goes to stderr as JSON; when a log file is configured the
// same stream also lands in a size-capped rotating file so long-running
// daemons do not fill the disk.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options control where and how much the daemon logs.
type Options struct {
	Level      string // debug, info, warn, error
	File       string // rotating file sink; empty disables the file core
	MaxSizeMB  int    // rotate after this many megabytes (default 100)
	MaxBackups int    // rotated files to retain (default 5)
	MaxAgeDays int    // days to retain rotated files (default 30)
}

// New builds the root logger. Component loops derive their own loggers with
// Named so every line carries its origin.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level),
	}
	if opts.File != "" {
		sink := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultInt(opts.MaxSizeMB, 100),
			MaxBackups: defaultInt(opts.MaxBackups, 5),
			MaxAge:     defaultInt(opts.MaxAgeDays, 30),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(sink), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
