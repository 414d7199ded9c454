// Package logging builds the process logger: human-readable lines on stderr
// and, when a file is configured, JSON lines rotated by lumberjack.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the log file.
const (
	maxSizeMB  = 10
	maxBackups = 3
	maxAgeDays = 28
)

type Config struct {
	// File, if set, receives a JSON copy of every entry.
	File  string
	Debug bool
}

// New returns a sugared logger writing to stderr and optionally to a file.
func New(cfg Config) *zap.SugaredLogger {
	level := zap.InfoLevel
	if cfg.Debug {
		level = zap.DebugLevel
	}

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(os.Stderr), level),
	}

	if cfg.File != "" {
		fileLog := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(fileLog),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...)).Sugar()
}
