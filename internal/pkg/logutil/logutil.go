package logutil

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	defaultLogger = zap.NewNop()
	initOnce      sync.Once
)

type Config struct {
	Level   string `json:"level"`
	File    string `json:"file"`
	Console bool   `json:"console"`
}

// Init builds the process logger. Safe to call once at startup; before Init
// every log call is a no-op.
func Init(cfg Config) error {
	var initErr error
	initOnce.Do(func() {
		level := zapcore.InfoLevel
		if cfg.Level != "" {
			if err := level.Set(cfg.Level); err != nil {
				initErr = err
				return
			}
		}
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		var cores []zapcore.Core
		if cfg.Console || cfg.File == "" {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderCfg),
				zapcore.Lock(os.Stdout),
				level,
			))
		}
		if cfg.File != "" {
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				initErr = err
				return
			}
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderCfg),
				zapcore.Lock(f),
				level,
			))
		}
		defaultLogger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	})
	return initErr
}

// GetLogger returns the request-scoped logger when one is bound, otherwise the
// process logger.
func GetLogger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return logger
		}
	}
	return defaultLogger
}

// WithLogger binds a logger into the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// WithFields attaches fields to the context's logger.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, GetLogger(ctx).With(fields...))
}
