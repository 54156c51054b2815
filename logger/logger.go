// Package logger is a thin context-driven facade over go-belt's logger,
// used by every package of this module so that a single logger (and its
// fields) travels with the context through buffer handoffs.
package logger

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
)

type Logger = logger.Logger

// SetDefault overrides the logger used when the context carries none.
func SetDefault(defaultLogger func() Logger) {
	logger.Default = defaultLogger
}

// Panic logs at Panic level; the logger is expected to panic afterwards.
func Panic(ctx context.Context, values ...any) {
	logger.Panic(ctx, values...)
}

func Error(ctx context.Context, values ...any) {
	logger.Error(ctx, values...)
}

func Debugf(ctx context.Context, format string, args ...any) {
	logger.Debugf(ctx, format, args...)
}

func Infof(ctx context.Context, format string, args ...any) {
	logger.Infof(ctx, format, args...)
}

func Warnf(ctx context.Context, format string, args ...any) {
	logger.Warnf(ctx, format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	logger.Errorf(ctx, format, args...)
}
