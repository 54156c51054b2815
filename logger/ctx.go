package logger

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// FromCtx returns the logger carried by the context (or the default one).
func FromCtx(ctx context.Context) Logger {
	return logger.FromCtx(ctx)
}

// CtxWithLogger returns a derived context that carries the given logger.
func CtxWithLogger(ctx context.Context, l Logger) context.Context {
	return logger.CtxWithLogger(ctx, l)
}
