package internal

import (
	"context"
	"runtime"

	"github.com/xaionaro-go/framebuffer/logger"
)

// SetFinalizer registers callback to run when obj becomes unreachable.
func SetFinalizer[T any](
	ctx context.Context,
	obj *T,
	callback func(ctx context.Context, obj *T),
) {
	runtime.SetFinalizer(obj, func(obj *T) {
		logger.Debugf(ctx, "finalizing %T", obj)
		callback(ctx, obj)
	})
}

func ClearFinalizer[T any](obj *T) {
	runtime.SetFinalizer(obj, nil)
}
