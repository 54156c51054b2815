// Package internal holds helpers shared by the packages of this module.
package internal

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/framebuffer/logger"
)

// Assert panics when a precondition does not hold. The failure is logged
// at Panic level first, so it carries the context fields; the panic is
// raised here too for loggers that do not panic themselves.
func Assert(
	ctx context.Context,
	mustBeTrue bool,
	extraArgs ...any,
) {
	if mustBeTrue {
		return
	}

	msg := fmt.Sprint(append([]any{"assertion failed: "}, extraArgs...)...)
	logger.Panic(ctx, msg)
	panic(msg)
}
