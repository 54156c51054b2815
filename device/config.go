package device

import (
	"context"

	"github.com/xaionaro-go/framebuffer"
	"github.com/xaionaro-go/framebuffer/fence"
	"github.com/xaionaro-go/typing"
	"golang.org/x/sys/unix"
)

const DefaultQueueSize = 8

// FenceWaiter blocks until the fence is signalled.
type FenceWaiter interface {
	WaitFence(ctx context.Context, f *fence.Fence) error
}

type FenceWaiterFunc func(ctx context.Context, f *fence.Fence) error

func (fn FenceWaiterFunc) WaitFence(ctx context.Context, f *fence.Fence) error {
	return fn(ctx, f)
}

type Config struct {
	// QueueSize limits how many buffers may be queued and not yet
	// dequeued. Zero means DefaultQueueSize.
	QueueSize int

	// FailEvery, if set to N, makes every N-th capture complete with
	// StatusError.
	FailEvery typing.Optional[uint64]

	// FrameSizer returns how many bytes a capture writes into a plane.
	// By default the whole plane is used.
	FrameSizer func(planeIdx int, plane framebuffer.Plane) uint32

	// FenceWaiter waits for the fences of queued buffers. If nil,
	// fences are considered already signalled.
	FenceWaiter FenceWaiter

	// Clock returns the capture timestamp in nanoseconds. By default
	// CLOCK_MONOTONIC is used.
	Clock func() uint64
}

func (cfg Config) queueSize() int {
	if cfg.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return cfg.QueueSize
}

func (cfg Config) frameSize(planeIdx int, plane framebuffer.Plane) uint32 {
	if cfg.FrameSizer == nil {
		return plane.Length
	}
	return cfg.FrameSizer(planeIdx, plane)
}

func (cfg Config) now() uint64 {
	if cfg.Clock != nil {
		return cfg.Clock()
	}
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}
