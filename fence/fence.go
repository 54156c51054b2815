// Package fence provides the synchronization handle that travels with a
// frame buffer between the application and the capture hardware.
//
// A Fence is an opaque single-owner wrapper of a file descriptor (a
// sync_file or an eventfd). How it is waited on or signalled is decided
// by whoever consumes it; this package only tracks custody.
package fence

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/framebuffer/fd"
	"github.com/xaionaro-go/framebuffer/internal"
	"github.com/xaionaro-go/framebuffer/logger"
	"golang.org/x/sys/unix"
)

type Fence struct {
	fd *fd.Unique
}

// New takes ownership of the descriptor. A Fence that becomes unreachable
// while still owning a descriptor is reported and closed by the garbage
// collector: dropping a fence that guards in-flight hardware access is a
// bug, and it should not go unnoticed.
func New(ctx context.Context, u *fd.Unique) *Fence {
	f := &Fence{fd: u}
	if f.IsValid() {
		internal.SetFinalizer(ctx, f, finalize)
	}
	return f
}

// NewEventFD creates a fence backed by a fresh eventfd.
func NewEventFD(ctx context.Context) (*Fence, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("unable to create an eventfd: %w", err)
	}
	return New(ctx, fd.NewUnique(efd)), nil
}

func finalize(ctx context.Context, f *Fence) {
	rawFD := f.fd.FD()
	if rawFD < 0 {
		return
	}
	logger.Errorf(ctx, "fence with fd %d was dropped without being released or closed", rawFD)
	if err := f.fd.Close(); err != nil {
		logger.Errorf(ctx, "unable to close the dropped fence: %v", err)
	}
}

func (f *Fence) IsValid() bool {
	return f != nil && f.fd.IsValid()
}

func (f *Fence) FD() int {
	if f == nil {
		return -1
	}
	return f.fd.FD()
}

// Release moves the descriptor out of the fence; the fence becomes invalid.
func (f *Fence) Release() *fd.Unique {
	if f == nil {
		return nil
	}
	internal.ClearFinalizer(f)
	return fd.NewUnique(f.fd.Release())
}

// Close closes the descriptor. It is a no-op on an invalid fence.
func (f *Fence) Close() error {
	if f == nil {
		return nil
	}
	internal.ClearFinalizer(f)
	return f.fd.Close()
}

func (f *Fence) String() string {
	if !f.IsValid() {
		return "fence(invalid)"
	}
	return fmt.Sprintf("fence(fd:%d)", f.FD())
}
