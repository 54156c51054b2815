// Package fd provides ownership wrappers for file descriptors that name
// memory or synchronization objects shared with the kernel and other
// devices (dma-buf, memfd, eventfd, sync_file).
package fd

import (
	"fmt"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

const invalidFD = -1

// Unique is a single owner of a file descriptor.
type Unique struct {
	fd atomic.Int64
}

// NewUnique takes ownership of fd.
func NewUnique(fd int) *Unique {
	u := &Unique{}
	u.fd.Store(int64(fd))
	return u
}

func (u *Unique) FD() int {
	if u == nil {
		return invalidFD
	}
	return int(u.fd.Load())
}

func (u *Unique) IsValid() bool {
	return u.FD() >= 0
}

// Release gives up the ownership and returns the raw descriptor; the
// caller becomes responsible for closing it.
func (u *Unique) Release() int {
	if u == nil {
		return invalidFD
	}
	return int(u.fd.Swap(invalidFD))
}

// Close closes the descriptor. Closing an already closed or released
// Unique is a no-op.
func (u *Unique) Close() error {
	fd := u.Release()
	if fd < 0 {
		return nil
	}
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("unable to close fd %d: %w", fd, err)
	}
	return nil
}
