package fd

import (
	"fmt"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// Shared is a reference-counted file descriptor. Every plane of a buffer
// holds a reference, so planes backed by the same memory object share a
// single descriptor; the descriptor is closed when the last reference is
// closed.
type Shared struct {
	fd       int
	refCount atomic.Int32
}

// Adopt takes ownership of fd.
func Adopt(fd int) *Shared {
	s := &Shared{fd: fd}
	s.refCount.Store(1)
	return s
}

// Dup duplicates fd (with close-on-exec) and wraps the duplicate; the
// original descriptor stays owned by the caller.
func Dup(fd int) (*Shared, error) {
	newFD, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to duplicate fd %d: %w", fd, err)
	}
	return Adopt(newFD), nil
}

// Ref adds a reference and returns the same object.
func (s *Shared) Ref() *Shared {
	if s == nil {
		return nil
	}
	for {
		n := s.refCount.Load()
		if n <= 0 {
			panic(fmt.Sprintf("Ref on a closed shared fd %d", s.fd))
		}
		if s.refCount.CompareAndSwap(n, n+1) {
			return s
		}
	}
}

// FD returns the raw descriptor, or -1 if all references are closed.
func (s *Shared) FD() int {
	if !s.IsValid() {
		return invalidFD
	}
	return s.fd
}

func (s *Shared) IsValid() bool {
	return s != nil && s.fd >= 0 && s.refCount.Load() > 0
}

func (s *Shared) RefCount() int32 {
	if s == nil {
		return 0
	}
	return s.refCount.Load()
}

// Close drops one reference.
func (s *Shared) Close() error {
	if s == nil {
		return nil
	}
	switch n := s.refCount.Dec(); {
	case n > 0:
		return nil
	case n < 0:
		s.refCount.Store(0)
		return nil
	}
	if s.fd < 0 {
		return nil
	}
	if err := unix.Close(s.fd); err != nil {
		return fmt.Errorf("unable to close fd %d: %w", s.fd, err)
	}
	return nil
}

// Inode identifies the memory object behind the descriptor: two
// descriptors with the same inode (on the same device) name the same
// memory even if the numbers differ.
func (s *Shared) Inode() (uint64, error) {
	if !s.IsValid() {
		return 0, ErrInvalid{}
	}
	var st unix.Stat_t
	if err := unix.Fstat(s.fd, &st); err != nil {
		return 0, fmt.Errorf("unable to fstat fd %d: %w", s.fd, err)
	}
	return st.Ino, nil
}

// DupUnique returns an independently owned duplicate of the descriptor.
func (s *Shared) DupUnique() (*Unique, error) {
	if !s.IsValid() {
		return nil, ErrInvalid{}
	}
	newFD, err := unix.FcntlInt(uintptr(s.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to duplicate fd %d: %w", s.fd, err)
	}
	return NewUnique(newFD), nil
}
