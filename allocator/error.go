package allocator

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/framebuffer/request"
)

type ErrInvalidCount struct {
	Count int
}

func (e ErrInvalidCount) Error() string {
	return fmt.Sprintf("invalid buffer count: %d", e.Count)
}

type ErrNoPlanes struct{}

func (ErrNoPlanes) Error() string {
	return "at least one plane is required"
}

type ErrZeroLengthPlane struct {
	Plane int
}

func (e ErrZeroLengthPlane) Error() string {
	return fmt.Sprintf("plane %d has zero length", e.Plane)
}

type ErrTooLarge struct {
	Size uint64
}

func (e ErrTooLarge) Error() string {
	return fmt.Sprintf("the buffer is too large: %s", humanize.IBytes(e.Size))
}

type ErrAlreadyAllocated struct {
	Stream request.StreamID
}

func (e ErrAlreadyAllocated) Error() string {
	return fmt.Sprintf("buffers are already allocated for stream %d", e.Stream)
}

type ErrNotAllocated struct {
	Stream request.StreamID
}

func (e ErrNotAllocated) Error() string {
	return fmt.Sprintf("no buffers are allocated for stream %d", e.Stream)
}

type ErrNotTaken struct{}

func (ErrNotTaken) Error() string {
	return "the buffer was not taken from this stream"
}
