package framebuffer

import (
	"fmt"
)

type ErrPlaneIndexOutOfRange struct {
	Index int
	Count int
}

func (e ErrPlaneIndexOutOfRange) Error() string {
	return fmt.Sprintf("plane index %d is out of range [0, %d)", e.Index, e.Count)
}

type ErrBytesUsedExceedsLength struct {
	Plane     int
	BytesUsed uint32
	Length    uint32
}

func (e ErrBytesUsedExceedsLength) Error() string {
	return fmt.Sprintf("plane %d: bytes used %d exceed the plane length %d", e.Plane, e.BytesUsed, e.Length)
}

type ErrInvalidStatus struct {
	Status Status
}

func (e ErrInvalidStatus) Error() string {
	return fmt.Sprintf("%s is not a valid capture completion status", e.Status)
}

type ErrAlreadyCancelled struct{}

func (ErrAlreadyCancelled) Error() string {
	return "the buffer is already cancelled"
}

type ErrAlreadyCompleted struct {
	Status Status
}

func (e ErrAlreadyCompleted) Error() string {
	return fmt.Sprintf("the buffer is already completed with status %s", e.Status)
}

type ErrFenceAlreadyAttached struct{}

func (ErrFenceAlreadyAttached) Error() string {
	return "a fence is already attached to the buffer"
}
