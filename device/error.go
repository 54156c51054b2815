package device

import (
	"fmt"
)

type ErrClosed struct{}

func (ErrClosed) Error() string {
	return "the device is closed"
}

type ErrAlreadyQueued struct{}

func (ErrAlreadyQueued) Error() string {
	return "the buffer is already queued"
}

type ErrQueueFull struct {
	Size int
}

func (e ErrQueueFull) Error() string {
	return fmt.Sprintf("the queue is full (%d buffers)", e.Size)
}
