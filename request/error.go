package request

import (
	"fmt"

	"github.com/xaionaro-go/framebuffer/types"
)

type ErrNotPending struct {
	Status Status
}

func (e ErrNotPending) Error() string {
	return fmt.Sprintf("the request is not pending (status: %s)", e.Status)
}

type ErrNotCompleted struct{}

func (ErrNotCompleted) Error() string {
	return "the request is not completed yet"
}

type ErrStreamAlreadyHasBuffer struct {
	Stream StreamID
}

func (e ErrStreamAlreadyHasBuffer) Error() string {
	return fmt.Sprintf("stream %d already has a buffer in this request", e.Stream)
}

type ErrBufferInUse struct {
	Owner types.ObjectID
}

func (e ErrBufferInUse) Error() string {
	return fmt.Sprintf("the buffer is attached to another request (%s)", e.Owner)
}

type ErrBufferAlreadyAdded struct {
	Stream StreamID
}

func (e ErrBufferAlreadyAdded) Error() string {
	return fmt.Sprintf("the buffer is already in this request for stream %d", e.Stream)
}

type ErrBufferNotPending struct {
	Buffer types.ObjectID
}

func (e ErrBufferNotPending) Error() string {
	return fmt.Sprintf("buffer %s is not pending in this request", e.Buffer)
}

type ErrHasPendingBuffers struct {
	Count int
}

func (e ErrHasPendingBuffers) Error() string {
	return fmt.Sprintf("the request still has %d pending buffers", e.Count)
}
