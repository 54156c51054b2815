// Package request implements the request a set of frame buffers (one per
// stream) is attached to while a capture is in flight.
package request

import (
	"context"
	"fmt"
	"maps"
	"weak"

	"github.com/facebookincubator/go-belt"
	"github.com/google/uuid"
	"github.com/xaionaro-go/framebuffer"
	"github.com/xaionaro-go/framebuffer/fence"
	"github.com/xaionaro-go/framebuffer/internal/privileged"
	"github.com/xaionaro-go/framebuffer/logger"
	"github.com/xaionaro-go/framebuffer/types"
	"github.com/xaionaro-go/xsync"
)

// StreamID identifies the stream a buffer captures for.
type StreamID uint32

type Request struct {
	locker xsync.Mutex

	id        uuid.UUID
	cookie    uint64
	status    Status
	cancelled bool
	buffers   map[StreamID]*framebuffer.FrameBuffer
	pending   map[*framebuffer.FrameBuffer]struct{}
}

var _ framebuffer.Request = (*Request)(nil)

func New(cookie uint64) *Request {
	return &Request{
		id:      uuid.New(),
		cookie:  cookie,
		status:  StatusPending,
		buffers: map[StreamID]*framebuffer.FrameBuffer{},
		pending: map[*framebuffer.FrameBuffer]struct{}{},
	}
}

func (r *Request) ID() uuid.UUID {
	return r.id
}

func (r *Request) Cookie() uint64 {
	return r.cookie
}

func (r *Request) GetObjectID() types.ObjectID {
	return types.GetObjectID(r)
}

func (r *Request) Status() Status {
	return xsync.DoR1(context.TODO(), &r.locker, func() Status {
		return r.status
	})
}

func (r *Request) String() string {
	return xsync.DoR1(context.TODO(), &r.locker, func() string {
		return fmt.Sprintf(
			"Request(%s; cookie:%d; status:%s; buffers:%d; pending:%d)",
			r.id, r.cookie, r.status, len(r.buffers), len(r.pending),
		)
	})
}

func (r *Request) ctx(ctx context.Context) context.Context {
	return belt.WithField(ctx, "request_id", r.id.String())
}

// resolver returns a back-reference to the request that does not keep it
// alive.
func (r *Request) resolver() func() framebuffer.Request {
	ref := weak.Make(r)
	return func() framebuffer.Request {
		if req := ref.Value(); req != nil {
			return req
		}
		return nil
	}
}

// AddBuffer attaches fb to the request for the given stream. The fence, if
// any, must be signalled before the device may write into the buffer; its
// custody moves to the buffer.
func (r *Request) AddBuffer(
	ctx context.Context,
	stream StreamID,
	fb *framebuffer.FrameBuffer,
	f *fence.Fence,
) error {
	ctx = r.ctx(ctx)
	return xsync.DoA4R1(ctx, &r.locker, r.addBufferLocked, ctx, stream, fb, f)
}

func (r *Request) addBufferLocked(
	ctx context.Context,
	stream StreamID,
	fb *framebuffer.FrameBuffer,
	f *fence.Fence,
) error {
	if r.status != StatusPending {
		return ErrNotPending{Status: r.status}
	}
	if _, ok := r.buffers[stream]; ok {
		return ErrStreamAlreadyHasBuffer{Stream: stream}
	}
	for s, b := range r.buffers {
		if b == fb {
			return ErrBufferAlreadyAdded{Stream: s}
		}
	}
	if owner := fb.Request(); owner != nil && owner.GetObjectID() != r.GetObjectID() {
		return ErrBufferInUse{Owner: owner.GetObjectID()}
	}

	w := fb.MetadataWriter(privileged.Grant())
	if err := w.AttachFence(f); err != nil {
		return fmt.Errorf("unable to attach the fence to %s: %w", fb, err)
	}
	w.SetRequest(r.resolver())
	r.buffers[stream] = fb
	r.pending[fb] = struct{}{}
	logger.Debugf(ctx, "added buffer %s for stream %d", fb.GetObjectID(), stream)
	return nil
}

// Buffers returns the buffers attached to the request by stream.
func (r *Request) Buffers() map[StreamID]*framebuffer.FrameBuffer {
	return xsync.DoR1(context.TODO(), &r.locker, func() map[StreamID]*framebuffer.FrameBuffer {
		return maps.Clone(r.buffers)
	})
}

// FindBuffer returns the buffer attached for the stream, or nil.
func (r *Request) FindBuffer(stream StreamID) *framebuffer.FrameBuffer {
	return xsync.DoR1(context.TODO(), &r.locker, func() *framebuffer.FrameBuffer {
		return r.buffers[stream]
	})
}

func (r *Request) HasPendingBuffers() bool {
	return xsync.DoR1(context.TODO(), &r.locker, func() bool {
		return len(r.pending) > 0
	})
}

// CompleteBuffer marks fb as done with its capture. It returns true when
// it was the last pending buffer of the request.
func (r *Request) CompleteBuffer(
	ctx context.Context,
	fb *framebuffer.FrameBuffer,
) (bool, error) {
	ctx = r.ctx(ctx)
	return xsync.DoA2R2(ctx, &r.locker, r.completeBufferLocked, ctx, fb)
}

func (r *Request) completeBufferLocked(
	ctx context.Context,
	fb *framebuffer.FrameBuffer,
) (bool, error) {
	if _, ok := r.pending[fb]; !ok {
		return false, ErrBufferNotPending{Buffer: fb.GetObjectID()}
	}
	delete(r.pending, fb)
	if fb.Status() == framebuffer.StatusCancelled {
		r.cancelled = true
	}
	logger.Debugf(ctx, "buffer %s completed with %s; %d pending", fb.GetObjectID(), fb.Status(), len(r.pending))
	return len(r.pending) == 0, nil
}

// Complete finalizes the request once all its buffers are done; the
// buffers stop referring to it.
func (r *Request) Complete(ctx context.Context) error {
	ctx = r.ctx(ctx)
	return xsync.DoA1R1(ctx, &r.locker, r.completeLocked, ctx)
}

func (r *Request) completeLocked(ctx context.Context) error {
	if r.status != StatusPending {
		return ErrNotPending{Status: r.status}
	}
	if len(r.pending) > 0 {
		return ErrHasPendingBuffers{Count: len(r.pending)}
	}
	for _, fb := range r.buffers {
		fb.MetadataWriter(privileged.Grant()).ClearRequest()
	}
	r.status = StatusComplete
	if r.cancelled {
		r.status = StatusCancelled
	}
	logger.Debugf(ctx, "request completed: %s", r.status)
	return nil
}

// Cancel cancels all the buffers still pending and completes the request.
func (r *Request) Cancel(ctx context.Context) error {
	ctx = r.ctx(ctx)
	return xsync.DoR1(ctx, &r.locker, func() error {
		if r.status != StatusPending {
			return ErrNotPending{Status: r.status}
		}
		for fb := range r.pending {
			fb.Cancel()
		}
		if len(r.pending) > 0 {
			r.cancelled = true
		}
		clear(r.pending)
		return r.completeLocked(ctx)
	})
}

// Reuse makes a completed request pending again. With ReuseBuffers the
// same buffers are attached again; otherwise the request is emptied.
func (r *Request) Reuse(ctx context.Context, flags ReuseFlag) error {
	ctx = r.ctx(ctx)
	return xsync.DoR1(ctx, &r.locker, func() error {
		if r.status == StatusPending {
			return ErrNotCompleted{}
		}
		if flags.Has(ReuseBuffers) {
			for _, fb := range r.buffers {
				if owner := fb.Request(); owner != nil && owner.GetObjectID() != r.GetObjectID() {
					return ErrBufferInUse{Owner: owner.GetObjectID()}
				}
			}
		}
		r.status = StatusPending
		r.cancelled = false
		if !flags.Has(ReuseBuffers) {
			r.buffers = map[StreamID]*framebuffer.FrameBuffer{}
			return nil
		}
		for _, fb := range r.buffers {
			fb.MetadataWriter(privileged.Grant()).SetRequest(r.resolver())
			r.pending[fb] = struct{}{}
		}
		logger.Debugf(ctx, "reused with %d buffers", len(r.buffers))
		return nil
	})
}
