// Package device implements a V4L2-like capture device that fills queued
// frame buffers. It is the only component that writes capture metadata.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/framebuffer"
	"github.com/xaionaro-go/framebuffer/fence"
	"github.com/xaionaro-go/framebuffer/internal/privileged"
	"github.com/xaionaro-go/framebuffer/logger"
	"github.com/xaionaro-go/framebuffer/types"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

type VideoDevice struct {
	config Config

	locker  xsync.Mutex
	queued  map[*framebuffer.FrameBuffer]struct{}
	queueCh chan *framebuffer.FrameBuffer
	readyCh chan *framebuffer.FrameBuffer
	closed  bool

	closeOnce sync.Once
	closeCh   chan struct{}

	sequence     atomic.Uint32
	captureCount atomic.Uint64
	counters     types.Counters
}

var _ types.Closer = (*VideoDevice)(nil)

func New(ctx context.Context, cfg Config) *VideoDevice {
	size := cfg.queueSize()
	logger.Debugf(ctx, "new video device with queue size %d", size)
	return &VideoDevice{
		config:  cfg,
		queued:  map[*framebuffer.FrameBuffer]struct{}{},
		queueCh: make(chan *framebuffer.FrameBuffer, size),
		readyCh: make(chan *framebuffer.FrameBuffer, size),
		closeCh: make(chan struct{}),
	}
}

func (d *VideoDevice) String() string {
	return fmt.Sprintf("VideoDevice(%p)", d)
}

// BufferReady returns the channel the processed buffers (whatever their
// status) are delivered to.
func (d *VideoDevice) BufferReady() <-chan *framebuffer.FrameBuffer {
	return d.readyCh
}

func (d *VideoDevice) CloseChan() <-chan struct{} {
	return d.closeCh
}

func (d *VideoDevice) Statistics() types.Statistics {
	return d.counters.ToStats()
}

// QueueBuffer hands fb to the device for the next capture. The metadata
// of fb is reset for the new cycle.
func (d *VideoDevice) QueueBuffer(
	ctx context.Context,
	fb *framebuffer.FrameBuffer,
) error {
	ctx = belt.WithField(ctx, "buffer", fb.GetObjectID().String())
	return xsync.DoA2R1(ctx, &d.locker, d.queueBufferLocked, ctx, fb)
}

func (d *VideoDevice) queueBufferLocked(
	ctx context.Context,
	fb *framebuffer.FrameBuffer,
) error {
	if d.closed {
		return ErrClosed{}
	}
	if _, ok := d.queued[fb]; ok {
		return ErrAlreadyQueued{}
	}
	size := d.config.queueSize()
	if len(d.queued)+len(d.readyCh) >= size {
		return ErrQueueFull{Size: size}
	}

	fb.MetadataWriter(privileged.Grant()).Reset()
	d.queued[fb] = struct{}{}
	d.queueCh <- fb
	d.counters.Queued.Increment(planesLength(fb))
	logger.Tracef(ctx, "queued; %d buffers in the queue", len(d.queued))
	return nil
}

func planesLength(fb *framebuffer.FrameBuffer) uint64 {
	var total uint64
	for _, p := range fb.Planes() {
		total += uint64(p.Length)
	}
	return total
}

// Serve runs the capture loop until the context is cancelled or the
// device is closed.
func (d *VideoDevice) Serve(ctx context.Context) error {
	logger.Debugf(ctx, "Serve")
	defer func() { logger.Debugf(ctx, "/Serve") }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.closeCh:
			return nil
		case fb := <-d.queueCh:
			d.capture(belt.WithField(ctx, "buffer", fb.GetObjectID().String()), fb)
		}
	}
}

func (d *VideoDevice) capture(
	ctx context.Context,
	fb *framebuffer.FrameBuffer,
) {
	if f := fb.ReleaseFence(); f != nil {
		if err := d.waitFence(ctx, f); err != nil {
			logger.Warnf(ctx, "unable to wait for the fence, cancelling the buffer: %v", err)
			d.cancelWithFence(ctx, fb, f)
			return
		}
	}

	// the metadata is written under the lock, so a concurrent flush
	// either sees the complete result or takes the buffer before it
	// is written
	d.locker.Do(ctx, func() {
		if _, ok := d.queued[fb]; !ok {
			logger.Debugf(ctx, "the buffer was flushed while waiting for its fence")
			return
		}
		d.fillLocked(ctx, fb)
		d.deliverLocked(fb)
	})
}

func (d *VideoDevice) fillLocked(
	ctx context.Context,
	fb *framebuffer.FrameBuffer,
) {
	w := fb.MetadataWriter(privileged.Grant())
	captureNum := d.captureCount.Inc()
	w.SetSequence(d.sequence.Inc() - 1)
	w.SetTimestamp(d.config.now())

	status := framebuffer.StatusSuccess
	for idx, p := range fb.Planes() {
		if err := w.SetBytesUsed(idx, d.config.frameSize(idx, p)); err != nil {
			logger.Errorf(ctx, "unable to set the bytes used: %v", err)
			status = framebuffer.StatusError
		}
	}
	if failEvery := d.config.FailEvery; failEvery.IsSet() && failEvery.Get() > 0 && captureNum%failEvery.Get() == 0 {
		status = framebuffer.StatusError
	}

	if err := w.Complete(status); err != nil {
		logger.Debugf(ctx, "the capture result is discarded: %v", err)
		return
	}
	logger.Tracef(ctx, "captured: %s", spew.Sdump(fb.Metadata()))
}

// waitFence waits for the fence and closes it once signalled.
func (d *VideoDevice) waitFence(
	ctx context.Context,
	f *fence.Fence,
) error {
	if d.config.FenceWaiter != nil {
		if err := d.config.FenceWaiter.WaitFence(ctx, f); err != nil {
			return err
		}
	}
	if err := f.Close(); err != nil {
		logger.Errorf(ctx, "unable to close the signalled fence: %v", err)
	}
	return nil
}

// cancelWithFence cancels fb after a failed fence wait. The fence is given
// back to the buffer, so the application may release it; if a flush
// already delivered the buffer, the fence is closed instead.
func (d *VideoDevice) cancelWithFence(
	ctx context.Context,
	fb *framebuffer.FrameBuffer,
	f *fence.Fence,
) {
	d.locker.Do(ctx, func() {
		if _, ok := d.queued[fb]; !ok {
			logger.Debugf(ctx, "the buffer was already flushed, closing its fence")
			if err := f.Close(); err != nil {
				logger.Errorf(ctx, "unable to close the fence: %v", err)
			}
			return
		}
		if err := fb.MetadataWriter(privileged.Grant()).AttachFence(f); err != nil {
			logger.Errorf(ctx, "unable to give the fence back: %v", err)
			f.Close()
		}
		fb.Cancel()
		d.deliverLocked(fb)
	})
}

func (d *VideoDevice) deliverLocked(fb *framebuffer.FrameBuffer) {
	delete(d.queued, fb)
	m := fb.Metadata()
	switch m.Status {
	case framebuffer.StatusSuccess:
		d.counters.Succeeded.Increment(m.BytesUsed())
	case framebuffer.StatusError:
		d.counters.Failed.Increment(0)
	default:
		d.counters.Cancelled.Increment(0)
	}
	d.readyCh <- fb
}

// Flush cancels all the queued buffers and delivers them to BufferReady.
func (d *VideoDevice) Flush(ctx context.Context) {
	d.locker.Do(ctx, func() {
		d.flushLocked(ctx)
	})
}

func (d *VideoDevice) flushLocked(ctx context.Context) {
	for drained := false; !drained; {
		select {
		case <-d.queueCh:
		default:
			drained = true
		}
	}
	for fb := range d.queued {
		fb.Cancel()
		d.deliverLocked(fb)
	}
	logger.Debugf(ctx, "flushed")
}

// Close stops the device; the buffers still queued are cancelled and
// delivered to BufferReady.
func (d *VideoDevice) Close(ctx context.Context) error {
	ctx = xcontext.DetachDone(ctx)
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close") }()
	d.closeOnce.Do(func() {
		close(d.closeCh)
	})
	d.locker.Do(ctx, func() {
		d.closed = true
		d.flushLocked(ctx)
	})
	return nil
}
