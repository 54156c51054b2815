// Package allocator creates frame buffers backed by memfd memory and
// keeps them for reuse across capture cycles.
package allocator

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/framebuffer"
	"github.com/xaionaro-go/framebuffer/fd"
	"github.com/xaionaro-go/framebuffer/internal/privileged"
	"github.com/xaionaro-go/framebuffer/logger"
	"github.com/xaionaro-go/framebuffer/pool"
	"github.com/xaionaro-go/framebuffer/request"
	"github.com/xaionaro-go/framebuffer/types"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xsync"
	"golang.org/x/sys/unix"
)

type streamBuffers struct {
	buffers []*framebuffer.FrameBuffer
	free    *pool.Pool[framebuffer.FrameBuffer]
	taken   map[*framebuffer.FrameBuffer]struct{}
}

type Allocator struct {
	locker  xsync.Mutex
	streams map[request.StreamID]*streamBuffers
}

var _ types.Closer = (*Allocator)(nil)

func New(ctx context.Context) *Allocator {
	return &Allocator{
		streams: map[request.StreamID]*streamBuffers{},
	}
}

// Allocate creates count buffers for the stream, one plane per entry of
// planeLengths. With contiguous set, all the planes of a buffer are
// carved out of a single memory object. All the created buffers are
// initially free (see Get).
func (a *Allocator) Allocate(
	ctx context.Context,
	stream request.StreamID,
	count int,
	planeLengths []uint32,
	contiguous bool,
) ([]*framebuffer.FrameBuffer, error) {
	ctx = belt.WithField(ctx, "stream", stream)
	if count <= 0 {
		return nil, ErrInvalidCount{Count: count}
	}
	if len(planeLengths) == 0 {
		return nil, ErrNoPlanes{}
	}
	for idx, length := range planeLengths {
		if length == 0 {
			return nil, ErrZeroLengthPlane{Plane: idx}
		}
	}

	return xsync.DoR2(ctx, &a.locker, func() ([]*framebuffer.FrameBuffer, error) {
		if _, ok := a.streams[stream]; ok {
			return nil, ErrAlreadyAllocated{Stream: stream}
		}
		s := &streamBuffers{
			free:  pool.NewPool(count, resetBuffer),
			taken: map[*framebuffer.FrameBuffer]struct{}{},
		}
		for idx := 0; idx < count; idx++ {
			planes, err := allocatePlanes(planeLengths, contiguous)
			if err != nil {
				freeBuffers(ctx, s.buffers)
				return nil, fmt.Errorf("unable to allocate buffer #%d: %w", idx, err)
			}
			fb := framebuffer.NewWithPrivate(ctx, &framebuffer.Private{
				Version:         framebuffer.PrivateVersion1,
				IsContiguous:    typing.Opt(contiguous || len(planes) == 1),
				AllocatorCookie: uint64(idx),
			}, planes, 0)
			s.buffers = append(s.buffers, fb)
		}
		s.free.Put(s.buffers...)
		a.streams[stream] = s
		logger.Debugf(ctx, "allocated %d buffers of %s each", count, humanize.IBytes(totalLength(planeLengths)))
		return append([]*framebuffer.FrameBuffer{}, s.buffers...), nil
	})
}

func totalLength(planeLengths []uint32) uint64 {
	var total uint64
	for _, length := range planeLengths {
		total += uint64(length)
	}
	return total
}

func allocatePlanes(
	planeLengths []uint32,
	contiguous bool,
) (_ret []framebuffer.Plane, _err error) {
	defer func() {
		if _err != nil {
			for _, p := range _ret {
				p.FD.Close()
			}
			_ret = nil
		}
	}()

	if contiguous {
		total := totalLength(planeLengths)
		if total > uint64(framebuffer.InvalidOffset) {
			return nil, ErrTooLarge{Size: total}
		}
		h, err := createMemFD(int64(total))
		if err != nil {
			return nil, err
		}
		var offset uint32
		for idx, length := range planeLengths {
			planeFD := h
			if idx > 0 {
				planeFD = h.Ref()
			}
			_ret = append(_ret, framebuffer.Plane{FD: planeFD, Offset: offset, Length: length})
			offset += length
		}
		return _ret, nil
	}

	for _, length := range planeLengths {
		h, err := createMemFD(int64(length))
		if err != nil {
			return _ret, err
		}
		_ret = append(_ret, framebuffer.Plane{FD: h, Offset: 0, Length: length})
	}
	return _ret, nil
}

func createMemFD(size int64) (*fd.Shared, error) {
	raw, err := unix.MemfdCreate("framebuffer", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("unable to create a memfd: %w", err)
	}
	h := fd.Adopt(raw)
	if err := unix.Ftruncate(raw, size); err != nil {
		h.Close()
		return nil, fmt.Errorf("unable to resize the memfd to %d bytes: %w", size, err)
	}
	// the buffer layout relies on the size, so it must not shrink
	if _, err := unix.FcntlInt(uintptr(raw), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK); err != nil {
		h.Close()
		return nil, fmt.Errorf("unable to seal the memfd: %w", err)
	}
	return h, nil
}

// resetBuffer prepares a buffer returned by the application for the
// next user: the metadata is cleared and a leftover fence is closed.
func resetBuffer(fb *framebuffer.FrameBuffer) {
	w := fb.MetadataWriter(privileged.Grant())
	w.Reset()
	w.ClearRequest()
	if f := fb.ReleaseFence(); f != nil {
		f.Close()
	}
}

// Buffers returns all the buffers of the stream, free or not.
func (a *Allocator) Buffers(stream request.StreamID) []*framebuffer.FrameBuffer {
	return xsync.DoR1(context.TODO(), &a.locker, func() []*framebuffer.FrameBuffer {
		s, ok := a.streams[stream]
		if !ok {
			return nil
		}
		return append([]*framebuffer.FrameBuffer{}, s.buffers...)
	})
}

// Get takes a free buffer of the stream.
func (a *Allocator) Get(stream request.StreamID) (*framebuffer.FrameBuffer, bool) {
	return xsync.DoR2(context.TODO(), &a.locker, func() (*framebuffer.FrameBuffer, bool) {
		s, ok := a.streams[stream]
		if !ok {
			return nil, false
		}
		fb, ok := s.free.Get()
		if !ok {
			return nil, false
		}
		s.taken[fb] = struct{}{}
		return fb, true
	})
}

// Put gives a buffer taken by Get back to the allocator.
func (a *Allocator) Put(
	ctx context.Context,
	stream request.StreamID,
	fb *framebuffer.FrameBuffer,
) error {
	return xsync.DoR1(ctx, &a.locker, func() error {
		s, ok := a.streams[stream]
		if !ok {
			return ErrNotAllocated{Stream: stream}
		}
		if _, ok := s.taken[fb]; !ok {
			return ErrNotTaken{}
		}
		delete(s.taken, fb)
		s.free.Put(fb)
		return nil
	})
}

// Free releases the memory of all the buffers of the stream. The buffers
// must not be used afterwards.
func (a *Allocator) Free(ctx context.Context, stream request.StreamID) error {
	return xsync.DoR1(ctx, &a.locker, func() error {
		s, ok := a.streams[stream]
		if !ok {
			return ErrNotAllocated{Stream: stream}
		}
		delete(a.streams, stream)
		s.free.Drain()
		return freeBuffers(ctx, s.buffers)
	})
}

func freeBuffers(ctx context.Context, buffers []*framebuffer.FrameBuffer) error {
	var firstErr error
	for _, fb := range buffers {
		if f := fb.ReleaseFence(); f != nil {
			logger.Warnf(ctx, "buffer %s is freed with a fence attached", fb.GetObjectID())
			f.Close()
		}
		for _, p := range fb.Planes() {
			if err := p.FD.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close frees the buffers of all the streams.
func (a *Allocator) Close(ctx context.Context) error {
	streams := xsync.DoR1(ctx, &a.locker, func() []request.StreamID {
		var result []request.StreamID
		for stream := range a.streams {
			result = append(result, stream)
		}
		return result
	})
	var firstErr error
	for _, stream := range streams {
		if err := a.Free(ctx, stream); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unable to free stream %d: %w", stream, err)
		}
	}
	return firstErr
}
