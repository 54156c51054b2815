// Package framebuffer describes hardware-backed multi-plane image buffers
// while they travel between the application, requests and the capture
// device: their memory layout, the metadata of the latest capture, the
// request they are attached to and the fence guarding their memory.
//
// A FrameBuffer does not own pixel memory and never touches it. It is
// created once by an allocator and reused across many capture cycles.
package framebuffer

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/framebuffer/fence"
	"github.com/xaionaro-go/framebuffer/internal"
	"github.com/xaionaro-go/framebuffer/internal/privileged"
	"github.com/xaionaro-go/framebuffer/logger"
	"github.com/xaionaro-go/framebuffer/types"
	"go.uber.org/atomic"
)

// noCopy makes `go vet` complain about copies of the embedding struct.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// FrameBuffer is a buffer descriptor. It must be referenced by pointer
// only: devices and requests track buffers by identity.
type FrameBuffer struct {
	_ noCopy

	planes       []Plane
	private      Private
	isContiguous bool

	cookie uint64

	// written by the device through MetadataWriter only;
	// status is atomic since Cancel may race a completion.
	status    atomic.Uint32
	sequence  uint32
	timestamp uint64
	bytesUsed []uint32

	request *func() Request
	fence   atomic.Pointer[fence.Fence]
}

var _ types.GetObjectIDer = (*FrameBuffer)(nil)

// New creates a buffer descriptor of the given planes. An empty plane list
// is a programming error and panics.
func New(
	ctx context.Context,
	planes []Plane,
	cookie uint64,
) *FrameBuffer {
	return NewWithPrivate(ctx, nil, planes, cookie)
}

// NewWithPrivate is New for allocators that need to attach Private
// details to the buffer.
func NewWithPrivate(
	ctx context.Context,
	priv *Private,
	planes []Plane,
	cookie uint64,
) *FrameBuffer {
	internal.Assert(ctx, len(planes) > 0, "a frame buffer requires at least one plane")
	if priv != nil {
		internal.Assert(ctx, priv.Version > PrivateVersionUndefined && priv.Version < EndOfPrivateVersion, "unsupported Private version ", priv.Version)
	}

	fb := &FrameBuffer{
		planes:    slices.Clone(planes),
		cookie:    cookie,
		bytesUsed: make([]uint32, len(planes)),
	}
	if priv != nil {
		fb.private = *priv
	}
	if fb.private.IsContiguous.IsSet() {
		fb.isContiguous = fb.private.IsContiguous.Get()
	} else {
		fb.isContiguous = detectContiguous(ctx, fb.planes)
	}
	logger.Tracef(ctx, "new frame buffer: %s", fb)
	return fb
}

// detectContiguous reports if all planes are back to back in the same
// memory object.
func detectContiguous(ctx context.Context, planes []Plane) bool {
	if len(planes) == 1 {
		return true
	}
	first := planes[0]
	if !first.HasOffset() {
		return false
	}
	firstInode, err := first.FD.Inode()
	if err != nil {
		logger.Debugf(ctx, "unable to get the inode of plane 0: %v", err)
		return false
	}
	prev := first
	for idx, p := range planes[1:] {
		if !p.HasOffset() || uint64(p.Offset) != prev.End() {
			return false
		}
		if p.FD.FD() != first.FD.FD() {
			inode, err := p.FD.Inode()
			if err != nil {
				logger.Debugf(ctx, "unable to get the inode of plane %d: %v", idx+1, err)
				return false
			}
			if inode != firstInode {
				return false
			}
		}
		prev = p
	}
	return true
}

// Planes returns a copy of the plane list.
func (fb *FrameBuffer) Planes() []Plane {
	return slices.Clone(fb.planes)
}

func (fb *FrameBuffer) NumPlanes() int {
	return len(fb.planes)
}

// Plane returns the plane at index idx.
func (fb *FrameBuffer) Plane(idx int) Plane {
	return fb.planes[idx]
}

// IsContiguous tells if all the planes are laid out back to back in a
// single memory object.
func (fb *FrameBuffer) IsContiguous() bool {
	return fb.isContiguous
}

// Private returns a copy of the allocator-provided details.
func (fb *FrameBuffer) Private() Private {
	return fb.private
}

// Request returns the request the buffer is currently attached to, or nil.
// The buffer never keeps a request alive.
func (fb *FrameBuffer) Request() Request {
	resolve := xatomic.LoadPointer(&fb.request)
	if resolve == nil {
		return nil
	}
	return (*resolve)()
}

// Metadata returns a snapshot of the metadata of the latest capture.
func (fb *FrameBuffer) Metadata() FrameMetadata {
	m := FrameMetadata{
		Status:    fb.Status(),
		Sequence:  fb.sequence,
		Timestamp: fb.timestamp,
		Planes:    make([]PlaneMetadata, len(fb.bytesUsed)),
	}
	for idx, n := range fb.bytesUsed {
		m.Planes[idx].BytesUsed = n
	}
	return m
}

// Status is a shorthand for Metadata().Status that does not allocate.
func (fb *FrameBuffer) Status() Status {
	return Status(fb.status.Load())
}

func (fb *FrameBuffer) Cookie() uint64 {
	return fb.cookie
}

// SetCookie sets an opaque value for the caller's own bookkeeping.
func (fb *FrameBuffer) SetCookie(cookie uint64) {
	fb.cookie = cookie
}

// ReleaseFence transfers the ownership of the attached fence to the
// caller, who becomes responsible for closing it. It returns nil if no
// fence is attached, including when it was already released.
func (fb *FrameBuffer) ReleaseFence() *fence.Fence {
	return fb.fence.Swap(nil)
}

func (fb *FrameBuffer) HasFence() bool {
	return fb.fence.Load() != nil
}

// Cancel marks the buffer as cancelled, overriding any previous status.
// Nothing else is affected.
func (fb *FrameBuffer) Cancel() {
	fb.status.Store(uint32(StatusCancelled))
}

func (fb *FrameBuffer) GetObjectID() types.ObjectID {
	return types.GetObjectID(fb)
}

// MetadataWriter returns the capability to write capture results into the
// buffer. Only collaborators of this module can obtain it.
func (fb *FrameBuffer) MetadataWriter(key privileged.Key) *MetadataWriter {
	internal.Assert(context.TODO(), key.IsValid(), "an invalid privileged key")
	return &MetadataWriter{fb: fb}
}

func (fb *FrameBuffer) String() string {
	var planes []string
	for _, p := range fb.planes {
		planes = append(planes, p.String())
	}
	return fmt.Sprintf(
		"FrameBuffer(%s; planes:[%s]; cookie:%d; status:%s)",
		fb.GetObjectID(), strings.Join(planes, " "), fb.cookie, fb.Status(),
	)
}
