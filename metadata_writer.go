// metadata_writer.go implements the write access to a buffer reserved to the capture device and the request tracker.

package framebuffer

import (
	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/framebuffer/fence"
)

// MetadataWriter writes capture results into a FrameBuffer. It is handed
// out by FrameBuffer.MetadataWriter to the in-module collaborators only,
// so that no other component can forge a capture result.
type MetadataWriter struct {
	fb *FrameBuffer
}

func (w *MetadataWriter) FrameBuffer() *FrameBuffer {
	return w.fb
}

// Reset prepares the metadata for a new capture cycle. The number of
// planes is preserved.
func (w *MetadataWriter) Reset() {
	fb := w.fb
	fb.status.Store(uint32(StatusUndefined))
	fb.sequence = 0
	fb.timestamp = 0
	clear(fb.bytesUsed)
}

func (w *MetadataWriter) SetSequence(sequence uint32) {
	w.fb.sequence = sequence
}

// SetTimestamp sets the capture time in nanoseconds of the capture clock.
func (w *MetadataWriter) SetTimestamp(timestamp uint64) {
	w.fb.timestamp = timestamp
}

func (w *MetadataWriter) SetBytesUsed(planeIdx int, bytesUsed uint32) error {
	fb := w.fb
	if planeIdx < 0 || planeIdx >= len(fb.bytesUsed) {
		return ErrPlaneIndexOutOfRange{Index: planeIdx, Count: len(fb.bytesUsed)}
	}
	if length := fb.planes[planeIdx].Length; bytesUsed > length {
		return ErrBytesUsedExceedsLength{Plane: planeIdx, BytesUsed: bytesUsed, Length: length}
	}
	fb.bytesUsed[planeIdx] = bytesUsed
	return nil
}

// Complete sets the final status of the current capture cycle. Only
// StatusSuccess and StatusError are accepted. A buffer cancelled in the
// meantime stays cancelled: the late completion is rejected with
// ErrAlreadyCancelled.
func (w *MetadataWriter) Complete(status Status) error {
	switch status {
	case StatusSuccess, StatusError:
	default:
		return ErrInvalidStatus{Status: status}
	}

	if w.fb.status.CompareAndSwap(uint32(StatusUndefined), uint32(status)) {
		return nil
	}
	switch cur := w.fb.Status(); cur {
	case StatusCancelled:
		return ErrAlreadyCancelled{}
	default:
		return ErrAlreadyCompleted{Status: cur}
	}
}

// AttachFence gives the custody of f to the buffer. A nil fence is
// ignored.
func (w *MetadataWriter) AttachFence(f *fence.Fence) error {
	if f == nil {
		return nil
	}
	if !w.fb.fence.CompareAndSwap(nil, f) {
		return ErrFenceAlreadyAttached{}
	}
	return nil
}

// SetRequest sets the back-reference to the request the buffer is
// attached to. resolve must not keep the request alive, and it returns
// nil once the request is gone.
func (w *MetadataWriter) SetRequest(resolve func() Request) {
	if resolve == nil {
		w.ClearRequest()
		return
	}
	xatomic.StorePointer(&w.fb.request, &resolve)
}

func (w *MetadataWriter) ClearRequest() {
	xatomic.StorePointer(&w.fb.request, nil)
}
