// frame_metadata.go defines the read-only snapshot of capture metadata.

package framebuffer

import (
	"fmt"
)

type PlaneMetadata struct {
	BytesUsed uint32
}

// FrameMetadata is a snapshot of the metadata of a FrameBuffer. It is a
// copy: modifying it does not affect the buffer.
type FrameMetadata struct {
	Status    Status
	Sequence  uint32
	Timestamp uint64
	Planes    []PlaneMetadata
}

// BytesUsed returns the sum of the bytes used in all planes.
func (m FrameMetadata) BytesUsed() uint64 {
	var total uint64
	for _, p := range m.Planes {
		total += uint64(p.BytesUsed)
	}
	return total
}

func (m FrameMetadata) String() string {
	return fmt.Sprintf("{status:%s seq:%d ts:%d planes:%v}", m.Status, m.Sequence, m.Timestamp, m.Planes)
}
