// plane.go defines a single memory region of a frame buffer.

package framebuffer

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/framebuffer/fd"
)

// InvalidOffset marks a plane whose offset is not applicable.
const InvalidOffset = math.MaxUint32

// Plane is one contiguous memory region of a frame buffer (e.g. luma or
// chroma), identified by a shared descriptor of the memory object and a
// byte range within it.
type Plane struct {
	FD     *fd.Shared
	Offset uint32
	Length uint32
}

// NewPlane returns a plane without an offset.
func NewPlane(fd *fd.Shared, length uint32) Plane {
	return Plane{
		FD:     fd,
		Offset: InvalidOffset,
		Length: length,
	}
}

func (p Plane) HasOffset() bool {
	return p.Offset != InvalidOffset
}

// End returns the offset right after the plane; it is meaningful only if
// HasOffset.
func (p Plane) End() uint64 {
	return uint64(p.Offset) + uint64(p.Length)
}

func (p Plane) String() string {
	offset := "unset"
	if p.HasOffset() {
		offset = fmt.Sprintf("%d", p.Offset)
	}
	return fmt.Sprintf("{fd:%d offset:%s length:%s}", p.FD.FD(), offset, humanize.IBytes(uint64(p.Length)))
}
