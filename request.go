package framebuffer

import (
	"github.com/xaionaro-go/framebuffer/types"
)

// Request is the in-flight request a buffer is attached to, as seen from
// the buffer.
type Request interface {
	types.GetObjectIDer
	Cookie() uint64
}
