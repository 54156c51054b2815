package framebuffer

import (
	"github.com/xaionaro-go/typing"
)

const (
	PrivateVersionUndefined = uint32(iota)
	PrivateVersion1
	EndOfPrivateVersion
)

// Private carries allocator-provided details of a buffer that are not
// part of the stable contract. Version tells which fields are meaningful.
type Private struct {
	Version uint32

	// IsContiguous, if set, overrides the contiguity detected from the
	// plane layout (e.g. when the allocator knows more than fstat does).
	IsContiguous typing.Optional[bool]

	// AllocatorCookie is an opaque value for the allocator's own
	// bookkeeping.
	AllocatorCookie uint64
}
