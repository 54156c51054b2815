package framebuffer

import (
	"fmt"
)

// Status is the outcome of the latest capture cycle of a buffer.
type Status uint32

const (
	// StatusUndefined means the buffer has not been captured into since
	// it was created or handed to the device for a new cycle.
	StatusUndefined = Status(iota)

	// StatusSuccess means the capture completed and the per-plane
	// bytes-used values describe valid image data.
	StatusSuccess

	// StatusError means the capture was attempted but failed; the
	// bytes-used values must not be trusted.
	StatusError

	// StatusCancelled means the capture was abandoned; there is no data
	// guarantee.
	StatusCancelled

	EndOfStatus
)

func (s Status) String() string {
	switch s {
	case StatusUndefined:
		return "Undefined"
	case StatusSuccess:
		return "Success"
	case StatusError:
		return "Error"
	case StatusCancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("Status(%d)", uint32(s))
}

// IsFinal is true for every status a capture cycle can end with.
func (s Status) IsFinal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusCancelled:
		return true
	}
	return false
}
