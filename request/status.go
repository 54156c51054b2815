package request

import (
	"fmt"
)

type Status int

const (
	StatusPending = Status(iota)
	StatusComplete
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusComplete:
		return "Complete"
	case StatusCancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

type ReuseFlag uint

const (
	ReuseDefault = ReuseFlag(0)
	ReuseBuffers = ReuseFlag(1)
)

func (f ReuseFlag) Has(flag ReuseFlag) bool {
	return f&flag == flag
}
