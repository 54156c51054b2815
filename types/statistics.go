// statistics.go defines per-outcome counters of completed capture cycles.

package types

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"
)

type StatisticsItem struct {
	Count uint64 `json:",omitempty"`
	Bytes uint64 `json:",omitempty"`
}

func (s StatisticsItem) String() string {
	return fmt.Sprintf("%d (%s)", s.Count, humanize.IBytes(s.Bytes))
}

// Statistics is a snapshot of the capture outcomes observed by a device.
type Statistics struct {
	Queued    StatisticsItem
	Succeeded StatisticsItem
	Failed    StatisticsItem
	Cancelled StatisticsItem
}

func (s Statistics) String() string {
	return fmt.Sprintf(
		"queued:%s succeeded:%s failed:%s cancelled:%s",
		s.Queued, s.Succeeded, s.Failed, s.Cancelled,
	)
}

type CountersItem struct {
	Count atomic.Uint64
	Bytes atomic.Uint64
}

func (c *CountersItem) Increment(size uint64) {
	c.Count.Inc()
	c.Bytes.Add(size)
}

func (c *CountersItem) ToStats() StatisticsItem {
	return StatisticsItem{
		Count: c.Count.Load(),
		Bytes: c.Bytes.Load(),
	}
}

type Counters struct {
	Queued    CountersItem
	Succeeded CountersItem
	Failed    CountersItem
	Cancelled CountersItem
}

func (c *Counters) ToStats() Statistics {
	return Statistics{
		Queued:    c.Queued.ToStats(),
		Succeeded: c.Succeeded.ToStats(),
		Failed:    c.Failed.ToStats(),
		Cancelled: c.Cancelled.ToStats(),
	}
}
