// pool.go implements a bounded free-list of long-lived objects.

// Package pool provides a free-list for objects that are expensive to
// create and must stay alive between uses (e.g. frame buffers bound to
// device memory), unlike sync.Pool which may drop them at any GC.
package pool

import (
	"context"

	"github.com/xaionaro-go/xsync"
)

type Pool[T any] struct {
	locker    xsync.Mutex
	items     []*T
	capacity  int
	ResetFunc func(*T)
}

// NewPool returns a pool keeping at most capacity items; a non-positive
// capacity means unbounded. resetFunc (may be nil) is applied to every
// item put back.
func NewPool[T any](
	capacity int,
	resetFunc func(*T),
) *Pool[T] {
	return &Pool[T]{
		capacity:  capacity,
		ResetFunc: resetFunc,
	}
}

// Get takes an item from the pool; the second value is false if the pool
// is empty.
func (p *Pool[T]) Get() (*T, bool) {
	return xsync.DoR2(context.TODO(), &p.locker, func() (*T, bool) {
		if len(p.items) == 0 {
			return nil, false
		}
		item := p.items[len(p.items)-1]
		p.items[len(p.items)-1] = nil
		p.items = p.items[:len(p.items)-1]
		return item, true
	})
}

// Put returns items to the pool. It returns how many of them were
// rejected because the pool is full.
func (p *Pool[T]) Put(items ...*T) int {
	if p.ResetFunc != nil {
		for _, item := range items {
			p.ResetFunc(item)
		}
	}
	return xsync.DoR1(context.TODO(), &p.locker, func() int {
		rejected := 0
		for _, item := range items {
			if p.capacity > 0 && len(p.items) >= p.capacity {
				rejected++
				continue
			}
			p.items = append(p.items, item)
		}
		return rejected
	})
}

func (p *Pool[T]) Len() int {
	return xsync.DoR1(context.TODO(), &p.locker, func() int {
		return len(p.items)
	})
}

// Drain removes and returns all the items.
func (p *Pool[T]) Drain() []*T {
	return xsync.DoR1(context.TODO(), &p.locker, func() []*T {
		items := p.items
		p.items = nil
		return items
	})
}
