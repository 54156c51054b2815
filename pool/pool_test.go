package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type item struct {
	value int
}

func TestPool(t *testing.T) {
	p := NewPool(2, func(it *item) { it.value = 0 })

	_, ok := p.Get()
	require.False(t, ok)

	a, b, c := &item{1}, &item{2}, &item{3}
	require.Equal(t, 1, p.Put(a, b, c))
	require.Equal(t, 2, p.Len())
	require.Zero(t, c.value)

	got, ok := p.Get()
	require.True(t, ok)
	require.Same(t, b, got)
	require.Zero(t, got.value)

	require.Equal(t, []*item{a}, p.Drain())
	require.Zero(t, p.Len())
}

func TestPoolUnbounded(t *testing.T) {
	p := NewPool[item](0, nil)
	for i := range 100 {
		require.Zero(t, p.Put(&item{i}))
	}
	require.Equal(t, 100, p.Len())
	got, ok := p.Get()
	require.True(t, ok)
	require.Equal(t, 99, got.value)
}
