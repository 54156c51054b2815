package fence

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/framebuffer/fd"
	"golang.org/x/sys/unix"
)

func TestEventFDFence(t *testing.T) {
	f, err := NewEventFD(context.Background())
	require.NoError(t, err)
	require.True(t, f.IsValid())
	require.GreaterOrEqual(t, f.FD(), 0)

	require.NoError(t, f.Close())
	require.False(t, f.IsValid())
	require.Equal(t, -1, f.FD())
	require.NoError(t, f.Close())
	require.Equal(t, "fence(invalid)", f.String())
}

func TestFenceRelease(t *testing.T) {
	f, err := NewEventFD(context.Background())
	require.NoError(t, err)
	raw := f.FD()

	u := f.Release()
	require.False(t, f.IsValid())
	require.Equal(t, raw, u.FD())
	require.NoError(t, u.Close())

	again := f.Release()
	require.False(t, again.IsValid())
}

func TestNilFence(t *testing.T) {
	var f *Fence
	require.False(t, f.IsValid())
	require.Equal(t, -1, f.FD())
	require.NoError(t, f.Close())
	require.Nil(t, f.Release())
}

func TestNewFromInvalid(t *testing.T) {
	f := New(context.Background(), fd.NewUnique(-1))
	require.False(t, f.IsValid())
	require.Nil(t, (*fd.Unique)(nil).Close())
}

func isOpen(raw int) bool {
	_, err := unix.FcntlInt(uintptr(raw), unix.F_GETFD, 0)
	return err == nil
}

func dropEventFD(t *testing.T) int {
	f, err := NewEventFD(context.Background())
	require.NoError(t, err)
	return f.FD()
}

func TestDroppedFenceIsClosed(t *testing.T) {
	raw := dropEventFD(t)
	require.Eventually(t, func() bool {
		runtime.GC()
		return !isOpen(raw)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReleasedFenceIsNotFinalized(t *testing.T) {
	f, err := NewEventFD(context.Background())
	require.NoError(t, err)
	u := f.Release()
	t.Cleanup(func() { u.Close() })

	for range 5 {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, u.IsValid())
	require.True(t, isOpen(u.FD()))
}
