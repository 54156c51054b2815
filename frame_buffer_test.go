package framebuffer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/framebuffer/fd"
	"github.com/xaionaro-go/framebuffer/fence"
	"github.com/xaionaro-go/framebuffer/internal/privileged"
	"github.com/xaionaro-go/framebuffer/types"
	"github.com/xaionaro-go/typing"
	"golang.org/x/sys/unix"
)

func newMemFD(t *testing.T, size int64) *fd.Shared {
	raw, err := unix.MemfdCreate("framebuffer-test", unix.MFD_CLOEXEC)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(raw, size))
	s := fd.Adopt(raw)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTwoPlaneBuffer(t *testing.T, ctx context.Context) *FrameBuffer {
	h1 := newMemFD(t, 4096+2048)
	return New(ctx, []Plane{
		{FD: h1, Offset: 0, Length: 4096},
		{FD: h1, Offset: 4096, Length: 2048},
	}, 42)
}

func TestFrameBufferCaptureThenCancel(t *testing.T) {
	ctx := context.Background()
	fb := newTwoPlaneBuffer(t, ctx)

	require.Len(t, fb.Planes(), 2)
	require.Equal(t, uint64(42), fb.Cookie())
	require.Equal(t, StatusUndefined, fb.Metadata().Status)
	require.Len(t, fb.Metadata().Planes, 2)

	w := fb.MetadataWriter(privileged.Grant())
	w.Reset()
	w.SetSequence(7)
	w.SetTimestamp(123456789)
	require.NoError(t, w.SetBytesUsed(0, 4096))
	require.NoError(t, w.SetBytesUsed(1, 1024))
	require.NoError(t, w.Complete(StatusSuccess))

	expected := FrameMetadata{
		Status:    StatusSuccess,
		Sequence:  7,
		Timestamp: 123456789,
		Planes:    []PlaneMetadata{{BytesUsed: 4096}, {BytesUsed: 1024}},
	}
	require.Equal(t, expected, fb.Metadata())
	require.Equal(t, uint64(5120), fb.Metadata().BytesUsed())

	fb.Cancel()
	expected.Status = StatusCancelled
	require.Equal(t, expected, fb.Metadata())
	require.Len(t, fb.Planes(), 2)
	require.Equal(t, uint64(42), fb.Cookie())
}

func TestFrameBufferEmptyPlanesPanics(t *testing.T) {
	ctx := context.Background()
	require.Panics(t, func() { New(ctx, nil, 0) })
	require.Panics(t, func() { New(ctx, []Plane{}, 0) })
}

func TestFrameBufferCookieRoundTrip(t *testing.T) {
	ctx := context.Background()
	fb := newTwoPlaneBuffer(t, ctx)
	for _, v := range []uint64{0, 1, 42, 1 << 63, ^uint64(0)} {
		fb.SetCookie(v)
		fb.Cancel()
		fb.ReleaseFence()
		fb.MetadataWriter(privileged.Grant()).Reset()
		require.Equal(t, v, fb.Cookie())
	}
}

func TestFrameBufferReleaseFence(t *testing.T) {
	ctx := context.Background()
	fb := newTwoPlaneBuffer(t, ctx)
	require.False(t, fb.HasFence())
	require.Nil(t, fb.ReleaseFence())

	f, err := fence.NewEventFD(ctx)
	require.NoError(t, err)
	defer f.Close()

	w := fb.MetadataWriter(privileged.Grant())
	require.NoError(t, w.AttachFence(f))
	require.True(t, fb.HasFence())

	other, err := fence.NewEventFD(ctx)
	require.NoError(t, err)
	defer other.Close()
	require.ErrorIs(t, w.AttachFence(other), ErrFenceAlreadyAttached{})

	released := fb.ReleaseFence()
	require.Same(t, f, released)
	require.False(t, fb.HasFence())

	require.Nil(t, fb.ReleaseFence())
	require.False(t, fb.HasFence())
	require.Equal(t, uint64(42), fb.Cookie())
	require.Equal(t, StatusUndefined, fb.Status())

	require.NoError(t, w.AttachFence(nil))
	require.False(t, fb.HasFence())
}

func TestFrameBufferReleaseFenceOnlyOnce(t *testing.T) {
	ctx := context.Background()
	fb := newTwoPlaneBuffer(t, ctx)
	f, err := fence.NewEventFD(ctx)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, fb.MetadataWriter(privileged.Grant()).AttachFence(f))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		received []*fence.Fence
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := fb.ReleaseFence(); got != nil {
				mu.Lock()
				received = append(received, got)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, []*fence.Fence{f}, received)
}

func TestFrameBufferCancelDoesNotTouchFence(t *testing.T) {
	ctx := context.Background()
	fb := newTwoPlaneBuffer(t, ctx)
	f, err := fence.NewEventFD(ctx)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, fb.MetadataWriter(privileged.Grant()).AttachFence(f))

	for _, prior := range []Status{StatusUndefined, StatusSuccess, StatusError, StatusCancelled} {
		w := fb.MetadataWriter(privileged.Grant())
		w.Reset()
		if prior == StatusSuccess || prior == StatusError {
			require.NoError(t, w.Complete(prior))
		}
		if prior == StatusCancelled {
			fb.Cancel()
		}
		fb.Cancel()
		require.Equal(t, StatusCancelled, fb.Status())
		require.True(t, fb.HasFence())
		require.Len(t, fb.Planes(), 2)
	}
}

func TestMetadataWriterLateCompletionAfterCancel(t *testing.T) {
	ctx := context.Background()
	fb := newTwoPlaneBuffer(t, ctx)
	w := fb.MetadataWriter(privileged.Grant())
	w.Reset()

	fb.Cancel()
	require.ErrorIs(t, w.Complete(StatusSuccess), ErrAlreadyCancelled{})
	require.Equal(t, StatusCancelled, fb.Status())

	w.Reset()
	require.NoError(t, w.Complete(StatusError))
	require.ErrorIs(t, w.Complete(StatusSuccess), ErrAlreadyCompleted{Status: StatusError})
	require.ErrorIs(t, w.Complete(StatusCancelled), ErrInvalidStatus{Status: StatusCancelled})
	require.ErrorIs(t, w.Complete(StatusUndefined), ErrInvalidStatus{Status: StatusUndefined})
}

func TestMetadataWriterBytesUsed(t *testing.T) {
	ctx := context.Background()
	fb := newTwoPlaneBuffer(t, ctx)
	w := fb.MetadataWriter(privileged.Grant())

	require.ErrorIs(t, w.SetBytesUsed(2, 1), ErrPlaneIndexOutOfRange{Index: 2, Count: 2})
	require.ErrorIs(t, w.SetBytesUsed(-1, 1), ErrPlaneIndexOutOfRange{Index: -1, Count: 2})
	require.ErrorIs(t, w.SetBytesUsed(1, 2049), ErrBytesUsedExceedsLength{Plane: 1, BytesUsed: 2049, Length: 2048})
	require.NoError(t, w.SetBytesUsed(1, 2048))

	w.Reset()
	require.Equal(t, []PlaneMetadata{{}, {}}, fb.Metadata().Planes)
	require.Len(t, fb.Metadata().Planes, fb.NumPlanes())
}

func TestMetadataSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	fb := newTwoPlaneBuffer(t, ctx)
	require.NoError(t, fb.MetadataWriter(privileged.Grant()).SetBytesUsed(0, 10))

	m := fb.Metadata()
	m.Planes[0].BytesUsed = 20
	m.Status = StatusSuccess
	require.Equal(t, uint32(10), fb.Metadata().Planes[0].BytesUsed)
	require.Equal(t, StatusUndefined, fb.Status())

	planes := fb.Planes()
	planes[0].Length = 1
	require.Equal(t, uint32(4096), fb.Plane(0).Length)
}

type testRequest struct {
	_      int
	cookie uint64
}

func (r *testRequest) GetObjectID() types.ObjectID { return types.GetObjectID(r) }
func (r *testRequest) Cookie() uint64              { return r.cookie }

func TestFrameBufferRequestBackReference(t *testing.T) {
	ctx := context.Background()
	fb := newTwoPlaneBuffer(t, ctx)
	require.Nil(t, fb.Request())

	req := &testRequest{cookie: 5}
	w := fb.MetadataWriter(privileged.Grant())
	w.SetRequest(func() Request { return req })
	require.Same(t, req, fb.Request())

	w.ClearRequest()
	require.Nil(t, fb.Request())

	w.SetRequest(func() Request { return req })
	w.SetRequest(nil)
	require.Nil(t, fb.Request())
}

func TestPlaneOffsetSentinel(t *testing.T) {
	h := newMemFD(t, 100)
	p := NewPlane(h, 100)
	require.False(t, p.HasOffset())
	require.Equal(t, uint32(InvalidOffset), p.Offset)

	zero := Plane{FD: h, Offset: 0, Length: 100}
	require.True(t, zero.HasOffset())
	require.NotEqual(t, p.Offset, zero.Offset)
	require.Contains(t, p.String(), "offset:unset")
	require.Contains(t, zero.String(), "offset:0 ")
}

func TestFrameBufferIsContiguous(t *testing.T) {
	ctx := context.Background()
	h1 := newMemFD(t, 8192)
	h2 := newMemFD(t, 8192)
	h1dup, err := fd.Dup(h1.FD())
	require.NoError(t, err)
	defer h1dup.Close()

	for name, tc := range map[string]struct {
		planes   []Plane
		expected bool
	}{
		"single-plane": {
			planes:   []Plane{NewPlane(h1, 100)},
			expected: true,
		},
		"back-to-back": {
			planes:   []Plane{{FD: h1, Offset: 0, Length: 4096}, {FD: h1, Offset: 4096, Length: 2048}},
			expected: true,
		},
		"back-to-back-via-dup": {
			planes:   []Plane{{FD: h1, Offset: 0, Length: 4096}, {FD: h1dup, Offset: 4096, Length: 2048}},
			expected: true,
		},
		"gap": {
			planes:   []Plane{{FD: h1, Offset: 0, Length: 4096}, {FD: h1, Offset: 5000, Length: 2048}},
			expected: false,
		},
		"different-memory": {
			planes:   []Plane{{FD: h1, Offset: 0, Length: 4096}, {FD: h2, Offset: 4096, Length: 2048}},
			expected: false,
		},
		"unset-offsets": {
			planes:   []Plane{NewPlane(h1, 4096), NewPlane(h1, 2048)},
			expected: false,
		},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, New(ctx, tc.planes, 0).IsContiguous())
		})
	}
}

func TestFrameBufferPrivate(t *testing.T) {
	ctx := context.Background()
	h1 := newMemFD(t, 8192)
	planes := []Plane{NewPlane(h1, 4096), NewPlane(h1, 2048)}

	fb := NewWithPrivate(ctx, &Private{
		Version:         PrivateVersion1,
		IsContiguous:    typing.Opt(true),
		AllocatorCookie: 3,
	}, planes, 0)
	require.True(t, fb.IsContiguous())
	require.Equal(t, uint64(3), fb.Private().AllocatorCookie)

	require.Panics(t, func() {
		NewWithPrivate(ctx, &Private{Version: EndOfPrivateVersion}, planes, 0)
	})
	require.Panics(t, func() {
		NewWithPrivate(ctx, &Private{}, planes, 0)
	})
}

func TestFrameBufferPlanesAreFixed(t *testing.T) {
	ctx := context.Background()
	h1 := newMemFD(t, 8192)
	planes := []Plane{NewPlane(h1, 4096)}
	fb := New(ctx, planes, 0)
	planes[0].Length = 1
	require.Equal(t, uint32(4096), fb.Plane(0).Length)
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "Success", StatusSuccess.String())
	require.Equal(t, "Status(42)", Status(42).String())
	require.False(t, StatusUndefined.IsFinal())
	require.True(t, StatusCancelled.IsFinal())
}
