package framebuffer_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/framebuffer"
	"github.com/xaionaro-go/framebuffer/fd"
	"golang.org/x/sys/unix"
)

func TestMetadataWriterKeyCannotBeForged(t *testing.T) {
	ctx := context.Background()
	raw, err := unix.MemfdCreate("framebuffer-external-test", unix.MFD_CLOEXEC)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(raw, 64))
	h := fd.Adopt(raw)
	t.Cleanup(func() { h.Close() })
	fb := framebuffer.New(ctx, []framebuffer.Plane{framebuffer.NewPlane(h, 64)}, 0)

	method := reflect.ValueOf(fb).MethodByName("MetadataWriter")
	require.True(t, method.IsValid())
	keyType := method.Type().In(0)

	for _, forged := range []any{struct{}{}, struct{ _ byte }{}, 0, nil} {
		require.False(t, reflect.TypeOf(forged) != nil && reflect.TypeOf(forged).AssignableTo(keyType), "%T", forged)
	}

	require.Panics(t, func() {
		method.Call([]reflect.Value{reflect.Zero(keyType)})
	})
	require.Equal(t, framebuffer.StatusUndefined, fb.Status())
}
