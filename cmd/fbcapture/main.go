package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/framebuffer"
	"github.com/xaionaro-go/framebuffer/allocator"
	"github.com/xaionaro-go/framebuffer/device"
	"github.com/xaionaro-go/framebuffer/fence"
	"github.com/xaionaro-go/framebuffer/logger"
	"github.com/xaionaro-go/framebuffer/request"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/typing"
)

const stream = request.StreamID(0)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [options]\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	bufferCount := pflag.Int("buffers", 4, "amount of buffers to allocate")
	planeLengths := pflag.UintSlice("plane-lengths", []uint{4096, 2048}, "lengths of the planes of each buffer, in bytes")
	contiguous := pflag.Bool("contiguous", true, "carve all the planes of a buffer out of a single memory object")
	frames := pflag.Uint64("frames", 30, "amount of frames to capture")
	failEvery := pflag.Uint64("fail-every", 0, "make every N-th capture fail (0 disables)")
	cancelEvery := pflag.Uint64("cancel-every", 0, "cancel every N-th queued buffer (0 disables)")
	useFences := pflag.Bool("fences", false, "attach a fence to every queued buffer")
	pflag.Parse()
	if len(pflag.Args()) != 0 {
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	logger.SetDefault(func() logger.Logger {
		return l
	})
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	lengths := make([]uint32, 0, len(*planeLengths))
	for _, length := range *planeLengths {
		lengths = append(lengths, uint32(length))
	}

	alloc := allocator.New(ctx)
	defer alloc.Close(ctx)
	if _, err := alloc.Allocate(ctx, stream, *bufferCount, lengths, *contiguous); err != nil {
		l.Fatal(err)
	}
	logger.Infof(ctx, "allocated %d buffers for stream %d", *bufferCount, stream)

	cfg := device.Config{QueueSize: *bufferCount}
	if *failEvery > 0 {
		cfg.FailEvery = typing.Opt(*failEvery)
	}
	dev := device.New(ctx, cfg)
	observability.Go(ctx, func(ctx context.Context) {
		err := dev.Serve(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			errmon.ObserveErrorCtx(ctx, err)
			l.Error(err)
		}
	})

	c := &capturer{
		Device:      dev,
		UseFences:   *useFences,
		CancelEvery: *cancelEvery,
	}
	for {
		fb, ok := alloc.Get(stream)
		if !ok {
			break
		}
		req := request.New(fb.Private().AllocatorCookie)
		c.Requests = append(c.Requests, req)
		if err := c.queue(ctx, req, fb); err != nil {
			l.Fatal(err)
		}
	}

	for captured := uint64(0); captured < *frames; captured++ {
		fb := <-dev.BufferReady()
		req, err := c.complete(ctx, fb)
		if err != nil {
			l.Fatal(err)
		}
		m := fb.Metadata()
		fmt.Printf(
			"request:%d seq:%d status:%s ts:%d used:%s\n",
			req.Cookie(), m.Sequence, m.Status, m.Timestamp, humanize.IBytes(m.BytesUsed()),
		)
		if err := req.Reuse(ctx, request.ReuseDefault); err != nil {
			l.Fatal(err)
		}
		if err := c.queue(ctx, req, fb); err != nil {
			l.Fatal(err)
		}
	}

	if err := dev.Close(ctx); err != nil {
		l.Error(err)
	}
	statsJSON, err := json.Marshal(dev.Statistics())
	if err != nil {
		l.Fatal(err)
	}
	fmt.Printf("%s\n%s\n", statsJSON, dev.Statistics())
}

type capturer struct {
	Device      *device.VideoDevice
	Requests    []*request.Request
	UseFences   bool
	CancelEvery uint64
	QueuedCount uint64
}

func (c *capturer) queue(
	ctx context.Context,
	req *request.Request,
	fb *framebuffer.FrameBuffer,
) error {
	var f *fence.Fence
	if c.UseFences {
		var err error
		f, err = fence.NewEventFD(ctx)
		if err != nil {
			return err
		}
	}
	if err := req.AddBuffer(ctx, stream, fb, f); err != nil {
		f.Close()
		return fmt.Errorf("unable to add the buffer to the request: %w", err)
	}
	if err := c.Device.QueueBuffer(ctx, fb); err != nil {
		return fmt.Errorf("unable to queue the buffer: %w", err)
	}
	c.QueuedCount++
	if c.CancelEvery > 0 && c.QueuedCount%c.CancelEvery == 0 {
		fb.Cancel()
	}
	return nil
}

func (c *capturer) complete(
	ctx context.Context,
	fb *framebuffer.FrameBuffer,
) (*request.Request, error) {
	req, ok := fb.Request().(*request.Request)
	if !ok {
		return nil, fmt.Errorf("buffer %s is not attached to a request", fb.GetObjectID())
	}
	if _, err := req.CompleteBuffer(ctx, fb); err != nil {
		return nil, err
	}
	if err := req.Complete(ctx); err != nil {
		return nil, err
	}
	if f := fb.ReleaseFence(); f != nil {
		logger.Warnf(ctx, "the fence of %s was not consumed", fb.GetObjectID())
		f.Close()
	}
	return req, nil
}
