package transport

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tani-shi/assetbundle-manager/internal/safego"
	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

// Handle is a fetch running on its own goroutine. It implements
// bundle.FetchHandle.
type Handle struct {
	url    string
	crc    uint32
	ctx    context.Context
	cancel context.CancelFunc

	read  atomic.Int64
	total atomic.Int64
	done  atomic.Bool

	mu   sync.Mutex
	data []byte
	err  error
}

func newHandle(url string, crc uint32) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{url: url, crc: crc, ctx: ctx, cancel: cancel}
	h.total.Store(-1)
	return h
}

// start opens the URL with open and reads the body in the background.
func (h *Handle) start(l logger.Logger, proto string, open Opener) {
	name := "fetch " + StripURLCredentials(h.url)
	safego.Go(l, nil, name, func(r interface{}) {
		h.finish(nil, NewPermanentError(proto, "fetch", safego.PanicError(name, r)))
	}, func() {
		defer h.cancel()
		h.finish(h.run(proto, open))
	})
}

func (h *Handle) run(proto string, open Opener) ([]byte, error) {
	body, size, err := open(h.ctx, h.url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	if size >= 0 {
		h.total.Store(size)
	}
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(io.MultiWriter(&buf, h), body); err != nil {
		if h.ctx.Err() != nil {
			return nil, NewPermanentError(proto, "read", h.ctx.Err())
		}
		return nil, classifyNetError(proto, "read", err)
	}
	data := buf.Bytes()
	if h.crc != 0 {
		if got := crc32.ChecksumIEEE(data); got != h.crc {
			return nil, NewTransientError(proto, "verify",
				fmt.Errorf("%w: got %08x, want %08x", ErrCRCMismatch, got, h.crc))
		}
	}
	return data, nil
}

// Write counts received bytes for Progress.
func (h *Handle) Write(p []byte) (int, error) {
	h.read.Add(int64(len(p)))
	return len(p), nil
}

func (h *Handle) finish(data []byte, err error) {
	h.mu.Lock()
	h.data, h.err = data, err
	h.mu.Unlock()
	h.done.Store(true)
}

func (h *Handle) URL() string { return h.url }
func (h *Handle) Done() bool  { return h.done.Load() }

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Received returns the number of bytes read so far.
func (h *Handle) Received() int64 { return h.read.Load() }

// Progress is 0 until the size is known.
func (h *Handle) Progress() float64 {
	if h.done.Load() {
		return 1
	}
	total := h.total.Load()
	if total <= 0 {
		return 0
	}
	p := float64(h.read.Load()) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}

func (h *Handle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

// Close cancels a running fetch. The goroutine finishes on its own.
func (h *Handle) Close() error {
	h.cancel()
	return nil
}

var (
	_ bundle.FetchHandle = (*Handle)(nil)
	_ bundle.ByteCounter = (*Handle)(nil)
)
