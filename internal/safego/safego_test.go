package safego

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitGroup was not released")
	}
}

func TestGo_NormalCompletion(t *testing.T) {
	var wg sync.WaitGroup
	var executed atomic.Bool
	wg.Add(1)
	Go(nil, &wg, "normal", nil, func() { executed.Store(true) })
	waitOrFail(t, &wg)
	if !executed.Load() {
		t.Error("fn was not executed")
	}
}

func TestGo_PanicRecovered(t *testing.T) {
	var wg sync.WaitGroup
	mock := logger.NewMockLogger()
	var got atomic.Value
	wg.Add(1)
	Go(mock, &wg, "extract ui/title.png", func(r interface{}) { got.Store(r) }, func() {
		panic("corrupt entry")
	})
	waitOrFail(t, &wg)
	if got.Load() != "corrupt entry" {
		t.Errorf("onPanic got %v", got.Load())
	}
	if len(mock.ErrorCalls) != 1 || !strings.Contains(mock.ErrorCalls[0], "extract ui/title.png") {
		t.Errorf("panic should be logged with its name, got %v", mock.ErrorCalls)
	}
}

func TestPanicError(t *testing.T) {
	base := errors.New("boom")
	if err := PanicError("fetch", base); !errors.Is(err, base) {
		t.Errorf("error panics should be wrapped, got %v", err)
	}
	if err := PanicError("fetch", 42); !strings.Contains(err.Error(), "42") {
		t.Errorf("got %v", err)
	}
}
