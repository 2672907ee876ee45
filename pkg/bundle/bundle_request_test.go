package bundle

import (
	"errors"
	"testing"
	"time"

	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

func newTestEnv(f Fetcher, d Decoder, clock *testClock, cfg Config) *requestEnv {
	cfg.applyDefaults()
	return &requestEnv{fetcher: f, decoder: d, log: logger.NewNopLogger(), now: clock.now, cfg: &cfg}
}

func TestBundleRequest_LoadTransitions(t *testing.T) {
	env := newTestEnv(newFakeFetcher(true), newFakeDecoder(), newTestClock(), DefaultConfig())
	leaf := newBundleRequest(Record{Name: "leaf"}, "u/leaf", nil, env)
	top := newBundleRequest(Record{Name: "top"}, "u/top", []*BundleRequest{leaf}, env)

	leaf.Load()
	top.Load()
	if leaf.State() != StateWaitingFetch || top.State() != StateWaitingDependencies {
		t.Fatalf("leaf %s top %s", leaf.State(), top.State())
	}
	leaf.Load()
	if leaf.State() != StateWaitingFetch {
		t.Fatal("Load outside idle must be a no-op")
	}
	top.advance()
	if top.State() != StateWaitingDependencies {
		t.Fatal("top must wait for leaf")
	}
	leaf.advance()
	leaf.advance()
	if leaf.Poll() != Ready || leaf.Package() == nil || leaf.Err() != nil {
		t.Fatalf("leaf should be done, state %s", leaf.State())
	}
	top.advance()
	if top.State() != StateWaitingFetch {
		t.Fatalf("top should start fetching once leaf is done, state %s", top.State())
	}
}

func TestBundleRequest_DisposeInEveryState(t *testing.T) {
	clock := newTestClock()
	fetcher := newFakeFetcher(false)
	decoder := newFakeDecoder()
	cfg := DefaultConfig()
	cfg.RetryLimit = 0

	t.Run("fetching", func(t *testing.T) {
		r := newBundleRequest(Record{Name: "f"}, "u/f", nil, newTestEnv(fetcher, decoder, clock, cfg))
		r.Load()
		r.advance()
		h := fetcher.last("u/f")
		r.Dispose()
		if !h.closed || r.hasHandle() || r.State() != StateIdle {
			t.Error("dispose should cancel the in-flight fetch")
		}
	})

	t.Run("done", func(t *testing.T) {
		r := newBundleRequest(Record{Name: "d"}, "u/d", nil, newTestEnv(fetcher, decoder, clock, cfg))
		r.Load()
		r.advance()
		fetcher.last("u/d").complete([]byte("x"))
		r.advance()
		pkg := decoder.decoded["d"][0]
		r.Dispose()
		if !pkg.unloaded || r.Package() != nil || r.Progress() != 0 {
			t.Error("dispose should unload the package")
		}
		r.Load()
		if r.State() != StateWaitingFetch {
			t.Error("a disposed request can be loaded again")
		}
	})

	t.Run("error", func(t *testing.T) {
		r := newBundleRequest(Record{Name: "e"}, "u/e", nil, newTestEnv(fetcher, decoder, clock, cfg))
		fetcher.fail["u/e"] = 1
		r.Load()
		r.advance()
		r.advance()
		if r.Poll() != Failed || !IsKind(r.Err(), KindTransport) {
			t.Fatalf("expected transport failure, got %v", r.Err())
		}
		r.Dispose()
		if r.Err() != nil || r.Retries() != 0 || r.State() != StateIdle {
			t.Error("dispose should clear the error")
		}
	})

	t.Run("idle", func(t *testing.T) {
		r := newBundleRequest(Record{Name: "i"}, "u/i", nil, newTestEnv(fetcher, decoder, clock, cfg))
		r.Dispose()
		r.Dispose()
		if r.State() != StateIdle {
			t.Error("dispose on idle is a no-op")
		}
	})
}

func TestBundleRequest_DecodeFailureIsRetried(t *testing.T) {
	clock := newTestClock()
	decoder := newFakeDecoder()
	decoder.err = errors.New("corrupt archive")
	cfg := DefaultConfig()
	cfg.RetryLimit = 1
	r := newBundleRequest(Record{Name: "c"}, "u/c", nil, newTestEnv(newFakeFetcher(true), decoder, clock, cfg))
	r.Load()
	for i := 0; i < 6 && r.State() != StateError; i++ {
		r.advance()
	}
	if r.State() != StateError || r.Retries() != 1 {
		t.Fatalf("state %s retries %d", r.State(), r.Retries())
	}
	var le *LoadError
	if !errors.As(r.Err(), &le) || le.Op != "decode" {
		t.Errorf("unexpected error %v", r.Err())
	}
}

func TestBundleRequest_SyncFetchError(t *testing.T) {
	fetcher := newFakeFetcher(true)
	fetcher.err = errors.New("unsupported scheme")
	cfg := DefaultConfig()
	cfg.RetryLimit = 0
	r := newBundleRequest(Record{Name: "s"}, "gopher://s", nil, newTestEnv(fetcher, newFakeDecoder(), newTestClock(), cfg))
	r.Load()
	r.advance()
	if r.State() != StateError || !errors.Is(r.Err(), fetcher.err) {
		t.Errorf("state %s err %v", r.State(), r.Err())
	}
}

func TestBundleRequest_SyncLoadAsset(t *testing.T) {
	decoder := newFakeDecoder()
	decoder.add("s", "a", Object{Name: "a", Data: []byte("1")}, Object{Name: "a_sub"})
	r := newBundleRequest(Record{Name: "s"}, "u/s", nil, newTestEnv(newFakeFetcher(true), decoder, newTestClock(), DefaultConfig()))
	if _, err := r.LoadAsset("a"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded, got %v", err)
	}
	r.Load()
	r.advance()
	r.advance()
	o, err := r.LoadAsset("a")
	if err != nil || string(o.Data) != "1" {
		t.Errorf("LoadAsset = %v, %v", o, err)
	}
	objs, err := r.LoadAssetWithSubAssets("a")
	if err != nil || len(objs) != 2 {
		t.Errorf("LoadAssetWithSubAssets = %v, %v", objs, err)
	}
}

func TestAssetRequest_Progress(t *testing.T) {
	clock := newTestClock()
	fetcher := newFakeFetcher(false)
	env := newTestEnv(fetcher, newFakeDecoder(), clock, DefaultConfig())
	b := newBundleRequest(Record{Name: "b"}, "u/b", nil, env)
	a := newAssetRequest(1, "x", "", nil, env)
	if a.Progress() != 0 {
		t.Error("idle asset request has no progress")
	}
	a.attach(b)
	b.Load()
	b.advance()
	fetcher.last("u/b").progress = 0.5
	b.advance()
	if got := a.Progress(); got != 0.25 {
		t.Errorf("Progress = %v, want 0.25", got)
	}
	fetcher.last("u/b").complete(nil)
	b.advance()
	a.advance()
	if a.State() != AssetWaitingForExtraction {
		t.Fatalf("state %s", a.State())
	}
	a.advance()
	if a.Progress() != 1 || a.Poll() != Ready {
		t.Errorf("finished request reports progress %v", a.Progress())
	}
}

func TestConfig_SkipsExtraction(t *testing.T) {
	cfg := DefaultConfig()
	for asset, want := range map[string]bool{
		"Assets/Scenes/Title.unity": true,
		"Assets/Scenes/Title.UNITY": true,
		"Assets/ui/title.png":       false,
		"Assets/ui/noext":           false,
	} {
		if got := cfg.skipsExtraction(asset); got != want {
			t.Errorf("skipsExtraction(%q) = %v, want %v", asset, got, want)
		}
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.UseLocalResources = true
	cfg.applyDefaults()
	if cfg.MaxRequestCount != DEF_MAX_REQUEST_COUNT || cfg.MaxRequestBytes != DEF_MAX_REQUEST_BYTES || cfg.Timeout != DEF_TIMEOUT {
		t.Errorf("limits not defaulted: %+v", cfg)
	}
	if cfg.ManifestTimeout != cfg.Timeout || len(cfg.SkipExtractExtensions) != len(DefaultSkipExtractExtensions) {
		t.Errorf("manifest timeout or skip list not defaulted: %+v", cfg)
	}
	if cfg.RetryLimit != 0 || !cfg.UseLocalResources {
		t.Errorf("retry limit 0 and local resources must be kept: %+v", cfg)
	}

	cfg = Config{RetryLimit: -2, SkipExtractExtensions: []string{}}
	cfg.applyDefaults()
	if cfg.RetryLimit != 0 || len(cfg.SkipExtractExtensions) != 0 {
		t.Errorf("negative retry limit or empty skip list mishandled: %+v", cfg)
	}
}

func TestBundleRequest_ReceivedBytesKeepFetchAlive(t *testing.T) {
	clock := newTestClock()
	fetcher := newFakeFetcher(false)
	cfg := DefaultConfig()
	cfg.RetryLimit = 0

	tests := []struct {
		name string
		size int64
		want []float64
	}{
		{"unknown size", 0, []float64{0, 0, 0}},
		{"manifest size", 1000, []float64{0.2, 0.6, sizeHintCap}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newBundleRequest(Record{Name: "s", Size: tt.size}, "u/s", nil, newTestEnv(fetcher, newFakeDecoder(), clock, cfg))
			r.Load()
			r.advance()
			h := fetcher.last("u/s")
			for i, n := range []int64{200, 600, 1500} {
				clock.advance(cfg.Timeout - time.Second)
				h.received = n
				r.advance()
				if r.State() != StateFetching {
					t.Fatalf("step %d: growing download went to %s", i, r.State())
				}
				if r.Progress() != tt.want[i] {
					t.Errorf("step %d: progress %v, want %v", i, r.Progress(), tt.want[i])
				}
			}
			clock.advance(cfg.Timeout)
			r.advance()
			if r.State() != StateError || !IsKind(r.Err(), KindTimeout) {
				t.Fatalf("stalled download should time out, state %s err %v", r.State(), r.Err())
			}
		})
	}
}
