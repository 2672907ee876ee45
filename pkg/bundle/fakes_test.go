package bundle

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

type fakeHandle struct {
	url      string
	done     bool
	err      error
	progress float64
	received int64
	data     []byte
	closed   bool
}

func (h *fakeHandle) Done() bool        { return h.done }
func (h *fakeHandle) Err() error        { return h.err }
func (h *fakeHandle) Progress() float64 { return h.progress }
func (h *fakeHandle) Bytes() []byte     { return h.data }
func (h *fakeHandle) Received() int64   { return h.received }
func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

func (h *fakeHandle) complete(data []byte) {
	h.done = true
	h.progress = 1
	h.data = data
}

// fakeFetcher hands out fakeHandles. With auto set, handles are created
// already complete, or failed while fail[url] is positive.
type fakeFetcher struct {
	auto  bool
	data  map[string][]byte
	fail  map[string]int
	err   error
	byURL map[string][]*fakeHandle
}

func newFakeFetcher(auto bool) *fakeFetcher {
	return &fakeFetcher{
		auto:  auto,
		data:  make(map[string][]byte),
		fail:  make(map[string]int),
		byURL: make(map[string][]*fakeHandle),
	}
}

func (f *fakeFetcher) Fetch(url, hash string, crc uint32) (FetchHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := &fakeHandle{url: url}
	if f.fail[url] > 0 {
		f.fail[url]--
		h.done = true
		h.err = errors.New("connection reset")
	} else if f.auto {
		h.complete(f.data[url])
	}
	f.byURL[url] = append(f.byURL[url], h)
	return h, nil
}

func (f *fakeFetcher) count(url string) int {
	return len(f.byURL[url])
}

func (f *fakeFetcher) last(url string) *fakeHandle {
	hs := f.byURL[url]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

type fakePackage struct {
	name     string
	assets   map[string][]Object
	unloaded bool
}

func (p *fakePackage) Name() string { return p.name }

func (p *fakePackage) AssetNames() []string {
	return sortedKeys(p.assets)
}

func (p *fakePackage) Contains(asset string) bool {
	_, ok := p.assets[asset]
	return ok
}

func (p *fakePackage) LoadAsset(asset string) (Object, error) {
	objs, ok := p.assets[asset]
	if !ok || len(objs) == 0 {
		return Object{}, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	return objs[0], nil
}

func (p *fakePackage) LoadAssetWithSubAssets(asset string) ([]Object, error) {
	objs, ok := p.assets[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	return objs, nil
}

func (p *fakePackage) LoadAssetAsync(asset string) AssetOp {
	o, err := p.LoadAsset(asset)
	return &doneOp{objs: []Object{o}, err: err}
}

func (p *fakePackage) LoadAssetWithSubAssetsAsync(asset string) AssetOp {
	objs, err := p.LoadAssetWithSubAssets(asset)
	return &doneOp{objs: objs, err: err}
}

func (p *fakePackage) Unload() { p.unloaded = true }

// fakeDecoder builds packages from the assets registered per bundle.
type fakeDecoder struct {
	assets  map[string]map[string][]Object
	decoded map[string][]*fakePackage
	err     error
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{
		assets:  make(map[string]map[string][]Object),
		decoded: make(map[string][]*fakePackage),
	}
}

func (d *fakeDecoder) add(bundle, asset string, objs ...Object) {
	if d.assets[bundle] == nil {
		d.assets[bundle] = make(map[string][]Object)
	}
	d.assets[bundle][asset] = objs
}

func (d *fakeDecoder) Decode(name string, data []byte) (Package, error) {
	if d.err != nil {
		return nil, d.err
	}
	p := &fakePackage{name: name, assets: d.assets[name]}
	d.decoded[name] = append(d.decoded[name], p)
	return p, nil
}

type fakeCache map[string]bool

func (c fakeCache) IsVersionCached(url, hash string) bool {
	return c[url+"@"+hash]
}

type fakeLocal map[string][]Object

func (l fakeLocal) Exists(asset string) bool {
	_, ok := l[asset]
	return ok
}

func (l fakeLocal) Load(asset string) ([]Object, error) {
	objs, ok := l[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	return objs, nil
}

type testClock struct{ t time.Time }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	m       *Manager
	fetcher *fakeFetcher
	decoder *fakeDecoder
	clock   *testClock
	log     *logger.MockLogger
	helper  *PathHelper
}

func testHelper() *PathHelper {
	return &PathHelper{
		BaseURL:    "http://cdn.test/bundles",
		Root:       "Assets/Bundles",
		Manifest:   "manifest.yaml",
		Collection: "collection.yaml",
	}
}

func newHarness(t *testing.T, cfg Config, auto bool, records ...Record) *harness {
	t.Helper()
	h := &harness{
		fetcher: newFakeFetcher(auto),
		decoder: newFakeDecoder(),
		clock:   newTestClock(),
		log:     logger.NewMockLogger(),
		helper:  testHelper(),
	}
	m, err := NewManager(cfg, Dependencies{
		Fetcher: h.fetcher,
		Decoder: h.decoder,
		Logger:  h.log,
		Now:     h.clock.now,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.m = m
	if records == nil {
		return h
	}
	idx, err := NewIndex(records...)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := m.InitializeWithIndex(h.helper, idx); err != nil {
		t.Fatalf("InitializeWithIndex: %v", err)
	}
	return h
}

func (h *harness) url(bundle string) string {
	return h.helper.URLOf(bundle)
}

func (h *harness) bundle(t *testing.T, name string) *BundleRequest {
	t.Helper()
	r, ok := h.m.Bundle(name)
	if !ok {
		t.Fatalf("no request for bundle %s", name)
	}
	return r
}

// tickUntil ticks until cond holds, failing after max ticks.
func (h *harness) tickUntil(t *testing.T, max int, cond func() bool) {
	t.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return
		}
		h.m.Tick()
	}
	if !cond() {
		t.Fatalf("condition not reached after %d ticks", max)
	}
}

func asset(bundle, name string) string {
	return "Assets/Bundles/" + bundle + "/" + name
}
