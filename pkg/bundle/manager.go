// Package bundle schedules the loading of content bundles and of the
// assets inside them.
//
// A Manager resolves the dependency chain of every requested bundle,
// shares one BundleRequest per bundle name between all requesters,
// bounds how many bundles load at once and retries stalled or failed
// fetches. It is driven by Tick and is not safe for concurrent use:
// every method must be called from the goroutine that ticks it. See
// internal/loop for a driver that owns a Manager on its own goroutine.
package bundle

import (
	"errors"
	"fmt"
	"time"

	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

var ErrMissingDependency = errors.New("manager dependency is nil")

// Dependencies are the collaborators of a Manager.
type Dependencies struct {
	// Fetcher and Decoder are required unless UseLocalResources is set.
	Fetcher Fetcher
	Decoder Decoder
	// Cache classifies requests as downloading or loading. Nil counts
	// every request as downloading.
	Cache VersionCache
	// Local serves assets when UseLocalResources is set and backs
	// GetAsset for assets that were never loaded from a bundle.
	Local  LocalSource
	Logger logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// RequestOptions describes an asset request. Only AssetName is
// required; BundleName defaults to the Helper's answer.
type RequestOptions struct {
	AssetName    string
	SubAssetName string
	BundleName   string
	Extractor    Extractor
}

// Stats is a snapshot of the scheduler queues.
type Stats struct {
	Ready        bool
	Pending      int
	Downloading  int
	Loading      int
	Errors       int
	Bundles      int
	LiveAssets   int
	LoadedAssets int
	// ActiveBytes sums the sizes of active requests. It may exceed
	// MaxRequestBytes; the budget is advisory.
	ActiveBytes     int64
	MaxRequestBytes int64
	Progress        float64
}

// Manager is the bundle and asset load scheduler.
type Manager struct {
	cfg   Config
	env   *requestEnv
	cache VersionCache
	local LocalSource
	log   logger.Logger

	helper      Helper
	index       *Index
	ready       bool
	boot        *manifestLoad
	manifestErr error

	pending     []*BundleRequest
	downloading orderedSet[*BundleRequest]
	loading     orderedSet[*BundleRequest]
	errored     []*BundleRequest
	requests    map[string]*BundleRequest

	live    orderedSet[*AssetRequest]
	issued  map[*AssetRequest]struct{}
	loaded  map[string]any
	nextID  uint64
	onError func(*BundleRequest)
}

// NewManager creates a Manager. It is not ready until Initialize or
// InitializeWithIndex succeeds.
func NewManager(cfg Config, deps Dependencies) (*Manager, error) {
	cfg.applyDefaults()
	if !cfg.UseLocalResources {
		if deps.Fetcher == nil {
			return nil, fmt.Errorf("%w: fetcher", ErrMissingDependency)
		}
		if deps.Decoder == nil {
			return nil, fmt.Errorf("%w: decoder", ErrMissingDependency)
		}
	} else if deps.Local == nil {
		return nil, fmt.Errorf("%w: local source", ErrMissingDependency)
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	m := &Manager{
		cache:       deps.Cache,
		local:       deps.Local,
		log:         deps.Logger,
		downloading: newOrderedSet[*BundleRequest](),
		loading:     newOrderedSet[*BundleRequest](),
		requests:    make(map[string]*BundleRequest),
		live:        newOrderedSet[*AssetRequest](),
		issued:      make(map[*AssetRequest]struct{}),
		loaded:      make(map[string]any),
	}
	m.cfg = cfg
	m.env = &requestEnv{
		fetcher: deps.Fetcher,
		decoder: deps.Decoder,
		log:     deps.Logger,
		now:     deps.Now,
		cfg:     &m.cfg,
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Index returns the bundle lookup, nil until ready in network mode.
func (m *Manager) Index() *Index { return m.index }

// IsReady reports whether requests are accepted.
func (m *Manager) IsReady() bool { return m.ready }

// ManifestErr returns the error that stopped the last manifest load.
func (m *Manager) ManifestErr() error { return m.manifestErr }

// SetErrorCallback registers fn to be called once every time a bundle
// request moves to Error.
func (m *Manager) SetErrorCallback(fn func(*BundleRequest)) {
	m.onError = fn
}

// Initialize starts loading the manifest and the bundle-info collection
// through the Fetcher. The Manager becomes ready on a later Tick. With
// UseLocalResources it is ready immediately.
func (m *Manager) Initialize(helper Helper) error {
	if helper == nil {
		return ErrNilHelper
	}
	m.reset()
	m.helper = helper
	if m.cfg.UseLocalResources {
		m.ready = true
		m.log.Info("using local resources")
		return nil
	}
	m.boot = newManifestLoad(helper.ManifestURL(), helper.CollectionURL(), m.env)
	return nil
}

// InitializeWithIndex makes the Manager ready with an index that is
// already available.
func (m *Manager) InitializeWithIndex(helper Helper, idx *Index) error {
	if helper == nil {
		return ErrNilHelper
	}
	if idx == nil && !m.cfg.UseLocalResources {
		return fmt.Errorf("%w: index", ErrMissingDependency)
	}
	m.reset()
	m.helper = helper
	m.index = idx
	m.ready = true
	return nil
}

func (m *Manager) reset() {
	m.RemoveAllRequests()
	if m.boot != nil {
		m.boot.close()
		m.boot = nil
	}
	m.ready = false
	m.index = nil
	m.manifestErr = nil
}

func (m *Manager) notReady(op string) error {
	m.log.Warning("%s ignored: %v", op, ErrNotReady)
	return ErrNotReady
}

// AddAssetRequest requests an asset by path.
func (m *Manager) AddAssetRequest(asset string) (*AssetRequest, error) {
	return m.AddRequest(RequestOptions{AssetName: asset})
}

// AddAssetRequests requests several assets. It stops at the first
// error and returns the requests made so far.
func (m *Manager) AddAssetRequests(assets ...string) ([]*AssetRequest, error) {
	out := make([]*AssetRequest, 0, len(assets))
	for _, a := range assets {
		r, err := m.AddAssetRequest(a)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// AddRequest requests an asset, or a sub-asset of it. An asset that is
// already loaded yields a request that is done and holds no reference.
func (m *Manager) AddRequest(opts RequestOptions) (*AssetRequest, error) {
	if !m.ready {
		return nil, m.notReady("add request " + opts.AssetName)
	}
	key := AssetKey(opts.AssetName, opts.SubAssetName)
	if v, ok := m.loaded[key]; ok {
		r := m.newAssetRequest(opts)
		r.resolve(v)
		return r, nil
	}
	if m.cfg.UseLocalResources {
		r := m.newAssetRequest(opts)
		r.loadLocal(m.local)
		m.track(r)
		return r, nil
	}
	name := opts.BundleName
	if name == "" {
		if !m.helper.IsBundleAsset(opts.AssetName) {
			return nil, fmt.Errorf("%w: %s", ErrNotBundleAsset, opts.AssetName)
		}
		name = m.helper.BundleOf(opts.AssetName)
	}
	if _, ok := m.index.Lookup(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, name)
	}
	r := m.newAssetRequest(opts)
	r.attach(m.acquire(name, make(map[string]bool)))
	m.track(r)
	return r, nil
}

// AddDownloadRequest loads a bundle and its dependencies without
// extracting anything. The returned request has no asset name and is
// released with RemoveRequest like any other.
func (m *Manager) AddDownloadRequest(bundle string) (*AssetRequest, error) {
	if !m.ready {
		return nil, m.notReady("add download request " + bundle)
	}
	if m.cfg.UseLocalResources {
		r := m.newAssetRequest(RequestOptions{})
		r.resolve(nil)
		return r, nil
	}
	if _, ok := m.index.Lookup(bundle); !ok {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, bundle)
	}
	r := m.newAssetRequest(RequestOptions{})
	r.attach(m.acquire(bundle, make(map[string]bool)))
	m.track(r)
	return r, nil
}

// AddDownloadRequests loads several bundles. It stops at the first error
// and returns the requests made so far.
func (m *Manager) AddDownloadRequests(bundles ...string) ([]*AssetRequest, error) {
	out := make([]*AssetRequest, 0, len(bundles))
	for _, b := range bundles {
		r, err := m.AddDownloadRequest(b)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Manager) newAssetRequest(opts RequestOptions) *AssetRequest {
	m.nextID++
	return newAssetRequest(m.nextID, opts.AssetName, opts.SubAssetName, opts.Extractor, m.env)
}

func (m *Manager) track(r *AssetRequest) {
	m.issued[r] = struct{}{}
	if r.state == AssetDone {
		m.store(r)
		return
	}
	m.live.Add(r)
}

// acquire resolves the dependencies of name depth-first in manifest
// order, then takes one reference on name itself. visited keeps one
// client request from counting twice on a bundle reached through
// several paths.
func (m *Manager) acquire(name string, visited map[string]bool) *BundleRequest {
	if visited[name] {
		return m.requests[name]
	}
	visited[name] = true
	rec, _ := m.index.Lookup(name)
	deps := make([]*BundleRequest, 0, len(rec.Dependencies))
	for _, d := range rec.Dependencies {
		deps = append(deps, m.acquire(d, visited))
	}
	if r, ok := m.requests[name]; ok {
		r.refCount++
		return r
	}
	r := newBundleRequest(rec, m.helper.URLOf(name), deps, m.env)
	r.refCount = 1
	r.Load()
	m.requests[name] = r
	m.pending = append(m.pending, r)
	return r
}

// release drops one reference along the chain acquire walked. Bundles
// reaching zero are dequeued and disposed, dependents before their
// dependencies.
func (m *Manager) release(r *BundleRequest, visited map[string]bool) {
	name := r.Name()
	if visited[name] || m.requests[name] != r {
		return
	}
	visited[name] = true
	r.refCount--
	if r.refCount <= 0 {
		m.drop(r)
	}
	for _, d := range r.deps {
		m.release(d, visited)
	}
}

func (m *Manager) drop(r *BundleRequest) {
	m.pending, _ = removeFromQueue(m.pending, r)
	m.errored, _ = removeFromQueue(m.errored, r)
	m.downloading.Remove(r)
	m.loading.Remove(r)
	delete(m.requests, r.Name())
	r.Dispose()
	m.log.Info("released bundle %s", r.Name())
}

// RemoveRequest releases an asset request and the bundle references it
// holds. Removing the same request twice is a no-op.
func (m *Manager) RemoveRequest(r *AssetRequest) error {
	if !m.ready {
		return m.notReady("remove request")
	}
	if r == nil {
		return nil
	}
	if _, ok := m.issued[r]; !ok {
		return nil
	}
	delete(m.issued, r)
	m.live.Remove(r)
	if r.bundle != nil {
		m.release(r.bundle, make(map[string]bool))
	}
	return nil
}

// RemoveAllRequests disposes every bundle request and clears every
// queue, including the loaded-asset cache.
func (m *Manager) RemoveAllRequests() {
	for _, name := range sortedKeys(m.requests) {
		m.requests[name].Dispose()
	}
	m.pending = nil
	m.errored = nil
	m.downloading.Clear()
	m.loading.Clear()
	m.requests = make(map[string]*BundleRequest)
	m.live.Clear()
	m.issued = make(map[*AssetRequest]struct{})
	m.loaded = make(map[string]any)
}

// Retry restarts every errored bundle that is not active. Restarted
// bundles go straight to the active set, ignoring MaxRequestCount, so
// that dependents already holding slots cannot starve them. It returns
// how many bundles were restarted.
func (m *Manager) Retry() (int, error) {
	if !m.ready {
		return 0, m.notReady("retry")
	}
	queue := m.errored
	m.errored = nil
	n := 0
	for _, r := range queue {
		if m.isActive(r) || m.requests[r.Name()] != r {
			continue
		}
		r.Dispose()
		r.Load()
		m.activate(r)
		n++
	}
	if n > 0 {
		m.log.Info("retrying %d bundle(s)", n)
	}
	return n, nil
}

func (m *Manager) isActive(r *BundleRequest) bool {
	return m.downloading.Contains(r) || m.loading.Contains(r)
}

func (m *Manager) activeCount() int {
	return m.downloading.Len() + m.loading.Len()
}

func (m *Manager) activate(r *BundleRequest) {
	if m.cache != nil && m.cache.IsVersionCached(r.URL(), r.record.Hash) {
		m.loading.Add(r)
		return
	}
	m.downloading.Add(r)
}

// Tick advances the scheduler by one step: pending bundles are promoted
// into free slots, then every active bundle request and every live
// asset request is advanced once.
func (m *Manager) Tick() {
	if m.boot != nil {
		m.pollManifest()
	}
	if !m.ready {
		return
	}
	m.promote()
	m.advanceBundles()
	m.advanceAssets()
}

func (m *Manager) promote() {
	for len(m.pending) > 0 && m.activeCount() < m.cfg.MaxRequestCount {
		r := m.pending[0]
		m.pending = m.pending[1:]
		m.activate(r)
	}
}

func (m *Manager) advanceBundles() {
	active := append(m.downloading.Values(), m.loading.Values()...)
	for _, r := range active {
		r.advance()
		switch r.state {
		case StateDone:
			m.downloading.Remove(r)
			m.loading.Remove(r)
			m.log.Info("cached bundle %s", r.Name())
		case StateError:
			m.downloading.Remove(r)
			m.loading.Remove(r)
			m.errored = append(m.errored, r)
			m.log.Error("bundle %s failed: %v", r.Name(), r.err)
			if m.onError != nil {
				m.onError(r)
			}
		}
	}
}

func (m *Manager) advanceAssets() {
	for _, r := range m.live.Values() {
		r.advance()
		if r.state == AssetDone {
			m.live.Remove(r)
			m.store(r)
		}
	}
}

func (m *Manager) store(r *AssetRequest) {
	if r.result == nil {
		return
	}
	key := r.Key()
	if _, ok := m.loaded[key]; ok {
		return
	}
	m.loaded[key] = r.result
	m.log.Info("loaded asset %s", key)
}

// GetAsset returns a loaded asset by key (see AssetKey). Assets never
// loaded from a bundle fall back to the LocalSource, if one is set.
func (m *Manager) GetAsset(key string) (any, error) {
	if v, ok := m.loaded[key]; ok {
		return v, nil
	}
	if m.local != nil && m.local.Exists(key) {
		objs, err := m.local.Load(key)
		if err != nil {
			return nil, err
		}
		if len(objs) > 0 {
			return objs[0], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, key)
}

// IsAssetLoaded reports whether key is in the loaded-asset cache.
func (m *Manager) IsAssetLoaded(key string) bool {
	_, ok := m.loaded[key]
	return ok
}

// IsAssetCached reports whether the bundle owning asset is stored in the
// version cache.
func (m *Manager) IsAssetCached(asset string) bool {
	if !m.ready || m.helper == nil || !m.helper.IsBundleAsset(asset) {
		return false
	}
	return m.IsBundleCached(m.helper.BundleOf(asset))
}

// IsBundleCached reports whether the manifest version of bundle is
// stored in the version cache.
func (m *Manager) IsBundleCached(bundle string) bool {
	if !m.ready || m.cache == nil || m.index == nil {
		return false
	}
	rec, ok := m.index.Lookup(bundle)
	if !ok {
		return false
	}
	return m.cache.IsVersionCached(m.helper.URLOf(bundle), rec.Hash)
}

// Bundle returns the live request of a bundle, if any.
func (m *Manager) Bundle(name string) (*BundleRequest, bool) {
	r, ok := m.requests[name]
	return r, ok
}

// Errors returns the bundles waiting for Retry, oldest first.
func (m *Manager) Errors() []*BundleRequest {
	return append([]*BundleRequest(nil), m.errored...)
}

// IsDownloading reports whether any bundle is pending or active.
func (m *Manager) IsDownloading() bool {
	return len(m.pending) > 0 || m.activeCount() > 0
}

// IsLoading reports whether any asset request is still in flight.
func (m *Manager) IsLoading() bool {
	return m.live.Len() > 0
}

// HasError reports whether any bundle waits for Retry.
func (m *Manager) HasError() bool {
	return len(m.errored) > 0
}

// RequestCount counts bundle requests that are active, pending or
// errored.
func (m *Manager) RequestCount() int {
	return m.activeCount() + len(m.pending) + len(m.errored)
}

// Progress is the summed progress of active bundles divided by
// RequestCount, 0 when nothing is tracked.
func (m *Manager) Progress() float64 {
	n := m.RequestCount()
	if n == 0 {
		return 0
	}
	var total float64
	for _, r := range m.downloading.items {
		total += r.progress
	}
	for _, r := range m.loading.items {
		total += r.progress
	}
	return total / float64(n)
}

// AllDownloadingSize sums the sizes of active and pending bundles.
func (m *Manager) AllDownloadingSize() int64 {
	total := m.activeBytes()
	for _, r := range m.pending {
		total += r.Size()
	}
	return total
}

func (m *Manager) activeBytes() int64 {
	var total int64
	for _, r := range m.downloading.items {
		total += r.Size()
	}
	for _, r := range m.loading.items {
		total += r.Size()
	}
	return total
}

// Stats returns a snapshot of the queues.
func (m *Manager) Stats() Stats {
	return Stats{
		Ready:           m.ready,
		Pending:         len(m.pending),
		Downloading:     m.downloading.Len(),
		Loading:         m.loading.Len(),
		Errors:          len(m.errored),
		Bundles:         len(m.requests),
		LiveAssets:      m.live.Len(),
		LoadedAssets:    len(m.loaded),
		ActiveBytes:     m.activeBytes(),
		MaxRequestBytes: m.cfg.MaxRequestBytes,
		Progress:        m.Progress(),
	}
}
