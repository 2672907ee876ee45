package bundle

import (
	"fmt"
	"time"

	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

// State is the lifecycle state of a BundleRequest.
type State int

const (
	StateIdle State = iota
	StateWaitingDependencies
	StateWaitingFetch
	StateFetching
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingDependencies:
		return "waiting-dependencies"
	case StateWaitingFetch:
		return "waiting-fetch"
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the tri-state result of polling a request.
type Status int

const (
	Pending Status = iota
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// requestEnv is what every request of one Manager shares.
type requestEnv struct {
	fetcher Fetcher
	decoder Decoder
	log     logger.Logger
	now     func() time.Time
	cfg     *Config
}

// BundleRequest fetches, decodes and retries a single bundle. There is
// at most one BundleRequest per bundle name in a Manager.
//
// Invariants: the state is Done exactly when the package is set, and
// Error exactly when err is set.
type BundleRequest struct {
	record   Record
	url      string
	deps     []*BundleRequest
	env      *requestEnv
	refCount int

	state    State
	progress float64
	retries  int
	received int64
	// anchor is the time of the last progress increase, or the start
	// of the current fetch.
	anchor time.Time
	handle FetchHandle
	pkg    Package
	err    error
}

func newBundleRequest(rec Record, url string, deps []*BundleRequest, env *requestEnv) *BundleRequest {
	return &BundleRequest{
		record: rec,
		url:    url,
		deps:   deps,
		env:    env,
	}
}

func (r *BundleRequest) Name() string      { return r.record.Name }
func (r *BundleRequest) URL() string       { return r.url }
func (r *BundleRequest) Record() Record    { return r.record }
func (r *BundleRequest) Size() int64       { return r.record.Size }
func (r *BundleRequest) State() State      { return r.state }
func (r *BundleRequest) Progress() float64 { return r.progress }
func (r *BundleRequest) Retries() int      { return r.retries }
func (r *BundleRequest) RefCount() int     { return r.refCount }
func (r *BundleRequest) Err() error        { return r.err }
func (r *BundleRequest) Package() Package  { return r.pkg }
func (r *BundleRequest) IsDone() bool      { return r.state == StateDone }
func (r *BundleRequest) IsError() bool     { return r.state == StateError }
func (r *BundleRequest) hasHandle() bool   { return r.handle != nil }

// Dependencies returns the requests this bundle waits for.
func (r *BundleRequest) Dependencies() []*BundleRequest {
	return append([]*BundleRequest(nil), r.deps...)
}

// Poll reports whether the bundle is usable, failed, or still loading.
func (r *BundleRequest) Poll() Status {
	switch r.state {
	case StateDone:
		return Ready
	case StateError:
		return Failed
	default:
		return Pending
	}
}

// Load starts the state machine. It does nothing unless the request is
// idle.
func (r *BundleRequest) Load() {
	if r.state != StateIdle {
		return
	}
	if len(r.deps) > 0 {
		r.state = StateWaitingDependencies
		return
	}
	r.state = StateWaitingFetch
}

// advance moves the state machine by at most one step.
func (r *BundleRequest) advance() {
	switch r.state {
	case StateWaitingDependencies:
		for _, d := range r.deps {
			if d.state != StateDone {
				return
			}
		}
		r.state = StateWaitingFetch
	case StateWaitingFetch:
		r.startFetch()
	case StateFetching:
		r.pollFetch()
	}
}

func (r *BundleRequest) startFetch() {
	r.progress = 0
	r.received = 0
	r.anchor = r.env.now()
	h, err := r.env.fetcher.Fetch(r.url, r.record.Hash, r.record.CRC)
	if err != nil {
		r.retryOrFail(newLoadError(KindTransport, r.Name(), "fetch", err))
		return
	}
	r.handle = h
	r.state = StateFetching
}

func (r *BundleRequest) pollFetch() {
	now := r.env.now()
	p := clamp01(r.handle.Progress())
	if bc, ok := r.handle.(ByteCounter); ok {
		if n := bc.Received(); n > r.received {
			r.received = n
			r.anchor = now
		}
		if p == 0 && r.record.Size > 0 {
			p = min(float64(r.received)/float64(r.record.Size), sizeHintCap)
		}
	}
	if p > r.progress {
		r.progress = p
		r.anchor = now
	}
	if r.handle.Done() {
		if err := r.handle.Err(); err != nil {
			r.retryOrFail(newLoadError(KindTransport, r.Name(), "fetch", err))
			return
		}
		pkg, err := r.env.decoder.Decode(r.Name(), r.handle.Bytes())
		if err != nil {
			r.retryOrFail(newLoadError(KindTransport, r.Name(), "decode", err))
			return
		}
		r.closeHandle()
		r.pkg = pkg
		r.progress = 1
		r.state = StateDone
		return
	}
	if now.Sub(r.anchor) >= r.env.cfg.Timeout {
		r.retryOrFail(newLoadError(KindTimeout, r.Name(), "fetch", nil))
	}
}

// retryOrFail spends one retry on cause or moves the request to Error
// when none are left. A fetch that is still running and has made some
// progress is resumed; anything else is discarded and issued again.
func (r *BundleRequest) retryOrFail(cause *LoadError) {
	if r.retries < r.env.cfg.RetryLimit {
		r.retries++
		r.env.log.Warning("retrying bundle %s (%d/%d): %v", r.Name(), r.retries, r.env.cfg.RetryLimit, cause)
		if r.handle != nil && !r.handle.Done() && (r.progress > 0 || r.received > 0) {
			r.anchor = r.env.now()
			return
		}
		r.closeHandle()
		r.state = StateWaitingFetch
		return
	}
	r.closeHandle()
	r.err = cause
	r.state = StateError
}

func (r *BundleRequest) closeHandle() {
	if r.handle == nil {
		return
	}
	if err := r.handle.Close(); err != nil {
		r.env.log.Warning("closing fetch of %s: %v", r.Name(), err)
	}
	r.handle = nil
}

// Dispose frees the package and the fetch, then returns the request to
// Idle with its retries cleared. It is safe in every state.
func (r *BundleRequest) Dispose() {
	r.closeHandle()
	if r.pkg != nil {
		r.pkg.Unload()
		r.pkg = nil
	}
	r.state = StateIdle
	r.progress = 0
	r.received = 0
	r.retries = 0
	r.err = nil
}

// LoadAsset reads an asset synchronously from the loaded package.
func (r *BundleRequest) LoadAsset(asset string) (Object, error) {
	if r.pkg == nil {
		return Object{}, fmt.Errorf("%w: %s", ErrNotLoaded, r.Name())
	}
	return r.pkg.LoadAsset(asset)
}

// LoadAssetWithSubAssets reads an asset and its sub-assets
// synchronously from the loaded package.
func (r *BundleRequest) LoadAssetWithSubAssets(asset string) ([]Object, error) {
	if r.pkg == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, r.Name())
	}
	return r.pkg.LoadAssetWithSubAssets(asset)
}

// sizeHintCap bounds progress estimated from the manifest size, which
// may be stale. Only a finished fetch reports 1.
const sizeHintCap = 0.99

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
