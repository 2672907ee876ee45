package bundle

import (
	"errors"
	"fmt"
)

// AssetState is the lifecycle state of an AssetRequest.
type AssetState int

const (
	AssetIdle AssetState = iota
	AssetWaitingForBundle
	AssetWaitingForExtraction
	AssetDone
)

func (s AssetState) String() string {
	switch s {
	case AssetIdle:
		return "idle"
	case AssetWaitingForBundle:
		return "waiting-bundle"
	case AssetWaitingForExtraction:
		return "waiting-extraction"
	case AssetDone:
		return "done"
	default:
		return fmt.Sprintf("asset-state(%d)", int(s))
	}
}

// AssetRequest extracts one asset from one bundle. Asset requests are
// never shared: every Add call returns a new one. The bundle request is
// shared with every other requester of that bundle.
type AssetRequest struct {
	id        uint64
	asset     string
	sub       string
	bundle    *BundleRequest
	extractor Extractor
	env       *requestEnv

	state      AssetState
	extraction Extraction
	result     any
	// missing records why result is nil after Done.
	missing error
}

func newAssetRequest(id uint64, asset, sub string, ex Extractor, env *requestEnv) *AssetRequest {
	if ex == nil {
		ex = ObjectExtractor
	}
	return &AssetRequest{
		id:        id,
		asset:     asset,
		sub:       sub,
		extractor: ex,
		env:       env,
	}
}

// ID is unique among requests created by one Manager.
func (r *AssetRequest) ID() uint64 { return r.id }

// AssetName is empty for a download-only request.
func (r *AssetRequest) AssetName() string    { return r.asset }
func (r *AssetRequest) SubAssetName() string { return r.sub }
func (r *AssetRequest) Key() string          { return AssetKey(r.asset, r.sub) }
func (r *AssetRequest) State() AssetState    { return r.state }
func (r *AssetRequest) IsDone() bool         { return r.state == AssetDone }

// Bundle returns the request of the owning bundle, nil for requests
// resolved from a LocalSource or from the loaded-asset cache.
func (r *AssetRequest) Bundle() *BundleRequest { return r.bundle }

// BundleName returns the name of the owning bundle, if any.
func (r *AssetRequest) BundleName() string {
	if r.bundle == nil {
		return ""
	}
	return r.bundle.Name()
}

// Asset returns the extracted value. It is nil until Done, and stays nil
// when the asset was not found or the request only downloads.
func (r *AssetRequest) Asset() any { return r.result }

// Missing returns the diagnostic recorded when a finished request has no
// asset, nil otherwise.
func (r *AssetRequest) Missing() error { return r.missing }

// Progress averages the bundle progress and the extraction progress.
func (r *AssetRequest) Progress() float64 {
	switch r.state {
	case AssetIdle:
		return 0
	case AssetDone:
		return 1
	}
	var bundle, extract float64
	if r.bundle != nil {
		bundle = r.bundle.Progress()
	}
	if r.extraction != nil {
		extract = r.extraction.Progress()
	}
	return (bundle + extract) / 2
}

// Poll reports Ready once Done, Failed while the owning bundle is in
// Error, and Pending otherwise.
func (r *AssetRequest) Poll() Status {
	if r.state == AssetDone {
		return Ready
	}
	if r.bundle != nil && r.bundle.state == StateError {
		return Failed
	}
	return Pending
}

func (r *AssetRequest) attach(b *BundleRequest) {
	r.bundle = b
	r.state = AssetWaitingForBundle
}

// resolve completes the request from an already loaded value.
func (r *AssetRequest) resolve(v any) {
	r.result = v
	r.state = AssetDone
}

// loadLocal resolves the request from src without any bundle. It is done
// on return unless the Extractor runs asynchronously.
func (r *AssetRequest) loadLocal(src LocalSource) {
	objs, err := src.Load(r.asset)
	if err != nil {
		r.finish(nil, fmt.Errorf("local %s: %w", r.asset, err))
		return
	}
	pkg := &objectPackage{name: r.asset, objs: objs}
	r.extraction = r.extractor.Extract(pkg, r.asset, r.sub)
	r.state = AssetWaitingForExtraction
	r.advance()
}

func (r *AssetRequest) advance() {
	switch r.state {
	case AssetWaitingForBundle:
		if r.bundle.state != StateDone {
			return
		}
		if r.asset == "" || r.env.cfg.skipsExtraction(r.asset) {
			r.state = AssetDone
			return
		}
		r.extraction = r.extractor.Extract(r.bundle.pkg, r.asset, r.sub)
		r.state = AssetWaitingForExtraction
	case AssetWaitingForExtraction:
		if !r.extraction.Done() {
			return
		}
		r.finish(r.extraction.Result())
	}
}

func (r *AssetRequest) finish(v any, err error) {
	r.state = AssetDone
	if err == nil {
		r.result = v
		return
	}
	kind := KindTransport
	if errors.Is(err, ErrAssetNotFound) {
		kind = KindAssetNotFound
	}
	r.missing = newLoadError(kind, r.BundleName(), "extract "+r.Key(), err)
	r.env.log.Warning("asset %s was not loaded: %v", r.Key(), err)
}
