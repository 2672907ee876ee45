package bundle

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Extractor reads one asset, or one sub-asset of it, out of a loaded
// package. Callers pick the Extractor for the kind of asset they want.
type Extractor interface {
	Extract(pkg Package, asset, sub string) Extraction
}

// Extraction is a pollable extraction started by an Extractor.
type Extraction interface {
	Done() bool
	Progress() float64
	// Result is meaningful once Done reports true. A missing asset
	// yields an error wrapping ErrAssetNotFound.
	Result() (any, error)
}

var errExtractionPending = errors.New("extraction still running")

// ExtractFunc is an Extractor that converts the matching Object.
type ExtractFunc func(Object) (any, error)

func (f ExtractFunc) Extract(pkg Package, asset, sub string) Extraction {
	e := &opExtraction{asset: asset, sub: sub, convert: f}
	if sub == "" {
		e.op = pkg.LoadAssetAsync(asset)
	} else {
		e.op = pkg.LoadAssetWithSubAssetsAsync(asset)
	}
	return e
}

var (
	// ObjectExtractor yields the Object itself.
	ObjectExtractor = ExtractFunc(func(o Object) (any, error) {
		return o, nil
	})

	// TextExtractor yields the content as a string.
	TextExtractor = ExtractFunc(func(o Object) (any, error) {
		return string(o.Data), nil
	})

	// YAMLExtractor decodes YAML (or JSON) content into a
	// map[string]any.
	YAMLExtractor = ExtractFunc(func(o Object) (any, error) {
		var v map[string]any
		if err := yaml.Unmarshal(o.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", o.Name, err)
		}
		return v, nil
	})
)

type opExtraction struct {
	op      AssetOp
	asset   string
	sub     string
	convert ExtractFunc
}

func (e *opExtraction) Done() bool        { return e.op.Done() }
func (e *opExtraction) Progress() float64 { return clamp01(e.op.Progress()) }

func (e *opExtraction) Result() (any, error) {
	if !e.op.Done() {
		return nil, errExtractionPending
	}
	if err := e.op.Err(); err != nil {
		return nil, err
	}
	objs := e.op.Objects()
	if e.sub == "" {
		if len(objs) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, e.asset)
		}
		return e.convert(objs[0])
	}
	for _, o := range objs {
		if o.Name == e.sub {
			return e.convert(o)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, AssetKey(e.asset, e.sub))
}

// AssetKey is the key a loaded asset is cached under: the asset name, or
// "asset#sub" for a sub-asset.
func AssetKey(asset, sub string) string {
	if sub == "" {
		return asset
	}
	return asset + "#" + sub
}

// objectPackage holds a single asset, its objects being the asset
// followed by its sub-assets. It wraps assets read from a LocalSource so
// that Extractors can run on them.
type objectPackage struct {
	name string
	objs []Object
}

func (p *objectPackage) Name() string         { return p.name }
func (p *objectPackage) AssetNames() []string { return []string{p.name} }
func (p *objectPackage) Unload()              {}

func (p *objectPackage) Contains(asset string) bool {
	return asset == p.name && len(p.objs) > 0
}

func (p *objectPackage) LoadAsset(asset string) (Object, error) {
	if !p.Contains(asset) {
		return Object{}, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	return p.objs[0], nil
}

func (p *objectPackage) LoadAssetWithSubAssets(asset string) ([]Object, error) {
	if !p.Contains(asset) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	return append([]Object(nil), p.objs...), nil
}

func (p *objectPackage) LoadAssetAsync(asset string) AssetOp {
	o, err := p.LoadAsset(asset)
	return &doneOp{objs: []Object{o}, err: err}
}

func (p *objectPackage) LoadAssetWithSubAssetsAsync(asset string) AssetOp {
	objs, err := p.LoadAssetWithSubAssets(asset)
	return &doneOp{objs: objs, err: err}
}

// doneOp is an AssetOp that completed synchronously.
type doneOp struct {
	objs []Object
	err  error
}

func (o *doneOp) Done() bool        { return true }
func (o *doneOp) Progress() float64 { return 1 }
func (o *doneOp) Objects() []Object { return o.objs }
func (o *doneOp) Err() error        { return o.err }

var (
	_ Package = (*objectPackage)(nil)
	_ AssetOp = (*doneOp)(nil)
)
