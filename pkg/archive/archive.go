// Package archive decodes bundles stored as zip containers.
//
// Every asset of a bundle is one zip entry named by its asset path.
// Sub-assets are stored next to their asset as "path#sub" entries, in
// the order they should be returned.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zip"

	"github.com/tani-shi/assetbundle-manager/internal/safego"
	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

const DEF_MAX_ENTRY_SIZE = 256 * bundle.MB

var (
	ErrEntryTooLarge = errors.New("archive entry exceeds size limit")
	ErrUnloaded      = errors.New("package was unloaded")
)

// Decoder implements bundle.Decoder for zip containers.
type Decoder struct {
	// MaxEntrySize bounds the uncompressed size of a single entry.
	MaxEntrySize int64
	Logger       logger.Logger
}

// NewDecoder returns a Decoder with the default entry size limit.
func NewDecoder(l logger.Logger) *Decoder {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Decoder{MaxEntrySize: DEF_MAX_ENTRY_SIZE, Logger: l}
}

// Decode indexes the entries of data. Entry contents are inflated
// lazily, on extraction.
func (d *Decoder) Decode(name string, data []byte) (bundle.Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	p := &Package{
		name:    name,
		files:   make(map[string]*zip.File, len(zr.File)),
		subs:    make(map[string][]*zip.File),
		maxSize: d.MaxEntrySize,
		log:     d.Logger,
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		if asset, _, ok := strings.Cut(f.Name, "#"); ok {
			p.subs[asset] = append(p.subs[asset], f)
			continue
		}
		p.files[f.Name] = f
		p.names = append(p.names, f.Name)
	}
	return p, nil
}

// Package is a decoded zip bundle.
type Package struct {
	name    string
	names   []string
	files   map[string]*zip.File
	subs    map[string][]*zip.File
	maxSize int64
	log     logger.Logger

	unloaded atomic.Bool
}

func (p *Package) Name() string { return p.name }

func (p *Package) AssetNames() []string {
	return append([]string(nil), p.names...)
}

func (p *Package) Contains(asset string) bool {
	_, ok := p.files[asset]
	return ok
}

// Unload drops the entry index. Running extractions finish on the data
// they already hold.
func (p *Package) Unload() {
	p.unloaded.Store(true)
}

func (p *Package) LoadAsset(asset string) (bundle.Object, error) {
	objs, err := p.load(asset, false, nil)
	if err != nil {
		return bundle.Object{}, err
	}
	return objs[0], nil
}

func (p *Package) LoadAssetWithSubAssets(asset string) ([]bundle.Object, error) {
	return p.load(asset, true, nil)
}

func (p *Package) LoadAssetAsync(asset string) bundle.AssetOp {
	return p.start(asset, false)
}

func (p *Package) LoadAssetWithSubAssetsAsync(asset string) bundle.AssetOp {
	return p.start(asset, true)
}

func (p *Package) start(asset string, withSubs bool) *Op {
	op := &Op{}
	safego.Go(p.log, nil, "extract "+asset, func(r interface{}) {
		op.finish(nil, safego.PanicError("extract "+asset, r))
	}, func() {
		objs, err := p.load(asset, withSubs, op)
		op.finish(objs, err)
	})
	return op
}

func (p *Package) entries(asset string, withSubs bool) ([]*zip.File, error) {
	if p.unloaded.Load() {
		return nil, fmt.Errorf("%w: %s", ErrUnloaded, p.name)
	}
	f, ok := p.files[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", bundle.ErrAssetNotFound, asset, p.name)
	}
	files := []*zip.File{f}
	if withSubs {
		files = append(files, p.subs[asset]...)
	}
	return files, nil
}

func (p *Package) load(asset string, withSubs bool, op *Op) ([]bundle.Object, error) {
	files, err := p.entries(asset, withSubs)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, f := range files {
		if int64(f.UncompressedSize64) > p.maxSize {
			return nil, fmt.Errorf("%w: %s (%d bytes)", ErrEntryTooLarge, f.Name, f.UncompressedSize64)
		}
		total += int64(f.UncompressedSize64)
	}
	if op != nil {
		op.total.Store(total)
	}
	objs := make([]bundle.Object, 0, len(files))
	for _, f := range files {
		data, err := readEntry(f, op)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		objs = append(objs, bundle.Object{Name: objectName(f.Name), Data: data})
	}
	return objs, nil
}

func readEntry(f *zip.File, op *Op) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	buf := bytes.NewBuffer(make([]byte, 0, f.UncompressedSize64))
	var w io.Writer = buf
	if op != nil {
		w = io.MultiWriter(buf, op)
	}
	if _, err := io.Copy(w, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// objectName is the sub-asset name for "path#sub" entries and the file
// name without extension otherwise.
func objectName(entry string) string {
	if _, sub, ok := strings.Cut(entry, "#"); ok {
		return sub
	}
	base := path.Base(entry)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Op is an extraction running on its own goroutine.
type Op struct {
	read  atomic.Int64
	total atomic.Int64
	done  atomic.Bool

	mu   sync.Mutex
	objs []bundle.Object
	err  error
}

// Write counts inflated bytes for Progress.
func (o *Op) Write(p []byte) (int, error) {
	o.read.Add(int64(len(p)))
	return len(p), nil
}

func (o *Op) finish(objs []bundle.Object, err error) {
	o.mu.Lock()
	o.objs, o.err = objs, err
	o.mu.Unlock()
	o.done.Store(true)
}

func (o *Op) Done() bool { return o.done.Load() }

func (o *Op) Progress() float64 {
	if o.done.Load() {
		return 1
	}
	total := o.total.Load()
	if total <= 0 {
		return 0
	}
	return float64(o.read.Load()) / float64(total)
}

func (o *Op) Objects() []bundle.Object {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.objs
}

func (o *Op) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

var (
	_ bundle.Decoder = (*Decoder)(nil)
	_ bundle.Package = (*Package)(nil)
	_ bundle.AssetOp = (*Op)(nil)
)
