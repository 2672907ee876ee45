package bundle

import (
	"path"
	"strings"
)

// Helper maps asset paths to bundles and bundles to URLs.
type Helper interface {
	// IsBundleAsset reports whether assetPath is shipped in a bundle.
	IsBundleAsset(assetPath string) bool
	// BundleOf returns the name of the bundle that owns assetPath.
	BundleOf(assetPath string) string
	// URLOf returns the fetch URL of a bundle.
	URLOf(bundle string) string
	// ManifestURL returns the URL of the manifest document.
	ManifestURL() string
	// CollectionURL returns the URL of the bundle-info collection.
	// An empty string means the manifest carries everything.
	CollectionURL() string
}

// Fetcher starts the fetch of a URL. It must not block on I/O.
type Fetcher interface {
	Fetch(url, hash string, crc uint32) (FetchHandle, error)
}

// FetchHandle is a pollable in-flight fetch.
type FetchHandle interface {
	Done() bool
	// Err is meaningful once Done reports true.
	Err() error
	// Progress is in [0, 1].
	Progress() float64
	// Bytes returns the fetched content once Done reports true and
	// Err is nil.
	Bytes() []byte
	// Close cancels the fetch if it is still running and releases it.
	Close() error
}

// ByteCounter is implemented by fetch handles that count received
// bytes. Growth of the count is progress even while the total size is
// unknown and Progress stays at 0.
type ByteCounter interface {
	Received() int64
}

// VersionCache answers whether a version of a URL is already stored
// locally. It only decides whether a request counts as downloading or
// loading.
type VersionCache interface {
	IsVersionCached(url, hash string) bool
}

// Decoder turns fetched bytes into a Package.
type Decoder interface {
	Decode(name string, data []byte) (Package, error)
}

// Object is one entry of a decoded package.
type Object struct {
	Name string
	Data []byte
}

// AssetOp is a pollable asynchronous read from a Package.
type AssetOp interface {
	Done() bool
	Progress() float64
	// Objects returns the loaded objects once Done reports true. A
	// single-asset read yields one object.
	Objects() []Object
	Err() error
}

// Package is a decoded bundle held in memory.
type Package interface {
	Name() string
	AssetNames() []string
	Contains(asset string) bool
	LoadAsset(asset string) (Object, error)
	// LoadAssetWithSubAssets returns the asset followed by its
	// sub-assets.
	LoadAssetWithSubAssets(asset string) ([]Object, error)
	LoadAssetAsync(asset string) AssetOp
	LoadAssetWithSubAssetsAsync(asset string) AssetOp
	// Unload frees the package. Objects already returned stay valid.
	Unload()
}

// LocalSource serves assets without the network path.
type LocalSource interface {
	Exists(assetPath string) bool
	// Load returns the asset followed by its sub-assets.
	Load(assetPath string) ([]Object, error)
}

// PathHelper is a Helper for bundles laid out as directories under a
// common root: "Assets/Bundles/ui/title.png" belongs to bundle "ui" and
// is fetched from BaseURL + "/ui" + Ext.
type PathHelper struct {
	// BaseURL is prefixed to every bundle URL.
	BaseURL string
	// Root is the asset path prefix that marks bundled assets.
	Root string
	// Ext is appended to bundle names in URLs, e.g. ".bundle".
	Ext string
	// Manifest and Collection are file names relative to BaseURL.
	Manifest   string
	Collection string
}

func (h *PathHelper) IsBundleAsset(assetPath string) bool {
	return h.BundleOf(assetPath) != ""
}

func (h *PathHelper) BundleOf(assetPath string) string {
	root := strings.TrimSuffix(h.Root, "/") + "/"
	if !strings.HasPrefix(assetPath, root) {
		return ""
	}
	rest := strings.TrimPrefix(assetPath, root)
	dir := path.Dir(rest)
	if dir == "." {
		return ""
	}
	return strings.ToLower(dir)
}

func (h *PathHelper) URLOf(bundle string) string {
	return h.join(bundle + h.Ext)
}

func (h *PathHelper) ManifestURL() string {
	return h.join(h.Manifest)
}

func (h *PathHelper) CollectionURL() string {
	if h.Collection == "" {
		return ""
	}
	return h.join(h.Collection)
}

func (h *PathHelper) join(name string) string {
	return strings.TrimSuffix(h.BaseURL, "/") + "/" + name
}

var _ Helper = (*PathHelper)(nil)
