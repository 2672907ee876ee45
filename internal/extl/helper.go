package extl

import (
	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

// Helper answers the bundle layout questions of a Manager by calling
// into a loaded module. Like the Manager it must only be used from one
// goroutine.
//
// Script errors are logged and answered with the zero value, so a
// failing bundleOf makes the asset look unbundled.
type Helper struct {
	m *Module
}

// NewHelper wraps m, loading it first if needed.
func NewHelper(m *Module) (*Helper, error) {
	if m.runtime == nil {
		if err := m.Load(); err != nil {
			return nil, err
		}
	}
	return &Helper{m: m}, nil
}

// LoadHelper opens the module in dir and wraps it in a Helper.
func LoadHelper(l logger.Logger, dir string) (*Helper, error) {
	m, err := OpenModule(l, dir)
	if err != nil {
		return nil, err
	}
	return NewHelper(m)
}

func (h *Helper) IsBundleAsset(assetPath string) bool {
	if !h.m.runtime.defines(IS_BUNDLE_ASSET_CALLBACK) {
		return h.BundleOf(assetPath) != ""
	}
	v, err := h.m.runtime.call(IS_BUNDLE_ASSET_CALLBACK, assetPath)
	if err != nil {
		h.m.l.Error("extl: %s(%q): %v", IS_BUNDLE_ASSET_CALLBACK, assetPath, err)
		return false
	}
	return v.ToBoolean()
}

func (h *Helper) BundleOf(assetPath string) string {
	return h.str(BUNDLE_OF_CALLBACK, assetPath)
}

func (h *Helper) URLOf(bundleName string) string {
	return h.str(URL_OF_CALLBACK, bundleName)
}

func (h *Helper) ManifestURL() string {
	return h.str(MANIFEST_URL_CALLBACK)
}

func (h *Helper) CollectionURL() string {
	if !h.m.runtime.defines(COLLECTION_URL_CALLBACK) {
		return ""
	}
	return h.str(COLLECTION_URL_CALLBACK)
}

// str calls name and exports a string result. null and undefined
// become "".
func (h *Helper) str(name string, args ...any) string {
	v, err := h.m.runtime.call(name, args...)
	if err != nil {
		h.m.l.Error("extl: %s%q: %v", name, args, err)
		return ""
	}
	if v == nil || v.Export() == nil {
		return ""
	}
	s, ok := v.Export().(string)
	if !ok {
		h.m.l.Error("extl: %s: %v", name, ErrInvalidReturnType)
		return ""
	}
	return s
}

var _ bundle.Helper = (*Helper)(nil)
