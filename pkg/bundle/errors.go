package bundle

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady          = errors.New("loader is not ready")
	ErrNotBundleAsset    = errors.New("asset does not belong to any bundle")
	ErrBundleNotFound    = errors.New("bundle is not listed in the manifest")
	ErrUnknownDependency = errors.New("dependency is not listed in the manifest")
	ErrDuplicateBundle   = errors.New("bundle is listed more than once")
	ErrEmptyBundleName   = errors.New("bundle name is empty")
	ErrAssetNotFound     = errors.New("asset not found")
	ErrNotLoaded         = errors.New("bundle is not loaded")
	ErrNilHelper         = errors.New("helper is nil")
	ErrManifestTimeout   = errors.New("manifest load timed out")
)

// Kind classifies a LoadError.
type Kind int

const (
	// KindTransport means the fetch or the decode of a bundle failed.
	KindTransport Kind = iota
	// KindTimeout means a fetch made no progress for longer than the
	// configured timeout.
	KindTimeout
	// KindManifestMissing means the manifest or the bundle-info
	// collection could not be loaded. The loader never becomes ready.
	KindManifestMissing
	// KindAssetNotFound means extraction found no matching asset. It is
	// reported as a diagnostic, never as a request failure.
	KindAssetNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindManifestMissing:
		return "manifest missing"
	case KindAssetNotFound:
		return "asset not found"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// LoadError is the error recorded on a request that failed to load.
type LoadError struct {
	Kind   Kind
	Bundle string
	Op     string
	Cause  error
}

func (e *LoadError) Error() string {
	switch {
	case e.Kind == KindTimeout:
		return fmt.Sprintf("timeout: %s", e.Bundle)
	case e.Cause == nil:
		return fmt.Sprintf("%s %s: %s", e.Op, e.Bundle, e.Kind)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Bundle, e.Cause)
	}
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err is a *LoadError of kind k.
func IsKind(err error, k Kind) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Kind == k
}

func newLoadError(kind Kind, bundle, op string, cause error) *LoadError {
	return &LoadError{Kind: kind, Bundle: bundle, Op: op, Cause: cause}
}
