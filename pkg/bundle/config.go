package bundle

import (
	"path"
	"strings"
	"time"
)

const (
	B  int64 = 1
	KB       = 1024 * B
	MB       = 1024 * KB
)

const (
	DEF_MAX_REQUEST_COUNT = 35
	DEF_MAX_REQUEST_BYTES = 10 * MB
	DEF_TIMEOUT           = 20 * time.Second
	DEF_RETRY_LIMIT       = 3
)

// DefaultSkipExtractExtensions lists asset extensions whose bundles are
// loaded but never read as objects (scene archives).
var DefaultSkipExtractExtensions = []string{".unity"}

// Config holds the knobs of a Manager. NewManager replaces a
// non-positive MaxRequestCount, MaxRequestBytes or Timeout with its DEF_
// value, a non-positive ManifestTimeout with Timeout, and a nil
// SkipExtractExtensions with DefaultSkipExtractExtensions. A zero
// RetryLimit is kept and means no retries; a negative one becomes 0.
type Config struct {
	// MaxRequestCount bounds how many bundle requests may be active
	// (downloading or loading) at once.
	MaxRequestCount int `env:"MAX_REQUEST_COUNT"`
	// MaxRequestBytes is the advisory aggregate size of active
	// requests. It is reported in Stats but never enforced.
	MaxRequestBytes int64 `env:"MAX_REQUEST_BYTES"`
	// Timeout is the stall timeout of a single fetch, measured from
	// the last observed progress increase.
	Timeout time.Duration `env:"TIMEOUT"`
	// RetryLimit is the number of retries a bundle gets before it is
	// moved to the error queue.
	RetryLimit int `env:"RETRY_LIMIT"`
	// ManifestTimeout bounds the whole manifest load. Zero means
	// Timeout.
	ManifestTimeout time.Duration `env:"MANIFEST_TIMEOUT"`
	// UseLocalResources bypasses the network path entirely and
	// resolves assets from the LocalSource.
	UseLocalResources bool `env:"USE_LOCAL"`
	// SkipExtractExtensions lists asset extensions that complete
	// without extraction.
	SkipExtractExtensions []string `env:"SKIP_EXTRACT" envSeparator:","`
}

// DefaultConfig returns a Config populated with the DEF_ values.
func DefaultConfig() Config {
	return Config{
		MaxRequestCount:       DEF_MAX_REQUEST_COUNT,
		MaxRequestBytes:       DEF_MAX_REQUEST_BYTES,
		Timeout:               DEF_TIMEOUT,
		RetryLimit:            DEF_RETRY_LIMIT,
		SkipExtractExtensions: append([]string(nil), DefaultSkipExtractExtensions...),
	}
}

func (c *Config) applyDefaults() {
	if c.MaxRequestCount <= 0 {
		c.MaxRequestCount = DEF_MAX_REQUEST_COUNT
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = DEF_MAX_REQUEST_BYTES
	}
	if c.Timeout <= 0 {
		c.Timeout = DEF_TIMEOUT
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.ManifestTimeout <= 0 {
		c.ManifestTimeout = c.Timeout
	}
	if c.SkipExtractExtensions == nil {
		c.SkipExtractExtensions = append([]string(nil), DefaultSkipExtractExtensions...)
	}
}

func (c *Config) skipsExtraction(asset string) bool {
	ext := strings.ToLower(path.Ext(asset))
	if ext == "" {
		return false
	}
	for _, e := range c.SkipExtractExtensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
