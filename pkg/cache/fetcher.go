package cache

import (
	"context"
	"hash/crc32"
	"sync"

	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

// Fetcher serves cached versions from a Store and stores what Next
// fetches. Fetches without a hash bypass the cache.
type Fetcher struct {
	Next  bundle.Fetcher
	Store *Store
	Log   logger.Logger
}

// NewFetcher wraps next with store.
func NewFetcher(next bundle.Fetcher, store *Store, l logger.Logger) *Fetcher {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Fetcher{Next: next, Store: store, Log: l}
}

func (f *Fetcher) Fetch(url, hash string, crc uint32) (bundle.FetchHandle, error) {
	if hash == "" {
		return f.Next.Fetch(url, hash, crc)
	}
	data, err := f.Store.Get(context.Background(), url, hash)
	if err == nil {
		if crc == 0 || crc32.ChecksumIEEE(data) == crc {
			return &storedHandle{data: data}, nil
		}
		f.Log.Warning("cache: crc mismatch for %s, evicting", url)
		_ = f.Store.Evict(context.Background(), url)
	}
	h, err := f.Next.Fetch(url, hash, crc)
	if err != nil {
		return nil, err
	}
	return &storingHandle{FetchHandle: h, fetcher: f, entry: Entry{URL: url, Hash: hash, CRC: crc}}, nil
}

// IsVersionCached makes the Fetcher usable as the manager's VersionCache.
func (f *Fetcher) IsVersionCached(url, hash string) bool {
	return f.Store.IsVersionCached(url, hash)
}

// storedHandle is a completed fetch served from disk.
type storedHandle struct {
	data []byte
}

func (h *storedHandle) Done() bool        { return true }
func (h *storedHandle) Err() error        { return nil }
func (h *storedHandle) Progress() float64 { return 1 }
func (h *storedHandle) Bytes() []byte     { return h.data }
func (h *storedHandle) Close() error      { return nil }

// storingHandle writes the fetched bytes to the store the first time
// the wrapped fetch reports success.
type storingHandle struct {
	bundle.FetchHandle
	fetcher *Fetcher
	entry   Entry
	once    sync.Once
}

func (h *storingHandle) Done() bool {
	if !h.FetchHandle.Done() {
		return false
	}
	if h.FetchHandle.Err() == nil {
		h.once.Do(func() {
			if err := h.fetcher.Store.Put(context.Background(), h.entry, h.FetchHandle.Bytes()); err != nil {
				h.fetcher.Log.Warning("cache: store %s: %v", h.entry.URL, err)
			}
		})
	}
	return true
}

func (h *storingHandle) Received() int64 {
	if bc, ok := h.FetchHandle.(bundle.ByteCounter); ok {
		return bc.Received()
	}
	return 0
}

var (
	_ bundle.Fetcher      = (*Fetcher)(nil)
	_ bundle.VersionCache = (*Fetcher)(nil)
	_ bundle.VersionCache = (*Store)(nil)
	_ bundle.ByteCounter  = (*storingHandle)(nil)
)
