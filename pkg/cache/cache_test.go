package cache

import (
	"context"
	"errors"
	"hash/crc32"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenFs(afero.NewMemMapFs(), ":memory:")
	if err != nil {
		t.Fatalf("OpenFs: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return s
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	url := "http://cdn.test/ui.bundle"

	if s.IsVersionCached(url, "v1") {
		t.Fatal("empty store reports a cached version")
	}
	if _, err := s.Get(ctx, url, "v1"); !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached, got %v", err)
	}
	if err := s.Put(ctx, Entry{URL: url, Hash: "v1", CRC: 9}, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if !s.IsVersionCached(url, "v1") || s.IsVersionCached(url, "v2") || s.IsVersionCached(url, "") {
		t.Error("only v1 should be cached")
	}
	data, err := s.Get(ctx, url, "v1")
	if err != nil || string(data) != "one" {
		t.Fatalf("Get = %q, %v", data, err)
	}

	// a new version replaces the old one
	if err := s.Put(ctx, Entry{URL: url, Hash: "v2"}, []byte("second")); err != nil {
		t.Fatal(err)
	}
	if s.IsVersionCached(url, "v1") {
		t.Error("v1 should have been replaced")
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Hash != "v2" || entries[0].Size != 6 || entries[0].StoredAt.UnixMilli() != 1_700_000_000_000 {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestStore_PutRequiresVersion(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(context.Background(), Entry{URL: "u"}, nil); err == nil {
		t.Error("expected an error for a missing hash")
	}
}

func TestStore_EvictAndClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, u := range []string{"u/a", "u/b", "u/c"} {
		if err := s.Put(ctx, Entry{URL: u, Hash: "h"}, []byte(u)); err != nil {
			t.Fatal(err)
		}
	}
	if total, _ := s.TotalSize(ctx); total != 9 {
		t.Errorf("TotalSize = %d, want 9", total)
	}
	if err := s.Evict(ctx, "u/b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Evict(ctx, "u/unknown"); err != nil {
		t.Errorf("evicting an unknown url should succeed, got %v", err)
	}
	entries, _ := s.List(ctx)
	if len(entries) != 2 || entries[0].URL != "u/a" || entries[1].URL != "u/c" {
		t.Errorf("unexpected entries %+v", entries)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if total, _ := s.TotalSize(ctx); total != 0 {
		t.Errorf("TotalSize after clear = %d", total)
	}
	if s.IsVersionCached("u/a", "h") {
		t.Error("clear should drop the index")
	}
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.UnixMilli(1_700_000_000_000)
	for i, u := range []string{"u/old", "u/mid", "u/new"} {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		if err := s.Put(ctx, Entry{URL: u, Hash: "h"}, []byte(u)); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Prune(ctx, base.Add(90*time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	entries, _ := s.List(ctx)
	if len(entries) != 1 || entries[0].URL != "u/new" {
		t.Errorf("unexpected entries %+v", entries)
	}
	if ok, _ := afero.Exists(s.fs, blobName("u/old")); ok {
		t.Error("pruned blob should be removed")
	}
	if n, _ := s.Prune(ctx, base); n != 0 {
		t.Errorf("second prune removed %d", n)
	}
}

func TestStore_MissingBlobIsEvicted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.Put(ctx, Entry{URL: "u/a", Hash: "h"}, []byte("x"))
	_ = s.fs.Remove(blobName("u/a"))
	if _, err := s.Get(ctx, "u/a", "h"); !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached, got %v", err)
	}
	if s.IsVersionCached("u/a", "h") {
		t.Error("dangling index row should be removed")
	}
}

func TestOpen_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(context.Background(), Entry{URL: "u/a", Hash: "h"}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = Open(filepath.Join(dir, "."))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if !s.IsVersionCached("u/a", "h") {
		t.Error("cache should survive reopening")
	}
	if _, err := Open(" "); err == nil {
		t.Error("expected an error for an empty directory")
	}
}

type stubHandle struct {
	done bool
	err  error
	data []byte
}

func (h *stubHandle) Done() bool        { return h.done }
func (h *stubHandle) Err() error        { return h.err }
func (h *stubHandle) Progress() float64 { return 0 }
func (h *stubHandle) Bytes() []byte     { return h.data }
func (h *stubHandle) Close() error      { return nil }

type stubFetcher struct {
	calls   int
	handles []*stubHandle
}

func (f *stubFetcher) Fetch(url, hash string, crc uint32) (bundle.FetchHandle, error) {
	f.calls++
	h := &stubHandle{}
	f.handles = append(f.handles, h)
	return h, nil
}

func TestFetcher_StoresAndServes(t *testing.T) {
	s := newTestStore(t)
	next := &stubFetcher{}
	f := NewFetcher(next, s, nil)
	data := []byte("payload")
	crc := crc32.ChecksumIEEE(data)

	h, err := f.Fetch("u/a", "v1", crc)
	if err != nil {
		t.Fatal(err)
	}
	if h.Done() {
		t.Fatal("miss should wait for the underlying fetch")
	}
	next.handles[0].done, next.handles[0].data = true, data
	if !h.Done() || !f.IsVersionCached("u/a", "v1") {
		t.Fatal("completed fetch should be stored")
	}

	h, err = f.Fetch("u/a", "v1", crc)
	if err != nil {
		t.Fatal(err)
	}
	if next.calls != 1 || !h.Done() || string(h.Bytes()) != "payload" || h.Progress() != 1 {
		t.Errorf("hit should be served from the store, calls %d", next.calls)
	}
}

func TestFetcher_SkipsFailedAndUnversioned(t *testing.T) {
	s := newTestStore(t)
	next := &stubFetcher{}
	f := NewFetcher(next, s, nil)

	h, _ := f.Fetch("u/a", "v1", 0)
	next.handles[0].done, next.handles[0].err = true, errors.New("boom")
	h.Done()
	if s.IsVersionCached("u/a", "v1") {
		t.Error("failed fetches must not be stored")
	}

	h, _ = f.Fetch("u/b", "", 0)
	next.handles[1].done = true
	h.Done()
	if entries, _ := s.List(context.Background()); len(entries) != 0 {
		t.Errorf("unversioned fetches must not be stored, got %+v", entries)
	}
}

func TestFetcher_CRCMismatchRefetches(t *testing.T) {
	s := newTestStore(t)
	_ = s.Put(context.Background(), Entry{URL: "u/a", Hash: "v1"}, []byte("stale"))
	next := &stubFetcher{}
	f := NewFetcher(next, s, nil)
	if _, err := f.Fetch("u/a", "v1", crc32.ChecksumIEEE([]byte("fresh"))); err != nil {
		t.Fatal(err)
	}
	if next.calls != 1 || s.IsVersionCached("u/a", "v1") {
		t.Error("corrupt entry should be evicted and refetched")
	}
}

type countingHandle struct {
	stubHandle
	received int64
}

func (h *countingHandle) Received() int64 { return h.received }

type countingFetcher struct{ h *countingHandle }

func (f countingFetcher) Fetch(url, hash string, crc uint32) (bundle.FetchHandle, error) {
	return f.h, nil
}

func TestFetcher_ReceivedPassesThrough(t *testing.T) {
	s := newTestStore(t)
	inner := &countingHandle{received: 42}
	h, err := NewFetcher(countingFetcher{inner}, s, nil).Fetch("u/a", "v1", 0)
	if err != nil {
		t.Fatal(err)
	}
	bc, ok := h.(bundle.ByteCounter)
	if !ok || bc.Received() != 42 {
		t.Fatalf("received bytes should pass through the cache, got %T", h)
	}

	h, _ = NewFetcher(&stubFetcher{}, s, nil).Fetch("u/b", "v1", 0)
	if n := h.(bundle.ByteCounter).Received(); n != 0 {
		t.Errorf("handle without a counter reported %d bytes", n)
	}
}
