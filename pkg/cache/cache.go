// Package cache stores fetched bundles on disk, keyed by URL and
// version hash.
//
// Blobs live in an afero filesystem; a SQLite index records which
// version of each URL is stored. Only one version per URL is kept.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	_ "modernc.org/sqlite"
)

const (
	IndexFileName = "index.db"
	blobDir       = "blobs"
)

var ErrNotCached = errors.New("bundle version not cached")

const schema = `CREATE TABLE IF NOT EXISTS bundles (
	url       TEXT PRIMARY KEY,
	hash      TEXT NOT NULL,
	crc       INTEGER NOT NULL,
	size      INTEGER NOT NULL,
	blob      TEXT NOT NULL,
	stored_at INTEGER NOT NULL
)`

// Entry describes one stored bundle version.
type Entry struct {
	URL      string
	Hash     string
	CRC      uint32
	Size     int64
	StoredAt time.Time
}

// Store is a version-keyed bundle cache.
type Store struct {
	db  *sql.DB
	fs  afero.Fs
	now func() time.Time
}

// Open opens the cache rooted at dir, creating it if needed.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	dsn := filepath.Join(dir, IndexFileName) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return OpenFs(afero.NewBasePathFs(afero.NewOsFs(), dir), dsn)
}

// OpenFs opens a cache with blobs on fs and the index at dsn.
func OpenFs(fs afero.Fs, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// in-memory databases are per connection
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := fs.MkdirAll(blobDir, 0o755); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{db: db, fs: fs, now: time.Now}, nil
}

// Close closes the index.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// blobName is stable per URL so a new version overwrites the old blob.
func blobName(url string) string {
	return filepath.Join(blobDir, uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String())
}

// IsVersionCached reports whether hash is the stored version of url.
func (s *Store) IsVersionCached(url, hash string) bool {
	if hash == "" {
		return false
	}
	_, err := s.lookup(context.Background(), url, hash)
	return err == nil
}

func (s *Store) lookup(ctx context.Context, url, hash string) (Entry, error) {
	var (
		e      Entry
		crc    int64
		stored int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT url, hash, crc, size, stored_at FROM bundles WHERE url = ? AND hash = ?`,
		url, hash,
	).Scan(&e.URL, &e.Hash, &crc, &e.Size, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s@%s", ErrNotCached, url, hash)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup %s: %w", url, err)
	}
	e.CRC = uint32(crc)
	e.StoredAt = time.UnixMilli(stored).UTC()
	return e, nil
}

// Put stores data as the current version of e.URL. Size and StoredAt
// are filled in by the store.
func (s *Store) Put(ctx context.Context, e Entry, data []byte) error {
	if e.URL == "" || e.Hash == "" {
		return fmt.Errorf("cache entry needs a url and a hash")
	}
	name := blobName(e.URL)
	tmp := name + ".part"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("commit blob: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bundles (url, hash, crc, size, blob, stored_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET hash = excluded.hash, crc = excluded.crc,
		   size = excluded.size, blob = excluded.blob, stored_at = excluded.stored_at`,
		e.URL, e.Hash, int64(e.CRC), int64(len(data)), name, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("index %s: %w", e.URL, err)
	}
	return nil
}

// Get returns the stored bytes of url at version hash.
func (s *Store) Get(ctx context.Context, url, hash string) ([]byte, error) {
	if _, err := s.lookup(ctx, url, hash); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, blobName(url))
	if err != nil {
		if os.IsNotExist(err) {
			// index outlived its blob
			_ = s.Evict(ctx, url)
			return nil, fmt.Errorf("%w: %s@%s", ErrNotCached, url, hash)
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Evict removes whatever version of url is stored.
func (s *Store) Evict(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bundles WHERE url = ?`, url); err != nil {
		return fmt.Errorf("evict %s: %w", url, err)
	}
	if err := s.fs.Remove(blobName(url)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// Clear removes every stored bundle.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bundles`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if err := s.fs.RemoveAll(blobDir); err != nil {
		return fmt.Errorf("clear blobs: %w", err)
	}
	return s.fs.MkdirAll(blobDir, 0o755)
}

// List returns the stored entries ordered by URL.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, hash, crc, size, stored_at FROM bundles ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			crc, stored int64
		)
		if err := rows.Scan(&e.URL, &e.Hash, &crc, &e.Size, &stored); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.CRC = uint32(crc)
		e.StoredAt = time.UnixMilli(stored).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalSize sums the sizes of all stored entries.
func (s *Store) TotalSize(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(size) FROM bundles`).Scan(&total); err != nil {
		return 0, fmt.Errorf("total size: %w", err)
	}
	return total.Int64, nil
}

// Prune evicts every entry stored before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.StoredAt.Before(cutoff) {
			continue
		}
		if err := s.Evict(ctx, e.URL); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
