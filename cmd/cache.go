package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/tani-shi/assetbundle-manager/cmd/common"
	"github.com/tani-shi/assetbundle-manager/internal/config"
	"github.com/tani-shi/assetbundle-manager/pkg/cache"
	"github.com/tani-shi/assetbundle-manager/pkg/transport"
)

var errNoCacheDir = errors.New("no cache directory: pass --cache-dir or set ABM_CACHE_DIR")

var (
	pruneAge time.Duration

	cacheFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "cache-dir, c",
			Usage:       "cache directory (env: ABM_CACHE_DIR)",
			Destination: &cacheDir,
		},
	}
	pruneFlags = append([]cli.Flag{
		cli.DurationFlag{
			Name:        "older-than",
			Usage:       "evict bundles stored longer ago than this",
			Value:       DEF_PRUNE_MAX_AGE,
			Destination: &pruneAge,
		},
	}, cacheFlags...)
)

func openCache(ctx *cli.Context) (*cache.Store, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	if ctx.IsSet("cache-dir") {
		s.CacheDir = cacheDir
	}
	if s.CacheDir == "" {
		return nil, errNoCacheDir
	}
	return cache.Open(s.CacheDir)
}

// withCache opens the cache for one subcommand and closes it afterwards.
func withCache(name string, fn func(context.Context, *cache.Store) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		if ctx.Args().First() == "help" {
			return cli.ShowCommandHelp(ctx, ctx.Command.Name)
		}
		store, err := openCache(ctx)
		if err != nil {
			return fmt.Errorf("cache %s: %w", name, err)
		}
		defer store.Close()
		if err := fn(context.Background(), store); err != nil {
			return fmt.Errorf("cache %s: %w", name, err)
		}
		return nil
	}
}

var (
	cacheList  = withCache("list", func(ctx context.Context, s *cache.Store) error { return listCache(ctx, s, os.Stdout) })
	cacheClear = withCache("clear", func(ctx context.Context, s *cache.Store) error { return s.Clear(ctx) })
	cachePrune = withCache("prune", func(ctx context.Context, s *cache.Store) error {
		n, err := s.Prune(ctx, time.Now().Add(-pruneAge))
		if err != nil {
			return err
		}
		fmt.Printf("evicted %d bundle(s)\n", n)
		return nil
	})
)

func listCache(ctx context.Context, s *cache.Store, w io.Writer) error {
	entries, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "abm: cache is empty")
		return nil
	}
	txt := "|" + common.Beaut("Size", 10) + "|" + common.Beaut("Stored", 16) + "|" + common.Beaut("Hash", 14) + "| URL\n"
	for _, e := range entries {
		hash := e.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		txt += fmt.Sprintf("|%s|%s|%s| %s\n",
			common.Beaut(humanize.Bytes(uint64(e.Size)), 10),
			common.Beaut(humanize.Time(e.StoredAt), 16),
			common.Beaut(hash, 14),
			transport.StripURLCredentials(e.URL),
		)
	}
	total, err := s.TotalSize(ctx)
	if err != nil {
		return err
	}
	txt += fmt.Sprintf("\n%d bundle(s), %s\n", len(entries), humanize.Bytes(uint64(total)))
	fmt.Fprint(w, txt)
	return nil
}
