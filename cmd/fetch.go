package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"

	"github.com/tani-shi/assetbundle-manager/cmd/common"
	"github.com/tani-shi/assetbundle-manager/internal/loop"
	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
)

var (
	errNothingToFetch = errors.New("nothing to fetch: pass asset paths or --bundle")
	errFetchFailed    = errors.New("some bundles failed to load")
)

var (
	outDir    string
	quiet     bool
	fetchWait time.Duration

	fetchFlags = append([]cli.Flag{
		cli.StringSliceFlag{
			Name:  "bundle, b",
			Usage: "load a whole bundle without extracting anything (repeatable)",
		},
		cli.StringFlag{
			Name:        "out, o",
			Usage:       "write extracted assets under this directory",
			Destination: &outDir,
		},
		cli.BoolFlag{
			Name:        "quiet, q",
			Usage:       "do not draw the progress bar",
			Destination: &quiet,
		},
		cli.DurationFlag{
			Name:        "wait, w",
			Usage:       "give up when loading takes longer than this",
			Value:       DEF_WAIT,
			Destination: &fetchWait,
		},
	}, stackFlags...)
)

func fetch(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	assets := []string(ctx.Args())
	bundles := ctx.StringSlice("bundle")
	if len(assets) == 0 && len(bundles) == 0 {
		return common.PrintErrWithCmdHelp(ctx, errNothingToFetch)
	}
	st, err := newStackFromContext(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer st.Close()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithTimeout(runCtx, fetchWait)
	defer cancel()

	lp := loop.New(st.m, DEF_TICK, st.log)
	go lp.Run(runCtx)
	defer func() {
		cancel()
		<-lp.Stopped()
	}()

	var bar io.Writer
	if !quiet {
		bar = os.Stderr
	}
	rep, err := runFetch(runCtx, lp, assets, bundles, bar)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if outDir != "" {
		if err := rep.write(afero.NewBasePathFs(afero.NewOsFs(), outDir)); err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
	}
	rep.print(os.Stdout)
	if rep.failed() {
		return errFetchFailed
	}
	return nil
}

type assetLine struct {
	key  string
	data []byte
	err  error
}

type bundleLine struct {
	name    string
	size    int64
	state   string
	retries int
	err     error
}

// fetchReport is a snapshot of settled requests taken on the loop
// goroutine.
type fetchReport struct {
	assets  []assetLine
	bundles []bundleLine
}

// runFetch waits for the manifest, requests assets and bundles, and
// waits until every request is done or stuck behind a failed bundle.
// The progress bar is drawn on bar when it is not nil.
func runFetch(ctx context.Context, lp *loop.Loop, assets, bundles []string, bar io.Writer) (*fetchReport, error) {
	err := lp.Until(ctx, func(m *bundle.Manager) bool {
		return m.IsReady() || m.ManifestErr() != nil
	})
	if err != nil {
		return nil, fmt.Errorf("wait for manifest: %w", err)
	}

	var reqs []*bundle.AssetRequest
	err = lp.Do(ctx, func(m *bundle.Manager) error {
		if err := m.ManifestErr(); err != nil {
			return err
		}
		ar, err := m.AddAssetRequests(assets...)
		reqs = append(reqs, ar...)
		if err != nil {
			return err
		}
		br, err := m.AddDownloadRequests(bundles...)
		reqs = append(reqs, br...)
		return err
	})
	if err != nil {
		return nil, err
	}

	var (
		p       *mpb.Progress
		loadBar *mpb.Bar
	)
	if bar != nil {
		p = mpb.New(mpb.WithOutput(bar))
		loadBar = common.InitBar(p, "")
	}
	err = lp.Until(ctx, func(*bundle.Manager) bool {
		var total float64
		done := true
		for _, r := range reqs {
			total += r.Progress()
			if !r.IsDone() && chainErr(r.Bundle()) == nil {
				done = false
			}
		}
		if loadBar != nil && len(reqs) > 0 {
			common.SetBarProgress(loadBar, total/float64(len(reqs)))
		}
		return done
	})
	if loadBar != nil {
		if err == nil {
			loadBar.SetTotal(-1, true)
		} else {
			loadBar.Abort(false)
		}
		p.Wait()
	}
	if err != nil {
		return nil, err
	}

	rep := &fetchReport{}
	err = lp.Do(ctx, func(*bundle.Manager) error {
		rep.collect(reqs)
		return nil
	})
	return rep, err
}

// chainErr returns the error of the first failed bundle in b's
// dependency tree.
func chainErr(b *bundle.BundleRequest) error {
	if b == nil {
		return nil
	}
	if b.IsError() {
		if err := b.Err(); err != nil {
			return err
		}
		return fmt.Errorf("bundle %s failed", b.Name())
	}
	for _, d := range b.Dependencies() {
		if err := chainErr(d); err != nil {
			return err
		}
	}
	return nil
}

func (rep *fetchReport) collect(reqs []*bundle.AssetRequest) {
	seen := make(map[string]bool)
	var addBundle func(b *bundle.BundleRequest)
	addBundle = func(b *bundle.BundleRequest) {
		if b == nil || seen[b.Name()] {
			return
		}
		for _, d := range b.Dependencies() {
			addBundle(d)
		}
		seen[b.Name()] = true
		line := bundleLine{
			name:    b.Name(),
			size:    b.Size(),
			state:   b.State().String(),
			retries: b.Retries(),
		}
		if b.IsError() {
			line.err = chainErr(b)
		}
		rep.bundles = append(rep.bundles, line)
	}
	for _, r := range reqs {
		addBundle(r.Bundle())
		if r.AssetName() == "" {
			continue
		}
		line := assetLine{key: r.Key()}
		switch {
		case !r.IsDone():
			line.err = chainErr(r.Bundle())
		case r.Missing() != nil:
			line.err = r.Missing()
		default:
			if obj, ok := r.Asset().(bundle.Object); ok {
				line.data = obj.Data
			}
		}
		rep.assets = append(rep.assets, line)
	}
}

func (rep *fetchReport) failed() bool {
	for _, b := range rep.bundles {
		if b.err != nil {
			return true
		}
	}
	return false
}

// write stores every extracted asset on fs under its asset key.
func (rep *fetchReport) write(fs afero.Fs) error {
	for _, a := range rep.assets {
		if a.data == nil {
			continue
		}
		name := path.Clean("/" + a.key)
		if err := fs.MkdirAll(path.Dir(name), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(fs, name, a.data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (rep *fetchReport) print(w io.Writer) {
	var total int64
	for _, b := range rep.bundles {
		total += b.size
		status := b.state
		if b.retries > 0 {
			status += fmt.Sprintf(" after %d retries", b.retries)
		}
		if b.err != nil {
			status += ": " + b.err.Error()
		}
		fmt.Fprintf(w, "bundle %s (%s) %s\n", b.name, humanize.Bytes(uint64(b.size)), status)
	}
	loaded := 0
	for _, a := range rep.assets {
		if a.err != nil {
			fmt.Fprintf(w, "asset %s: %v\n", a.key, a.err)
			continue
		}
		loaded++
		fmt.Fprintf(w, "asset %s (%s)\n", a.key, humanize.Bytes(uint64(len(a.data))))
	}
	fmt.Fprintf(w, "loaded %d of %d asset(s) from %d bundle(s), %s\n",
		loaded, len(rep.assets), len(rep.bundles), humanize.Bytes(uint64(total)))
}
