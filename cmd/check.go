package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/tani-shi/assetbundle-manager/cmd/common"
	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
)

var errNoManifest = errors.New("no manifest file given")

var errInvalidManifest = errors.New("manifest is invalid")

func check(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if ctx.NArg() == 0 {
		return common.PrintErrWithCmdHelp(ctx, errNoManifest)
	}
	return checkFiles(afero.NewOsFs(), os.Stdout, ctx.Args().Get(0), ctx.Args().Get(1))
}

// checkFiles validates a manifest and an optional collection and prints
// the dependency chain of every bundle.
func checkFiles(fs afero.Fs, w io.Writer, manifest, collection string) error {
	mdata, err := afero.ReadFile(fs, manifest)
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	var cdata []byte
	if collection != "" {
		cdata, err = afero.ReadFile(fs, collection)
		if err != nil {
			return fmt.Errorf("check: %w", err)
		}
	}
	idx, err := bundle.ParseIndex(mdata, cdata)
	if err != nil {
		reportIndexErr(w, err)
		return errInvalidManifest
	}
	printIndex(w, idx)
	return nil
}

func reportIndexErr(w io.Writer, err error) {
	var merr *multierror.Error
	var cerr *bundle.CycleError
	switch {
	case errors.As(err, &merr):
		for _, e := range merr.Errors {
			fmt.Fprintf(w, "error: %v\n", e)
		}
	case errors.As(err, &cerr):
		fmt.Fprintf(w, "error: %d bundle(s) form a cycle:\n", len(cerr.Bundles))
		for _, b := range cerr.Bundles {
			fmt.Fprintf(w, "\t%s\n", b)
		}
	default:
		fmt.Fprintf(w, "error: %v\n", err)
	}
}

func printIndex(w io.Writer, idx *bundle.Index) {
	for _, name := range idx.TopologicalOrder() {
		rec, _ := idx.Lookup(name)
		chain, _ := idx.ResolutionOrder(name)
		fmt.Fprintf(w, "%s (%s, %d asset(s))\n", name, humanize.Bytes(uint64(rec.Size)), len(rec.Assets))
		if len(chain) > 1 {
			fmt.Fprintf(w, "\t%s\n", strings.Join(chain, " -> "))
		}
	}
	fmt.Fprintf(w, "%d bundle(s), %s in total\n", idx.Len(), humanize.Bytes(uint64(idx.TotalSize())))
}
