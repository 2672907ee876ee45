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
	bcommon "github.com/tani-shi/assetbundle-manager/common"
	"github.com/tani-shi/assetbundle-manager/internal/config"
	"github.com/tani-shi/assetbundle-manager/pkg/abmcli"
)

var errRemoteArg = errors.New("missing argument")

var (
	remoteAddr   string
	remoteSecret string
	remoteBundle string
	remoteSub    string

	remoteFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "addr",
			Usage:       "address of the daemon (env: ABM_LISTEN)",
			Destination: &remoteAddr,
		},
		cli.StringFlag{
			Name:        "secret, s",
			Usage:       "bearer secret of the daemon (env: ABM_RPC_SECRET)",
			Destination: &remoteSecret,
		},
	}
	remoteAddFlags = append([]cli.Flag{
		cli.StringFlag{
			Name:        "bundle, b",
			Usage:       "bundle that holds the asset, when the daemon cannot tell",
			Destination: &remoteBundle,
		},
		cli.StringFlag{
			Name:        "sub",
			Usage:       "sub-asset to load instead of the main asset",
			Destination: &remoteSub,
		},
	}, remoteFlags...)
)

// remoteAction dials the daemon, runs fn and hangs up.
func remoteAction(name string, nargs int, fn func(context.Context, *cli.Context, *abmcli.Client) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		if ctx.Args().First() == "help" {
			return cli.ShowCommandHelp(ctx, ctx.Command.Name)
		}
		if ctx.NArg() < nargs {
			return common.PrintErrWithCmdHelp(ctx, errRemoteArg)
		}
		s, err := config.LoadSettings()
		if err != nil {
			return fmt.Errorf("remote %s: %w", name, err)
		}
		if ctx.IsSet("addr") {
			s.Listen = remoteAddr
		}
		if ctx.IsSet("secret") {
			s.RPCSecret = remoteSecret
		}
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		client, err := abmcli.Dial(rctx, s.Listen, s.RPCSecret, nil)
		if err != nil {
			return fmt.Errorf("remote %s: %w", name, err)
		}
		defer client.Close()
		if err := fn(rctx, ctx, client); err != nil {
			return fmt.Errorf("remote %s: %w", name, err)
		}
		return nil
	}
}

var (
	remoteStatus = remoteAction("status", 0, func(rctx context.Context, ctx *cli.Context, c *abmcli.Client) error {
		if id := ctx.Args().First(); id != "" {
			st, err := c.AssetStatus(rctx, id)
			if err != nil {
				return err
			}
			printAssetStatus(os.Stdout, st)
			return nil
		}
		st, err := c.LoaderStatus(rctx)
		if err != nil {
			return err
		}
		printLoaderStatus(os.Stdout, st)
		return nil
	})
	remoteAdd = remoteAction("add", 1, func(rctx context.Context, ctx *cli.Context, c *abmcli.Client) error {
		id, err := c.AddAsset(rctx, &bcommon.AssetAddParams{
			Asset:    ctx.Args().First(),
			SubAsset: remoteSub,
			Bundle:   remoteBundle,
		})
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	})
	remoteDownload = remoteAction("download", 1, func(rctx context.Context, ctx *cli.Context, c *abmcli.Client) error {
		id, err := c.DownloadBundle(rctx, ctx.Args().First())
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	})
	remoteRemove = remoteAction("remove", 1, func(rctx context.Context, ctx *cli.Context, c *abmcli.Client) error {
		return c.RemoveAsset(rctx, ctx.Args().First())
	})
	remoteRetry = remoteAction("retry", 0, func(rctx context.Context, _ *cli.Context, c *abmcli.Client) error {
		n, err := c.Retry(rctx)
		if err != nil {
			return err
		}
		fmt.Printf("retrying %d bundle(s)\n", n)
		return nil
	})
	remoteReset = remoteAction("reset", 0, func(rctx context.Context, _ *cli.Context, c *abmcli.Client) error {
		return c.Reset(rctx)
	})
)

func printAssetStatus(w io.Writer, st *bcommon.AssetStatusResult) {
	name := st.Asset
	if st.SubAsset != "" {
		name += "#" + st.SubAsset
	}
	if name == "" {
		name = "(download)"
	}
	fmt.Fprintf(w, "%s %s\n", st.ID, name)
	fmt.Fprintf(w, "\tbundle:   %s (%s)\n", st.Bundle, st.BundleState)
	fmt.Fprintf(w, "\tstate:    %s, %.0f%%\n", st.State, st.Progress*100)
	fmt.Fprintf(w, "\tloaded:   %t\n", st.Loaded)
	if st.Error != "" {
		fmt.Fprintf(w, "\terror:    %s\n", st.Error)
	}
}

func printLoaderStatus(w io.Writer, st *bcommon.LoaderStatusResult) {
	if !st.Ready {
		fmt.Fprintln(w, "loader is not ready")
		if st.ManifestError != "" {
			fmt.Fprintf(w, "manifest: %s\n", st.ManifestError)
		}
		return
	}
	fmt.Fprintf(w, "bundles:     %d (%d pending, %d downloading, %d loading, %d failed)\n",
		st.Bundles, st.Pending, st.Downloading, st.Loading, st.Errors)
	fmt.Fprintf(w, "assets:      %d loading, %d loaded\n", st.LiveAssets, st.LoadedAssets)
	fmt.Fprintf(w, "in flight:   %s of %s\n",
		humanize.Bytes(uint64(st.ActiveBytes)), humanize.Bytes(uint64(st.MaxRequestBytes)))
	fmt.Fprintf(w, "progress:    %.0f%%\n", st.Progress*100)
	fmt.Fprintf(w, "requests:    %d tracked\n", st.Tracked)
}
