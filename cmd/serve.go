package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/tani-shi/assetbundle-manager/internal/loop"
	"github.com/tani-shi/assetbundle-manager/internal/server"
	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
	"github.com/tani-shi/assetbundle-manager/pkg/cache"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

var (
	listenAddr string
	rpcSecret  string
	pruneCron  string

	serveFlags = append([]cli.Flag{
		cli.StringFlag{
			Name:        "listen, l",
			Usage:       "address of the JSON-RPC endpoint (env: ABM_LISTEN)",
			Destination: &listenAddr,
		},
		cli.StringFlag{
			Name:        "secret, s",
			Usage:       "bearer secret of the JSON-RPC endpoint; generated when empty (env: ABM_RPC_SECRET)",
			Destination: &rpcSecret,
		},
		cli.StringFlag{
			Name:        "prune-cron",
			Usage:       "cron expression for evicting stale cache entries",
			Value:       DEF_PRUNE_CRON,
			Destination: &pruneCron,
		},
		cli.DurationFlag{
			Name:        "prune-age",
			Usage:       "age after which cached bundles are evicted",
			Value:       DEF_PRUNE_MAX_AGE,
			Destination: &pruneAge,
		},
	}, stackFlags...)
)

func serve(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	s, cfg, err := loadSettings(ctx)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	if ctx.IsSet("listen") {
		s.Listen = listenAddr
	}
	if ctx.IsSet("secret") {
		s.RPCSecret = rpcSecret
	}
	if s.RPCSecret == "" {
		s.RPCSecret = uuid.NewString()
		fmt.Fprintf(os.Stderr, "abm: generated rpc secret %s\n", s.RPCSecret)
	}
	// the daemon always logs
	s.Debug = true
	l := newLogger(s)

	st, err := newStack(s, cfg, l)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer st.Close()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	lp := loop.New(st.m, DEF_TICK, l)
	go lp.Run(runCtx)
	defer func() {
		stop()
		<-lp.Stopped()
	}()

	if st.store != nil {
		if err := schedulePrune(lp, st.store, pruneCron, pruneAge, l); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	rs, err := server.NewRPCServer(runCtx, &server.RPCConfig{
		Secret:    s.RPCSecret,
		Version:   buildArgs.Version,
		Commit:    buildArgs.Commit,
		BuildType: buildArgs.BuildType,
	}, lp, l)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer rs.Close()

	ws := server.NewWebServer(l, rs, s.Listen)
	errCh := make(chan error, 1)
	go func() { errCh <- ws.Start() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-runCtx.Done():
	}
	l.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ws.Shutdown(shutdownCtx)
}

// schedulePrune evicts cache entries older than maxAge whenever expr
// fires. The job runs on the loop goroutine, so it never overlaps a
// cache write made by the manager.
func schedulePrune(lp *loop.Loop, store *cache.Store, expr string, maxAge time.Duration, l logger.Logger) error {
	return lp.Schedule("cache-prune", expr, func(*bundle.Manager) {
		n, err := store.Prune(context.Background(), time.Now().Add(-maxAge))
		if err != nil {
			l.Error("cache prune: %v", err)
			return
		}
		if n > 0 {
			l.Info("cache prune evicted %d bundle(s)", n)
		}
	})
}
