package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/tani-shi/assetbundle-manager/internal/config"
	"github.com/tani-shi/assetbundle-manager/internal/extl"
	"github.com/tani-shi/assetbundle-manager/pkg/archive"
	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
	"github.com/tani-shi/assetbundle-manager/pkg/cache"
	"github.com/tani-shi/assetbundle-manager/pkg/credman/keyring"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
	"github.com/tani-shi/assetbundle-manager/pkg/transport"
)

var errNoBaseURL = errors.New("no base url: pass --base-url, set ABM_BASE_URL or use --helper")

var (
	baseURL        string
	manifestName   string
	collectionName string
	bundleRoot     string
	bundleExt      string
	helperDir      string
	localDir       string
	cacheDir       string
	proxyURL       string
	knownHosts     string
	maxRequests    int
	retryLimit     int
	fetchTimeout   time.Duration
	debug          bool

	// stackFlags are shared by every command that builds a loader.
	stackFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "base-url, u",
			Usage:       "URL prefix of the manifest and the bundles (env: ABM_BASE_URL)",
			Destination: &baseURL,
		},
		cli.StringFlag{
			Name:        "manifest",
			Usage:       "manifest file name under the base url",
			Value:       DEF_MANIFEST,
			Destination: &manifestName,
		},
		cli.StringFlag{
			Name:        "collection",
			Usage:       "bundle-info collection file name under the base url",
			Destination: &collectionName,
		},
		cli.StringFlag{
			Name:        "root",
			Usage:       "asset path prefix of bundled assets",
			Value:       DEF_ROOT,
			Destination: &bundleRoot,
		},
		cli.StringFlag{
			Name:        "ext",
			Usage:       "extension appended to bundle names in urls",
			Value:       DEF_EXT,
			Destination: &bundleExt,
		},
		cli.StringFlag{
			Name:        "helper",
			Usage:       "directory of a script module that maps assets to bundles and urls",
			Destination: &helperDir,
		},
		cli.StringFlag{
			Name:        "local",
			Usage:       "serve unpacked assets from this directory instead of bundles",
			Destination: &localDir,
		},
		cli.StringFlag{
			Name:        "cache-dir, c",
			Usage:       "keep fetched bundles in this directory (env: ABM_CACHE_DIR)",
			Destination: &cacheDir,
		},
		cli.StringFlag{
			Name:        "proxy, x",
			Usage:       "http, https or socks5 proxy url (env: ABM_PROXY)",
			Destination: &proxyURL,
		},
		cli.StringFlag{
			Name:        "known-hosts",
			Usage:       "known_hosts file used for sftp (env: ABM_KNOWN_HOSTS)",
			Destination: &knownHosts,
		},
		cli.IntFlag{
			Name:        "max-requests, n",
			Usage:       "maximum number of bundles fetched at once (env: ABM_MAX_REQUEST_COUNT)",
			Destination: &maxRequests,
		},
		cli.IntFlag{
			Name:        "retry-limit",
			Usage:       "retries of a failed bundle fetch (env: ABM_RETRY_LIMIT)",
			Destination: &retryLimit,
		},
		cli.DurationFlag{
			Name:        "timeout, t",
			Usage:       "fail a fetch that makes no progress for this long (env: ABM_TIMEOUT)",
			Destination: &fetchTimeout,
		},
		cli.BoolFlag{
			Name:        "debug, d",
			Usage:       "log loader activity to stderr (env: ABM_DEBUG)",
			Destination: &debug,
		},
	}
)

// loadSettings reads the environment and lets flags set on the command
// line win.
func loadSettings(ctx *cli.Context) (config.Settings, bundle.Config, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return config.Settings{}, bundle.Config{}, err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Settings{}, bundle.Config{}, err
	}
	if ctx.IsSet("base-url") {
		s.BaseURL = baseURL
	}
	if ctx.IsSet("cache-dir") {
		s.CacheDir = cacheDir
	}
	if ctx.IsSet("proxy") {
		s.Proxy = proxyURL
	}
	if ctx.IsSet("known-hosts") {
		s.KnownHostsPath = knownHosts
	}
	if ctx.IsSet("debug") {
		s.Debug = debug
	}
	if ctx.IsSet("max-requests") {
		cfg.MaxRequestCount = maxRequests
	}
	if ctx.IsSet("retry-limit") {
		cfg.RetryLimit = retryLimit
	}
	if ctx.IsSet("timeout") {
		cfg.Timeout = fetchTimeout
	}
	if localDir != "" {
		cfg.UseLocalResources = true
	}
	return s, cfg, nil
}

func newLogger(s config.Settings) logger.Logger {
	if !s.Debug {
		return logger.NewNopLogger()
	}
	return logger.NewStandardLogger(log.New(os.Stderr, "abm: ", log.LstdFlags))
}

// stack is a Manager wired with everything it was configured with.
type stack struct {
	m      *bundle.Manager
	helper bundle.Helper
	store  *cache.Store
	log    logger.Logger
}

func newStackFromContext(ctx *cli.Context) (*stack, error) {
	s, cfg, err := loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	return newStack(s, cfg, newLogger(s))
}

// newStack builds the helper, the transport, the optional cache and the
// manager, and starts the manifest load.
func newStack(s config.Settings, cfg bundle.Config, l logger.Logger) (*stack, error) {
	st := &stack{log: l}
	helper, err := newHelper(s, l)
	if err != nil {
		return nil, err
	}
	st.helper = helper

	deps := bundle.Dependencies{Logger: l}
	if cfg.UseLocalResources {
		deps.Local = archive.NewLocalSource(localDir)
	} else {
		router, err := transport.NewRouter(transport.Options{
			Proxy:          s.Proxy,
			Credentials:    keyring.NewKeyring(),
			KnownHostsPath: s.KnownHostsPath,
			Files:          afero.NewOsFs(),
			Logger:         l,
		})
		if err != nil {
			return nil, err
		}
		deps.Fetcher = router
		deps.Decoder = archive.NewDecoder(l)
		if s.CacheDir != "" {
			store, err := cache.Open(s.CacheDir)
			if err != nil {
				return nil, err
			}
			st.store = store
			cf := cache.NewFetcher(router, store, l)
			deps.Fetcher = cf
			deps.Cache = cf
		}
	}

	st.m, err = bundle.NewManager(cfg, deps)
	if err != nil {
		st.Close()
		return nil, err
	}
	if err := st.m.Initialize(helper); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func newHelper(s config.Settings, l logger.Logger) (bundle.Helper, error) {
	if helperDir != "" {
		h, err := extl.LoadHelper(l, helperDir)
		if err != nil {
			return nil, fmt.Errorf("load helper: %w", err)
		}
		return h, nil
	}
	if s.BaseURL == "" && localDir == "" {
		return nil, errNoBaseURL
	}
	return &bundle.PathHelper{
		BaseURL:    s.BaseURL,
		Root:       bundleRoot,
		Ext:        bundleExt,
		Manifest:   manifestName,
		Collection: collectionName,
	}, nil
}

// Close releases the loaded bundles and the cache.
func (st *stack) Close() error {
	var errs *multierror.Error
	if st.m != nil {
		st.m.RemoveAllRequests()
	}
	if st.store != nil {
		errs = multierror.Append(errs, st.store.Close())
	}
	errs = multierror.Append(errs, st.log.Close())
	return errs.ErrorOrNil()
}
