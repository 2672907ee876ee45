// Package transport fetches bundles over http(s), ftp(s), sftp and
// local files. A Router dispatches on the URL scheme and implements
// bundle.Fetcher: every fetch runs on its own goroutine and is polled
// through its Handle.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

// Opener opens rawURL for reading. size is -1 when unknown.
type Opener func(ctx context.Context, rawURL string) (body io.ReadCloser, size int64, err error)

// Credentials supplies logins for hosts whose URLs carry none.
type Credentials interface {
	Lookup(host string) (user, password string, ok bool)
}

// Options configures the protocols a Router registers by default.
type Options struct {
	// Client is used for http and https. NewHTTPClient(Proxy) when nil.
	Client *http.Client
	// Proxy is an http, https or socks5 proxy URL.
	Proxy string
	// Credentials is consulted for ftp and sftp hosts.
	Credentials Credentials
	// KnownHostsPath is the TOFU known_hosts file used for sftp.
	KnownHostsPath string
	// SSHKeyPath overrides the default private keys tried for sftp.
	SSHKeyPath string
	// Files serves file URLs when set.
	Files  afero.Fs
	Logger logger.Logger
}

// Router maps URL schemes to Openers.
// The zero value is not usable; use NewRouter to create one.
type Router struct {
	routes map[string]Opener
	protos map[string]string
	log    logger.Logger
}

// NewRouter creates a Router with http, https, ftp, ftps and sftp
// registered, plus file when opts.Files is set.
func NewRouter(opts Options) (*Router, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	client := opts.Client
	if client == nil {
		var err error
		client, err = NewHTTPClient(opts.Proxy)
		if err != nil {
			return nil, err
		}
	}
	r := &Router{
		routes: make(map[string]Opener),
		protos: make(map[string]string),
		log:    opts.Logger,
	}
	httpOpen := HTTPOpener(client)
	r.register("http", "http", httpOpen)
	r.register("https", "http", httpOpen)
	ftpOpen := FTPOpener(opts.Credentials)
	r.register("ftp", "ftp", ftpOpen)
	r.register("ftps", "ftp", ftpOpen)
	r.register("sftp", "sftp", SFTPOpener(SFTPConfig{
		Credentials:    opts.Credentials,
		KnownHostsPath: opts.KnownHostsPath,
		SSHKeyPath:     opts.SSHKeyPath,
	}))
	if opts.Files != nil {
		r.register("file", "file", FileOpener(opts.Files))
	}
	return r, nil
}

// Register adds or replaces the opener for scheme.
func (r *Router) Register(scheme string, open Opener) {
	scheme = strings.ToLower(scheme)
	r.register(scheme, scheme, open)
}

func (r *Router) register(scheme, proto string, open Opener) {
	r.routes[scheme] = open
	r.protos[scheme] = proto
}

func (r *Router) resolve(rawURL string) (string, Opener, error) {
	if rawURL == "" {
		return "", nil, fmt.Errorf("%w: empty URL", ErrUnsupportedScheme)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return "", nil, fmt.Errorf("%w: no scheme in URL %q", ErrUnsupportedScheme, rawURL)
	}
	open, ok := r.routes[scheme]
	if !ok {
		return "", nil, fmt.Errorf("%w %q, supported: %s",
			ErrUnsupportedScheme, scheme, strings.Join(r.SupportedSchemes(), ", "))
	}
	return r.protos[scheme], open, nil
}

// Fetch starts fetching rawURL. It never blocks on I/O; scheme and URL
// errors are returned synchronously.
func (r *Router) Fetch(rawURL, hash string, crc uint32) (bundle.FetchHandle, error) {
	proto, open, err := r.resolve(rawURL)
	if err != nil {
		return nil, NewPermanentError("router", "resolve", err)
	}
	h := newHandle(rawURL, crc)
	h.start(r.log, proto, open)
	return h, nil
}

// SupportedSchemes returns the registered schemes, sorted.
func (r *Router) SupportedSchemes() []string {
	schemes := make([]string, 0, len(r.routes))
	for s := range r.routes {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// StripURLCredentials removes userinfo from rawURL. It returns rawURL
// unchanged when it does not parse.
func StripURLCredentials(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.User = nil
	return parsed.String()
}

var _ bundle.Fetcher = (*Router)(nil)
