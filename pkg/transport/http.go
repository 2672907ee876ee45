package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

const DefaultMaxRedirects = 10

var (
	ErrEmptyProxyURL    = errors.New("proxy URL cannot be empty")
	ErrUnsupportedProxy = errors.New("unsupported proxy scheme")
	ErrInvalidProxyURL  = errors.New("invalid proxy URL")
	ErrTooManyRedirects = errors.New("too many redirects")
)

var supportedProxySchemes = map[string]bool{"http": true, "https": true, "socks5": true}

const defaultResponseTimeout = 30 * time.Second

// ParseProxyURL validates a proxy URL.
func ParseProxyURL(proxyURL string) (*url.URL, error) {
	if proxyURL == "" {
		return nil, ErrEmptyProxyURL
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, ErrInvalidProxyURL
	}
	if !supportedProxySchemes[parsed.Scheme] {
		return nil, ErrUnsupportedProxy
	}
	return parsed, nil
}

// NewHTTPClient creates a client routed through proxyURL. An empty
// proxyURL means a direct connection.
func NewHTTPClient(proxyURL string) (*http.Client, error) {
	transport := &http.Transport{ResponseHeaderTimeout: defaultResponseTimeout}
	if proxyURL != "" {
		parsed, err := ParseProxyURL(proxyURL)
		if err != nil {
			return nil, err
		}
		if parsed.Scheme == "socks5" {
			var auth *proxy.Auth
			if parsed.User != nil {
				pass, _ := parsed.User.Password()
				auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
			}
			dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
			if err != nil {
				return nil, err
			}
			cd, ok := dialer.(proxy.ContextDialer)
			if !ok {
				return nil, fmt.Errorf("socks5 dialer does not support contexts")
			}
			transport.DialContext = cd.DialContext
		} else {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= DefaultMaxRedirects {
				return fmt.Errorf("%w (%d)", ErrTooManyRedirects, len(via))
			}
			return nil
		},
	}, nil
}

// HTTPOpener opens http and https URLs with client.
func HTTPOpener(client *http.Client) Opener {
	return func(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, 0, NewPermanentError("http", "request", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, NewPermanentError("http", "get", ctx.Err())
			}
			return nil, 0, classifyNetError("http", "get", err)
		}
		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, 0, classifyStatus("get", resp.StatusCode)
		}
		return resp.Body, resp.ContentLength, nil
	}
}
