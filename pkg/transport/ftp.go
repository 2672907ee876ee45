package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

const ftpDialTimeout = 30 * time.Second

// ftpTarget is a parsed ftp or ftps URL. Credentials are never logged.
type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
	useTLS   bool
}

func parseFTPURL(rawURL string, creds Credentials) (*ftpTarget, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, NewPermanentError("ftp", "parse", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ftp" && scheme != "ftps" {
		return nil, NewPermanentError("ftp", "parse",
			fmt.Errorf("unsupported scheme %q, expected ftp or ftps", scheme))
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return nil, NewPermanentError("ftp", "parse",
			fmt.Errorf("empty or root path in FTP URL: file path is required"))
	}
	t := &ftpTarget{
		host:     parsed.Host,
		path:     parsed.Path,
		user:     "anonymous",
		password: "anonymous",
		useTLS:   scheme == "ftps",
	}
	if parsed.User != nil {
		t.user = parsed.User.Username()
		if p, ok := parsed.User.Password(); ok {
			t.password = p
		}
	} else if creds != nil {
		if u, p, ok := creds.Lookup(parsed.Hostname()); ok {
			t.user, t.password = u, p
		}
	}
	if parsed.Port() == "" {
		t.host = net.JoinHostPort(parsed.Hostname(), "21")
	}
	return t, nil
}

func (t *ftpTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	dialOpts := []ftp.DialOption{
		ftp.DialWithTimeout(ftpDialTimeout),
		ftp.DialWithContext(ctx),
	}
	if t.useTLS {
		hostname := t.host
		if h, _, err := net.SplitHostPort(t.host); err == nil {
			hostname = h
		}
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: hostname,
			MinVersion: tls.VersionTLS12,
		}))
	}
	conn, err := ftp.Dial(t.host, dialOpts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(t.user, t.password); err != nil {
		_ = conn.Quit()
		return nil, err
	}
	return conn, nil
}

// ftpBody closes the transfer and then the control connection.
type ftpBody struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Close() error {
	err := b.Response.Close()
	_ = b.conn.Quit()
	return err
}

// FTPOpener opens ftp and ftps URLs. URLs without userinfo are looked
// up in creds and fall back to anonymous login.
func FTPOpener(creds Credentials) Opener {
	return func(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
		t, err := parseFTPURL(rawURL, creds)
		if err != nil {
			return nil, 0, err
		}
		conn, err := t.connect(ctx)
		if err != nil {
			return nil, 0, classifyFTPError("connect", err)
		}
		size, err := conn.FileSize(t.path)
		if err != nil {
			_ = conn.Quit()
			return nil, 0, classifyFTPError("size", err)
		}
		resp, err := conn.Retr(t.path)
		if err != nil {
			_ = conn.Quit()
			return nil, 0, classifyFTPError("retr", err)
		}
		return &ftpBody{Response: resp, conn: conn}, size, nil
	}
}
