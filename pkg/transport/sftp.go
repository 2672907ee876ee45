package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const sshDialTimeout = 30 * time.Second

// SFTPConfig configures SFTPOpener.
type SFTPConfig struct {
	Credentials Credentials
	// KnownHostsPath is the TOFU known_hosts file. Required.
	KnownHostsPath string
	// SSHKeyPath is tried instead of ~/.ssh/id_ed25519 and ~/.ssh/id_rsa
	// when no password is available.
	SSHKeyPath string
}

type sftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

func parseSFTPURL(rawURL string, creds Credentials) (*sftpTarget, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, NewPermanentError("sftp", "parse", err)
	}
	if strings.ToLower(parsed.Scheme) != "sftp" {
		return nil, NewPermanentError("sftp", "parse",
			fmt.Errorf("unsupported scheme %q, expected sftp", parsed.Scheme))
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return nil, NewPermanentError("sftp", "parse",
			fmt.Errorf("empty or root path in SFTP URL: file path is required"))
	}
	t := &sftpTarget{host: parsed.Host, path: parsed.Path}
	if parsed.User != nil {
		t.user = parsed.User.Username()
		t.password, _ = parsed.User.Password()
	}
	if creds != nil && t.password == "" {
		if u, p, ok := creds.Lookup(parsed.Hostname()); ok && (t.user == "" || t.user == u) {
			t.user, t.password = u, p
		}
	}
	if parsed.Port() == "" {
		t.host = net.JoinHostPort(parsed.Hostname(), "22")
	}
	return t, nil
}

// sftpBody closes the remote file, the sftp session and the ssh
// connection together.
type sftpBody struct {
	*sftp.File
	client *sftp.Client
	conn   *ssh.Client
}

func (b *sftpBody) Close() error {
	err := b.File.Close()
	_ = b.client.Close()
	_ = b.conn.Close()
	return err
}

// SFTPOpener opens sftp URLs. Hosts are verified trust-on-first-use
// against cfg.KnownHostsPath.
func SFTPOpener(cfg SFTPConfig) Opener {
	return func(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
		t, err := parseSFTPURL(rawURL, cfg.Credentials)
		if err != nil {
			return nil, 0, err
		}
		if cfg.KnownHostsPath == "" {
			return nil, 0, NewPermanentError("sftp", "connect", errors.New("known_hosts path is not configured"))
		}
		auth, err := buildAuthMethods(t.password, cfg.SSHKeyPath)
		if err != nil {
			return nil, 0, NewPermanentError("sftp", "auth", err)
		}
		conn, err := dialSSH(ctx, t.host, &ssh.ClientConfig{
			User:            t.user,
			Auth:            auth,
			HostKeyCallback: newTOFUHostKeyCallback(cfg.KnownHostsPath),
			Timeout:         sshDialTimeout,
		})
		if err != nil {
			return nil, 0, classifySFTPError("connect", err)
		}
		client, err := sftp.NewClient(conn)
		if err != nil {
			conn.Close()
			return nil, 0, classifySFTPError("session", err)
		}
		f, err := client.Open(t.path)
		if err != nil {
			client.Close()
			conn.Close()
			return nil, 0, classifySFTPError("open", err)
		}
		size := int64(-1)
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		body := &sftpBody{File: f, client: client, conn: conn}
		go func() {
			// unblock reads when the fetch is cancelled
			<-ctx.Done()
			conn.Close()
		}()
		return body, size, nil
	}
}

func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, addr, config)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func buildAuthMethods(password, sshKeyPath string) ([]ssh.AuthMethod, error) {
	if password != "" {
		return []ssh.AuthMethod{ssh.Password(password)}, nil
	}
	keyPaths := resolveSSHKeyPaths(sshKeyPath)
	for _, kp := range keyPaths {
		pemBytes, err := os.ReadFile(kp)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			var ppErr *ssh.PassphraseMissingError
			if errors.As(err, &ppErr) {
				return nil, fmt.Errorf("SSH key %q is passphrase-protected; passphrase-protected keys are not supported", kp)
			}
			continue
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("no authentication method available, provide a password or an SSH key at %s",
		strings.Join(keyPaths, ", "))
}

func resolveSSHKeyPaths(explicitPath string) []string {
	if explicitPath != "" {
		return []string{explicitPath}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
}
