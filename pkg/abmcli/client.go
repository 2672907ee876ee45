// Package abmcli is a client for the loader daemon started by
// "abm serve".
package abmcli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"

	"github.com/tani-shi/assetbundle-manager/common"
)

var ErrEmptySecret = errors.New("rpc secret is required")

// Options configures Dial.
type Options struct {
	// OnBundleError receives bundle.error notifications. It runs on the
	// client's receive goroutine and must not call back into the client.
	OnBundleError func(*common.BundleErrorNotification)
}

type Client struct {
	rpc  *jrpc2.Client
	conn *cws.Conn
}

// Dial connects to the WebSocket endpoint of the daemon at addr, a
// host:port or a ws:// or wss:// URL.
func Dial(ctx context.Context, addr, secret string, opts *Options) (*Client, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if opts == nil {
		opts = &Options{}
	}
	conn, _, err := cws.Dial(ctx, endpoint(addr), &cws.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + secret},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to daemon: %w", err)
	}
	// reads stop when the connection closes, not when ctx ends
	ch := &wsChannel{conn: conn, ctx: context.Background()}
	c := &Client{conn: conn}
	c.rpc = jrpc2.NewClient(ch, &jrpc2.ClientOptions{
		OnNotify: func(req *jrpc2.Request) {
			if req.Method() != common.NotifyBundleError || opts.OnBundleError == nil {
				return
			}
			var note common.BundleErrorNotification
			if err := req.UnmarshalParams(&note); err == nil {
				opts.OnBundleError(&note)
			}
		},
	})
	return c, nil
}

func endpoint(addr string) string {
	if addr == "" {
		addr = common.DefaultListenAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	return strings.TrimSuffix(addr, "/") + common.RPCWSPath
}

// Close ends the session.
func (c *Client) Close() error {
	return c.rpc.Close()
}

type wsChannel struct {
	conn *cws.Conn
	ctx  context.Context
}

func (c *wsChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, cws.MessageText, data)
}

func (c *wsChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

func (c *wsChannel) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}
