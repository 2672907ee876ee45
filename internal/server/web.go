// Package server exposes a loader daemon over JSON-RPC 2.0, both as
// plain HTTP POSTs and over WebSocket connections that also receive
// bundle.error pushes.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tani-shi/assetbundle-manager/common"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

type WebServer struct {
	addr   string
	l      logger.Logger
	rpc    *RPCServer
	server *http.Server
	mu     sync.Mutex
}

// NewWebServer serves rpc on addr. An empty addr listens on
// common.DefaultListenAddr.
func NewWebServer(l logger.Logger, rpc *RPCServer, addr string) *WebServer {
	if l == nil {
		l = logger.NewNopLogger()
	}
	if addr == "" {
		addr = common.DefaultListenAddr
	}
	return &WebServer{addr: addr, l: l, rpc: rpc}
}

func (s *WebServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(common.RPCPath, requireToken(s.rpc.secret, s.rpc.bridge))
	mux.Handle(common.RPCWSPath, requireToken(s.rpc.secret, http.HandlerFunc(s.rpc.serveWS)))
	return mux
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *WebServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *WebServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.l.Info("rpc: listening on %s", ln.Addr())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the web server.
func (s *WebServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
