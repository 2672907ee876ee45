package server

import (
	"context"
	"errors"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/google/uuid"

	"github.com/tani-shi/assetbundle-manager/common"
	"github.com/tani-shi/assetbundle-manager/internal/loop"
	"github.com/tani-shi/assetbundle-manager/internal/safego"
	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
	"github.com/tani-shi/assetbundle-manager/pkg/transport"
)

// Custom JSON-RPC error codes for loader operations.
const (
	codeRequestNotFound = jrpc2.Code(-32001)
	codeNotReady        = jrpc2.Code(-32002)
	codeInvalidParams   = jrpc2.Code(-32602)
	codeInternal        = jrpc2.Code(-32603)
)

// RPCConfig holds configuration for the JSON-RPC endpoint.
type RPCConfig struct {
	Secret    string // Auth token (required -- empty means every call is rejected)
	Version   string
	Commit    string
	BuildType string
}

// RPCServer exposes a loop-owned Manager over JSON-RPC 2.0. Every
// manager access goes through loop.Do.
type RPCServer struct {
	bridge    jhttp.Bridge
	methods   handler.Map
	notifier  *RPCNotifier
	loop      *loop.Loop
	log       logger.Logger
	secret    string
	version   string
	commit    string
	buildType string

	// tracked maps request ids handed to clients to their requests. It
	// is only touched on the loop goroutine.
	tracked map[string]*bundle.AssetRequest
}

// NewRPCServer creates the method table and installs the bundle.error
// push as the manager's error callback. lp must be running.
func NewRPCServer(ctx context.Context, cfg *RPCConfig, lp *loop.Loop, l logger.Logger) (*RPCServer, error) {
	if l == nil {
		l = logger.NewNopLogger()
	}
	rs := &RPCServer{
		notifier:  NewRPCNotifier(l),
		loop:      lp,
		log:       l,
		secret:    cfg.Secret,
		version:   cfg.Version,
		commit:    cfg.Commit,
		buildType: cfg.BuildType,
		tracked:   make(map[string]*bundle.AssetRequest),
	}
	rs.methods = handler.Map{
		common.MethodGetVersion:     handler.New(rs.systemGetVersion),
		common.MethodAssetAdd:       handler.New(rs.assetAdd),
		common.MethodAssetStatus:    handler.New(rs.assetStatus),
		common.MethodAssetRemove:    handler.New(rs.assetRemove),
		common.MethodBundleDownload: handler.New(rs.bundleDownload),
		common.MethodLoaderRetry:    handler.New(rs.loaderRetry),
		common.MethodLoaderReset:    handler.New(rs.loaderReset),
		common.MethodLoaderStatus:   handler.New(rs.loaderStatus),
	}
	err := lp.Do(ctx, func(m *bundle.Manager) error {
		m.SetErrorCallback(rs.onBundleError)
		return nil
	})
	if err != nil {
		return nil, err
	}
	rs.bridge = jhttp.NewBridge(rs.methods, nil)
	return rs, nil
}

// Notifier returns the push fan-out of the WebSocket endpoint.
func (rs *RPCServer) Notifier() *RPCNotifier { return rs.notifier }

// onBundleError runs on the loop goroutine; the push itself does not.
func (rs *RPCServer) onBundleError(r *bundle.BundleRequest) {
	note := &common.BundleErrorNotification{
		Bundle:  r.Name(),
		URL:     r.URL(),
		Retries: r.Retries(),
	}
	if err := r.Err(); err != nil {
		note.Error = err.Error()
		var le *bundle.LoadError
		if errors.As(err, &le) {
			note.Kind = le.Kind.String()
			note.Transient = le.Kind == bundle.KindTimeout || transport.IsTransient(err)
		}
	}
	safego.Go(rs.log, nil, "rpc push "+common.NotifyBundleError, nil, func() {
		rs.notifier.Broadcast(common.NotifyBundleError, note)
	})
}

// rpcError maps loader errors onto JSON-RPC errors.
func rpcError(err error) error {
	var rpcErr *jrpc2.Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, bundle.ErrNotReady):
		return &jrpc2.Error{Code: codeNotReady, Message: err.Error()}
	case errors.Is(err, bundle.ErrNotBundleAsset),
		errors.Is(err, bundle.ErrBundleNotFound):
		return &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	default:
		return &jrpc2.Error{Code: codeInternal, Message: err.Error()}
	}
}

func (rs *RPCServer) systemGetVersion(_ context.Context) (*common.VersionResult, error) {
	return &common.VersionResult{
		Version:   rs.version,
		Commit:    rs.commit,
		BuildType: rs.buildType,
	}, nil
}

func (rs *RPCServer) track(r *bundle.AssetRequest) string {
	id := uuid.NewString()
	rs.tracked[id] = r
	return id
}

// assetAdd requests an asset and returns the id of the new request.
func (rs *RPCServer) assetAdd(ctx context.Context, p *common.AssetAddParams) (*common.RequestIDResult, error) {
	if p.Asset == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: asset"}
	}
	var id string
	err := rs.loop.Do(ctx, func(m *bundle.Manager) error {
		r, err := m.AddRequest(bundle.RequestOptions{
			AssetName:    p.Asset,
			SubAssetName: p.SubAsset,
			BundleName:   p.Bundle,
		})
		if err != nil {
			return err
		}
		id = rs.track(r)
		return nil
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return &common.RequestIDResult{ID: id}, nil
}

// bundleDownload loads a bundle and its dependencies without extraction.
func (rs *RPCServer) bundleDownload(ctx context.Context, p *common.BundleDownloadParams) (*common.RequestIDResult, error) {
	if p.Bundle == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: bundle"}
	}
	var id string
	err := rs.loop.Do(ctx, func(m *bundle.Manager) error {
		r, err := m.AddDownloadRequest(p.Bundle)
		if err != nil {
			return err
		}
		id = rs.track(r)
		return nil
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return &common.RequestIDResult{ID: id}, nil
}

var errRequestNotFound = &jrpc2.Error{Code: codeRequestNotFound, Message: "request not found"}

func (rs *RPCServer) assetStatus(ctx context.Context, p *common.RequestIDParam) (*common.AssetStatusResult, error) {
	var res *common.AssetStatusResult
	err := rs.loop.Do(ctx, func(m *bundle.Manager) error {
		r, ok := rs.tracked[p.ID]
		if !ok {
			return errRequestNotFound
		}
		res = &common.AssetStatusResult{
			ID:       p.ID,
			Asset:    r.AssetName(),
			SubAsset: r.SubAssetName(),
			Bundle:   r.BundleName(),
			State:    r.State().String(),
			Progress: r.Progress(),
			Done:     r.IsDone(),
			Loaded:   r.AssetName() != "" && m.IsAssetLoaded(r.Key()),
		}
		if b := r.Bundle(); b != nil {
			res.BundleState = b.State().String()
			if err := b.Err(); err != nil {
				res.Error = err.Error()
			}
		}
		if err := r.Missing(); err != nil && res.Error == "" {
			res.Error = err.Error()
		}
		return nil
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return res, nil
}

// assetRemove releases a request and forgets its id.
func (rs *RPCServer) assetRemove(ctx context.Context, p *common.RequestIDParam) (*common.EmptyResult, error) {
	err := rs.loop.Do(ctx, func(m *bundle.Manager) error {
		r, ok := rs.tracked[p.ID]
		if !ok {
			return errRequestNotFound
		}
		if err := m.RemoveRequest(r); err != nil {
			return err
		}
		delete(rs.tracked, p.ID)
		return nil
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return &common.EmptyResult{}, nil
}

func (rs *RPCServer) loaderRetry(ctx context.Context) (*common.RetryResult, error) {
	var n int
	err := rs.loop.Do(ctx, func(m *bundle.Manager) (err error) {
		n, err = m.Retry()
		return err
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return &common.RetryResult{Retried: n}, nil
}

// loaderReset drops every request, the loaded-asset cache and every
// id handed out so far.
func (rs *RPCServer) loaderReset(ctx context.Context) (*common.EmptyResult, error) {
	err := rs.loop.Do(ctx, func(m *bundle.Manager) error {
		m.RemoveAllRequests()
		clear(rs.tracked)
		return nil
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return &common.EmptyResult{}, nil
}

func (rs *RPCServer) loaderStatus(ctx context.Context) (*common.LoaderStatusResult, error) {
	var res *common.LoaderStatusResult
	err := rs.loop.Do(ctx, func(m *bundle.Manager) error {
		st := m.Stats()
		res = &common.LoaderStatusResult{
			Ready:           st.Ready,
			Pending:         st.Pending,
			Downloading:     st.Downloading,
			Loading:         st.Loading,
			Errors:          st.Errors,
			Bundles:         st.Bundles,
			LiveAssets:      st.LiveAssets,
			LoadedAssets:    st.LoadedAssets,
			ActiveBytes:     st.ActiveBytes,
			MaxRequestBytes: st.MaxRequestBytes,
			Progress:        st.Progress,
			Tracked:         len(rs.tracked),
		}
		if err := m.ManifestErr(); err != nil {
			res.ManifestError = err.Error()
		}
		return nil
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return res, nil
}

// Close shuts down the jrpc2 bridge, releasing internal goroutines.
func (rs *RPCServer) Close() {
	rs.bridge.Close()
}
