package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/jrpc2"

	"github.com/tani-shi/assetbundle-manager/common"
	"github.com/tani-shi/assetbundle-manager/internal/loop"
	"github.com/tani-shi/assetbundle-manager/pkg/archive"
	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
	"github.com/tani-shi/assetbundle-manager/pkg/transport"
)

const testSecret = "test-rpc-secret"

// newTestWebServer runs a loop over a manager whose bundles are served
// from memory: "ui" depends on "shared", "broken" always fails and
// "flaky" fails with a transient error. With
// ready false the manager is never initialized.
func newTestWebServer(t *testing.T, ready bool) (*WebServer, http.Handler) {
	t.Helper()
	ui, err := archive.Pack(archive.Entry{Name: "Assets/Bundles/ui/title.txt", Data: []byte("hello")})
	if err != nil {
		t.Fatal(err)
	}
	shared, _ := archive.Pack(archive.Entry{Name: "Assets/Bundles/shared/font.txt", Data: []byte("font")})
	blobs := map[string][]byte{
		"mem://cdn/ui.bundle":     ui,
		"mem://cdn/shared.bundle": shared,
	}
	router, err := transport.NewRouter(transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	router.Register("mem", func(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
		if rawURL == "mem://cdn/flaky.bundle" {
			return nil, 0, transport.NewTransientError("mem", "open", errors.New("connection reset"))
		}
		data, ok := blobs[rawURL]
		if !ok {
			return nil, 0, transport.NewPermanentError("mem", "open", errors.New("no such bundle"))
		}
		return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
	})

	cfg := bundle.DefaultConfig()
	cfg.RetryLimit = 0
	m, err := bundle.NewManager(cfg, bundle.Dependencies{Fetcher: router, Decoder: archive.NewDecoder(nil)})
	if err != nil {
		t.Fatal(err)
	}
	if ready {
		idx, err := bundle.NewIndex(
			bundle.Record{Name: "shared", Hash: "s1"},
			bundle.Record{Name: "ui", Hash: "u1", Dependencies: []string{"shared"}, Assets: []string{"Assets/Bundles/ui/title.txt"}},
			bundle.Record{Name: "broken", Hash: "b1"},
			bundle.Record{Name: "flaky", Hash: "f1"},
		)
		if err != nil {
			t.Fatal(err)
		}
		helper := &bundle.PathHelper{BaseURL: "mem://cdn", Root: "Assets/Bundles", Ext: ".bundle"}
		if err := m.InitializeWithIndex(helper, idx); err != nil {
			t.Fatal(err)
		}
	}

	lp := loop.New(m, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go lp.Run(ctx)

	rs, err := NewRPCServer(ctx, &RPCConfig{
		Secret:    testSecret,
		Version:   "1.0.0",
		Commit:    "abc123",
		BuildType: "release",
	}, lp, nil)
	if err != nil {
		t.Fatalf("NewRPCServer: %v", err)
	}
	t.Cleanup(func() {
		rs.Close()
		cancel()
		<-lp.Stopped()
	})
	ws := NewWebServer(nil, rs, "")
	return ws, ws.handler()
}

// rpcCall posts a JSON-RPC request and returns the HTTP status and the
// decoded response.
func rpcCall(t *testing.T, h http.Handler, method string, params any, token string) (int, map[string]any) {
	t.Helper()
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"id":      1,
	}
	if params != nil {
		reqBody["params"] = params
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, common.RPCPath, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, rr.Body.String())
		}
	}
	return rr.Code, resp
}

// call is rpcCall with the test secret, decoding the result into out.
// It returns the JSON-RPC error code, 0 on success.
func call(t *testing.T, h http.Handler, method string, params, out any) int {
	t.Helper()
	_, resp := rpcCall(t, h, method, params, testSecret)
	if e, ok := resp["error"].(map[string]any); ok {
		return int(e["code"].(float64))
	}
	if out != nil {
		b, _ := json.Marshal(resp["result"])
		if err := json.Unmarshal(b, out); err != nil {
			t.Fatalf("decode %s result: %v", method, err)
		}
	}
	return 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRPCSystemGetVersion(t *testing.T) {
	_, h := newTestWebServer(t, true)
	var v common.VersionResult
	if code := call(t, h, common.MethodGetVersion, nil, &v); code != 0 {
		t.Fatalf("error code %d", code)
	}
	if v.Version != "1.0.0" || v.Commit != "abc123" || v.BuildType != "release" {
		t.Errorf("unexpected version %+v", v)
	}

	status, _ := rpcCall(t, h, common.MethodGetVersion, nil, "")
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", status)
	}
	if code := call(t, h, "nope.method", nil, nil); code != -32601 {
		t.Errorf("expected method not found, got %d", code)
	}
}

func TestRPCAssetLifecycle(t *testing.T) {
	_, h := newTestWebServer(t, true)

	var added common.RequestIDResult
	if code := call(t, h, common.MethodAssetAdd, &common.AssetAddParams{Asset: "Assets/Bundles/ui/title.txt"}, &added); code != 0 {
		t.Fatalf("asset.add error code %d", code)
	}
	if added.ID == "" {
		t.Fatal("expected a request id")
	}

	var st common.AssetStatusResult
	waitFor(t, "asset", func() bool {
		if code := call(t, h, common.MethodAssetStatus, &common.RequestIDParam{ID: added.ID}, &st); code != 0 {
			t.Fatalf("asset.status error code %d", code)
		}
		return st.Done
	})
	if !st.Loaded || st.Bundle != "ui" || st.State != "done" || st.BundleState != "done" || st.Progress != 1 {
		t.Errorf("unexpected status %+v", st)
	}

	var ls common.LoaderStatusResult
	call(t, h, common.MethodLoaderStatus, nil, &ls)
	if !ls.Ready || ls.Bundles != 2 || ls.LoadedAssets != 1 || ls.Tracked != 1 {
		t.Errorf("unexpected loader status %+v", ls)
	}

	if code := call(t, h, common.MethodAssetRemove, &common.RequestIDParam{ID: added.ID}, nil); code != 0 {
		t.Fatalf("asset.remove error code %d", code)
	}
	if code := call(t, h, common.MethodAssetStatus, &common.RequestIDParam{ID: added.ID}, nil); code != int(codeRequestNotFound) {
		t.Errorf("removed request: expected %d, got %d", codeRequestNotFound, code)
	}
	if code := call(t, h, common.MethodAssetRemove, &common.RequestIDParam{ID: added.ID}, nil); code != int(codeRequestNotFound) {
		t.Errorf("double remove: expected %d, got %d", codeRequestNotFound, code)
	}
}

func TestRPCAssetAdd_InvalidParams(t *testing.T) {
	_, h := newTestWebServer(t, true)
	tests := []struct {
		name   string
		method string
		params any
	}{
		{"missing asset", common.MethodAssetAdd, &common.AssetAddParams{}},
		{"unbundled asset", common.MethodAssetAdd, &common.AssetAddParams{Asset: "Assets/Resources/icon.png"}},
		{"unknown bundle", common.MethodAssetAdd, &common.AssetAddParams{Asset: "Assets/Bundles/fx/spark.txt"}},
		{"missing bundle", common.MethodBundleDownload, &common.BundleDownloadParams{}},
		{"unlisted bundle", common.MethodBundleDownload, &common.BundleDownloadParams{Bundle: "fx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := call(t, h, tt.method, tt.params, nil); code != int(codeInvalidParams) {
				t.Errorf("expected %d, got %d", codeInvalidParams, code)
			}
		})
	}
}

func TestRPCNotReady(t *testing.T) {
	_, h := newTestWebServer(t, false)
	if code := call(t, h, common.MethodAssetAdd, &common.AssetAddParams{Asset: "Assets/Bundles/ui/title.txt"}, nil); code != int(codeNotReady) {
		t.Errorf("asset.add: expected %d, got %d", codeNotReady, code)
	}
	if code := call(t, h, common.MethodLoaderRetry, nil, nil); code != int(codeNotReady) {
		t.Errorf("loader.retry: expected %d, got %d", codeNotReady, code)
	}
	var ls common.LoaderStatusResult
	if code := call(t, h, common.MethodLoaderStatus, nil, &ls); code != 0 || ls.Ready {
		t.Errorf("loader.status = %+v, code %d", ls, code)
	}
}

func TestRPCRetryAndReset(t *testing.T) {
	_, h := newTestWebServer(t, true)

	var dl common.RequestIDResult
	if code := call(t, h, common.MethodBundleDownload, &common.BundleDownloadParams{Bundle: "broken"}, &dl); code != 0 {
		t.Fatalf("bundle.download error code %d", code)
	}
	var ls common.LoaderStatusResult
	waitFor(t, "bundle error", func() bool {
		call(t, h, common.MethodLoaderStatus, nil, &ls)
		return ls.Errors == 1
	})

	var st common.AssetStatusResult
	call(t, h, common.MethodAssetStatus, &common.RequestIDParam{ID: dl.ID}, &st)
	if st.BundleState != "error" || !strings.Contains(st.Error, "no such bundle") || st.Loaded {
		t.Errorf("unexpected status %+v", st)
	}

	var rr common.RetryResult
	if code := call(t, h, common.MethodLoaderRetry, nil, &rr); code != 0 || rr.Retried != 1 {
		t.Fatalf("loader.retry = %+v, code %d", rr, code)
	}

	if code := call(t, h, common.MethodLoaderReset, nil, nil); code != 0 {
		t.Fatalf("loader.reset error code %d", code)
	}
	call(t, h, common.MethodLoaderStatus, nil, &ls)
	if ls.Tracked != 0 || ls.Bundles != 0 || ls.Errors != 0 {
		t.Errorf("reset should drop everything, got %+v", ls)
	}
}

func TestRPCError(t *testing.T) {
	tests := []struct {
		err  error
		want jrpc2.Code
	}{
		{bundle.ErrNotReady, codeNotReady},
		{fmt.Errorf("wrapped: %w", bundle.ErrNotBundleAsset), codeInvalidParams},
		{bundle.ErrBundleNotFound, codeInvalidParams},
		{errors.New("disk on fire"), codeInternal},
		{errRequestNotFound, codeRequestNotFound},
	}
	for _, tt := range tests {
		var e *jrpc2.Error
		if !errors.As(rpcError(tt.err), &e) || e.Code != tt.want {
			t.Errorf("rpcError(%v) = %v, want code %d", tt.err, e, tt.want)
		}
	}
}
