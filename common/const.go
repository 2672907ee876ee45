// Package common holds the JSON-RPC method names and wire types shared
// by the loader daemon and its clients.
package common

// JSON-RPC methods served by the daemon.
const (
	MethodGetVersion     = "system.getVersion"
	MethodAssetAdd       = "asset.add"
	MethodAssetStatus    = "asset.status"
	MethodAssetRemove    = "asset.remove"
	MethodBundleDownload = "bundle.download"
	MethodLoaderRetry    = "loader.retry"
	MethodLoaderReset    = "loader.reset"
	MethodLoaderStatus   = "loader.status"
)

// NotifyBundleError is pushed to WebSocket clients when a bundle
// exhausts its retries.
const NotifyBundleError = "bundle.error"

const (
	DefaultListenAddr = "127.0.0.1:3851"

	RPCPath   = "/jsonrpc"
	RPCWSPath = "/jsonrpc/ws"
)
