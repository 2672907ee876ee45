package abmcli

import (
	"context"

	"github.com/tani-shi/assetbundle-manager/common"
)

func invoke[T any](ctx context.Context, c *Client, method string, params any) (*T, error) {
	var res T
	if err := c.rpc.CallResult(ctx, method, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetVersion(ctx context.Context) (*common.VersionResult, error) {
	return invoke[common.VersionResult](ctx, c, common.MethodGetVersion, nil)
}

// AddAsset requests an asset and returns the id of the request.
func (c *Client) AddAsset(ctx context.Context, p *common.AssetAddParams) (string, error) {
	res, err := invoke[common.RequestIDResult](ctx, c, common.MethodAssetAdd, p)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

// DownloadBundle loads a bundle without extracting anything.
func (c *Client) DownloadBundle(ctx context.Context, bundle string) (string, error) {
	res, err := invoke[common.RequestIDResult](ctx, c, common.MethodBundleDownload, &common.BundleDownloadParams{Bundle: bundle})
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) AssetStatus(ctx context.Context, id string) (*common.AssetStatusResult, error) {
	return invoke[common.AssetStatusResult](ctx, c, common.MethodAssetStatus, &common.RequestIDParam{ID: id})
}

func (c *Client) RemoveAsset(ctx context.Context, id string) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodAssetRemove, &common.RequestIDParam{ID: id})
	return err
}

// Retry restarts failed bundles and returns how many were restarted.
func (c *Client) Retry(ctx context.Context) (int, error) {
	res, err := invoke[common.RetryResult](ctx, c, common.MethodLoaderRetry, nil)
	if err != nil {
		return 0, err
	}
	return res.Retried, nil
}

func (c *Client) Reset(ctx context.Context) error {
	_, err := invoke[common.EmptyResult](ctx, c, common.MethodLoaderReset, nil)
	return err
}

func (c *Client) LoaderStatus(ctx context.Context) (*common.LoaderStatusResult, error) {
	return invoke[common.LoaderStatusResult](ctx, c, common.MethodLoaderStatus, nil)
}
