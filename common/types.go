package common

type VersionResult struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"buildType,omitempty"`
}

// AssetAddParams is the input for asset.add. Bundle defaults to the
// bundle the daemon's helper assigns to Asset.
type AssetAddParams struct {
	Asset    string `json:"asset"`
	SubAsset string `json:"subAsset,omitempty"`
	Bundle   string `json:"bundle,omitempty"`
}

type BundleDownloadParams struct {
	Bundle string `json:"bundle"`
}

// RequestIDResult is returned by methods that create a request.
type RequestIDResult struct {
	ID string `json:"id"`
}

type RequestIDParam struct {
	ID string `json:"id"`
}

// AssetStatusResult describes one tracked request.
type AssetStatusResult struct {
	ID          string  `json:"id"`
	Asset       string  `json:"asset"`
	SubAsset    string  `json:"subAsset,omitempty"`
	Bundle      string  `json:"bundle,omitempty"`
	State       string  `json:"state"`
	BundleState string  `json:"bundleState,omitempty"`
	Progress    float64 `json:"progress"`
	Done        bool    `json:"done"`
	Loaded      bool    `json:"loaded"`
	Error       string  `json:"error,omitempty"`
}

type RetryResult struct {
	Retried int `json:"retried"`
}

// LoaderStatusResult is a snapshot of the scheduler queues.
type LoaderStatusResult struct {
	Ready           bool    `json:"ready"`
	Pending         int     `json:"pending"`
	Downloading     int     `json:"downloading"`
	Loading         int     `json:"loading"`
	Errors          int     `json:"errors"`
	Bundles         int     `json:"bundles"`
	LiveAssets      int     `json:"liveAssets"`
	LoadedAssets    int     `json:"loadedAssets"`
	ActiveBytes     int64   `json:"activeBytes"`
	MaxRequestBytes int64   `json:"maxRequestBytes"`
	Progress        float64 `json:"progress"`
	Tracked         int     `json:"tracked"`
	ManifestError   string  `json:"manifestError,omitempty"`
}

// BundleErrorNotification is the payload of bundle.error.
type BundleErrorNotification struct {
	Bundle  string `json:"bundle"`
	URL     string `json:"url"`
	Retries int    `json:"retries"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error"`

	// Transient is set when the failure may clear on its own, so
	// loader.retry is worth calling.
	Transient bool `json:"transient"`
}

type EmptyResult struct{}
