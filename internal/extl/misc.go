package extl

import "errors"

const (
	DEF_MODULE_ENTRY = "main.js"
	MANIFEST_FILE    = "manifest.json"
)

// Names of the functions a helper script defines. BUNDLE_OF_CALLBACK,
// URL_OF_CALLBACK and MANIFEST_URL_CALLBACK are required.
const (
	IS_BUNDLE_ASSET_CALLBACK = "isBundleAsset"
	BUNDLE_OF_CALLBACK       = "bundleOf"
	URL_OF_CALLBACK          = "urlOf"
	MANIFEST_URL_CALLBACK    = "manifestUrl"
	COLLECTION_URL_CALLBACK  = "collectionUrl"
)

var (
	ErrInvalidExtension = errors.New("invalid extension")

	ErrCallbackNotDefined = errors.New("callback not defined")
	ErrInvalidReturnType  = errors.New("invalid return type")
	ErrEntrypointNotFound = errors.New("entrypoint not found")
)
