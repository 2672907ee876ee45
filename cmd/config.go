package cmd

import "time"

const (
	DEF_MANIFEST      = "manifest.yaml"
	DEF_ROOT          = "Assets/Bundles"
	DEF_EXT           = ".bundle"
	DEF_TICK          = 20 * time.Millisecond
	DEF_WAIT          = 10 * time.Minute
	DEF_PRUNE_CRON    = "@daily"
	DEF_PRUNE_MAX_AGE = 30 * 24 * time.Hour
)

const DESCRIPTION = `
abm resolves asset bundles and their dependencies from a manifest,
fetches them over http, ftp, sftp or from local files, and extracts
assets from them. Fetched bundles can be kept in a versioned cache,
and a long-running loader can be driven over JSON-RPC.
`

const (
	FetchDescription = `The fetch command loads the manifest, requests every given
asset (or whole bundle) together with its dependencies, and
waits until all of them settle. Extracted assets are written
to the output directory.

Example:
        abm fetch -u https://cdn.example.com/v1 Assets/Bundles/ui/title.png
        abm fetch -u file:///srv/bundles -b ui -b chars/hero --out ./out

`
	CheckDescription = `The check command parses a manifest and an optional bundle-info
collection and prints every bundle with its dependency chain in
the order the loader resolves it. Cycles and unknown dependencies
are reported.

Example:
        abm check manifest.yaml collection.yaml

`
	CacheDescription = `The cache command inspects and maintains the bundle cache.

Example:
        abm cache list --cache-dir ~/.cache/abm
        abm cache prune --older-than 168h
        abm cache clear

`
	CredsDescription = `The creds command stores logins for ftp and sftp hosts in the
system keyring. They are used for bundle URLs without userinfo.

Example:
        abm creds set files.example.com deploy
        abm creds delete files.example.com

`
	ServeDescription = `The serve command runs a loader that is driven over JSON-RPC 2.0,
both over HTTP POST and WebSocket. WebSocket clients also receive
bundle.error notifications. Every call needs the bearer secret.

Example:
        abm serve -u https://cdn.example.com/v1 --secret s3cret

`
)
