package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/tani-shi/assetbundle-manager/cmd/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

// buildArgs is reported by "abm version" and by the daemon.
var buildArgs BuildArgs

func Execute(args []string, bArgs BuildArgs) error {
	buildArgs = bArgs
	app := cli.App{
		Name:                  "abm",
		HelpName:              "abm",
		Usage:                 "Dependency-aware asset bundle loader.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "abm <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Commands: []cli.Command{
			{
				Name:                   "fetch",
				Aliases:                []string{"f"},
				Usage:                  "load assets and bundles with their dependencies",
				UsageText:              "[options] <asset path>...",
				Description:            FetchDescription,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				OnUsageError:           common.UsageErrorCallback,
				Action:                 fetch,
				Flags:                  fetchFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:               "check",
				Usage:              "validate a manifest and print dependency chains",
				UsageText:          "<manifest> [collection]",
				Description:        CheckDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             check,
			},
			{
				Name:        "cache",
				Usage:       "inspect and maintain the bundle cache",
				Description: CacheDescription,
				Subcommands: []cli.Command{
					{
						Name:         "list",
						Aliases:      []string{"ls"},
						Usage:        "list cached bundle versions",
						OnUsageError: common.UsageErrorCallback,
						Action:       cacheList,
						Flags:        cacheFlags,
					},
					{
						Name:         "clear",
						Usage:        "remove every cached bundle",
						OnUsageError: common.UsageErrorCallback,
						Action:       cacheClear,
						Flags:        cacheFlags,
					},
					{
						Name:         "prune",
						Usage:        "remove bundles stored before a cutoff",
						OnUsageError: common.UsageErrorCallback,
						Action:       cachePrune,
						Flags:        pruneFlags,
					},
				},
			},
			{
				Name:        "creds",
				Usage:       "manage logins for ftp and sftp hosts",
				Description: CredsDescription,
				Subcommands: []cli.Command{
					{
						Name:         "set",
						Usage:        "store a login",
						UsageText:    "<host> <user>",
						OnUsageError: common.UsageErrorCallback,
						Action:       credsSet,
						Flags:        credsSetFlags,
					},
					{
						Name:         "delete",
						Aliases:      []string{"rm"},
						Usage:        "delete a login",
						UsageText:    "<host>",
						OnUsageError: common.UsageErrorCallback,
						Action:       credsDelete,
					},
				},
			},
			{
				Name:               "serve",
				Usage:              "run a loader driven over JSON-RPC",
				Description:        ServeDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             serve,
				Flags:              serveFlags,
			},
			{
				Name:  "remote",
				Usage: "talk to a running loader",
				Subcommands: []cli.Command{
					{
						Name:      "status",
						Usage:     "show the loader, or one request",
						UsageText: "[request id]",
						Action:    remoteStatus,
						Flags:     remoteFlags,
					},
					{
						Name:      "add",
						Usage:     "request an asset",
						UsageText: "<asset path>",
						Action:    remoteAdd,
						Flags:     remoteAddFlags,
					},
					{
						Name:      "download",
						Usage:     "load a bundle without extracting",
						UsageText: "<bundle>",
						Action:    remoteDownload,
						Flags:     remoteFlags,
					},
					{
						Name:      "remove",
						Usage:     "release a request",
						UsageText: "<request id>",
						Action:    remoteRemove,
						Flags:     remoteFlags,
					},
					{
						Name:   "retry",
						Usage:  "restart failed bundles",
						Action: remoteRetry,
						Flags:  remoteFlags,
					},
					{
						Name:   "reset",
						Usage:  "drop every request",
						Action: remoteReset,
						Flags:  remoteFlags,
					},
				},
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of abm",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
