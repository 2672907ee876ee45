// debug/extl is a cli tool to debug asset helper modules of abm.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tani-shi/assetbundle-manager/internal/extl"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

const HELP = `debug/extl is a cli tool to debug asset helper modules of abm.

Usage:
  debug/extl <module dir> [command] [args...]

Commands:
  help     Show this help message and exit.
  info     Print the manifest and collection urls of the module.
  bundle   Print the bundle each asset path belongs to.
  url      Print the url of each bundle.
`

var errMissingArgs = errors.New("missing arguments")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, w io.Writer) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		fmt.Fprintln(w, HELP)
		return nil
	}
	l := logger.NewStandardLogger(log.New(os.Stderr, "extl: ", 0))
	h, err := extl.LoadHelper(l, args[0])
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	cmd := "info"
	if len(args) > 1 {
		cmd = args[1]
	}
	rest := args[min(len(args), 2):]
	switch cmd {
	case "info":
		fmt.Fprintf(w, "manifest:   %s\n", h.ManifestURL())
		fmt.Fprintf(w, "collection: %s\n", h.CollectionURL())
	case "bundle":
		if len(rest) == 0 {
			return fmt.Errorf("bundle: %w", errMissingArgs)
		}
		for _, a := range rest {
			if !h.IsBundleAsset(a) {
				fmt.Fprintf(w, "%s: not bundled\n", a)
				continue
			}
			fmt.Fprintf(w, "%s: %s\n", a, h.BundleOf(a))
		}
	case "url":
		if len(rest) == 0 {
			return fmt.Errorf("url: %w", errMissingArgs)
		}
		for _, b := range rest {
			fmt.Fprintf(w, "%s: %s\n", b, h.URLOf(b))
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
