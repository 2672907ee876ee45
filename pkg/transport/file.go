package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/afero"
)

// FileOpener opens file:// URLs on fs. The URL path is used as is, so
// fs is usually an afero.BasePathFs over the bundle directory.
func FileOpener(fs afero.Fs) Opener {
	return func(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return nil, 0, NewPermanentError("file", "parse", err)
		}
		p := parsed.Path
		if p == "" {
			p = parsed.Opaque
		}
		if p == "" {
			return nil, 0, NewPermanentError("file", "parse", fmt.Errorf("empty path in %q", rawURL))
		}
		f, err := fs.Open(p)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, 0, NewPermanentError("file", "open", err)
			}
			return nil, 0, NewTransientError("file", "open", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, NewTransientError("file", "stat", err)
		}
		if info.IsDir() {
			f.Close()
			return nil, 0, NewPermanentError("file", "open", fmt.Errorf("%s is a directory", p))
		}
		return f, info.Size(), nil
	}
}
