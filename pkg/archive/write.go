package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// Entry is one file of a bundle being written. Sub-assets use
// SubAssetName to build their entry name.
type Entry struct {
	Name string
	Data []byte
}

// SubAssetName returns the entry name of sub-asset sub of asset.
func SubAssetName(asset, sub string) string {
	return asset + "#" + sub
}

// Write stores entries as a deflated zip container in w.
func Write(w io.Writer, entries ...Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		fw, err := zw.Create(e.Name)
		if err != nil {
			return fmt.Errorf("create %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return fmt.Errorf("write %s: %w", e.Name, err)
		}
	}
	return zw.Close()
}

// Pack is Write into a new byte slice.
func Pack(entries ...Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, entries...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
