package archive

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
)

// LocalSource serves unpacked assets from a directory tree, using the
// same naming as the zip layout: "path" for the asset and "path#sub" for
// its sub-assets.
type LocalSource struct {
	fs afero.Fs
}

// NewLocalSource serves assets under root on the OS filesystem.
func NewLocalSource(root string) *LocalSource {
	return NewLocalSourceFs(afero.NewBasePathFs(afero.NewOsFs(), root))
}

// NewLocalSourceFs serves assets from fs.
func NewLocalSourceFs(fs afero.Fs) *LocalSource {
	return &LocalSource{fs: fs}
}

func (s *LocalSource) Exists(asset string) bool {
	fi, err := s.fs.Stat(clean(asset))
	return err == nil && !fi.IsDir()
}

func (s *LocalSource) Load(asset string) ([]bundle.Object, error) {
	name := clean(asset)
	data, err := afero.ReadFile(s.fs, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", bundle.ErrAssetNotFound, asset)
		}
		return nil, err
	}
	objs := []bundle.Object{{Name: objectName(name), Data: data}}

	dir, base := path.Split(name)
	infos, err := afero.ReadDir(s.fs, path.Clean("/"+dir))
	if err != nil {
		return objs, nil
	}
	var subs []string
	for _, fi := range infos {
		if !fi.IsDir() && strings.HasPrefix(fi.Name(), base+"#") {
			subs = append(subs, fi.Name())
		}
	}
	sort.Strings(subs)
	for _, sub := range subs {
		data, err := afero.ReadFile(s.fs, path.Join(dir, sub))
		if err != nil {
			return nil, err
		}
		objs = append(objs, bundle.Object{Name: objectName(sub), Data: data})
	}
	return objs, nil
}

func clean(asset string) string {
	return path.Clean("/" + asset)
}

var _ bundle.LocalSource = (*LocalSource)(nil)
