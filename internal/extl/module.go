package extl

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/spf13/afero"

	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

type Module struct {
	// Name of the module.
	Name string `json:"name"`
	// Version of the module.
	Version string `json:"version"`
	// Description of the module.
	Description string `json:"description"`
	// main file for the module (default: main.js)
	Entrypoint string `json:"entrypoint,omitempty"`
	// files of the module directory, required files resolve against it
	fs      afero.Fs
	runtime *Runtime
	l       logger.Logger
}

// OpenModule reads the manifest of the module stored in dir.
func OpenModule(l logger.Logger, dir string) (*Module, error) {
	return OpenModuleFs(l, afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// OpenModuleFs reads the manifest at the root of fs.
func OpenModuleFs(l logger.Logger, fs afero.Fs) (*Module, error) {
	if l == nil {
		l = logger.NewNopLogger()
	}
	file, err := fs.Open("/" + MANIFEST_FILE)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrInvalidExtension
		}
		return nil, err
	}
	defer file.Close()
	var m = Module{
		fs: fs,
		l:  l,
	}
	err = json.NewDecoder(file).Decode(&m)
	if err != nil {
		return nil, err
	}
	if m.Entrypoint == "" {
		m.Entrypoint = DEF_MODULE_ENTRY
	}
	return &m, nil
}

// Load runs the entrypoint in a fresh runtime and checks that the
// required callbacks are defined.
func (m *Module) Load() error {
	var err error
	m.runtime, err = NewRuntime(m.l, m.fs)
	if err != nil {
		return err
	}
	entry := path.Clean(m.Entrypoint)
	b, err := afero.ReadFile(m.fs, "/"+entry)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrEntrypointNotFound
		}
		return err
	}
	// the script name anchors relative require() paths
	_, err = m.runtime.RunScript(entry, string(b))
	if err != nil {
		return err
	}
	for _, cb := range []string{BUNDLE_OF_CALLBACK, URL_OF_CALLBACK, MANIFEST_URL_CALLBACK} {
		if !m.runtime.defines(cb) {
			return fmt.Errorf("%w: %s", ErrCallbackNotDefined, cb)
		}
	}
	return nil
}
