package extl

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	requirePkg "github.com/dop251/goja_nodejs/require"
	"github.com/spf13/afero"

	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

// Runtime is a js runtime whose require() and console are bound to a
// module directory and a logger.
type Runtime struct {
	*requirePkg.RequireModule
	*goja.Runtime
	l logger.Logger
}

// NewRuntime creates a runtime that loads required files from fs.
func NewRuntime(l logger.Logger, fs afero.Fs) (*Runtime, error) {
	if l == nil {
		l = logger.NewNopLogger()
	}
	registry := requirePkg.NewRegistry(requirePkg.WithLoader(sourceLoader(fs)))
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(printer{l}))
	runtime := goja.New()
	runtime.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	reqM := registry.Enable(runtime)
	console.Enable(runtime)
	return &Runtime{
		Runtime:       runtime,
		RequireModule: reqM,
		l:             l,
	}, nil
}

func sourceLoader(fs afero.Fs) requirePkg.SourceLoader {
	return func(p string) ([]byte, error) {
		b, err := afero.ReadFile(fs, path.Clean("/"+p))
		if errors.Is(err, os.ErrNotExist) {
			return nil, requirePkg.ModuleFileDoesNotExistError
		}
		return b, err
	}
}

// call invokes the global function name with args.
func (r *Runtime) call(name string, args ...any) (goja.Value, error) {
	fn, ok := goja.AssertFunction(r.Get(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallbackNotDefined, name)
	}
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = r.ToValue(a)
	}
	return fn(goja.Undefined(), vals...)
}

func (r *Runtime) defines(name string) bool {
	_, ok := goja.AssertFunction(r.Get(name))
	return ok
}

// printer routes console output to the logger.
type printer struct{ l logger.Logger }

func (p printer) Log(s string)   { p.l.Info("%s", s) }
func (p printer) Warn(s string)  { p.l.Warning("%s", s) }
func (p printer) Error(s string) { p.l.Error("%s", s) }
