// Package safego runs background work with panic recovery.
package safego

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

// Go runs fn in a goroutine. A panic is recovered, logged with its stack
// under name when l is non-nil, and handed to onPanic when that is
// non-nil. wg, if non-nil, is decremented when fn returns or panics.
func Go(l logger.Logger, wg *sync.WaitGroup, name string, onPanic func(r interface{}), fn func()) {
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer func() {
			if r := recover(); r != nil {
				if l != nil {
					l.Error("PANIC [%s]: %v\n%s", name, r, debug.Stack())
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// PanicError converts a recovered value into an error.
func PanicError(name string, r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic in %s: %w", name, err)
	}
	return fmt.Errorf("panic in %s: %v", name, r)
}
