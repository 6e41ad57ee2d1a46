package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ncruces/go-sqlite3"
	"github.com/tetratelabs/wazero"
)

var runtimeOnce sync.Once

// configureRuntime points the wasm sqlite build at an on-disk compilation
// cache. Compiling the sqlite module costs a few hundred milliseconds;
// caching the compiled form keeps repeated CLI invocations fast. Failures
// here are ignored: the store still works, it just compiles every time.
func configureRuntime() {
	runtimeOnce.Do(func() {
		dir, err := os.UserCacheDir()
		if err != nil {
			return
		}
		cache, err := wazero.NewCompilationCacheWithDir(filepath.Join(dir, "zonesync", "wazero"))
		if err != nil {
			return
		}
		sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	})
}
