// Package tmpdir owns the process-scoped temporary directory. It is
// created on first use and removed on normal exit.
package tmpdir

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

var (
	mu      sync.Mutex
	dir     string
	created bool
)

// Path returns the process temporary directory, creating it on the
// first call.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	if !created {
		d, err := os.MkdirTemp("", "lineup.")
		if err != nil {
			panic("can't create tmpdir: " + err.Error())
		}
		if err := os.Mkdir(filepath.Join(d, "tmpfiles"), 0o755); err != nil {
			panic("can't create tmpdir/tmpfiles: " + err.Error())
		}
		dir = d
		created = true
	}
	return dir
}

// TmpFile returns a fresh file path under the process tmpdir. The file
// itself is not created.
func TmpFile() string {
	return filepath.Join(Path(), "tmpfiles", uuid.NewString())
}

// Cleanup removes the tmpdir if it was ever created. Removal failures
// are ignored.
func Cleanup() {
	mu.Lock()
	defer mu.Unlock()
	if created {
		_ = os.RemoveAll(dir)
		created = false
		dir = ""
	}
}
