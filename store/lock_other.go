//go:build !unix

package store

import (
	"os"

	"github.com/stevemurr/knowledge-vault/internal/fs"
)

// lockFile only checks that the lock file can be opened. Without flock the
// json backend relies on its in-process mutex.
func lockFile(fsys fs.FileSystem, path string) (func(), error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return func() { _ = f.Close() }, nil
}
