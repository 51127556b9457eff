//go:build unix

package store

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/stevemurr/knowledge-vault/internal/fs"
)

// lockFile takes an exclusive advisory flock on path, creating the file if
// needed. flock locks belong to the open file description, so two handles
// in the same process exclude each other just like two processes do.
func lockFile(fsys fs.FileSystem, path string) (func(), error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
