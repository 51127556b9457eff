package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stevemurr/knowledge-vault/internal/fs"
)

// ErrNotFound is returned by Sink.Get for a missing key.
var ErrNotFound = errors.New("archive: object not found")

// Sink stores bundles by slash-separated key.
type Sink interface {
	// Put writes data under key, replacing any previous object atomically.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the object stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// DirSink keeps objects as files under a local directory.
type DirSink struct {
	root string
	fs   fs.FileSystem
}

var _ Sink = (*DirSink)(nil)

// NewDirSink returns a sink rooted at root. A nil fsys means the local
// filesystem.
func NewDirSink(root string, fsys fs.FileSystem) *DirSink {
	if fsys == nil {
		fsys = fs.Default
	}
	return &DirSink{root: root, fs: fsys}
}

func (s *DirSink) path(key string) (string, error) {
	clean := path.Clean(key)
	if key == "" || path.IsAbs(key) || clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive: invalid key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *DirSink) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err := fs.WriteFileAtomic(s.fs, p, data, 0o644); err != nil {
		return err
	}
	return fs.SyncDir(s.fs, filepath.Dir(p))
}

func (s *DirSink) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, err
}

func (s *DirSink) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := s.fs.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			key := path.Join(rel, e.Name())
			if e.IsDir() {
				if err := walk(filepath.Join(dir, e.Name()), key); err != nil {
					return err
				}
				continue
			}
			if strings.Contains(e.Name(), fs.TempMarker) {
				continue
			}
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		return nil
	}
	if err := walk(s.root, ""); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *DirSink) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
