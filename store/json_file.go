package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stevemurr/knowledge-vault/internal/fs"
	"github.com/stevemurr/knowledge-vault/schema"
)

// JsonFileStore keeps each namespace in its own directory.
//
// Layout:
//
//	data_dir/
//	  .registry.lock
//	  bot1/
//	    .lock
//	    namespace.json          # {"name", "created_at"}
//	    documents.json          # {"documents": [...]}
//	    snapshots/
//	      snap_<uuidv7>.json    # {"id", "created_at", "description", "documents"}
//
// Every file is replaced by writing a temporary sibling, syncing it and
// renaming it over the target, so readers see either the old or the new
// content. Mutations of a namespace hold an exclusive flock on its .lock
// file; namespace creation and deletion also hold .registry.lock.
// Namespaces are built in a .staging-* directory and renamed into place, and
// deleted by renaming them to .trash-* first. Leftover staging and trash
// directories are removed when the store is opened.
type JsonFileStore struct {
	mu     sync.RWMutex
	dir    string
	fs     fs.FileSystem
	logger *slog.Logger
}

const (
	namespaceFile    = "namespace.json"
	documentsFile    = "documents.json"
	snapshotsDir     = "snapshots"
	lockFileName     = ".lock"
	registryLockName = ".registry.lock"
	stagingPrefix    = ".staging-"
	trashPrefix      = ".trash-"
	snapshotExt      = ".json"
)

type namespaceRecord struct {
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type documentSetRecord struct {
	Documents []string `json:"documents"`
}

type snapshotRecord struct {
	ID          string   `json:"id"`
	CreatedAt   string   `json:"created_at"`
	Description string   `json:"description"`
	Documents   []string `json:"documents"`
}

var _ Backend = (*JsonFileStore)(nil)

func NewJsonFileStore(dir string, opts ...Option) (*JsonFileStore, error) {
	o := applyOptions(opts)
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, ioError(err)
	}
	s := &JsonFileStore{dir: dir, fs: o.fs, logger: o.logger.With("backend", "json")}
	s.sweep()
	return s, nil
}

func (s *JsonFileStore) namespacePath(name string) string { return filepath.Join(s.dir, name) }
func (s *JsonFileStore) markerPath(name string) string {
	return filepath.Join(s.dir, name, namespaceFile)
}
func (s *JsonFileStore) documentsPath(name string) string {
	return filepath.Join(s.dir, name, documentsFile)
}
func (s *JsonFileStore) snapshotsPath(name string) string {
	return filepath.Join(s.dir, name, snapshotsDir)
}
func (s *JsonFileStore) snapshotPath(name, id string) string {
	return filepath.Join(s.dir, name, snapshotsDir, id+snapshotExt)
}

func token() string { return uuid.NewString() }

// sweep removes what interrupted writes left behind: staging and trash
// directories of namespace creates and deletes, and temporary files inside
// each namespace. It holds the same locks as the writers it cleans up after.
func (s *JsonFileStore) sweep() {
	unlock, err := s.lockRegistry()
	if err != nil {
		s.logger.Warn("sweep skipped", "error", err)
		return
	}
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		unlock()
		s.logger.Warn("sweep skipped", "error", err)
		return
	}
	var namespaces []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, stagingPrefix) && !strings.HasPrefix(name, trashPrefix) {
			if e.IsDir() && ValidateName(name) == nil {
				namespaces = append(namespaces, name)
			}
			continue
		}
		path := filepath.Join(s.dir, name)
		if err := s.fs.RemoveAll(path); err != nil {
			s.logger.Warn("leftover directory not removed", "path", path, "error", err)
			continue
		}
		s.logger.Info("removed leftover directory", "path", path)
	}
	unlock()

	for _, name := range namespaces {
		s.sweepNamespace(name)
	}
}

func (s *JsonFileStore) sweepNamespace(name string) {
	if ok, err := s.exists(s.markerPath(name)); err != nil || !ok {
		return
	}
	unlock, err := lockFile(s.fs, filepath.Join(s.namespacePath(name), lockFileName))
	if err != nil {
		s.logger.Warn("namespace sweep skipped", "namespace", name, "error", err)
		return
	}
	defer unlock()
	for _, dir := range []string{s.namespacePath(name), s.snapshotsPath(name)} {
		entries, err := s.fs.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("namespace sweep skipped", "dir", dir, "error", err)
			}
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.Contains(e.Name(), fs.TempMarker) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := s.fs.Remove(path); err != nil {
				s.logger.Warn("leftover file not removed", "path", path, "error", err)
				continue
			}
			s.logger.Info("removed leftover file", "path", path)
		}
	}
}

func (s *JsonFileStore) exists(path string) (bool, error) {
	_, err := s.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *JsonFileStore) requireNamespace(name string) error {
	ok, err := s.markerMatches(name)
	if err != nil {
		return err
	}
	if !ok {
		return classified(ErrNotFound, "namespace %q does not exist", name)
	}
	return nil
}

// readMarker loads and validates the namespace.json marker in the
// directory for name. A missing marker is reported as ok == false.
func (s *JsonFileStore) readMarker(name string) (rec namespaceRecord, ok bool, err error) {
	err = s.readFile(s.markerPath(name), schema.ValidateNamespace, &rec)
	if errors.Is(err, os.ErrNotExist) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, ioError(fmt.Errorf("namespace marker of %q: %w", name, err))
	}
	return rec, true, nil
}

// markerMatches reports whether the directory for name holds that
// namespace. On case-insensitive filesystems "BOT1" resolves to the
// directory of "bot1", whose marker names "bot1".
func (s *JsonFileStore) markerMatches(name string) (bool, error) {
	rec, ok, err := s.readMarker(name)
	if err != nil || !ok {
		return false, err
	}
	return rec.Name == name, nil
}

// readFile loads and validates a JSON record. Missing files are returned
// unclassified so callers can decide what absence means.
func (s *JsonFileStore) readFile(path string, validate func([]byte) error, v any) error {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return err
	}
	if err := validate(data); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// saveFile atomically replaces path with the JSON encoding of v.
func (s *JsonFileStore) saveFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := fs.WriteFileAtomic(s.fs, path, b, 0o644); err != nil {
		return err
	}
	s.syncDir(filepath.Dir(path))
	return nil
}

// syncDir is best-effort: the rename already happened, so failing the
// operation here would misreport its outcome.
func (s *JsonFileStore) syncDir(dir string) {
	if err := fs.SyncDir(s.fs, dir); err != nil {
		s.logger.Warn("directory sync failed", "dir", dir, "error", err)
	}
}

func (s *JsonFileStore) lockRegistry() (func(), error) {
	unlock, err := lockFile(s.fs, filepath.Join(s.dir, registryLockName))
	if err != nil {
		return nil, ioError(err)
	}
	return unlock, nil
}

// lockNamespace takes the namespace flock and checks the namespace still
// exists once the lock is held.
func (s *JsonFileStore) lockNamespace(name string) (func(), error) {
	unlock, err := lockFile(s.fs, filepath.Join(s.namespacePath(name), lockFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, classified(ErrNotFound, "namespace %q does not exist", name)
		}
		return nil, ioError(err)
	}
	if err := s.requireNamespace(name); err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

func (s *JsonFileStore) CreateNamespace(name string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockRegistry()
	if err != nil {
		return err
	}
	defer unlock()

	ok, err := s.exists(s.namespacePath(name))
	if err != nil {
		return ioError(err)
	}
	if ok {
		if rec, found, _ := s.readMarker(name); found && rec.Name != name {
			return classified(ErrIO, "storage location of namespace %q is held by %q on a case-insensitive filesystem", name, rec.Name)
		}
		return classified(ErrAlreadyExists, "namespace %q already exists", name)
	}

	staging := filepath.Join(s.dir, stagingPrefix+name+"-"+token())
	discard := func() {
		if err := s.fs.RemoveAll(staging); err != nil {
			s.logger.Warn("staging directory not removed", "path", staging, "error", err)
		}
	}
	if err := s.fs.MkdirAll(filepath.Join(staging, snapshotsDir), 0o755); err != nil {
		discard()
		return ioError(err)
	}
	if err := s.saveFile(filepath.Join(staging, documentsFile), documentSetRecord{Documents: []string{}}); err != nil {
		discard()
		return ioError(err)
	}
	marker := namespaceRecord{Name: name, CreatedAt: createdAt.UTC().Format(time.RFC3339Nano)}
	if err := s.saveFile(filepath.Join(staging, namespaceFile), marker); err != nil {
		discard()
		return ioError(err)
	}
	if err := s.fs.Rename(staging, s.namespacePath(name)); err != nil {
		discard()
		if errors.Is(err, os.ErrExist) {
			return classified(ErrAlreadyExists, "namespace %q already exists", name)
		}
		return ioError(err)
	}
	s.syncDir(s.dir)
	return nil
}

func (s *JsonFileStore) NamespaceExists(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markerMatches(name)
}

func (s *JsonFileStore) DeleteNamespace(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlockRegistry, err := s.lockRegistry()
	if err != nil {
		return err
	}
	defer unlockRegistry()

	unlock, err := s.lockNamespace(name)
	if err != nil {
		return err
	}
	// The rename is the commit point: before it the namespace is intact,
	// after it the namespace is gone even if removing the data fails.
	trash := filepath.Join(s.dir, trashPrefix+name+"-"+token())
	err = s.fs.Rename(s.namespacePath(name), trash)
	unlock()
	if err != nil {
		return ioError(err)
	}
	s.syncDir(s.dir)
	if err := s.fs.RemoveAll(trash); err != nil {
		s.logger.Warn("deleted namespace data left behind, removed on next open", "namespace", name, "path", trash, "error", err)
	}
	return nil
}

func (s *JsonFileStore) ListNamespaces() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, ioError(err)
	}
	names := []string{}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || ValidateName(name) != nil {
			continue
		}
		rec, ok, err := s.readMarker(name)
		switch {
		case err != nil:
			// Listed so the damage is visible; opening it reports the error.
			s.logger.Warn("namespace marker unreadable", "namespace", name, "error", err)
			names = append(names, name)
		case ok && rec.Name == name:
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *JsonFileStore) loadDocuments(name string) ([]string, error) {
	var rec documentSetRecord
	err := s.readFile(s.documentsPath(name), schema.ValidateDocumentSet, &rec)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.requireNamespace(name); err != nil {
			return nil, err
		}
		return nil, classified(ErrInvalidState, "document set of %q is not initialized", name)
	}
	if err != nil {
		return nil, ioError(fmt.Errorf("document set of %q: %w", name, err))
	}
	if rec.Documents == nil {
		rec.Documents = []string{}
	}
	return rec.Documents, nil
}

func (s *JsonFileStore) Documents(namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadDocuments(namespace)
}

func (s *JsonFileStore) AppendDocument(namespace, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockNamespace(namespace)
	if err != nil {
		return false, err
	}
	defer unlock()

	docs, err := s.loadDocuments(namespace)
	if err != nil {
		return false, err
	}
	// The whole file is read on every add anyway, so a linear scan costs
	// no more than building an index would.
	if slices.Contains(docs, text) {
		return false, nil
	}
	docs = append(docs, text)
	if err := s.saveFile(s.documentsPath(namespace), documentSetRecord{Documents: docs}); err != nil {
		return false, ioError(err)
	}
	return true, nil
}

func (s *JsonFileStore) CreateSnapshot(namespace string, info SnapshotInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockNamespace(namespace)
	if err != nil {
		return err
	}
	defer unlock()

	docs, err := s.loadDocuments(namespace)
	if err != nil {
		return err
	}
	return s.writeSnapshot(namespace, Snapshot{SnapshotInfo: info, Documents: docs})
}

func (s *JsonFileStore) PutSnapshot(namespace string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockNamespace(namespace)
	if err != nil {
		return err
	}
	defer unlock()
	return s.writeSnapshot(namespace, snap)
}

func (s *JsonFileStore) writeSnapshot(namespace string, snap Snapshot) error {
	path := s.snapshotPath(namespace, snap.ID)
	ok, err := s.exists(path)
	if err != nil {
		return ioError(err)
	}
	if ok {
		return classified(ErrAlreadyExists, "snapshot %q already exists", snap.ID)
	}
	if err := s.fs.MkdirAll(s.snapshotsPath(namespace), 0o755); err != nil {
		return ioError(err)
	}
	docs := snap.Documents
	if docs == nil {
		docs = []string{}
	}
	rec := snapshotRecord{
		ID:          snap.ID,
		CreatedAt:   snap.CreatedAt.UTC().Format(time.RFC3339Nano),
		Description: snap.Description,
		Documents:   docs,
	}
	if err := s.saveFile(path, rec); err != nil {
		return ioError(err)
	}
	return nil
}

func (s *JsonFileStore) readSnapshot(namespace, id string) (Snapshot, error) {
	var rec snapshotRecord
	err := s.readFile(s.snapshotPath(namespace, id), schema.ValidateSnapshot, &rec)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.requireNamespace(namespace); err != nil {
			return Snapshot{}, err
		}
		return Snapshot{}, classified(ErrNotFound, "snapshot %q does not exist", id)
	}
	if err != nil {
		return Snapshot{}, ioError(fmt.Errorf("snapshot %q: %w", id, err))
	}
	if rec.ID != id {
		return Snapshot{}, classified(ErrIO, "snapshot %q: record carries id %q", id, rec.ID)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return Snapshot{}, ioError(fmt.Errorf("snapshot %q: %w", id, err))
	}
	return Snapshot{
		SnapshotInfo: SnapshotInfo{
			ID:            rec.ID,
			CreatedAt:     createdAt,
			Description:   rec.Description,
			DocumentCount: len(rec.Documents),
		},
		Documents: rec.Documents,
	}, nil
}

func (s *JsonFileStore) GetSnapshot(namespace, id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readSnapshot(namespace, id)
}

func (s *JsonFileStore) ListSnapshots(namespace string) ([]SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireNamespace(namespace); err != nil {
		return nil, err
	}
	entries, err := s.fs.ReadDir(s.snapshotsPath(namespace))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []SnapshotInfo{}, nil
		}
		return nil, ioError(err)
	}
	infos := make([]SnapshotInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		id := strings.TrimSuffix(name, snapshotExt)
		snap, err := s.readSnapshot(namespace, id)
		switch {
		case err == nil:
			infos = append(infos, snap.SnapshotInfo)
		case errors.Is(err, ErrNotFound):
			// deleted between ReadDir and the read
		default:
			s.logger.Warn("snapshot record unreadable", "namespace", namespace, "snapshot", id, "error", err)
			infos = append(infos, SnapshotInfo{ID: id, Description: MetadataUnavailable, Unavailable: true})
		}
	}
	return infos, nil
}

func (s *JsonFileStore) RestoreSnapshot(namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockNamespace(namespace)
	if err != nil {
		return err
	}
	defer unlock()

	snap, err := s.readSnapshot(namespace, id)
	if err != nil {
		return err
	}
	if snap.Documents == nil {
		snap.Documents = []string{}
	}
	if err := s.saveFile(s.documentsPath(namespace), documentSetRecord{Documents: snap.Documents}); err != nil {
		return ioError(err)
	}
	return nil
}

func (s *JsonFileStore) DeleteSnapshot(namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lockNamespace(namespace)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.fs.Remove(s.snapshotPath(namespace, id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return classified(ErrNotFound, "snapshot %q does not exist", id)
		}
		return ioError(err)
	}
	s.syncDir(s.snapshotsPath(namespace))
	return nil
}

func (s *JsonFileStore) Close() error { return nil }
