package store

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]*memNamespace
}

type memNamespace struct {
	createdAt time.Time
	docs      []string
	index     map[string]struct{}
	snapshots map[string]Snapshot
}

var _ Backend = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{namespaces: make(map[string]*memNamespace)}
}

func (m *MemoryStore) namespace(name string) (*memNamespace, error) {
	ns, ok := m.namespaces[name]
	if !ok {
		return nil, classified(ErrNotFound, "namespace %q does not exist", name)
	}
	return ns, nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	s.Documents = slices.Clone(s.Documents)
	if s.Documents == nil {
		s.Documents = []string{}
	}
	return s
}

func (m *MemoryStore) CreateNamespace(name string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[name]; ok {
		return classified(ErrAlreadyExists, "namespace %q already exists", name)
	}
	m.namespaces[name] = &memNamespace{
		createdAt: createdAt,
		docs:      []string{},
		index:     make(map[string]struct{}),
		snapshots: make(map[string]Snapshot),
	}
	return nil
}

func (m *MemoryStore) NamespaceExists(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.namespaces[name]
	return ok, nil
}

func (m *MemoryStore) DeleteNamespace(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.namespace(name); err != nil {
		return err
	}
	delete(m.namespaces, name)
	return nil
}

func (m *MemoryStore) ListNamespaces() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Documents(namespace string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, err := m.namespace(namespace)
	if err != nil {
		return nil, err
	}
	return slices.Clone(ns.docs), nil
}

func (m *MemoryStore) AppendDocument(namespace, text string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, err := m.namespace(namespace)
	if err != nil {
		return false, err
	}
	if _, ok := ns.index[text]; ok {
		return false, nil
	}
	ns.docs = append(ns.docs, text)
	ns.index[text] = struct{}{}
	return true, nil
}

func (m *MemoryStore) CreateSnapshot(namespace string, info SnapshotInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, err := m.namespace(namespace)
	if err != nil {
		return err
	}
	if ns.docs == nil {
		return classified(ErrInvalidState, "document set of %q is not initialized", namespace)
	}
	return ns.put(Snapshot{SnapshotInfo: info, Documents: ns.docs})
}

func (m *MemoryStore) PutSnapshot(namespace string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, err := m.namespace(namespace)
	if err != nil {
		return err
	}
	return ns.put(snap)
}

func (ns *memNamespace) put(snap Snapshot) error {
	if _, ok := ns.snapshots[snap.ID]; ok {
		return classified(ErrAlreadyExists, "snapshot %q already exists", snap.ID)
	}
	snap = cloneSnapshot(snap)
	snap.DocumentCount = len(snap.Documents)
	ns.snapshots[snap.ID] = snap
	return nil
}

func (m *MemoryStore) GetSnapshot(namespace, id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, err := m.namespace(namespace)
	if err != nil {
		return Snapshot{}, err
	}
	snap, ok := ns.snapshots[id]
	if !ok {
		return Snapshot{}, classified(ErrNotFound, "snapshot %q does not exist", id)
	}
	return cloneSnapshot(snap), nil
}

func (m *MemoryStore) ListSnapshots(namespace string) ([]SnapshotInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, err := m.namespace(namespace)
	if err != nil {
		return nil, err
	}
	infos := make([]SnapshotInfo, 0, len(ns.snapshots))
	for _, snap := range ns.snapshots {
		infos = append(infos, snap.SnapshotInfo)
	}
	return infos, nil
}

func (m *MemoryStore) RestoreSnapshot(namespace, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, err := m.namespace(namespace)
	if err != nil {
		return err
	}
	snap, ok := ns.snapshots[id]
	if !ok {
		return classified(ErrNotFound, "snapshot %q does not exist", id)
	}
	docs := slices.Clone(snap.Documents)
	index := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		index[d] = struct{}{}
	}
	ns.docs, ns.index = docs, index
	if ns.docs == nil {
		ns.docs = []string{}
	}
	return nil
}

func (m *MemoryStore) DeleteSnapshot(namespace, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, err := m.namespace(namespace)
	if err != nil {
		return err
	}
	if _, ok := ns.snapshots[id]; !ok {
		return classified(ErrNotFound, "snapshot %q does not exist", id)
	}
	delete(ns.snapshots, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
