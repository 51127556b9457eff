package store

import (
	"log/slog"
	"slices"
	"time"
)

// InitialSnapshotDescription describes the snapshot taken by CreateWith when
// CreateOptions.InitialSnapshot is set.
const InitialSnapshotDescription = "initial_creation"

// Registry owns the set of namespaces and hands out DocumentStore handles.
// It is safe for concurrent use when its Backend is.
type Registry struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	newID   IDGenerator
}

// NewRegistry wraps a backend. Options set the logger, clock and snapshot ID
// generator.
func NewRegistry(b Backend, opts ...Option) *Registry {
	o := applyOptions(opts)
	return &Registry{
		backend: b,
		logger:  o.logger,
		now:     o.now,
		newID:   o.newID,
	}
}

// Open builds the named backend rooted at dataDir and wraps it in a
// Registry. See NewBackend for the supported kinds.
func Open(kind, dataDir string, opts ...Option) (*Registry, error) {
	b, err := NewBackend(kind, dataDir, opts...)
	if err != nil {
		return nil, err
	}
	return NewRegistry(b, opts...), nil
}

// Backend returns the storage behind the registry.
func (r *Registry) Backend() Backend { return r.backend }

// Close releases the backend.
func (r *Registry) Close() error {
	return wrap("close", "", "", r.backend.Close())
}

// CreateOptions tune CreateWith.
type CreateOptions struct {
	// InitialSnapshot takes a snapshot right after provisioning (and after
	// Populate), described by InitialSnapshotDescription.
	InitialSnapshot bool
	// Populate fills the new namespace before the initial snapshot.
	Populate func(ds *DocumentStore) error
}

// Create provisions a new namespace with an empty document set and an empty
// snapshot history.
func (r *Registry) Create(name string) (*DocumentStore, error) {
	const op = "create namespace"
	if err := ValidateName(name); err != nil {
		return nil, wrap(op, name, "", err)
	}
	if err := r.backend.CreateNamespace(name, r.now().UTC()); err != nil {
		return nil, wrap(op, name, "", err)
	}
	r.logger.Info("namespace created", "namespace", name)
	return r.bind(name), nil
}

// CreateWith is Create plus caller-level conveniences. If Populate or the
// initial snapshot fails the namespace is removed again and that error is
// returned.
func (r *Registry) CreateWith(name string, co CreateOptions) (*DocumentStore, error) {
	ds, err := r.Create(name)
	if err != nil {
		return nil, err
	}
	if co.Populate != nil {
		if err := co.Populate(ds); err != nil {
			r.discard(name, "populate", err)
			return nil, err
		}
	}
	if co.InitialSnapshot {
		if _, err := ds.CreateSnapshot(InitialSnapshotDescription); err != nil {
			r.discard(name, "initial snapshot", err)
			return nil, err
		}
	}
	return ds, nil
}

func (r *Registry) discard(name, step string, cause error) {
	r.logger.Warn("removing namespace after failed "+step, "namespace", name, "error", cause)
	if err := r.backend.DeleteNamespace(name); err != nil {
		r.logger.Error("cleanup after failed "+step, "namespace", name, "error", err)
	}
}

// Open returns a handle for an existing namespace. It never creates one.
func (r *Registry) Open(name string) (*DocumentStore, error) {
	const op = "open namespace"
	if err := ValidateName(name); err != nil {
		return nil, wrap(op, name, "", err)
	}
	ok, err := r.backend.NamespaceExists(name)
	if err != nil {
		return nil, wrap(op, name, "", err)
	}
	if !ok {
		return nil, wrap(op, name, "", classified(ErrNotFound, "namespace %q does not exist", name))
	}
	return r.bind(name), nil
}

// Exists reports whether a namespace is provisioned. Malformed names are
// reported as absent.
func (r *Registry) Exists(name string) (bool, error) {
	if ValidateName(name) != nil {
		return false, nil
	}
	ok, err := r.backend.NamespaceExists(name)
	return ok, wrap("namespace exists", name, "", err)
}

// Delete irreversibly removes a namespace, its document set and every
// snapshot. On failure the namespace is still present and the call can be
// retried.
func (r *Registry) Delete(name string) error {
	const op = "delete namespace"
	if err := ValidateName(name); err != nil {
		return wrap(op, name, "", err)
	}
	if err := r.backend.DeleteNamespace(name); err != nil {
		return wrap(op, name, "", err)
	}
	r.logger.Info("namespace deleted", "namespace", name)
	return nil
}

// List returns namespace names in lexicographic order. It returns an empty
// slice when there are none.
func (r *Registry) List() ([]string, error) {
	names, err := r.backend.ListNamespaces()
	if err != nil {
		return nil, wrap("list namespaces", "", "", err)
	}
	if names == nil {
		names = []string{}
	}
	slices.Sort(names)
	return names, nil
}

func (r *Registry) bind(name string) *DocumentStore {
	return &DocumentStore{
		name:    name,
		backend: r.backend,
		logger:  r.logger.With("namespace", name),
		now:     r.now,
		newID:   r.newID,
	}
}
