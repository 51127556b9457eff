// Package store implements the versioned document store: a registry of
// namespaces, each holding an ordered, duplicate-free set of text documents
// and an immutable history of snapshots that can be listed and restored.
//
// A Registry is the entry point. It hands out DocumentStore handles bound to
// one namespace. Durable state lives in a Backend; three are provided (json
// files, SQLite, memory) and selected with NewBackend.
package store

import "time"

const (
	// NoDescription is recorded when a snapshot is created without a
	// description.
	NoDescription = "no description"

	// MetadataUnavailable replaces the description of a snapshot whose
	// record could not be read while listing.
	MetadataUnavailable = "metadata unavailable"
)

// AddResult reports the outcome of a successful AddItem.
type AddResult int

const (
	// Added means the text was appended to the document set.
	Added AddResult = iota
	// AlreadyPresent means an identical text was already stored; nothing
	// changed.
	AlreadyPresent
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already present"
	default:
		return "unknown"
	}
}

// SnapshotInfo is the metadata of a snapshot.
type SnapshotInfo struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Description   string    `json:"description"`
	DocumentCount int       `json:"document_count"`
	// Unavailable is set when the snapshot record exists but could not be
	// read. Description is then MetadataUnavailable.
	Unavailable bool `json:"unavailable,omitempty"`
}

// Snapshot is a full, immutable copy of a document set.
type Snapshot struct {
	SnapshotInfo
	Documents []string `json:"documents"`
}

// Backend is the durable storage behind a Registry. Implementations classify
// failures with the package sentinels (ErrNotFound, ErrAlreadyExists,
// ErrInvalidState, ErrIO) and make every mutation atomic: after a failed
// call the stored state is exactly what it was before.
//
// Namespace names and snapshot IDs are validated by the caller.
type Backend interface {
	// CreateNamespace provisions an empty document set and snapshot history.
	CreateNamespace(name string, createdAt time.Time) error

	// NamespaceExists reports whether name is provisioned.
	NamespaceExists(name string) (bool, error)

	// DeleteNamespace removes a namespace with its documents and snapshots.
	DeleteNamespace(name string) error

	// ListNamespaces returns every provisioned namespace, sorted.
	ListNamespaces() ([]string, error)

	// Documents returns the current document set in insertion order.
	Documents(namespace string) ([]string, error)

	// AppendDocument appends text unless an identical text is present.
	// It reports whether the set changed.
	AppendDocument(namespace, text string) (bool, error)

	// CreateSnapshot copies the current document set into a new snapshot
	// described by info. DocumentCount is ignored.
	CreateSnapshot(namespace string, info SnapshotInfo) error

	// PutSnapshot records a snapshot with the given content.
	PutSnapshot(namespace string, snap Snapshot) error

	// GetSnapshot returns a full snapshot.
	GetSnapshot(namespace, id string) (Snapshot, error)

	// ListSnapshots returns the metadata of every snapshot in no particular
	// order. Unreadable records are reported with Unavailable set.
	ListSnapshots(namespace string) ([]SnapshotInfo, error)

	// RestoreSnapshot replaces the current document set with the content of
	// snapshot id.
	RestoreSnapshot(namespace, id string) error

	// DeleteSnapshot removes one snapshot record.
	DeleteSnapshot(namespace, id string) error

	// Close releases backend resources.
	Close() error
}
