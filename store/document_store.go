package store

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// DocumentStore is a handle bound to one namespace. It is cheap to create
// and holds no state of its own beyond the namespace name; every call goes
// to the backend. Once the namespace is deleted every call fails with
// ErrNotFound.
type DocumentStore struct {
	name    string
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	newID   IDGenerator
}

// Name returns the namespace the handle is bound to.
func (d *DocumentStore) Name() string { return d.name }

// AddItem appends text to the document set and persists it before
// returning. Adding a text that is already present is a successful no-op
// reported as AlreadyPresent.
func (d *DocumentStore) AddItem(text string) (AddResult, error) {
	const op = "add item"
	if text == "" {
		return 0, invalidArgument(op, d.name, "", "text must not be empty")
	}
	if !utf8.ValidString(text) {
		return 0, invalidArgument(op, d.name, "", "text must be valid UTF-8")
	}
	added, err := d.backend.AppendDocument(d.name, text)
	if err != nil {
		return 0, wrap(op, d.name, "", err)
	}
	if !added {
		d.logger.Debug("document already present")
		return AlreadyPresent, nil
	}
	d.logger.Info("document added", "bytes", len(text))
	return Added, nil
}

// Items returns the current document set in insertion order.
func (d *DocumentStore) Items() ([]string, error) {
	docs, err := d.backend.Documents(d.name)
	if err != nil {
		return nil, wrap("get items", d.name, "", err)
	}
	if docs == nil {
		docs = []string{}
	}
	return docs, nil
}

// Query returns, in insertion order, the documents containing text, compared
// case-insensitively. An empty text matches every document.
func (d *DocumentStore) Query(text string) ([]string, error) {
	docs, err := d.backend.Documents(d.name)
	if err != nil {
		return nil, wrap("query", d.name, "", err)
	}
	needle := strings.ToLower(text)
	out := []string{}
	for _, doc := range docs {
		if strings.Contains(strings.ToLower(doc), needle) {
			out = append(out, doc)
		}
	}
	d.logger.Debug("query", "matches", len(out), "count", len(docs))
	return out, nil
}

// CreateSnapshot records an immutable copy of the current document set and
// returns its ID. An empty description is stored as NoDescription.
func (d *DocumentStore) CreateSnapshot(description string) (string, error) {
	const op = "create snapshot"
	info := d.newInfo(description)
	if err := d.backend.CreateSnapshot(d.name, info); err != nil {
		return "", wrap(op, d.name, info.ID, err)
	}
	d.logger.Info("snapshot created", "snapshot", info.ID, "description", info.Description)
	return info.ID, nil
}

// ImportSnapshot records a snapshot with externally supplied content, for
// instance a bundle fetched from an archive. Duplicates collapse onto their
// first occurrence. The snapshot gets a fresh ID and timestamp.
func (d *DocumentStore) ImportSnapshot(description string, documents []string) (string, error) {
	const op = "import snapshot"
	seen := make(map[string]struct{}, len(documents))
	docs := make([]string, 0, len(documents))
	for _, doc := range documents {
		if doc == "" {
			return "", invalidArgument(op, d.name, "", "documents must not be empty strings")
		}
		if !utf8.ValidString(doc) {
			return "", invalidArgument(op, d.name, "", "documents must be valid UTF-8")
		}
		if _, dup := seen[doc]; dup {
			continue
		}
		seen[doc] = struct{}{}
		docs = append(docs, doc)
	}
	snap := Snapshot{SnapshotInfo: d.newInfo(description), Documents: docs}
	snap.DocumentCount = len(docs)
	if err := d.backend.PutSnapshot(d.name, snap); err != nil {
		return "", wrap(op, d.name, snap.ID, err)
	}
	d.logger.Info("snapshot imported", "snapshot", snap.ID, "count", len(docs))
	return snap.ID, nil
}

func (d *DocumentStore) newInfo(description string) SnapshotInfo {
	if description == "" {
		description = NoDescription
	}
	return SnapshotInfo{
		ID:          d.newID(),
		CreatedAt:   d.now().UTC(),
		Description: description,
	}
}

// ListSnapshots returns snapshot metadata newest first. Snapshots created at
// the same instant are ordered by descending ID. A snapshot whose record
// cannot be read is listed with Unavailable set rather than failing the call.
func (d *DocumentStore) ListSnapshots() ([]SnapshotInfo, error) {
	infos, err := d.backend.ListSnapshots(d.name)
	if err != nil {
		return nil, wrap("list snapshots", d.name, "", err)
	}
	for _, info := range infos {
		if info.Unavailable {
			d.logger.Warn("snapshot metadata unavailable", "snapshot", info.ID)
		}
	}
	slices.SortStableFunc(infos, func(a, b SnapshotInfo) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if infos == nil {
		infos = []SnapshotInfo{}
	}
	return infos, nil
}

// Snapshot returns a full snapshot.
func (d *DocumentStore) Snapshot(id string) (Snapshot, error) {
	const op = "get snapshot"
	if err := d.checkID(op, id); err != nil {
		return Snapshot{}, err
	}
	snap, err := d.backend.GetSnapshot(d.name, id)
	if err != nil {
		return Snapshot{}, wrap(op, d.name, id, err)
	}
	return snap, nil
}

// Rollback replaces the whole document set with the content of snapshot id.
// It is all-or-nothing: on failure the document set is left untouched. The
// snapshot itself is not modified, and no safety snapshot of the current
// state is taken.
func (d *DocumentStore) Rollback(id string) error {
	const op = "rollback"
	if err := d.checkID(op, id); err != nil {
		return err
	}
	if err := d.backend.RestoreSnapshot(d.name, id); err != nil {
		return wrap(op, d.name, id, err)
	}
	d.logger.Info("rolled back", "snapshot", id)
	return nil
}

// DeleteSnapshot permanently removes one snapshot. The document set and the
// other snapshots are not affected.
func (d *DocumentStore) DeleteSnapshot(id string) error {
	const op = "delete snapshot"
	if err := d.checkID(op, id); err != nil {
		return err
	}
	if err := d.backend.DeleteSnapshot(d.name, id); err != nil {
		return wrap(op, d.name, id, err)
	}
	d.logger.Info("snapshot deleted", "snapshot", id)
	return nil
}

func (d *DocumentStore) checkID(op, id string) error {
	if id == "" {
		return invalidArgument(op, d.name, "", "snapshot id must not be empty")
	}
	if !plausibleSnapshotID(id) {
		return wrap(op, d.name, id, classified(ErrNotFound, "snapshot %q does not exist", id))
	}
	return nil
}
