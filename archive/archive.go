package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/stevemurr/knowledge-vault/store"
)

// DefaultConcurrency bounds parallel uploads in ExportAll.
const DefaultConcurrency = 4

// SnapshotSource is the read side of a namespace, satisfied by
// *store.DocumentStore.
type SnapshotSource interface {
	Name() string
	Snapshot(id string) (store.Snapshot, error)
	ListSnapshots() ([]store.SnapshotInfo, error)
}

// SnapshotTarget receives imported snapshots, satisfied by
// *store.DocumentStore.
type SnapshotTarget interface {
	Name() string
	ImportSnapshot(description string, documents []string) (string, error)
}

// Archiver exports snapshots to a Sink and imports them back.
type Archiver struct {
	sink        Sink
	concurrency int
	logger      *slog.Logger
}

type Option func(*Archiver)

// WithConcurrency bounds the uploads ExportAll runs at once.
func WithConcurrency(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

func New(sink Sink, opts ...Option) *Archiver {
	a := &Archiver{
		sink:        sink,
		concurrency: DefaultConcurrency,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Export writes one snapshot bundle and returns its key. Exporting the same
// snapshot twice overwrites the bundle with identical content.
func (a *Archiver) Export(ctx context.Context, src SnapshotSource, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	snap, err := src.Snapshot(id)
	if err != nil {
		return "", err
	}
	data, err := Encode(NewBundle(src.Name(), snap))
	if err != nil {
		return "", err
	}
	key := Key(src.Name(), snap.ID)
	if err := a.sink.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	a.logger.Info("snapshot exported", "namespace", src.Name(), "snapshot", snap.ID, "key", key, "bytes", len(data))
	return key, nil
}

// ExportAll exports every readable snapshot of src. Snapshots whose metadata
// is unavailable are skipped with a warning. The first failure cancels the
// remaining uploads.
func (a *Archiver) ExportAll(ctx context.Context, src SnapshotSource) ([]string, error) {
	infos, err := src.ListSnapshots()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, info := range infos {
		if info.Unavailable {
			a.logger.Warn("skipping unreadable snapshot", "namespace", src.Name(), "snapshot", info.ID)
			continue
		}
		g.Go(func() error {
			key, err := a.Export(gctx, src, info.ID)
			if err != nil {
				return err
			}
			keys[i] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	keys = slices.DeleteFunc(keys, func(k string) bool { return k == "" })
	slices.Sort(keys)
	return keys, nil
}

// Import fetches the bundle at key and records it in dst as a new snapshot
// with a fresh ID. The bundle may come from another namespace.
func (a *Archiver) Import(ctx context.Context, dst SnapshotTarget, key string) (string, error) {
	data, err := a.sink.Get(ctx, key)
	if err != nil {
		return "", err
	}
	b, err := Decode(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	id, err := dst.ImportSnapshot(b.Description, b.Documents)
	if err != nil {
		return "", err
	}
	a.logger.Info("snapshot imported",
		"namespace", dst.Name(), "snapshot", id,
		"source_namespace", b.Namespace, "source_snapshot", b.SnapshotID, "count", len(b.Documents))
	return id, nil
}

// List returns the bundle keys stored for namespace, sorted.
func (a *Archiver) List(ctx context.Context, namespace string) ([]string, error) {
	keys, err := a.sink.List(ctx, namespace+"/")
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(keys, func(k string) bool { return !IsBundleKey(k) }), nil
}

// Delete removes the bundle at key from the archive. The key must name a
// bundle of namespace. Deleting a key that is not stored is a no-op.
func (a *Archiver) Delete(ctx context.Context, namespace, key string) error {
	if !IsBundleKey(key) || path.Dir(key) != namespace {
		return fmt.Errorf("%w: key %q is not a bundle of namespace %q", store.ErrInvalidArgument, key, namespace)
	}
	if err := a.sink.Delete(ctx, key); err != nil {
		return err
	}
	a.logger.Info("bundle deleted", "namespace", namespace, "key", key)
	return nil
}
