// Package archive moves snapshots in and out of off-host storage as
// zstd-compressed JSON bundles.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/stevemurr/knowledge-vault/schema"
	"github.com/stevemurr/knowledge-vault/store"
)

// BundleFormat tags every bundle written by this package.
const BundleFormat = "kvault.snapshot/v1"

// Ext is the object key suffix of a bundle.
const Ext = ".json.zst"

var (
	// ErrCorruptBundle reports a bundle that does not decompress or does not
	// match the bundle schema.
	ErrCorruptBundle = errors.New("archive: corrupt bundle")

	// ErrUnsupportedFormat reports a well-formed bundle of another format.
	ErrUnsupportedFormat = errors.New("archive: unsupported bundle format")
)

// Bundle is the archived form of one snapshot.
type Bundle struct {
	Format      string    `json:"format"`
	Namespace   string    `json:"namespace"`
	SnapshotID  string    `json:"snapshot_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	Documents   []string  `json:"documents"`
}

// NewBundle wraps a snapshot of namespace.
func NewBundle(namespace string, snap store.Snapshot) Bundle {
	docs := snap.Documents
	if docs == nil {
		docs = []string{}
	}
	return Bundle{
		Format:      BundleFormat,
		Namespace:   namespace,
		SnapshotID:  snap.ID,
		CreatedAt:   snap.CreatedAt.UTC(),
		Description: snap.Description,
		Documents:   docs,
	}
}

// Key returns the object key of a snapshot bundle: <namespace>/<id>.json.zst.
func Key(namespace, id string) string {
	return path.Join(namespace, id+Ext)
}

// IsBundleKey reports whether key names a bundle.
func IsBundleKey(key string) bool {
	return strings.HasSuffix(key, Ext)
}

// EncodeAll and DecodeAll are safe for concurrent use, so one encoder and
// one decoder serve every caller.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
)

// Encode serializes and compresses a bundle.
func Encode(b Bundle) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("archive: encode bundle: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode decompresses and validates a bundle.
func Decode(data []byte) (Bundle, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %w", ErrCorruptBundle, err)
	}
	if err := schema.ValidateBundle(raw); err != nil {
		return Bundle{}, fmt.Errorf("%w: %w", ErrCorruptBundle, err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: %w", ErrCorruptBundle, err)
	}
	if b.Format != BundleFormat {
		return Bundle{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, b.Format)
	}
	return b, nil
}
