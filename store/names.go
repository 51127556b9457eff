package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValidateName reports whether name is a valid namespace name: non-empty and
// made of ASCII letters and digits only. Names are case-sensitive.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: namespace name must not be empty", ErrInvalidArgument)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return fmt.Errorf("%w: namespace name %q must be alphanumeric", ErrInvalidArgument, name)
		}
	}
	return nil
}

// IDGenerator produces snapshot IDs. IDs must be unique within a namespace
// and sort in creation order.
type IDGenerator func() string

// SnapshotIDPrefix starts every generated snapshot ID.
const SnapshotIDPrefix = "snap_"

// NewSnapshotID returns "snap_" followed by a UUIDv7. UUIDv7 values carry a
// millisecond timestamp and a per-process monotonic counter, so two calls in
// the same millisecond still differ and sort in call order.
func NewSnapshotID() string {
	return SnapshotIDPrefix + uuid.Must(uuid.NewV7()).String()
}

// plausibleSnapshotID rejects IDs that cannot name a stored snapshot, such
// as path traversal attempts. Such IDs are simply not found.
func plausibleSnapshotID(id string) bool {
	if id == "" || len(id) > 128 || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\`+"\x00")
}
