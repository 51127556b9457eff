package store

import (
	"fmt"
	"path/filepath"
)

// SqliteFileName is the database file the sqlite backend keeps in dataDir.
const SqliteFileName = "kvault.db"

// NewBackend creates a Backend based on the backend name.
//
// Supported backends:
//
//	"json"   - a directory per namespace under dataDir (default)
//	"sqlite" - SQLite database at dataDir/kvault.db
//	"memory" - in-memory (ephemeral, for testing)
func NewBackend(kind, dataDir string, opts ...Option) (Backend, error) {
	switch kind {
	case "json", "":
		return NewJsonFileStore(dataDir, opts...)
	case "sqlite":
		return NewSqliteStore(filepath.Join(dataDir, SqliteFileName), opts...)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q (supported: json, sqlite, memory)", ErrInvalidArgument, kind)
	}
}
