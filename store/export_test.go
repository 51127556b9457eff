package store

import "database/sql"

// DB exposes the sqlite handle so tests can damage rows directly.
func (s *SqliteStore) DB() *sql.DB { return s.db }
