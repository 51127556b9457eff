package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SqliteStore stores every namespace in a single SQLite database.
//
// Tables:
//
//	namespaces(name, created_at)                                   PRIMARY KEY (name)
//	documents(namespace, position, text)                           PRIMARY KEY (namespace, position), UNIQUE (namespace, text)
//	snapshots(namespace, id, created_at, description)              PRIMARY KEY (namespace, id)
//	snapshot_documents(namespace, snapshot_id, position, text)     PRIMARY KEY (namespace, snapshot_id, position)
//
// Each mutation runs in one transaction.
type SqliteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *slog.Logger
}

var sqliteTables = []string{
	`CREATE TABLE IF NOT EXISTS namespaces (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		namespace TEXT NOT NULL REFERENCES namespaces(name) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		PRIMARY KEY (namespace, position),
		UNIQUE (namespace, text)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		namespace TEXT NOT NULL REFERENCES namespaces(name) ON DELETE CASCADE,
		id TEXT NOT NULL,
		created_at TEXT,
		description TEXT,
		PRIMARY KEY (namespace, id)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshot_documents (
		namespace TEXT NOT NULL,
		snapshot_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		PRIMARY KEY (namespace, snapshot_id, position),
		FOREIGN KEY (namespace, snapshot_id) REFERENCES snapshots(namespace, id) ON DELETE CASCADE
	)`,
}

var _ Backend = (*SqliteStore)(nil)

func NewSqliteStore(dbPath string, opts ...Option) (*SqliteStore, error) {
	o := applyOptions(opts)
	if err := o.fs.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, ioError(err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=10000&_journal_mode=WAL")
	if err != nil {
		return nil, ioError(err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteTables {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, ioError(err)
		}
	}
	logger := o.logger.With("backend", "sqlite")
	logger.Debug("database opened", "path", dbPath)
	return &SqliteStore{db: db, logger: logger}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func (s *SqliteStore) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ioError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return ioError(err)
	}
	if err := tx.Commit(); err != nil {
		return ioError(err)
	}
	return nil
}

func requireNamespaceRow(q rowQuerier, name string) error {
	var one int
	err := q.QueryRow("SELECT 1 FROM namespaces WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return classified(ErrNotFound, "namespace %q does not exist", name)
	}
	return err
}

func (s *SqliteStore) CreateNamespace(name string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO namespaces (name, created_at) VALUES (?, ?)",
		name, createdAt.UTC().Format(time.RFC3339Nano),
	)
	if isConstraint(err) {
		return classified(ErrAlreadyExists, "namespace %q already exists", name)
	}
	return ioError(err)
}

func (s *SqliteStore) NamespaceExists(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	err := requireNamespaceRow(s.db, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, ioError(err)
	}
	return true, nil
}

func (s *SqliteStore) DeleteNamespace(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(func(tx *sql.Tx) error {
		if err := requireNamespaceRow(tx, name); err != nil {
			return err
		}
		for _, stmt := range []string{
			"DELETE FROM snapshot_documents WHERE namespace = ?",
			"DELETE FROM snapshots WHERE namespace = ?",
			"DELETE FROM documents WHERE namespace = ?",
			"DELETE FROM namespaces WHERE name = ?",
		} {
			if _, err := tx.Exec(stmt, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SqliteStore) ListNamespaces() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT name FROM namespaces ORDER BY name")
	if err != nil {
		return nil, ioError(err)
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ioError(err)
		}
		names = append(names, name)
	}
	return names, ioError(rows.Err())
}

func (s *SqliteStore) Documents(namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []string
	err := s.withTx(func(tx *sql.Tx) error {
		if err := requireNamespaceRow(tx, namespace); err != nil {
			return err
		}
		var err error
		docs, err = queryTexts(tx, "SELECT text FROM documents WHERE namespace = ? ORDER BY position", namespace)
		return err
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func queryTexts(tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	texts := []string{}
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

func (s *SqliteStore) AppendDocument(namespace, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added bool
	err := s.withTx(func(tx *sql.Tx) error {
		if err := requireNamespaceRow(tx, namespace); err != nil {
			return err
		}
		res, err := tx.Exec(
			`INSERT INTO documents (namespace, position, text)
			 VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM documents WHERE namespace = ?), ?)
			 ON CONFLICT(namespace, text) DO NOTHING`,
			namespace, namespace, text,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		added = n > 0
		return nil
	})
	return added, err
}

func insertSnapshotRow(tx *sql.Tx, namespace string, info SnapshotInfo) error {
	_, err := tx.Exec(
		"INSERT INTO snapshots (namespace, id, created_at, description) VALUES (?, ?, ?, ?)",
		namespace, info.ID, info.CreatedAt.UTC().Format(time.RFC3339Nano), info.Description,
	)
	if isConstraint(err) {
		return classified(ErrAlreadyExists, "snapshot %q already exists", info.ID)
	}
	return err
}

func (s *SqliteStore) CreateSnapshot(namespace string, info SnapshotInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(func(tx *sql.Tx) error {
		if err := requireNamespaceRow(tx, namespace); err != nil {
			return err
		}
		if err := insertSnapshotRow(tx, namespace, info); err != nil {
			return err
		}
		_, err := tx.Exec(
			`INSERT INTO snapshot_documents (namespace, snapshot_id, position, text)
			 SELECT namespace, ?, position, text FROM documents WHERE namespace = ?`,
			info.ID, namespace,
		)
		return err
	})
}

func (s *SqliteStore) PutSnapshot(namespace string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(func(tx *sql.Tx) error {
		if err := requireNamespaceRow(tx, namespace); err != nil {
			return err
		}
		if err := insertSnapshotRow(tx, namespace, snap.SnapshotInfo); err != nil {
			return err
		}
		stmt, err := tx.Prepare("INSERT INTO snapshot_documents (namespace, snapshot_id, position, text) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, text := range snap.Documents {
			if _, err := stmt.Exec(namespace, snap.ID, i, text); err != nil {
				return err
			}
		}
		return nil
	})
}

// scanInfo converts a snapshot row. NULL or unparsable columns mean the
// record is damaged.
func scanInfo(id string, createdAt, description sql.NullString, count int) (SnapshotInfo, error) {
	if !createdAt.Valid || !description.Valid || description.String == "" {
		return SnapshotInfo{}, fmt.Errorf("snapshot %q: incomplete record", id)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt.String)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot %q: %w", id, err)
	}
	return SnapshotInfo{ID: id, CreatedAt: t, Description: description.String, DocumentCount: count}, nil
}

func (s *SqliteStore) GetSnapshot(namespace, id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap Snapshot
	err := s.withTx(func(tx *sql.Tx) error {
		if err := requireNamespaceRow(tx, namespace); err != nil {
			return err
		}
		var createdAt, description sql.NullString
		err := tx.QueryRow(
			"SELECT created_at, description FROM snapshots WHERE namespace = ? AND id = ?",
			namespace, id,
		).Scan(&createdAt, &description)
		if errors.Is(err, sql.ErrNoRows) {
			return classified(ErrNotFound, "snapshot %q does not exist", id)
		}
		if err != nil {
			return err
		}
		docs, err := queryTexts(tx,
			"SELECT text FROM snapshot_documents WHERE namespace = ? AND snapshot_id = ? ORDER BY position",
			namespace, id,
		)
		if err != nil {
			return err
		}
		info, err := scanInfo(id, createdAt, description, len(docs))
		if err != nil {
			return err
		}
		snap = Snapshot{SnapshotInfo: info, Documents: docs}
		return nil
	})
	return snap, err
}

func (s *SqliteStore) ListSnapshots(namespace string) ([]SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := []SnapshotInfo{}
	err := s.withTx(func(tx *sql.Tx) error {
		if err := requireNamespaceRow(tx, namespace); err != nil {
			return err
		}
		rows, err := tx.Query(
			`SELECT s.id, s.created_at, s.description,
			        (SELECT COUNT(*) FROM snapshot_documents d WHERE d.namespace = s.namespace AND d.snapshot_id = s.id)
			 FROM snapshots s WHERE s.namespace = ?`,
			namespace,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				id                     string
				createdAt, description sql.NullString
				count                  int
			)
			if err := rows.Scan(&id, &createdAt, &description, &count); err != nil {
				return err
			}
			info, err := scanInfo(id, createdAt, description, count)
			if err != nil {
				s.logger.Warn("snapshot record unreadable", "namespace", namespace, "snapshot", id, "error", err)
				info = SnapshotInfo{ID: id, Description: MetadataUnavailable, Unavailable: true}
			}
			infos = append(infos, info)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (s *SqliteStore) RestoreSnapshot(namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(func(tx *sql.Tx) error {
		if err := requireNamespaceRow(tx, namespace); err != nil {
			return err
		}
		var one int
		err := tx.QueryRow("SELECT 1 FROM snapshots WHERE namespace = ? AND id = ?", namespace, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return classified(ErrNotFound, "snapshot %q does not exist", id)
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM documents WHERE namespace = ?", namespace); err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO documents (namespace, position, text)
			 SELECT namespace, position, text FROM snapshot_documents
			 WHERE namespace = ? AND snapshot_id = ?`,
			namespace, id,
		)
		return err
	})
}

func (s *SqliteStore) DeleteSnapshot(namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(func(tx *sql.Tx) error {
		if err := requireNamespaceRow(tx, namespace); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM snapshot_documents WHERE namespace = ? AND snapshot_id = ?", namespace, id); err != nil {
			return err
		}
		res, err := tx.Exec("DELETE FROM snapshots WHERE namespace = ? AND id = ?", namespace, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return classified(ErrNotFound, "snapshot %q does not exist", id)
		}
		return nil
	})
}
