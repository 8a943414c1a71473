package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store persists catalog entries across restarts.
type Store interface {
	Save(ctx context.Context, e Entry) error
	Load(ctx context.Context) ([]Entry, error)
	Close() error
}

// SQLiteStore keeps the latest entry per key in a SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once

	saveStmt *sql.Stmt
	loadStmt *sql.Stmt
}

// NewSQLiteStore opens or creates the snapshot database at path.
func NewSQLiteStore(path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path cannot be empty")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS catalog_entries (
		account TEXT NOT NULL,
		kind TEXT NOT NULL,
		param TEXT NOT NULL,
		payload BLOB NOT NULL,
		fetched_at INTEGER NOT NULL,
		PRIMARY KEY (account, kind, param)
	);
	`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	// The WHERE clause keeps the stored row when it is newer.
	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO catalog_entries (account, kind, param, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account, kind, param) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
		WHERE excluded.fetched_at >= catalog_entries.fetched_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.loadStmt, err = s.db.Prepare(`
		SELECT account, kind, param, payload, fetched_at FROM catalog_entries
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, e Entry) error {
	_, err := s.saveStmt.ExecContext(ctx,
		e.Key.Account, string(e.Key.Kind), e.Key.Param, e.Payload, e.FetchedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save catalog entry: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.loadStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			kind      string
			fetchedAt int64
		)
		if err := rows.Scan(&e.Key.Account, &kind, &e.Key.Param, &e.Payload, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		e.Key.Kind = Kind(kind)
		e.FetchedAt = time.Unix(0, fetchedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.saveStmt != nil {
			s.saveStmt.Close()
		}
		if s.loadStmt != nil {
			s.loadStmt.Close()
		}
		err = s.db.Close()
	})
	return err
}
