package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig configures SQLiteStore.
type SQLiteConfig struct {
	Path         string
	MaxOpenConns int
	MaxIdleConns int
	WALMode      bool
	BusyTimeout  time.Duration
}

// SQLiteStore is a Store backed by a sqlite database file.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteConfig
	logger *slog.Logger
	closed atomic.Bool
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, storageError("sqlite", "open", errors.New("path is required"))
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && cfg.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageError("sqlite", "mkdir", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, storageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	s := &SQLiteStore{
		db:     db,
		config: cfg,
		logger: slog.Default().With("component", "history.sqlite"),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("history database opened", "path", cfg.Path, "wal", cfg.WALMode)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return storageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return storageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(schema); err != nil {
		return storageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(insertSchemaVersion, SchemaVersion); err != nil {
		return storageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(getSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return storageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store implements Store.
func (s *SQLiteStore) Store(ctx context.Context, r *Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO relays (`+relayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.User, r.Account, r.Kind, r.Path,
		r.Status, r.StartedAt.UnixNano(), r.EndedAt.UnixNano(),
		r.BytesIn, r.BytesOut, r.EndReason, r.Error, r.Reconnects, r.Failovers,
	)
	if err != nil {
		return storageError("sqlite", "store", err)
	}
	return nil
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, q *Query) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if q == nil {
		q = &Query{}
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	where, args := buildWhereClause(q)
	stmt := "SELECT " + relayColumns + " FROM relays" + where + " ORDER BY started_at DESC, id"
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			stmt += " OFFSET ?"
			args = append(args, q.Offset)
		}
	} else if q.Offset > 0 {
		stmt += " LIMIT -1 OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, storageError("sqlite", "query", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			r                  Record
			started, ended     int64
			endReason, errText sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.User, &r.Account, &r.Kind, &r.Path,
			&r.Status, &started, &ended, &r.BytesIn, &r.BytesOut,
			&endReason, &errText, &r.Reconnects, &r.Failovers); err != nil {
			return nil, storageError("sqlite", "scan", err)
		}
		r.StartedAt = time.Unix(0, started)
		r.EndedAt = time.Unix(0, ended)
		r.EndReason = endReason.String
		r.Error = errText.String
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("sqlite", "query", err)
	}
	return out, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context, q *Query) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if q == nil {
		q = &Query{}
	}
	where, args := buildWhereClause(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM relays"+where, args...).Scan(&n); err != nil {
		return 0, storageError("sqlite", "count", err)
	}
	return n, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, q *Query) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if q == nil {
		q = &Query{}
	}
	where, args := buildWhereClause(q)
	res, err := s.db.ExecContext(ctx, "DELETE FROM relays"+where, args...)
	if err != nil {
		return 0, storageError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("sqlite", "rows_affected", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return storageError("sqlite", "close", err)
	}
	return nil
}

func buildWhereClause(q *Query) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if q.User != "" {
		conditions = append(conditions, "username = ?")
		args = append(args, q.User)
	}
	if q.Account != "" {
		conditions = append(conditions, "account = ?")
		args = append(args, q.Account)
	}
	if q.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.Since != nil {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if q.Until != nil {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.EndedBefore != nil {
		conditions = append(conditions, "ended_at < ?")
		args = append(args, q.EndedBefore.UnixNano())
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
