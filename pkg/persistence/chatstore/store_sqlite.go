package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteBackend keeps every table in a single `records` table keyed by
// (table_name, id), with an insertion sequence used to break timestamp ties.
type SQLiteBackend struct {
	dsn string

	mu sync.RWMutex
	db *sql.DB
}

var _ Backend = &SQLiteBackend{}

func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	if dsn == "" {
		return nil, errors.New("sqlite chat store: empty dsn")
	}
	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteBackend{dsn: dsn, db: db}, nil
}

// SQLiteDSNForFile builds a DSN for a file-backed database.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite chat store: empty path")
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: open")
	}
	if strings.Contains(dsn, ":memory:") {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrateSQLite(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
		  seq INTEGER PRIMARY KEY AUTOINCREMENT,
		  table_name TEXT NOT NULL,
		  id TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL,
		  body BLOB NOT NULL,
		  UNIQUE (table_name, id)
		);`,
		`CREATE INDEX IF NOT EXISTS records_by_created
		  ON records(table_name, created_at_ms DESC, seq DESC);`,
	}
	for _, st := range stmts {
		if _, err := db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite chat store: migrate")
		}
	}
	return nil
}

func (s *SQLiteBackend) handle() (*sql.DB, error) {
	if s == nil {
		return nil, errors.New("sqlite chat store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.Wrap(ErrConnectionLost, "sqlite chat store: db is closed")
	}
	return s.db, nil
}

func (s *SQLiteBackend) Insert(ctx context.Context, table string, rec Record) error {
	if err := validateTable("sqlite chat store", table); err != nil {
		return err
	}
	if err := validateRecord("sqlite chat store", rec); err != nil {
		return err
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO records(table_name, id, created_at_ms, body)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(table_name, id) DO NOTHING
	`, table, rec.ID, rec.CreatedAtMs, rec.Body)
	if err != nil {
		return s.wrapErr(db, err, "sqlite chat store: insert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: insert result")
	}
	if n > 0 {
		return nil
	}

	stored := Record{ID: rec.ID}
	err = db.QueryRowContext(ctx, `
		SELECT created_at_ms, body FROM records WHERE table_name = ? AND id = ?
	`, table, rec.ID).Scan(&stored.CreatedAtMs, &stored.Body)
	if err != nil {
		return s.wrapErr(db, err, "sqlite chat store: load existing record")
	}
	if !sameRecord(stored, rec) {
		return errors.Errorf("sqlite chat store: duplicate id %q in %s", rec.ID, table)
	}
	return nil
}

// wrapErr marks err as a connection loss when db was closed or replaced
// while the statement ran.
func (s *SQLiteBackend) wrapErr(db *sql.DB, err error, msg string) error {
	s.mu.RLock()
	current := s.db
	s.mu.RUnlock()
	if current != db {
		return errors.Wrap(errors.Wrap(ErrConnectionLost, err.Error()), msg)
	}
	return errors.Wrap(err, msg)
}

func (s *SQLiteBackend) RecentByTime(ctx context.Context, table string, limit int) ([]Record, error) {
	if err := validateTable("sqlite chat store", table); err != nil {
		return nil, err
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		return []Record{}, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, created_at_ms, body
		FROM records
		WHERE table_name = ?
		ORDER BY created_at_ms DESC, seq DESC
		LIMIT ?
	`, table, limit)
	if err != nil {
		return nil, s.wrapErr(db, err, "sqlite chat store: recent by time")
	}
	defer func() { _ = rows.Close() }()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.CreatedAtMs, &rec.Body); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: iterate records")
	}
	return out, nil
}

// Reconnect drops the current handle, if any, and opens a fresh one.
func (s *SQLiteBackend) Reconnect(_ context.Context) error {
	if s == nil {
		return errors.New("sqlite chat store: nil store")
	}
	db, err := openSQLite(s.dsn)
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: reconnect")
	}
	s.mu.Lock()
	old := s.db
	s.db = db
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close releases the handle. Later calls fail with ErrConnectionLost until Reconnect.
func (s *SQLiteBackend) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}
