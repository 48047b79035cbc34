package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/errdefs"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteKVSchemaV1 = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteBackend stores values in a single kv table. Watch only reports writes made
// through this handle; use the file backend when several processes share state.
type SQLiteBackend struct {
	mu       sync.RWMutex
	dsn      string
	db       *sql.DB
	watchers *watchers
	closed   bool
}

func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite storage backend: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errdefs.Storage("open", dsn, err)
	}
	s := &SQLiteBackend{
		dsn:      dsn,
		db:       db,
		watchers: newWatchers(),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, errdefs.Storage("migrate", dsn, err)
	}
	return s, nil
}

func NewSQLiteBackendForFile(path string) (*SQLiteBackend, error) {
	dsn, err := SQLiteDSNForFile(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errdefs.Storage("mkdir", filepath.Dir(path), err)
	}
	return NewSQLiteBackend(dsn)
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite storage backend: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteBackend) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite storage backend: db is nil")
	}
	_, err := s.db.Exec(sqliteKVSchemaV1)
	return err
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("key", key)
	}
	if err != nil {
		return nil, errdefs.Storage("get", key, err)
	}
	return value, nil
}

func (s *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO kv (key, value, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms`,
		key,
		value,
		time.Now().UnixMilli(),
	)
	s.mu.Unlock()
	if err != nil {
		return errdefs.Storage("set", key, err)
	}
	s.watchers.notify(key)
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	s.mu.Unlock()
	if err != nil {
		return errdefs.Storage("delete", key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.watchers.notify(key)
	}
	return nil
}

func (s *SQLiteBackend) Watch(ctx context.Context) (<-chan Change, error) {
	return s.watchers.add(ctx)
}

func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.watchers.closeAll()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteBackend) ensureOpen() error {
	if s.closed {
		return fmt.Errorf("sqlite storage backend closed")
	}
	if s.db == nil {
		return fmt.Errorf("sqlite storage backend db is nil")
	}
	return nil
}

var _ Backend = (*SQLiteBackend)(nil)
