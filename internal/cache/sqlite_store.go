package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// MemorySQLiteDSN opens a shared in-memory database, useful for tests.
const MemorySQLiteDSN = "file::memory:?cache=shared"

// SQLiteStore 以单表保存 HTTP 报文，写操作串行化以避开 SQLITE_BUSY。
type SQLiteStore struct {
	db         *sql.DB
	writeMutex sync.Mutex
	now        func() time.Time
}

// NewSQLiteStore 打开（或创建）dsn 指向的数据库并初始化表结构。
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	statements := []string{
		"CREATE TABLE IF NOT EXISTS cache_entries (key TEXT PRIMARY KEY, stored_at INTEGER, bytes BLOB)",
		"CREATE INDEX IF NOT EXISTS stored_at_idx ON cache_entries (stored_at)",
	}
	if dsn != MemorySQLiteDSN {
		statements = append(statements, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, key string) (*Response, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT bytes FROM cache_entries WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeResponse(raw)
}

func (s *SQLiteStore) Write(ctx context.Context, key string, resp *Response) error {
	encoded, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_entries (key, stored_at, bytes) VALUES (?, ?, ?)",
		key, s.now().Unix(), encoded)
	return err
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
