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

// SQLiteCache persists entries in a SQLite database so they survive restarts.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, fmt.Errorf("cache: open sqlite %s: %w", filename, err)
	}
	// a private in-memory db only exists on its one connection
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			stored_at INTEGER,
			bytes BLOB
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("cache: init sqlite %s: %w", filename, err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx, "SELECT bytes FROM cache WHERE key = ?", key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(ctx context.Context, key string, value []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache (key, stored_at, bytes) VALUES (?, ?, ?)",
		key, time.Now().Unix(), value)
	return err
}

func (s SQLiteCache) Purge(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s SQLiteCache) Has(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM cache WHERE key = ?", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// AllKeys matches the prefix with instr rather than LIKE, since keys are
// URLs and may contain LIKE wildcards.
func (s SQLiteCache) AllKeys(ctx context.Context, prefix string, cb func(string)) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM cache WHERE ? = '' OR instr(key, ?) = 1 ORDER BY stored_at",
		prefix, prefix)
	if err != nil {
		return err
	}
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	// rows are drained first: the single connection is needed by the callback
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
