package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite stores the snapshot as a single row of a key/value table.
type SQLite struct {
	conn *sql.DB
	key  string
}

// NewSQLite opens (and migrates) the database at path.
func NewSQLite(path, key string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if key == "" {
		key = DefaultKey
	}
	return &SQLite{conn: conn, key: key}, nil
}

func (s *SQLite) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM snapshots WHERE key = ?`, s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	return data, nil
}

func (s *SQLite) Save(ctx context.Context, data []byte) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO snapshots (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, s.key, data)
	if err != nil {
		return fmt.Errorf("failed to save conversations: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}
