package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchemaVersion = 1

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// SQLiteDurable keeps content in a single-table sqlite database.
type SQLiteDurable struct {
	path   string
	openDB sqlOpenFunc
	db     *sql.DB
}

func NewSQLiteDurable(path string) (*SQLiteDurable, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLiteDurable{path: path, openDB: sql.Open}, nil
}

func (b *SQLiteDurable) Open(ctx context.Context) error {
	if b == nil {
		return ErrInvalidInput
	}
	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, dirPermission); err != nil {
			return err
		}
	}
	db, err := b.openDB("sqlite", b.path)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)
	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	b.db = db
	return nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	switch {
	case version == sqliteSchemaVersion:
		return nil
	case version > sqliteSchemaVersion:
		return fmt.Errorf("sqlite store version %d is newer than supported version %d", version, sqliteSchemaVersion)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL
		)`); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion))
	return err
}

func (b *SQLiteDurable) Get(ctx context.Context, id string) (string, bool, error) {
	if b == nil || b.db == nil {
		return "", false, ErrInvalidInput
	}
	var content string
	err := b.db.QueryRowContext(ctx, "SELECT content FROM files WHERE id = ?", id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

func (b *SQLiteDurable) Put(ctx context.Context, id, content string) error {
	if b == nil || b.db == nil {
		return ErrInvalidInput
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO files (id, content) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET content = excluded.content`, id, content)
	return err
}

func (b *SQLiteDurable) Delete(ctx context.Context, id string) error {
	if b == nil || b.db == nil {
		return ErrInvalidInput
	}
	_, err := b.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id)
	return err
}

func (b *SQLiteDurable) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
