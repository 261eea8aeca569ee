package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresTableName        = "mdtabs_files"
	postgresOperationTimeout = 5 * time.Second
)

type PostgresDurable struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc
	db        *sql.DB
}

func NewPostgresDurable(dsn string) (*PostgresDurable, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresDurable{
		dsn:       dsn,
		tableName: postgresTableName,
		openDB:    sql.Open,
	}, nil
}

func (b *PostgresDurable) Open(ctx context.Context) error {
	if b == nil {
		return ErrInvalidInput
	}
	db, err := b.openDB("postgres", b.dsn)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, postgresQuoteIdentifier(b.tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		_ = db.Close()
		return err
	}
	b.db = db
	return nil
}

func (b *PostgresDurable) Get(ctx context.Context, id string) (string, bool, error) {
	if b == nil || b.db == nil {
		return "", false, ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT content FROM %s WHERE id = $1", postgresQuoteIdentifier(b.tableName))
	var content string
	err := b.db.QueryRowContext(ctx, query, id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

func (b *PostgresDurable) Put(ctx context.Context, id, content string) error {
	if b == nil || b.db == nil {
		return ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()`, postgresQuoteIdentifier(b.tableName))
	_, err := b.db.ExecContext(ctx, query, id, content)
	return err
}

func (b *PostgresDurable) Delete(ctx context.Context, id string) error {
	if b == nil || b.db == nil {
		return ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", postgresQuoteIdentifier(b.tableName))
	_, err := b.db.ExecContext(ctx, query, id)
	return err
}

func (b *PostgresDurable) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
