package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const kvSchema = `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		expires_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Postgres is a KeyValueStore over a single kv_entries table
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres connects to Postgres and ensures the table exists
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// Migrate creates the kv_entries table when missing
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, kvSchema); err != nil {
		return fmt.Errorf("failed to create kv_entries: %w", err)
	}
	return nil
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// GetDB returns the underlying database connection
func (p *Postgres) GetDB() *sqlx.DB {
	return p.db
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	defer observe("postgres", "get")()

	var value []byte
	err := p.db.GetContext(ctx, &value,
		"SELECT value FROM kv_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, unavailable("postgres", "get", err)
	}
	return value, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte, opts ...PutOption) error {
	defer observe("postgres", "put")()
	o := applyPutOptions(opts)
	if value == nil {
		value = []byte{}
	}

	var expiresAt *time.Time
	if o.TTL > 0 {
		t := time.Now().Add(o.TTL)
		expiresAt = &t
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()`,
		key, value, expiresAt)
	if err != nil {
		return unavailable("postgres", "put", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	defer observe("postgres", "delete")()

	if _, err := p.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = $1", key); err != nil {
		return unavailable("postgres", "delete", err)
	}
	return nil
}

func (p *Postgres) ListKeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	defer observe("postgres", "list")()

	var keys []string
	err := p.db.SelectContext(ctx, &keys, `
		SELECT key FROM kv_entries
		WHERE key LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY key COLLATE "C"`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, unavailable("postgres", "list", err)
	}
	return keys, nil
}

// Update serializes writers of one key with a transaction-scoped advisory
// lock, which also covers keys that do not exist yet
func (p *Postgres) Update(ctx context.Context, key string, fn UpdateFunc) error {
	defer observe("postgres", "update")()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("postgres", "update", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return unavailable("postgres", "update", err)
	}

	var current []byte
	found := true
	err = tx.GetContext(ctx, &current,
		"SELECT value FROM kv_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())", key)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
		current = nil
	} else if err != nil {
		return unavailable("postgres", "update", err)
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}
	if next == nil {
		next = []byte{}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, NULL, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = NULL, updated_at = NOW()`,
		key, next)
	if err != nil {
		return unavailable("postgres", "update", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("postgres", "update", err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
