package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// SQLite caches raw model output keyed by (file hash, mode, prompt hash).
// Re-running an unchanged project skips generation entirely, which matters
// when a single completion takes minutes on CPU.
type SQLite struct {
	db *sql.DB
}

// Open creates or opens the cache database, creating parent directories as
// needed. Flush drops any previous contents first.
func Open(ctx context.Context, path string, flush bool) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if flush {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove cache database: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS generations (
			file_hash   TEXT NOT NULL,
			mode        TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			raw_output  TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			PRIMARY KEY (file_hash, mode, prompt_hash)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create generations table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (c *SQLite) Get(ctx context.Context, key domain.CacheKey) (string, bool) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		"SELECT raw_output FROM generations WHERE file_hash = ? AND mode = ? AND prompt_hash = ?",
		key.FileHash, key.Mode, key.PromptHash,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		log.Printf("event=cache_query_failed error=%v", err)
		return "", false
	}
	return raw, true
}

func (c *SQLite) Put(ctx context.Context, key domain.CacheKey, raw string) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO generations (file_hash, mode, prompt_hash, raw_output, created_at) VALUES (?, ?, ?, ?, ?)",
		key.FileHash, key.Mode, key.PromptHash, raw, time.Now().Unix(),
	)
	return err
}

func (c *SQLite) Close() error { return c.db.Close() }

// Ping reports whether the cache database is reachable; used by the sidecar
// health endpoint.
func (c *SQLite) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }
