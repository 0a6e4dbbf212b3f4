package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    scope      TEXT NOT NULL DEFAULT '',
    body       TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_scope ON documents (collection, scope);
`

// SQLiteStore persists documents in a single SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close implements Store.Close.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements Store.Get.
func (s *SQLiteStore) Get(ctx context.Context, c Collection, id string) (Document, error) {
	ctx = ensureContext(ctx)
	var doc Document
	err := retryOnBusy(ctx, func() error {
		var (
			scope string
			body  string
		)
		row := s.db.QueryRowContext(ctx, `SELECT scope, body FROM documents WHERE collection = ? AND id = ?`, string(c), id)
		if err := row.Scan(&scope, &body); err != nil {
			return err
		}
		doc = Document{Collection: c, ID: id, Scope: scope, Body: []byte(body)}
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", c, id, err)
	}
	return doc, nil
}

// Find implements Store.Find.
func (s *SQLiteStore) Find(ctx context.Context, c Collection, scope string) ([]Document, error) {
	ctx = ensureContext(ctx)
	query := `SELECT id, scope, body FROM documents WHERE collection = ?`
	args := []any{string(c)}
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY id`

	var docs []Document
	err := retryOnBusy(ctx, func() error {
		docs = docs[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id, sc, body string
			if err := rows.Scan(&id, &sc, &body); err != nil {
				return err
			}
			docs = append(docs, Document{Collection: c, ID: id, Scope: sc, Body: []byte(body)})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c, err)
	}
	return docs, nil
}

// Commit implements Store.Commit. The batch is applied in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, k := range b.Deletes {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, string(k.Collection), k.ID); err != nil {
				return err
			}
		}
		for _, d := range b.Puts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (collection, id, scope, body, updated_at) VALUES (?, ?, ?, ?, ?)
                 ON CONFLICT(collection, id) DO UPDATE SET scope = excluded.scope, body = excluded.body, updated_at = excluded.updated_at`,
				string(d.Collection), d.ID, d.Scope, string(d.Body), now,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
