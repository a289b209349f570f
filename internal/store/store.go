// Package store provides the embedded relational store backing the tracking
// core. It owns schema bootstrap, the single-writer transaction facade, and
// the startup deduplication sweep.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the sqlite database file. All mutating access funnels through
// WithTx, which serialises writers.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open creates the database directory if needed, opens the sqlite file, and
// enforces foreign keys on the connection.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// sqlite supports one writer; keeping a single connection also makes
	// the nested-transaction facade's tx/conn affinity trivial.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy timeout: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the schema idempotently and runs the deduplication sweep.
// It returns the file paths of captures removed by the sweep so the caller
// can unlink them after the transaction has committed.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("store: read schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	var removed []string
	err = s.WithTx(ctx, func(ctx context.Context) error {
		removed, err = s.dedupe(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Uniqueness is enforced only after legacy duplicates are gone.
	for _, stmt := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_clients_name ON clients(name)",
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_projects_client_name ON projects(client_id, name)",
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("store: create unique index: %w", err)
		}
	}

	return removed, nil
}

type txKey struct{}

// WithTx runs fn inside a transaction. A nested call on a context already
// carrying a transaction joins it and does not commit; only the outermost
// call commits, or rolls back when fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("store: rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Exec runs a statement through the current transaction if one is active.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn(ctx).ExecContext(ctx, query, args...)
}

// QueryRow runs a single-row query through the current transaction if one is
// active.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn(ctx).QueryRowContext(ctx, query, args...)
}

// Query runs a multi-row query through the current transaction if one is
// active.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn(ctx).QueryContext(ctx, query, args...)
}

// dedupe retains the lowest id per natural key for clients and projects,
// cascading deletions through dependent rows. Runs inside the caller's
// transaction.
func (s *Store) dedupe(ctx context.Context) ([]string, error) {
	dupProjects, err := s.collectIDs(ctx,
		`SELECT id FROM projects WHERE id NOT IN (
			SELECT MIN(id) FROM projects GROUP BY client_id, name)`)
	if err != nil {
		return nil, err
	}

	dupClients, err := s.collectIDs(ctx,
		`SELECT id FROM clients WHERE id NOT IN (
			SELECT MIN(id) FROM clients GROUP BY name)`)
	if err != nil {
		return nil, err
	}

	// Projects owned by duplicate clients go too.
	for _, clientID := range dupClients {
		owned, err := s.collectIDs(ctx, `SELECT id FROM projects WHERE client_id = ?`, clientID)
		if err != nil {
			return nil, err
		}
		dupProjects = append(dupProjects, owned...)
	}

	var removedFiles []string
	for _, projectID := range dupProjects {
		entryIDs, err := s.collectIDs(ctx, `SELECT id FROM time_entries WHERE project_id = ?`, projectID)
		if err != nil {
			return nil, err
		}
		for _, entryID := range entryIDs {
			files, err := s.deleteEntryCascade(ctx, entryID)
			if err != nil {
				return nil, err
			}
			removedFiles = append(removedFiles, files...)
		}
		if _, err := s.Exec(ctx, `DELETE FROM projects WHERE id = ?`, projectID); err != nil {
			return nil, fmt.Errorf("store: delete duplicate project %d: %w", projectID, err)
		}
	}

	for _, clientID := range dupClients {
		if _, err := s.Exec(ctx, `DELETE FROM clients WHERE id = ?`, clientID); err != nil {
			return nil, fmt.Errorf("store: delete duplicate client %d: %w", clientID, err)
		}
	}

	return removedFiles, nil
}

// deleteEntryCascade removes a time entry with its captures and sync records,
// returning capture file paths for the caller to unlink.
func (s *Store) deleteEntryCascade(ctx context.Context, entryID int64) ([]string, error) {
	rows, err := s.Query(ctx, `SELECT id, file_path FROM captures WHERE time_entry_id = ?`, entryID)
	if err != nil {
		return nil, err
	}
	type cap struct {
		id   int64
		path string
	}
	var caps []cap
	for rows.Next() {
		var c cap
		if err := rows.Scan(&c.id, &c.path); err != nil {
			rows.Close()
			return nil, err
		}
		caps = append(caps, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var files []string
	for _, c := range caps {
		if _, err := s.Exec(ctx, `DELETE FROM sync_records WHERE entity_kind = 'capture' AND entity_id = ?`, c.id); err != nil {
			return nil, err
		}
		if _, err := s.Exec(ctx, `DELETE FROM captures WHERE id = ?`, c.id); err != nil {
			return nil, err
		}
		if c.path != "" {
			files = append(files, c.path)
		}
	}

	if _, err := s.Exec(ctx, `DELETE FROM sync_records WHERE entity_kind = 'time_entry' AND entity_id = ?`, entryID); err != nil {
		return nil, err
	}
	if _, err := s.Exec(ctx, `DELETE FROM time_entries WHERE id = ?`, entryID); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Store) collectIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
