// Package storage persists trained forecast bundles in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/property-forecast/internal/forecast"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultKeep is how many bundles Save retains when no limit is configured.
const DefaultKeep = 5

// ErrNotFound is returned when no stored bundle matches.
var ErrNotFound = errors.New("bundle not found")

// Summary describes a stored bundle without decoding it.
type Summary struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Sectors   int       `json:"sectors"`
	Size      int       `json:"size_bytes"`
}

// BundleStore keeps the newest bundles in a single table.
type BundleStore struct {
	db   *sql.DB
	keep int
}

// Open opens or creates the database at path. ":memory:" is accepted for tests.
// keep bounds how many bundles are retained; non-positive selects DefaultKeep.
func Open(path string, keep int) (*BundleStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	s := &BundleStore{db: db, keep: keep}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *BundleStore) Close() error {
	return s.db.Close()
}

func (s *BundleStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bundles (
			id         TEXT PRIMARY KEY,
			version    INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			sectors    INTEGER NOT NULL,
			payload    BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bundles_created_at ON bundles(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save stores b and prunes everything older than the retention limit.
func (s *BundleStore) Save(ctx context.Context, b *forecast.Bundle) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid bundle: %w", err)
	}
	payload, err := forecast.EncodeBundle(b)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bundles (id, version, created_at, sectors, payload)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			version=excluded.version, created_at=excluded.created_at,
			sectors=excluded.sectors, payload=excluded.payload`,
		b.ID, b.Version, b.CreatedAt.UnixNano(), len(b.Snapshot), payload,
	); err != nil {
		return fmt.Errorf("insert bundle %s: %w", b.ID, err)
	}
	if _, err := prune(ctx, tx, s.keep); err != nil {
		return err
	}
	return tx.Commit()
}

// Latest returns the most recently created bundle.
func (s *BundleStore) Latest(ctx context.Context) (*forecast.Bundle, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM bundles ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest bundle: %w", err)
	}
	return forecast.DecodeBundle(payload)
}

// Get returns the bundle with the given id.
func (s *BundleStore) Get(ctx context.Context, id string) (*forecast.Bundle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q is not a bundle id", ErrNotFound, id)
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM bundles WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query bundle %s: %w", id, err)
	}
	return forecast.DecodeBundle(payload)
}

// List summarises the stored bundles, newest first.
func (s *BundleStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, created_at, sectors, length(payload)
		FROM bundles ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query bundles: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var created int64
		if err := rows.Scan(&sum.ID, &sum.Version, &created, &sum.Sectors, &sum.Size); err != nil {
			return nil, fmt.Errorf("scan bundle: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Prune deletes all but the keep newest bundles and reports how many went.
func (s *BundleStore) Prune(ctx context.Context, keep int) (int, error) {
	return prune(ctx, s.db, keep)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func prune(ctx context.Context, db execer, keep int) (int, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM bundles WHERE id NOT IN (
			SELECT id FROM bundles ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, max(keep, 1))
	if err != nil {
		return 0, fmt.Errorf("prune bundles: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
