// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package journal persists resumable-upload checkpoints in SQLite so an
// interrupted upload can continue in a later process.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/fileconv/internal/storage"
)

// tsLayout is fixed width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Journal is a storage.Checkpointer backed by a SQLite database.
type Journal struct {
	db *sql.DB
}

var _ storage.Checkpointer = (*Journal)(nil)

// Open opens or creates the journal database at path and creates the
// schema if it does not exist.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	j := &Journal{db: db}
	if err := j.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return j, nil
}

// Close releases the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS uploads (
			fingerprint TEXT PRIMARY KEY,
			backend TEXT NOT NULL,
			key TEXT NOT NULL,
			name TEXT,
			upload_id TEXT,
			part_size INTEGER NOT NULL,
			size INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS parts (
			fingerprint TEXT NOT NULL REFERENCES uploads(fingerprint) ON DELETE CASCADE,
			number INTEGER NOT NULL,
			size INTEGER NOT NULL,
			etag TEXT,
			PRIMARY KEY (fingerprint, number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_uploads_updated_at ON uploads(updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Load returns the checkpoint for fingerprint, or nil when none exists.
func (j *Journal) Load(ctx context.Context, fingerprint string) (*storage.Checkpoint, error) {
	var (
		cp       storage.Checkpoint
		name     sql.NullString
		uploadID sql.NullString
		updated  string
	)
	err := j.db.QueryRowContext(ctx,
		`SELECT fingerprint, backend, key, name, upload_id, part_size, size, updated_at
		 FROM uploads WHERE fingerprint = ?`, fingerprint,
	).Scan(&cp.Fingerprint, &cp.Backend, &cp.Key, &name, &uploadID, &cp.PartSize, &cp.Size, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	cp.Name = name.String
	cp.UploadID = uploadID.String
	cp.UpdatedAt, _ = time.Parse(tsLayout, updated)

	parts, err := j.parts(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	cp.Parts = parts
	return &cp, nil
}

func (j *Journal) parts(ctx context.Context, fingerprint string) ([]storage.Part, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT number, size, etag FROM parts WHERE fingerprint = ? ORDER BY number`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("loading parts: %w", err)
	}
	defer rows.Close()

	var parts []storage.Part
	for rows.Next() {
		var p storage.Part
		var etag sql.NullString
		if err := rows.Scan(&p.Number, &p.Size, &etag); err != nil {
			return nil, fmt.Errorf("scanning part: %w", err)
		}
		p.ETag = etag.String
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// Save creates or replaces a checkpoint header. Recorded parts are kept
// only when the backend, key, and upload ID match the stored header.
func (j *Journal) Save(ctx context.Context, cp storage.Checkpoint) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var backend, key string
	var uploadID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT backend, key, upload_id FROM uploads WHERE fingerprint = ?`, cp.Fingerprint,
	).Scan(&backend, &key, &uploadID)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("reading checkpoint: %w", err)
	case backend != cp.Backend || key != cp.Key || uploadID.String != cp.UploadID:
		if _, err := tx.ExecContext(ctx, `DELETE FROM parts WHERE fingerprint = ?`, cp.Fingerprint); err != nil {
			return fmt.Errorf("clearing stale parts: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO uploads (fingerprint, backend, key, name, upload_id, part_size, size, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			backend=excluded.backend, key=excluded.key, name=excluded.name,
			upload_id=excluded.upload_id, part_size=excluded.part_size,
			size=excluded.size, updated_at=excluded.updated_at`,
		cp.Fingerprint, cp.Backend, cp.Key, cp.Name, cp.UploadID, cp.PartSize, cp.Size, now(),
	)
	if err != nil {
		return fmt.Errorf("upserting checkpoint: %w", err)
	}
	return tx.Commit()
}

// AddPart records a completed part and touches the checkpoint.
func (j *Journal) AddPart(ctx context.Context, fingerprint string, p storage.Part) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE uploads SET updated_at = ? WHERE fingerprint = ?`, now(), fingerprint)
	if err != nil {
		return fmt.Errorf("touching checkpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no checkpoint for %s", fingerprint)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO parts (fingerprint, number, size, etag) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint, number) DO UPDATE SET size=excluded.size, etag=excluded.etag`,
		fingerprint, p.Number, p.Size, p.ETag,
	)
	if err != nil {
		return fmt.Errorf("recording part %d: %w", p.Number, err)
	}
	return tx.Commit()
}

// Remove deletes a checkpoint and its parts.
func (j *Journal) Remove(ctx context.Context, fingerprint string) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM uploads WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("removing checkpoint: %w", err)
	}
	return nil
}

// List returns every pending checkpoint, most recently updated first.
func (j *Journal) List(ctx context.Context) ([]storage.Checkpoint, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT fingerprint FROM uploads ORDER BY updated_at DESC, fingerprint`)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		fps = append(fps, fp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]storage.Checkpoint, 0, len(fps))
	for _, fp := range fps {
		cp, err := j.Load(ctx, fp)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			out = append(out, *cp)
		}
	}
	return out, nil
}

// Clear removes every checkpoint older than cutoff and returns how many
// were removed. A zero cutoff removes all of them.
func (j *Journal) Clear(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM uploads`
	var args []any
	if !cutoff.IsZero() {
		query += ` WHERE updated_at < ?`
		args = append(args, cutoff.UTC().Format(tsLayout))
	}
	res, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clearing checkpoints: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ExportYAML writes every pending checkpoint to w as YAML.
func (j *Journal) ExportYAML(ctx context.Context, w io.Writer) error {
	cps, err := j.List(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"uploads": cps}); err != nil {
		return fmt.Errorf("encoding checkpoints: %w", err)
	}
	return enc.Close()
}

func now() string {
	return time.Now().UTC().Format(tsLayout)
}
