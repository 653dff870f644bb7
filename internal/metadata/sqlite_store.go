package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS manifests (
	source_name TEXT PRIMARY KEY,
	upload_id   TEXT NOT NULL,
	chunk_size  INTEGER NOT NULL,
	total_size  INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	source_name TEXT NOT NULL REFERENCES manifests(source_name) ON DELETE CASCADE,
	idx         INTEGER NOT NULL,
	object_id   TEXT NOT NULL,
	size        INTEGER NOT NULL,
	digest      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (source_name, idx)
);`

// SQLiteStore keeps manifests as rows in a SQLite database.
// A manifest and its chunk rows are written and read in one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite manifest path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	ctx := context.Background()
	if err := s.applyPragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate manifest schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) applyPragmas(ctx context.Context) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the manifest and its chunk rows in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, m *Manifest) (err error) {
	if err := checkSave(m); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_name = ?`, m.SourceName); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO manifests(source_name, upload_id, chunk_size, total_size, created_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(source_name) DO UPDATE SET
	upload_id = excluded.upload_id,
	chunk_size = excluded.chunk_size,
	total_size = excluded.total_size,
	created_at = excluded.created_at`,
		m.SourceName, m.UploadID, m.ChunkSize, m.TotalSize, m.CreatedAt)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks(source_name, idx, object_id, size, digest) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range m.Chunks {
		if _, err = stmt.ExecContext(ctx, m.SourceName, c.Index, c.ObjectID, c.Size, c.Digest); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load reads a manifest and its chunks in one read transaction.
func (s *SQLiteStore) Load(ctx context.Context, sourceName string) (*Manifest, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	m, err := loadTx(ctx, tx, sourceName)
	if err != nil {
		return nil, err
	}
	return checkLoaded(sourceName, m)
}

func loadTx(ctx context.Context, tx *sql.Tx, sourceName string) (*Manifest, error) {
	m := &Manifest{SourceName: sourceName}
	err := tx.QueryRowContext(ctx,
		`SELECT upload_id, chunk_size, total_size, created_at FROM manifests WHERE source_name = ?`,
		sourceName).Scan(&m.UploadID, &m.ChunkSize, &m.TotalSize, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, sourceName)
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT idx, object_id, size, digest FROM chunks WHERE source_name = ? ORDER BY idx`,
		sourceName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m.Chunks = []ChunkRecord{}
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.Index, &c.ObjectID, &c.Size, &c.Digest); err != nil {
			return nil, err
		}
		m.Chunks = append(m.Chunks, c)
	}
	return m, rows.Err()
}

// List returns every valid manifest ordered by source name.
func (s *SQLiteStore) List(ctx context.Context) ([]*Manifest, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT source_name FROM manifests ORDER BY source_name`)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []*Manifest
	for _, name := range names {
		m, err := loadTx(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		if valid, err := checkLoaded(name, m); err == nil {
			out = append(out, valid)
		}
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sourceName string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM manifests WHERE source_name = ?`, sourceName)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrManifestNotFound, sourceName)
	}
	return nil
}
