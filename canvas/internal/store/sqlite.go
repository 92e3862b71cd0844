package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/canvas/canvas/internal/surface"
	"github.com/hazyhaar/canvas/dbopen"

	_ "modernc.org/sqlite"
)

// Schema is the DDL of the sqlite backend.
const Schema = `
CREATE TABLE IF NOT EXISTS surfaces (
    surface_id  TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    state       TEXT NOT NULL,
    revision    INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_surfaces_created ON surfaces(created_at);
`

// SQLite stores one row per surface with the full record as JSON.
type SQLite struct {
	DB *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies Schema.
func OpenSQLite(path string, opts ...dbopen.Option) (*SQLite, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &SQLite{DB: db}, nil
}

func (s *SQLite) Save(ctx context.Context, st *surface.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", st.SurfaceID, err)
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO surfaces (surface_id, name, state, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(surface_id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			revision = excluded.revision,
			updated_at = excluded.updated_at`,
		st.SurfaceID, st.Name, string(data), int64(st.Revision),
		st.CreatedAt.UnixMilli(), st.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", st.SurfaceID, err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, id string) (*surface.State, error) {
	var data string
	err := s.DB.QueryRowContext(ctx,
		`SELECT state FROM surfaces WHERE surface_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", id, err)
	}
	var st surface.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", id, err)
	}
	return &st, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := dbopen.Exec(ctx, s.DB, `DELETE FROM surfaces WHERE surface_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// ListIDs returns ids ordered by creation time.
func (s *SQLite) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT surface_id FROM surfaces ORDER BY created_at, surface_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.DB.Close()
}
