package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hazyhaar/canvas/canvas/internal/surface"
	"github.com/hazyhaar/canvas/horosafe"
)

// Dir writes one indented <id>.json file per surface.
type Dir struct {
	root string
}

// OpenDir creates root if needed.
func OpenDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(id string) (string, error) {
	if err := horosafe.ValidateIdentifier(id); err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	return horosafe.SafePath(d.root, id+".json")
}

// Save writes to a temp file in the same directory and renames it over the
// previous record, so readers never see a partial file.
func (d *Dir) Save(_ context.Context, st *surface.State) error {
	p, err := d.path(st.SurfaceID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", st.SurfaceID, err)
	}

	tmp, err := os.CreateTemp(d.root, ".tmp-"+st.SurfaceID+"-*")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", st.SurfaceID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %s: %w", st.SurfaceID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", st.SurfaceID, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("store: rename %s: %w", st.SurfaceID, err)
	}
	return nil
}

func (d *Dir) Load(_ context.Context, id string) (*surface.State, error) {
	p, err := d.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", id, err)
	}
	var st surface.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", id, err)
	}
	return &st, nil
}

func (d *Dir) Delete(_ context.Context, id string) error {
	p, err := d.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// ListIDs returns the ids of every *.json file, sorted.
func (d *Dir) ListIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *Dir) Close() error { return nil }
