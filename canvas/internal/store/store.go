// Package store persists surface state. Every backend stores the full
// surface record keyed by id; the engine decides when to write.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/canvas/canvas/internal/surface"
)

// ErrNotFound is returned by Load for an unknown id.
var ErrNotFound = errors.New("store: surface not found")

// Gateway is the persistence contract the engine depends on.
// Delete of an unknown id is not an error.
type Gateway interface {
	Save(ctx context.Context, st *surface.State) error
	Load(ctx context.Context, id string) (*surface.State, error)
	Delete(ctx context.Context, id string) error
	ListIDs(ctx context.Context) ([]string, error)
	Close() error
}

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendDir    = "dir"
	BackendNone   = "none"
)

// Open opens the named backend rooted at dir. sqlite and bolt keep a single
// file inside dir; the dir backend writes one JSON file per surface under
// dir/surfaces.
func Open(backend, dir string) (Gateway, error) {
	switch strings.ToLower(backend) {
	case "", BackendSQLite:
		return OpenSQLite(filepath.Join(dir, "canvas.db"))
	case BackendBolt:
		return OpenBolt(filepath.Join(dir, "canvas.bolt"))
	case BackendDir:
		return OpenDir(filepath.Join(dir, "surfaces"))
	case BackendNone, "disabled":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}
