package store

import (
	"context"

	"github.com/hazyhaar/canvas/canvas/internal/surface"
)

// Nop is the disabled backend: writes are dropped and nothing is ever found.
type Nop struct{}

func (Nop) Save(context.Context, *surface.State) error { return nil }

func (Nop) Load(context.Context, string) (*surface.State, error) { return nil, ErrNotFound }

func (Nop) Delete(context.Context, string) error { return nil }

func (Nop) ListIDs(context.Context) ([]string, error) { return nil, nil }

func (Nop) Close() error { return nil }
