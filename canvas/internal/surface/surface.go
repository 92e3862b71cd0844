// Package surface holds per-surface state and the registry that mints
// surface ids.
//
// A Surface carries its own mutex. Every read or write of its state happens
// between Lock and Unlock; the registry lock only guards membership.
package surface

import (
	"sync"
	"time"

	"github.com/hazyhaar/canvas/canvas/internal/component"
	"github.com/hazyhaar/canvas/canvas/internal/datamodel"
)

// Surface is one canvas: a component collection plus a data model.
type Surface struct {
	mu sync.Mutex

	id        string
	name      string
	size      Size
	createdAt time.Time
	updatedAt time.Time
	revision  uint64

	tree component.Tree
	data datamodel.Model

	closed bool
}

// Checkpoint is the mutable part of a surface, captured for rollback.
type Checkpoint struct {
	tree      component.Tree
	data      datamodel.Model
	updatedAt time.Time
	revision  uint64
}

func newSurface(id, name string, size Size, now time.Time) *Surface {
	now = now.UTC()
	return &Surface{
		id:        id,
		name:      name,
		size:      size,
		createdAt: now,
		updatedAt: now,
		data:      datamodel.New(),
	}
}

func (s *Surface) Lock()   { s.mu.Lock() }
func (s *Surface) Unlock() { s.mu.Unlock() }

// ID is immutable and safe to read without the lock.
func (s *Surface) ID() string { return s.id }

// The accessors below require the lock.

func (s *Surface) Name() string          { return s.name }
func (s *Surface) Size() Size            { return s.size }
func (s *Surface) Revision() uint64      { return s.revision }
func (s *Surface) CreatedAt() time.Time  { return s.createdAt }
func (s *Surface) UpdatedAt() time.Time  { return s.updatedAt }
func (s *Surface) Tree() component.Tree  { return s.tree }
func (s *Surface) Data() datamodel.Model { return s.data }
func (s *Surface) Closed() bool          { return s.closed }
func (s *Surface) Checkpoint() Checkpoint {
	return Checkpoint{tree: s.tree, data: s.data, updatedAt: s.updatedAt, revision: s.revision}
}

// MarkClosed retires the surface. Closing is the last transition, so it
// advances the revision like any mutation.
func (s *Surface) MarkClosed(now time.Time) {
	s.closed = true
	s.touch(now)
}

// Rollback restores a checkpoint taken under the same lock.
func (s *Surface) Rollback(c Checkpoint) {
	s.tree = c.tree
	s.data = c.data
	s.updatedAt = c.updatedAt
	s.revision = c.revision
}

// ReplaceTree installs a validated component collection and bumps the
// revision.
func (s *Surface) ReplaceTree(t component.Tree, now time.Time) {
	s.tree = t
	s.touch(now)
}

// ReplaceData installs a new data model and bumps the revision.
func (s *Surface) ReplaceData(m datamodel.Model, now time.Time) {
	s.data = m
	s.touch(now)
}

// touch advances revision and updatedAt. updatedAt strictly increases even
// when the clock does not.
func (s *Surface) touch(now time.Time) {
	now = now.UTC()
	if !now.After(s.updatedAt) {
		now = s.updatedAt.Add(time.Microsecond)
	}
	s.updatedAt = now
	s.revision++
}

// State returns a deep copy of the persistent record.
func (s *Surface) State() *State {
	return &State{
		SurfaceID:  s.id,
		Name:       s.name,
		Size:       s.size,
		Components: s.tree.Nodes(),
		DataModel:  s.data.Clone(),
		Revision:   s.revision,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
}

// Summary returns the listing view of the surface.
func (s *Surface) Summary() Summary {
	return Summary{
		SurfaceID:      s.id,
		Name:           s.name,
		Size:           s.size,
		ComponentCount: s.tree.Len(),
		Revision:       s.revision,
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.updatedAt,
	}
}
