package surface

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/canvas/idgen"
)

// maxMintAttempts bounds id collision retries.
const maxMintAttempts = 32

var (
	// ErrNotFound is returned for unknown or closed surfaces.
	ErrNotFound = errors.New("surface not found")
	// ErrExists is returned by Restore for an id already registered.
	ErrExists = errors.New("surface already exists")
)

// Registry owns the set of live surfaces and is the only place ids are minted.
type Registry struct {
	mu       sync.RWMutex
	surfaces map[string]*Surface
	order    []string
	retired  map[string]struct{}

	gen         idgen.Generator
	now         func() time.Time
	defaultSize Size
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator sets the id strategy. Default: idgen.Default.
func WithIDGenerator(g idgen.Generator) Option { return func(r *Registry) { r.gen = g } }

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// WithDefaultSize sets the size used when a create request carries none.
func WithDefaultSize(s Size) Option { return func(r *Registry) { r.defaultSize = s } }

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		surfaces:    make(map[string]*Surface),
		retired:     make(map[string]struct{}),
		gen:         idgen.Default,
		now:         time.Now,
		defaultSize: Size{Width: 1920, Height: 1080, Preset: PresetTV1080p, ScaleMode: ScaleFit},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time { return r.now() }

// Create resolves the size, mints a fresh id and registers an empty surface.
// The surface is returned locked so that nothing observes it before the
// caller has persisted it; the caller must Unlock.
func (r *Registry) Create(name string, spec SizeSpec) (*Surface, error) {
	size, err := ResolveSize(spec, r.defaultSize)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for range maxMintAttempts {
		id := r.gen()
		if _, taken := r.surfaces[id]; taken {
			continue
		}
		if _, used := r.retired[id]; used {
			continue
		}
		s := newSurface(id, name, size, r.now())
		s.Lock()
		r.surfaces[id] = s
		r.order = append(r.order, id)
		return s, nil
	}
	return nil, fmt.Errorf("surface: no free id after %d attempts", maxMintAttempts)
}

// Restore registers a surface rebuilt from persisted state.
func (r *Registry) Restore(st *State) (*Surface, error) {
	s, err := fromState(st)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.surfaces[s.id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, s.id)
	}
	r.surfaces[s.id] = s
	r.order = append(r.order, s.id)
	return s, nil
}

// Get returns the surface with the given id.
func (r *Registry) Get(id string) (*Surface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns the live surfaces in insertion order.
func (r *Registry) List() []*Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Surface, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.surfaces[id])
	}
	return out
}

// Len returns the number of live surfaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.surfaces)
}

// Remove unregisters id. Its id is never minted again by this registry.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.surfaces[id]; !ok {
		return false
	}
	delete(r.surfaces, id)
	r.retired[id] = struct{}{}
	r.order = slices.DeleteFunc(r.order, func(x string) bool { return x == id })
	return true
}
