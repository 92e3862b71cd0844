// Package canvas is the surface state and real-time synchronization engine.
//
// Agents create surfaces, replace their component collections and write into
// their data models; the Engine applies each mutation under the surface's
// lock, persists it, and publishes it to every connected viewer before the
// lock is released. Viewers that join receive a full snapshot first.
//
// Usage:
//
//	e, err := canvas.New(cfg, logger)
//	defer e.Close()
//	if err := e.Start(ctx); err != nil { ... } // rehydrate from the store
//	e.RegisterMCP(mcpServer)
package canvas

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hazyhaar/canvas/canvas/internal/component"
	"github.com/hazyhaar/canvas/canvas/internal/datamodel"
	"github.com/hazyhaar/canvas/canvas/internal/hub"
	"github.com/hazyhaar/canvas/canvas/internal/store"
	"github.com/hazyhaar/canvas/canvas/internal/surface"
	"github.com/hazyhaar/canvas/idgen"
	"github.com/hazyhaar/canvas/kit"
	"github.com/hazyhaar/canvas/observability"
)

// Types re-exported for transports outside this module tree.
type (
	Size     = surface.Size
	SizeSpec = surface.SizeSpec
	State    = surface.State
	Summary  = surface.Summary
	Message  = hub.Message
	Channel  = hub.Channel
	Gateway  = store.Gateway
)

// Operation names used in logs and metrics.
const (
	OpCreate = "create"
	OpUpdate = "update_components"
	OpData   = "update_data"
	OpClose  = "close"
)

// Engine orchestrates the registry, the store and the hub.
type Engine struct {
	cfg      *Config
	registry *surface.Registry
	hub      *hub.Hub
	store    store.Gateway
	metrics  *observability.Metrics
	logger   *slog.Logger

	gen idgen.Generator
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithGateway replaces the store opened from the config.
func WithGateway(g Gateway) Option { return func(e *Engine) { e.store = g } }

// WithMetrics instruments the engine and its hub.
func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithIDGenerator overrides the configured id strategy.
func WithIDGenerator(g idgen.Generator) Option { return func(e *Engine) { e.gen = g } }

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New builds an Engine. Unless WithGateway is given, the configured
// persistence backend is opened.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{cfg: cfg, logger: logger, now: time.Now}
	for _, o := range opts {
		o(e)
	}

	if e.gen == nil {
		gen, err := idgen.ByName(cfg.IDStrategy)
		if err != nil {
			return nil, err
		}
		e.gen = gen
	}
	defSize, err := surface.PresetSize(cfg.DefaultSize)
	if err != nil {
		return nil, fmt.Errorf("canvas: default_size: %w", err)
	}
	if e.store == nil {
		g, err := store.Open(cfg.Persistence.Backend, cfg.StorePath())
		if err != nil {
			return nil, fmt.Errorf("canvas: open store: %w", err)
		}
		e.store = g
	}

	e.registry = surface.NewRegistry(
		surface.WithIDGenerator(e.gen),
		surface.WithClock(e.now),
		surface.WithDefaultSize(defSize),
	)
	e.hub = hub.New(
		hub.WithBuffer(cfg.Viewer.SendBuffer),
		hub.WithLogger(logger),
		hub.WithMetrics(e.metrics),
	)
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() *Config { return e.cfg }

// Start rehydrates the registry from the store, oldest surface first.
// Records that fail to load are logged and skipped.
func (e *Engine) Start(ctx context.Context) error {
	ids, err := e.store.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("canvas: list stored surfaces: %w", err)
	}

	states := make([]*State, 0, len(ids))
	for _, id := range ids {
		st, err := e.store.Load(ctx, id)
		if err != nil {
			e.logger.Warn("canvas: skip stored surface", "surface_id", id, "error", err)
			continue
		}
		states = append(states, st)
	}
	slices.SortStableFunc(states, func(a, b *State) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SurfaceID, b.SurfaceID)
	})

	restored := 0
	for _, st := range states {
		if _, err := e.registry.Restore(st); err != nil {
			e.logger.Warn("canvas: skip stored surface", "surface_id", st.SurfaceID, "error", err)
			continue
		}
		restored++
	}
	e.metrics.SetSurfaces(e.registry.Len())
	e.logger.Info("canvas: started", "restored", restored, "backend", e.cfg.Persistence.Backend)
	return nil
}

// Close disconnects every viewer and closes the store.
func (e *Engine) Close() error {
	e.hub.Close()
	return e.store.Close()
}

// SurfaceInfo is returned by CreateSurface.
type SurfaceInfo struct {
	SurfaceID string    `json:"surface_id"`
	Name      string    `json:"name,omitempty"`
	Size      Size      `json:"size"`
	LocalURL  string    `json:"local_url"`
	WSURL     string    `json:"ws_url"`
	CreatedAt time.Time `json:"created_at"`
}

// UpdateResult acknowledges an accepted mutation.
type UpdateResult struct {
	SurfaceID string    `json:"surface_id"`
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
	// ComponentCount is the size of the stored collection after a
	// component update, duplicates collapsed.
	ComponentCount int `json:"components_count,omitempty"`
}

// Snapshot is a deep copy of a surface plus its viewer count.
type Snapshot struct {
	State
	ConnectedClients int `json:"connected_clients"`
}

// Rendered is a surface with every binding resolved.
type Rendered struct {
	SurfaceID  string           `json:"surface_id"`
	Revision   uint64           `json:"revision"`
	Root       string           `json:"root,omitempty"`
	Components []map[string]any `json:"components"`
}

// CreateSurface registers an empty surface and persists it before returning.
func (e *Engine) CreateSurface(ctx context.Context, name string, size SizeSpec) (*SurfaceInfo, error) {
	s, err := e.registry.Create(name, size)
	if err != nil {
		return nil, e.fail(OpCreate, "", err)
	}
	defer s.Unlock()
	if err := e.persist(ctx, s.State()); err != nil {
		e.registry.Remove(s.ID())
		s.MarkClosed(e.now())
		return nil, e.fail(OpCreate, s.ID(), persistenceFailure(err))
	}

	e.metrics.Mutation(OpCreate)
	e.metrics.SetSurfaces(e.registry.Len())
	e.logger.Info("canvas: surface created", "surface_id", s.ID(), "name", name,
		"preset", s.Size().Preset, "width", s.Size().Width, "height", s.Size().Height)

	local, ws := e.cfg.SurfaceURLs(s.ID())
	return &SurfaceInfo{
		SurfaceID: s.ID(),
		Name:      s.Name(),
		Size:      s.Size(),
		LocalURL:  local,
		WSURL:     ws,
		CreatedAt: s.CreatedAt(),
	}, nil
}

// UpdateComponents replaces the component collection of a surface.
func (e *Engine) UpdateComponents(ctx context.Context, id string, nodes []map[string]any) (*UpdateResult, error) {
	s, err := e.lockLive(id)
	if err != nil {
		return nil, e.fail(OpUpdate, id, err)
	}
	defer s.Unlock()

	tree, err := component.DecodeTree(nodes)
	if err != nil {
		return nil, e.fail(OpUpdate, id, err)
	}

	cp := s.Checkpoint()
	s.ReplaceTree(tree, e.now())
	if err := e.persist(ctx, s.State()); err != nil {
		s.Rollback(cp)
		return nil, e.fail(OpUpdate, id, persistenceFailure(err))
	}

	e.hub.Publish(id, hub.ComponentsUpdated(id, s.Revision(), s.UpdatedAt(), tree.Maps()))
	e.metrics.Mutation(OpUpdate)
	e.logger.Debug("canvas: components updated", "surface_id", id,
		"count", tree.Len(), "revision", s.Revision())
	return &UpdateResult{SurfaceID: id, Revision: s.Revision(), UpdatedAt: s.UpdatedAt(), ComponentCount: tree.Len()}, nil
}

// UpdateData writes value at pointer in the surface's data model.
func (e *Engine) UpdateData(ctx context.Context, id, pointer string, value any) (*UpdateResult, error) {
	s, err := e.lockLive(id)
	if err != nil {
		return nil, e.fail(OpData, id, err)
	}
	defer s.Unlock()

	norm, err := datamodel.Normalize(value)
	if err != nil {
		return nil, e.fail(OpData, id, err)
	}
	next, err := s.Data().Set(pointer, norm)
	if err != nil {
		return nil, e.fail(OpData, id, err)
	}

	cp := s.Checkpoint()
	s.ReplaceData(next, e.now())
	if err := e.persist(ctx, s.State()); err != nil {
		s.Rollback(cp)
		return nil, e.fail(OpData, id, persistenceFailure(err))
	}

	e.hub.Publish(id, hub.DataUpdated(id, s.Revision(), s.UpdatedAt(), pointer, datamodel.Copy(norm)))
	e.metrics.Mutation(OpData)
	e.logger.Debug("canvas: data updated", "surface_id", id,
		"pointer", pointer, "revision", s.Revision())
	return &UpdateResult{SurfaceID: id, Revision: s.Revision(), UpdatedAt: s.UpdatedAt()}, nil
}

// CloseSurface deletes the surface from the store and the registry, sends
// the closed notice and disconnects its viewers.
func (e *Engine) CloseSurface(ctx context.Context, id string) error {
	s, err := e.lockLive(id)
	if err != nil {
		return e.fail(OpClose, id, err)
	}
	defer s.Unlock()

	start := time.Now()
	err = e.store.Delete(context.WithoutCancel(ctx), id)
	e.metrics.ObservePersist(start)
	if err != nil {
		return e.fail(OpClose, id, persistenceFailure(err))
	}

	e.registry.Remove(id)
	s.MarkClosed(e.now())
	e.hub.CloseTopic(id, hub.Closed(id, s.Revision(), s.UpdatedAt()))

	e.metrics.Mutation(OpClose)
	e.metrics.SetSurfaces(e.registry.Len())
	e.logger.Info("canvas: surface closed", "surface_id", id)
	return nil
}

// GetSurface returns a deep copy of the surface.
func (e *Engine) GetSurface(id string) (*Snapshot, error) {
	s, err := e.lockLive(id)
	if err != nil {
		return nil, err
	}
	defer s.Unlock()
	return e.snapshot(s), nil
}

// ListSurfaces returns summaries in creation order.
func (e *Engine) ListSurfaces() []Summary {
	list := e.registry.List()
	out := make([]Summary, 0, len(list))
	for _, s := range list {
		s.Lock()
		if !s.Closed() {
			sum := s.Summary()
			sum.ConnectedClients = e.hub.Count(s.ID())
			out = append(out, sum)
		}
		s.Unlock()
	}
	return out
}

// RenderSurface returns the components with bindings resolved against the
// current data model.
func (e *Engine) RenderSurface(id string) (*Rendered, error) {
	s, err := e.lockLive(id)
	if err != nil {
		return nil, err
	}
	defer s.Unlock()

	tree, data := s.Tree(), s.Data()
	out := &Rendered{SurfaceID: id, Revision: s.Revision(), Components: make([]map[string]any, 0, tree.Len())}
	if root, ok := tree.Root(); ok {
		out.Root = root.ID
	}
	for _, n := range tree.Nodes() {
		out.Components = append(out.Components, n.Resolve(data).Map())
	}
	return out, nil
}

// Join subscribes a viewer channel. The channel's first message is a
// snapshot of the surface.
func (e *Engine) Join(id string, ch Channel) error {
	s, err := e.lockLive(id)
	if err != nil {
		return err
	}
	defer s.Unlock()

	snap := e.snapshot(s)
	snap.ConnectedClients++
	if err := e.hub.Join(id, ch, hub.Snapshot(id, s.Revision(), s.UpdatedAt(), snap)); err != nil {
		if errors.Is(err, hub.ErrClosed) {
			return notFound(id)
		}
		return err
	}
	e.logger.Debug("canvas: viewer joined", "surface_id", id, "channel_id", ch.ID())
	return nil
}

// Leave unsubscribes a viewer channel.
func (e *Engine) Leave(id, channelID string) {
	e.hub.Leave(id, channelID)
	e.logger.Debug("canvas: viewer left", "surface_id", id, "channel_id", channelID)
}

// ConnectedClients returns the number of viewers of a surface.
func (e *Engine) ConnectedClients(id string) int {
	return e.hub.Count(id)
}

// SurfaceURLs returns the page and WebSocket URLs of a surface.
func (e *Engine) SurfaceURLs(id string) (localURL, wsURL string) {
	return e.cfg.SurfaceURLs(id)
}

// lockLive returns the surface locked, or SurfaceNotFound when it is
// unknown or was closed after lookup.
func (e *Engine) lockLive(id string) (*surface.Surface, error) {
	s, err := e.registry.Get(id)
	if err != nil {
		return nil, notFound(id)
	}
	s.Lock()
	if s.Closed() {
		s.Unlock()
		return nil, notFound(id)
	}
	return s, nil
}

func (e *Engine) snapshot(s *surface.Surface) *Snapshot {
	return &Snapshot{State: *s.State(), ConnectedClients: e.hub.Count(s.ID())}
}

func (e *Engine) persist(ctx context.Context, st *State) error {
	start := time.Now()
	err := e.store.Save(context.WithoutCancel(ctx), st)
	e.metrics.ObservePersist(start)
	return err
}

func (e *Engine) fail(op, id string, err error) error {
	err = classify(err)
	code := kit.CodeOf(err)
	e.metrics.MutationError(op, code)
	level := slog.LevelDebug
	if code == CodePersistenceFailure {
		level = slog.LevelError
	}
	e.logger.Log(context.Background(), level, "canvas: "+op+" rejected",
		"surface_id", id, "code", code, "error", err)
	return err
}
