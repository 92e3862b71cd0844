package canvas

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/hazyhaar/canvas/canvas/internal/component"
	"github.com/hazyhaar/canvas/canvas/internal/datamodel"
	"github.com/hazyhaar/canvas/canvas/internal/hub"
	"github.com/hazyhaar/canvas/canvas/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// viewer is a Channel that queues every message it receives.
type viewer struct {
	id   string
	msgs chan Message
	once sync.Once
	done chan struct{}
}

func newViewer(id string) *viewer {
	return &viewer{id: id, msgs: make(chan Message, 256), done: make(chan struct{})}
}

func (v *viewer) ID() string { return v.id }

func (v *viewer) Send(ctx context.Context, msg Message) error {
	select {
	case v.msgs <- msg:
		return nil
	case <-v.done:
		return errors.New("viewer closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *viewer) Close() error {
	v.once.Do(func() { close(v.done) })
	return nil
}

func (v *viewer) next(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-v.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("viewer %s: no message", v.id)
		return Message{}
	}
}

func (v *viewer) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-v.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("viewer %s: not closed", v.id)
	}
}

// flakyGateway wraps a store and fails writes while failing is set.
type flakyGateway struct {
	store.Gateway
	failing atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (g *flakyGateway) Save(ctx context.Context, st *State) error {
	if g.failing.Load() {
		return errDiskFull
	}
	return g.Gateway.Save(ctx, st)
}

func (g *flakyGateway) Delete(ctx context.Context, id string) error {
	if g.failing.Load() {
		return errDiskFull
	}
	return g.Gateway.Delete(ctx, id)
}

// steppingClock returns a clock that advances one second per reading.
func steppingClock() func() time.Time {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func testEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cfg := &Config{Persistence: PersistenceConfig{Backend: "none"}}
	opts = append([]Option{WithGateway(store.Nop{})}, opts...)
	e, err := New(cfg, quiet, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func mustCreate(t *testing.T, e *Engine, name string, size SizeSpec) string {
	t.Helper()
	info, err := e.CreateSurface(context.Background(), name, size)
	if err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}
	return info.SurfaceID
}

func greeting() []map[string]any {
	return []map[string]any{
		{"id": "root", "component": "Column", "children": []any{"t1"}},
		{"id": "t1", "component": "Text", "text": "Hello, {{/user/name}}!"},
	}
}

func TestEngine_PhoneGreeting(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	info, err := e.CreateSurface(ctx, "greeter", SizeSpec{Preset: "phone"})
	if err != nil {
		t.Fatal(err)
	}
	if info.Size.Width != 390 || info.Size.Height != 844 {
		t.Fatalf("size: got %dx%d", info.Size.Width, info.Size.Height)
	}
	if info.LocalURL != "http://localhost:8080/canvas/"+info.SurfaceID {
		t.Errorf("local_url: %s", info.LocalURL)
	}
	if info.WSURL != "ws://localhost:8080/ws/"+info.SurfaceID {
		t.Errorf("ws_url: %s", info.WSURL)
	}

	if _, err := e.UpdateComponents(ctx, info.SurfaceID, greeting()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateData(ctx, info.SurfaceID, "/user/name", "Alice"); err != nil {
		t.Fatal(err)
	}

	r, err := e.RenderSurface(info.SurfaceID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Root != "root" || len(r.Components) != 2 {
		t.Fatalf("render: %+v", r)
	}
	if got := r.Components[1]["text"]; got != "Hello, Alice!" {
		t.Fatalf("rendered text: got %v", got)
	}
	if r.Revision != 2 {
		t.Errorf("revision: got %d, want 2", r.Revision)
	}
}

func TestEngine_InvalidPreset(t *testing.T) {
	e := testEngine(t)
	_, err := e.CreateSurface(context.Background(), "", SizeSpec{Preset: "billboard"})
	if !errors.Is(err, ErrInvalidSizePreset) {
		t.Fatalf("got %v, want InvalidSizePreset", err)
	}
	if len(e.ListSurfaces()) != 0 {
		t.Fatal("failed create must not register a surface")
	}
}

func TestEngine_UpdateDataKeepsSiblings(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "", SizeSpec{})

	if _, err := e.UpdateData(ctx, id, "/user", map[string]any{"name": "Alice", "age": 30}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateData(ctx, id, "/user/name", "Bob"); err != nil {
		t.Fatal(err)
	}

	snap, err := e.GetSurface(id)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"user": map[string]any{"name": "Bob", "age": float64(30)}}
	if diff := cmp.Diff(want, snap.DataModel); diff != "" {
		t.Fatalf("data model (-want +got):\n%s", diff)
	}
}

func TestEngine_RejectedUpdatesKeepState(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "", SizeSpec{})

	if _, err := e.UpdateComponents(ctx, id, greeting()); err != nil {
		t.Fatal(err)
	}
	before, _ := e.GetSurface(id)

	cases := []struct {
		name  string
		nodes []map[string]any
		want  error
	}{
		{"dangling", []map[string]any{{"id": "root", "component": "Column", "children": []any{"ghost"}}}, ErrDanglingReference},
		{"cycle", []map[string]any{
			{"id": "a", "component": "Row", "children": []any{"b"}},
			{"id": "b", "component": "Row", "children": []any{"a"}},
		}, ErrComponentCycle},
		{"no type", []map[string]any{{"id": "x"}}, ErrInvalidComponent},
	}
	for _, tc := range cases {
		if _, err := e.UpdateComponents(ctx, id, tc.nodes); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
	if _, err := e.UpdateData(ctx, id, "user/name", "x"); !errors.Is(err, ErrInvalidPointer) {
		t.Errorf("pointer: got %v", err)
	}
	if _, err := e.UpdateData(ctx, id, "/f", func() {}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("value: got %v", err)
	}

	after, _ := e.GetSurface(id)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("state changed after rejected updates (-before +after):\n%s", diff)
	}
}

func TestEngine_UnknownSurface(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["update"] = e.UpdateComponents(ctx, "nope", greeting())
	_, checks["data"] = e.UpdateData(ctx, "nope", "/a", 1)
	_, checks["get"] = e.GetSurface("nope")
	_, checks["render"] = e.RenderSurface("nope")
	checks["close"] = e.CloseSurface(ctx, "nope")
	checks["join"] = e.Join("nope", newViewer("v"))
	for op, err := range checks {
		if !errors.Is(err, ErrSurfaceNotFound) {
			t.Errorf("%s: got %v, want SurfaceNotFound", op, err)
		}
	}
}

func TestEngine_ViewerSequence(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "", SizeSpec{})

	v := newViewer("v1")
	if err := e.Join(id, v); err != nil {
		t.Fatal(err)
	}
	snap := v.next(t)
	if snap.Type != hub.TypeSnapshot || snap.Revision != 0 {
		t.Fatalf("first message: %+v", snap)
	}
	if got := snap.Body["surface"].(*Snapshot).ConnectedClients; got != 1 {
		t.Errorf("snapshot connected_clients: got %d", got)
	}

	if _, err := e.UpdateComponents(ctx, id, greeting()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateData(ctx, id, "/user/name", "Alice"); err != nil {
		t.Fatal(err)
	}

	m := v.next(t)
	if m.Type != hub.TypeComponentsUpdated || m.Revision != 1 {
		t.Fatalf("second message: %+v", m)
	}
	if comps := m.Body["components"].([]map[string]any); len(comps) != 2 {
		t.Fatalf("components: %v", comps)
	}
	m = v.next(t)
	if m.Type != hub.TypeDataUpdated || m.Revision != 2 || m.Body["pointer"] != "/user/name" || m.Body["value"] != "Alice" {
		t.Fatalf("third message: %+v", m)
	}

	if got := e.ListSurfaces()[0].ConnectedClients; got != 1 {
		t.Errorf("list connected_clients: got %d", got)
	}
	e.Leave(id, "v1")
	v.waitClosed(t)
	if got := e.ConnectedClients(id); got != 0 {
		t.Errorf("after leave: %d viewers", got)
	}
}

func TestEngine_SnapshotMatchesReplay(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "board", SizeSpec{Preset: "square"})

	type op struct {
		nodes   []map[string]any
		pointer string
		value   any
	}
	ops := []op{
		{nodes: greeting()},
		{pointer: "/user/name", value: "Alice"},
		{pointer: "/items/-", value: 1},
		{pointer: "/items/-", value: map[string]any{"label": "two"}},
		{nodes: []map[string]any{
			{"id": "root", "component": "Row", "children": []any{"a", "b"}},
			{"id": "a", "component": "Text", "text": "{{/user/name}}"},
			{"id": "b", "component": "Divider"},
			{"id": "a", "component": "Text", "text": "again {{/user/name}}"},
		}},
		{pointer: "/user/name", value: "Bob"},
		{pointer: "/items/0", value: nil},
		{pointer: "/scores/2", value: 9.5},
	}

	// Replay the same operations from an empty state, outside the engine.
	model := datamodel.New()
	var tree component.Tree
	for i, o := range ops {
		if o.nodes != nil {
			if _, err := e.UpdateComponents(ctx, id, o.nodes); err != nil {
				t.Fatalf("op %d: %v", i, err)
			}
			built, err := component.DecodeTree(o.nodes)
			if err != nil {
				t.Fatalf("replay op %d: %v", i, err)
			}
			tree = built
			continue
		}
		if _, err := e.UpdateData(ctx, id, o.pointer, o.value); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		norm, err := datamodel.Normalize(o.value)
		if err != nil {
			t.Fatal(err)
		}
		if model, err = model.Set(o.pointer, norm); err != nil {
			t.Fatalf("replay op %d: %v", i, err)
		}
	}
	want := State{
		SurfaceID:  id,
		Name:       "board",
		Size:       Size{Width: 1080, Height: 1080, Preset: "square", ScaleMode: "fit"},
		Components: tree.Nodes(),
		DataModel:  model.Clone(),
		Revision:   uint64(len(ops)),
	}

	v := newViewer("late")
	if err := e.Join(id, v); err != nil {
		t.Fatal(err)
	}
	snap := v.next(t).Body["surface"].(*Snapshot)

	ignoreTimes := cmpopts.IgnoreFields(State{}, "CreatedAt", "UpdatedAt")
	if diff := cmp.Diff(want, snap.State, ignoreTimes); diff != "" {
		t.Fatalf("snapshot differs from replay (-replay +snapshot):\n%s", diff)
	}
	if len(snap.Components) != 3 {
		t.Errorf("duplicate id not collapsed: %d components", len(snap.Components))
	}
}

func TestEngine_ViewersSeeSameOrder(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "", SizeSpec{})

	viewers := []*viewer{newViewer("a"), newViewer("b"), newViewer("c")}
	for _, v := range viewers {
		if err := e.Join(id, v); err != nil {
			t.Fatal(err)
		}
		v.next(t)
	}

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				if _, err := e.UpdateData(ctx, id, "/counter", w*100+i); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	var ref []uint64
	for i, v := range viewers {
		var revs []uint64
		for range 40 {
			revs = append(revs, v.next(t).Revision)
		}
		if i == 0 {
			ref = revs
			for j := 1; j < len(revs); j++ {
				if revs[j] != revs[j-1]+1 {
					t.Fatalf("revisions out of order: %v", revs)
				}
			}
			continue
		}
		if diff := cmp.Diff(ref, revs); diff != "" {
			t.Fatalf("viewer %s order differs:\n%s", v.id, diff)
		}
	}
}

func TestEngine_CloseSurface(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "", SizeSpec{})
	keep := mustCreate(t, e, "", SizeSpec{})

	v := newViewer("v")
	if err := e.Join(id, v); err != nil {
		t.Fatal(err)
	}
	v.next(t)

	if _, err := e.UpdateData(ctx, id, "/a", 1); err != nil {
		t.Fatal(err)
	}
	last := v.next(t)
	if err := e.CloseSurface(ctx, id); err != nil {
		t.Fatal(err)
	}
	if m := v.next(t); m.Type != hub.TypeClosed || m.Revision <= last.Revision || !m.UpdatedAt.After(last.UpdatedAt) {
		t.Fatalf("closed must follow revision %d: %+v", last.Revision, m)
	}
	v.waitClosed(t)

	if _, err := e.UpdateData(ctx, id, "/a", 1); !errors.Is(err, ErrSurfaceNotFound) {
		t.Fatalf("update after close: %v", err)
	}
	if err := e.CloseSurface(ctx, id); !errors.Is(err, ErrSurfaceNotFound) {
		t.Fatalf("second close: %v", err)
	}
	select {
	case m := <-v.msgs:
		t.Fatalf("message after close: %+v", m)
	default:
	}

	list := e.ListSurfaces()
	if len(list) != 1 || list[0].SurfaceID != keep {
		t.Fatalf("list after close: %+v", list)
	}
}

func TestEngine_PersistenceFailureRollsBack(t *testing.T) {
	g := &flakyGateway{Gateway: store.Nop{}}
	e := testEngine(t, WithGateway(g))
	ctx := context.Background()
	id := mustCreate(t, e, "", SizeSpec{})
	if _, err := e.UpdateComponents(ctx, id, greeting()); err != nil {
		t.Fatal(err)
	}

	v := newViewer("v")
	if err := e.Join(id, v); err != nil {
		t.Fatal(err)
	}
	v.next(t)
	before, _ := e.GetSurface(id)

	g.failing.Store(true)
	if _, err := e.UpdateData(ctx, id, "/user/name", "Alice"); !errors.Is(err, ErrPersistence) {
		t.Fatalf("data: got %v", err)
	}
	if _, err := e.UpdateComponents(ctx, id, nil); !errors.Is(err, ErrPersistence) {
		t.Fatalf("update: got %v", err)
	}
	if err := e.CloseSurface(ctx, id); !errors.Is(err, ErrPersistence) {
		t.Fatalf("close: got %v", err)
	}
	if _, err := e.CreateSurface(ctx, "", SizeSpec{}); !errors.Is(err, ErrPersistence) {
		t.Fatalf("create: got %v", err)
	}
	if _, err := e.UpdateData(ctx, id, "/x", 1); !errors.Is(err, errDiskFull) {
		t.Fatalf("gateway error not wrapped: %v", err)
	}

	after, _ := e.GetSurface(id)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("state changed (-before +after):\n%s", diff)
	}
	if n := len(e.ListSurfaces()); n != 1 {
		t.Fatalf("failed create left %d surfaces", n)
	}
	select {
	case m := <-v.msgs:
		t.Fatalf("broadcast after failed write: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}

	g.failing.Store(false)
	res, err := e.UpdateData(ctx, id, "/user/name", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Revision != before.Revision+1 {
		t.Fatalf("revision after recovery: got %d, want %d", res.Revision, before.Revision+1)
	}
}

func TestEngine_StartRestoresSurfaces(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{"sqlite", "bolt", "dir"} {
		t.Run(backend, func(t *testing.T) {
			cfg := &Config{Persistence: PersistenceConfig{Backend: backend, Path: dir + "/" + backend}}
			ctx := context.Background()

			clock := steppingClock()
			first, err := New(cfg, quiet, WithClock(clock))
			if err != nil {
				t.Fatal(err)
			}
			a := mustCreate(t, first, "a", SizeSpec{Preset: "phone"})
			b := mustCreate(t, first, "b", SizeSpec{})
			gone := mustCreate(t, first, "gone", SizeSpec{})
			if _, err := first.UpdateComponents(ctx, a, greeting()); err != nil {
				t.Fatal(err)
			}
			if _, err := first.UpdateData(ctx, a, "/user/name", "Alice"); err != nil {
				t.Fatal(err)
			}
			if err := first.CloseSurface(ctx, gone); err != nil {
				t.Fatal(err)
			}
			want, _ := first.GetSurface(a)
			if err := first.Close(); err != nil {
				t.Fatal(err)
			}

			second, err := New(cfg, quiet, WithClock(clock))
			if err != nil {
				t.Fatal(err)
			}
			defer second.Close()
			if err := second.Start(ctx); err != nil {
				t.Fatal(err)
			}

			list := second.ListSurfaces()
			if len(list) != 2 || list[0].SurfaceID != a || list[1].SurfaceID != b {
				t.Fatalf("restored list: %+v", list)
			}
			got, err := second.GetSurface(a)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("restored state (-want +got):\n%s", diff)
			}
			r, _ := second.RenderSurface(a)
			if r.Components[1]["text"] != "Hello, Alice!" {
				t.Fatalf("restored render: %v", r.Components)
			}
		})
	}
}
