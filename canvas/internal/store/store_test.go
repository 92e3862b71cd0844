package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/canvas/canvas/internal/component"
	"github.com/hazyhaar/canvas/canvas/internal/surface"
	"github.com/hazyhaar/canvas/dbopen"
)

func sampleState(t *testing.T, id string, created time.Time) *surface.State {
	t.Helper()
	var raw []map[string]any
	if err := json.Unmarshal([]byte(`[
		{"id":"root","component":"Column","children":["t"],"style":{"padding":"16px"}},
		{"id":"t","component":"Text","text":"Hello, {{/user/name}}!","variant":"h2"}
	]`), &raw); err != nil {
		t.Fatal(err)
	}
	tree, err := component.DecodeTree(raw)
	if err != nil {
		t.Fatal(err)
	}
	return &surface.State{
		SurfaceID:  id,
		Name:       "lobby",
		Size:       surface.Size{Width: 390, Height: 844, Preset: surface.PresetPhone, ScaleMode: surface.ScaleFit},
		Components: tree.Nodes(),
		DataModel:  map[string]any{"user": map[string]any{"name": "Alice"}, "n": 3.0, "tags": []any{"a", nil}},
		Revision:   7,
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Second),
	}
}

// exerciseGateway runs the behaviour every backend must share.
func exerciseGateway(t *testing.T, g Gateway) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 123_000_000, time.UTC)

	if _, err := g.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load missing: got %v, want ErrNotFound", err)
	}

	a := sampleState(t, "aaa111", base)
	b := sampleState(t, "bbb222", base.Add(time.Minute))
	for _, st := range []*surface.State{a, b} {
		if err := g.Save(ctx, st); err != nil {
			t.Fatalf("Save %s: %v", st.SurfaceID, err)
		}
	}

	got, err := g.Load(ctx, "aaa111")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(a, got); diff != "" {
		t.Fatalf("round trip (-saved +loaded):\n%s", diff)
	}

	a.Revision = 8
	a.Name = "renamed"
	if err := g.Save(ctx, a); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = g.Load(ctx, "aaa111")
	if got.Revision != 8 || got.Name != "renamed" {
		t.Fatalf("overwrite not visible: %+v", got)
	}

	ids, err := g.ListIDs(ctx)
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if diff := cmp.Diff([]string{"aaa111", "bbb222"}, ids); diff != "" {
		t.Fatalf("ListIDs (-want +got):\n%s", diff)
	}

	if err := g.Delete(ctx, "aaa111"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := g.Delete(ctx, "aaa111"); err != nil {
		t.Fatalf("Delete is not idempotent: %v", err)
	}
	if _, err := g.Load(ctx, "aaa111"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after Delete: got %v", err)
	}
}

func TestSQLite(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	exerciseGateway(t, &SQLite{DB: db})
}

func TestBolt(t *testing.T) {
	g, err := OpenBolt(filepath.Join(t.TempDir(), "canvas.bolt"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })
	exerciseGateway(t, g)
}

func TestDir(t *testing.T) {
	g, err := OpenDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	exerciseGateway(t, g)
}

func TestDir_RejectsUnsafeIDs(t *testing.T) {
	g, err := OpenDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	st := sampleState(t, "../escape", time.Now())
	if err := g.Save(context.Background(), st); err == nil {
		t.Fatal("Save accepted a traversal id")
	}
}

func TestDir_IgnoresStrayFiles(t *testing.T) {
	root := t.TempDir()
	g, err := OpenDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"notes.txt", ".tmp-abc-1"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := g.ListIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("ListIDs: got %v", ids)
	}
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var g Gateway = Nop{}
	if err := g.Save(ctx, sampleState(t, "x", time.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Load(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load: got %v", err)
	}
	if ids, _ := g.ListIDs(ctx); len(ids) != 0 {
		t.Fatalf("ListIDs: got %v", ids)
	}
}

func TestOpen_Backends(t *testing.T) {
	for _, backend := range []string{"sqlite", "bolt", "dir", "none"} {
		g, err := Open(backend, t.TempDir())
		if err != nil {
			t.Fatalf("Open(%s): %v", backend, err)
		}
		if err := g.Close(); err != nil {
			t.Fatalf("Close(%s): %v", backend, err)
		}
	}
	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Fatal("Open accepted an unknown backend")
	}
}
