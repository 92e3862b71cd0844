package viewer

import (
	_ "embed"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/canvas/canvas"
	"github.com/hazyhaar/canvas/shield"
)

//go:embed assets/canvas.html
var pageHTML string

//go:embed assets/canvas.js
var rendererJS []byte

var pageTmpl = template.Must(template.New("canvas").Parse(pageHTML))

// pageView is the template projection of a surface.
type pageView struct {
	SurfaceID string
	Title     string
	Fixed     bool
	Width     int
	Height    int
	ScaleMode string
	SizeLabel string
}

func newPageView(snap *canvas.Snapshot) pageView {
	size := snap.Size
	v := pageView{
		SurfaceID: snap.SurfaceID,
		Title:     snap.Name,
		Fixed:     size.Width > 0 && size.Height > 0,
		Width:     size.Width,
		Height:    size.Height,
		ScaleMode: string(size.ScaleMode),
	}
	if v.Title == "" {
		v.Title = snap.SurfaceID
	}
	if v.Fixed {
		v.SizeLabel = strconv.Itoa(size.Width) + "x" + strconv.Itoa(size.Height) + " (" + string(size.Preset) + ")"
	} else {
		v.SizeLabel = "auto"
	}
	return v
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "surfaceID")
	snap, err := s.engine.GetSurface(id)
	if err != nil {
		http.Error(w, "Surface not found: "+id, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTmpl.Execute(w, newPageView(snap)); err != nil {
		shield.GetLogger(r.Context()).Error("viewer: render page", "surface_id", id, "error", err)
	}
}

func (s *Server) handleScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(rendererJS)
}
