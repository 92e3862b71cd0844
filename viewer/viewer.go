// Package viewer serves canvas surfaces to displays: the HTML page with its
// renderer, the WebSocket viewer channel, and a small read-only JSON API.
//
// Usage:
//
//	srv := viewer.New(engine, logger, viewer.WithMetrics(m), viewer.WithMCPHandler(h))
//	http.ListenAndServe(addr, srv.Handler())
package viewer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/canvas/canvas"
	"github.com/hazyhaar/canvas/idgen"
	"github.com/hazyhaar/canvas/kit"
	"github.com/hazyhaar/canvas/observability"
	"github.com/hazyhaar/canvas/shield"
)

// Server routes viewer traffic to a canvas Engine.
type Server struct {
	engine   *canvas.Engine
	cfg      canvas.ViewerConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	mcp      http.Handler
	upgrader websocket.Upgrader
	newID    idgen.Generator
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m on /metrics.
func WithMetrics(m *observability.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithMCPHandler mounts h on /mcp.
func WithMCPHandler(h http.Handler) Option { return func(s *Server) { s.mcp = h } }

// New builds a Server for engine.
func New(engine *canvas.Engine, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: engine,
		cfg:    engine.Config().Viewer,
		logger: logger,
		newID:  idgen.Prefixed("ws_", idgen.NanoID(12)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Displays load the page from this server but casting receivers
			// and dashboards may embed it from elsewhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the chi router with the shield middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultViewerStack(s.logger) {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/canvas/{surfaceID}", s.handlePage)
	r.Get("/static/canvas.js", s.handleScript)
	r.Get("/ws/{surfaceID}", s.handleWS)

	r.Route("/api/surfaces", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{surfaceID}", s.handleGet)
	})

	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}
	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
		r.Handle("/mcp/*", s.mcp)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	list := s.engine.ListSurfaces()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(list), "surfaces": list})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetSurface(chi.URLParam(r, "surfaceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, canvas.ErrSurfaceNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, kit.ToolError{Code: kit.CodeOf(err), Message: err.Error()})
}
