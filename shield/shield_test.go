package shield

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/canvas/kit"
)

func stack(logger *slog.Logger, h http.Handler) http.Handler {
	mws := DefaultViewerStack(logger)
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestViewerStack(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var gotMethod, gotTrace string
	h := stack(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotTrace = kit.GetTraceID(r.Context())
		GetLogger(r.Context()).Info("inside")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/canvas/abc", nil))

	if gotMethod != http.MethodGet {
		t.Errorf("HEAD not rewritten: %s", gotMethod)
	}
	if len(gotTrace) != 8 || rec.Header().Get("X-Trace-ID") != gotTrace {
		t.Errorf("trace id: ctx %q header %q", gotTrace, rec.Header().Get("X-Trace-ID"))
	}
	if !strings.Contains(rec.Header().Get("Content-Security-Policy"), "connect-src 'self' ws: wss:") {
		t.Errorf("csp: %s", rec.Header().Get("Content-Security-Policy"))
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if !strings.Contains(buf.String(), `"trace_id":"`+gotTrace+`"`) || !strings.Contains(buf.String(), `"msg":"inside"`) {
		t.Errorf("request logger not scoped: %s", buf.String())
	}
}

func TestTraceID_KeepsIncoming(t *testing.T) {
	var got string
	h := TraceID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = kit.GetTraceID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "upstream-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "upstream-1" {
		t.Fatalf("got %q", got)
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(httptest.NewRequest(http.MethodGet, "/", nil).Context()) != slog.Default() {
		t.Fatal("expected slog.Default")
	}
}
