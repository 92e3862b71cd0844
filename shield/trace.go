package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/canvas/idgen"
	"github.com/hazyhaar/canvas/kit"
)

var newTraceID = idgen.Hex(8)

// TraceID returns middleware that tags each request with a trace id. The id
// is stored with kit.WithTraceID, echoed in the X-Trace-ID response header,
// and attached to a per-request logger derived from logger.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" || len(traceID) > 64 {
				traceID = newTraceID()
			}

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithTransport(ctx, "http")
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			w.Header().Set("X-Trace-ID", traceID)

			reqLogger := logger.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
