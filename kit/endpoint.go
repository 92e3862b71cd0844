package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic operation: typed request in, typed response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so that the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call of the named endpoint at debug level, and failures
// at warn level with the error code when the error carries one.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"duration", time.Since(start),
			}
			if id := GetTraceID(ctx); id != "" {
				attrs = append(attrs, "trace_id", id)
			}
			if id := GetSessionID(ctx); id != "" {
				attrs = append(attrs, "session_id", id)
			}
			if addr := GetRemoteAddr(ctx); addr != "" {
				attrs = append(attrs, "remote_addr", addr)
			}
			if err != nil {
				attrs = append(attrs, "code", CodeOf(err), "error", err)
				logger.Warn("endpoint failed", attrs...)
				return resp, err
			}
			logger.Debug("endpoint ok", attrs...)
			return resp, nil
		}
	}
}
