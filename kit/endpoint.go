// Package kit holds the transport-neutral plumbing shared by the HTTP and
// MCP surfaces: endpoints, middleware and request-scoped context values.
package kit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/floatnote/idgen"
)

// Endpoint is a transport-neutral operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// RequestID assigns a request id unless the context already carries one.
func RequestID(gen idgen.Generator) Middleware {
	if gen == nil {
		gen = idgen.Default
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if GetRequestID(ctx) == "" {
				ctx = WithRequestID(ctx, gen())
			}
			return next(ctx, req)
		}
	}
}

// Recover turns a panic in the endpoint into an error.
func Recover(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("kit: endpoint panic", "panic", r, "request_id", GetRequestID(ctx))
					resp, err = nil, fmt.Errorf("kit: internal error: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Logging logs each call at debug level, and failures at warn level.
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
				"request_id", GetRequestID(ctx),
				"duration", time.Since(start),
			}
			if page := GetPageID(ctx); page != "" {
				attrs = append(attrs, "page", page)
			}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: endpoint done", attrs...)
			}
			return resp, err
		}
	}
}
