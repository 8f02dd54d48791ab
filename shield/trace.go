package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/floatnote/idgen"
	"github.com/hazyhaar/floatnote/kit"
)

var newRequestID = idgen.Prefixed("req_", idgen.NanoID(12))

// RequestID assigns each request an id, honouring an incoming X-Request-ID,
// and stores it under kit's request id key together with a per-request
// logger. The id is echoed in the response headers.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = newRequestID()
			}
			w.Header().Set("X-Request-ID", id)

			reqLogger := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx := kit.WithRequestID(r.Context(), id)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
