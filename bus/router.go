package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Router fans out events to all registered sinks. One sink error does not
// block the others: errors are logged and the first encountered is
// returned by Send. Publish drops errors after logging them.
type Router struct {
	logger *slog.Logger

	mu    sync.RWMutex
	sinks []Sink
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add registers another sink.
func (r *Router) Add(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

func (r *Router) Send(ctx context.Context, e Event) error {
	r.mu.RLock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			r.logger.Warn("bus: send event failed", "type", e.Type, "id", e.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Publish delivers e best-effort. Callers in the page core use it so a
// failing receiver never reaches them.
func (r *Router) Publish(ctx context.Context, e Event) {
	_ = r.Send(ctx, e)
}

func (r *Router) Close() error {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = nil
	r.mu.Unlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
