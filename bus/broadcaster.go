package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// Broadcaster fans events out to in-process subscribers, typically SSE
// clients. A subscriber whose buffer is full misses the event.
type Broadcaster struct {
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool

	dropped atomic.Int64
}

type subscriber struct {
	ch     chan Event
	filter func(Event) bool
}

// NewBroadcaster creates a Broadcaster with a per-subscriber buffer.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{logger: logger, buffer: buffer, subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a receiver. filter may be nil to receive everything.
// The returned cancel func unregisters and closes the channel.
func (b *Broadcaster) Subscribe(filter func(Event) bool) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, b.buffer), filter: filter}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered receivers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns the number of deliveries skipped because a subscriber
// was not keeping up.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

// Send never blocks and never fails.
func (b *Broadcaster) Send(_ context.Context, e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Debug("bus: subscriber slow, event dropped", "type", e.Type, "id", e.ID)
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = map[*subscriber]struct{}{}
	return nil
}

// ServeHTTP streams events as server-sent events. Query parameters page and
// url restrict the stream to one page id or one page URL.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	page := r.URL.Query().Get("page")
	url := r.URL.Query().Get("url")
	events, cancel := b.Subscribe(func(e Event) bool {
		if page != "" && e.PageID != "" && e.PageID != page {
			return false
		}
		if url != "" && e.URL != "" && e.URL != url {
			return false
		}
		return true
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				b.logger.Warn("bus: marshal event", "type", e.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
