package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Async decouples a slow sink (a webhook) from the publisher. Events are
// queued and delivered by one worker goroutine; when the queue is full the
// event is dropped.
type Async struct {
	sink   Sink
	logger *slog.Logger
	queue  chan Event

	closeOnce sync.Once
	done      chan struct{}
	dropped   atomic.Int64
}

// NewAsync starts a worker delivering to sink through a queue of size buffer.
func NewAsync(sink Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		if err := a.sink.Send(context.Background(), e); err != nil {
			a.logger.Warn("bus: async delivery failed", "type", e.Type, "id", e.ID, "error", err)
		}
	}
}

// Send queues e without blocking.
func (a *Async) Send(_ context.Context, e Event) (err error) {
	defer func() {
		// Send after Close.
		if recover() != nil {
			a.dropped.Add(1)
		}
	}()
	select {
	case a.queue <- e:
	default:
		a.dropped.Add(1)
		a.logger.Debug("bus: async queue full, event dropped", "type", e.Type, "id", e.ID)
	}
	return nil
}

// Dropped returns the number of events discarded.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close drains the queue, then closes the wrapped sink.
func (a *Async) Close() error {
	a.closeOnce.Do(func() { close(a.queue) })
	<-a.done
	return a.sink.Close()
}
