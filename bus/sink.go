package bus

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Sink delivers events to one receiver (stdout, webhook, SSE clients,
// in-process callback).
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Func is called for each event (in-process, zero serialisation).
type Func func(ctx context.Context, e Event) error

// Callback delivers events via a Go function call.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, e Event) error {
	if c.fn != nil {
		return c.fn(ctx, e)
	}
	return nil
}

func (c *Callback) Close() error { return nil }

// Stdout writes events as JSON lines to an io.Writer (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Send(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}

func (s *Stdout) Close() error { return nil }
