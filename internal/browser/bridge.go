package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ysmood/gson"

	"github.com/hazyhaar/floatnote/anchor"
	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/annotator"
	"github.com/hazyhaar/floatnote/overlay"
)

// handler is the part of *annotator.Session the page input drives.
type handler interface {
	Key(ctx context.Context, ev annotator.KeyEvent) (annotator.Action, error)
	Select(ctx context.Context, e anchor.Endpoints) (*annotation.Annotation, error)
	Click(x, y float64, insideToolbar bool) (overlay.Toolbar, error)
	Recolor(ctx context.Context, id, color string) error
	Delete(ctx context.Context, id string) error
	UpdateNote(ctx context.Context, id string, n annotation.Note) (*annotation.Annotation, error)
	DeleteNote(ctx context.Context, id string) error
	Notes() []*annotation.Annotation
}

// bridge queues events reported by the page script and applies them to the
// bound session in arrival order on one goroutine. Events arriving before
// a session is bound, or while the queue is full, are dropped.
type bridge struct {
	logger *slog.Logger
	queue  chan gson.JSON

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newBridge(logger *slog.Logger) *bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &bridge{logger: logger, queue: make(chan gson.JSON, 64)}
}

func (b *bridge) push(ev gson.JSON) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.stopped {
		return
	}
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("browser: event queue full, dropping", "type", ev.Get("type").Str())
	}
}

func (b *bridge) start(h handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.stopped {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.started = true
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx, h)
}

func (b *bridge) stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	started := b.started
	b.mu.Unlock()
	if started {
		b.cancel()
		<-b.done
	}
}

func (b *bridge) run(ctx context.Context, h handler) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			if err := b.safeDispatch(ctx, h, ev); err != nil {
				b.logger.Warn("browser: page event failed", "type", ev.Get("type").Str(), "error", err)
			}
		}
	}
}

func (b *bridge) safeDispatch(ctx context.Context, h handler, ev gson.JSON) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("browser: panic in %s handler: %v", ev.Get("type").Str(), r)
		}
	}()
	return dispatch(ctx, h, ev)
}

// dispatch applies one page event to h.
func dispatch(ctx context.Context, h handler, ev gson.JSON) error {
	switch typ := ev.Get("type").Str(); typ {
	case "key":
		key := ev.Get("key").Str()
		if len([]rune(key)) == 1 {
			key = strings.ToLower(key)
		}
		_, err := h.Key(ctx, annotator.KeyEvent{
			Key:      key,
			Ctrl:     ev.Get("ctrl").Bool(),
			Meta:     ev.Get("meta").Bool(),
			Shift:    ev.Get("shift").Bool(),
			Alt:      ev.Get("alt").Bool(),
			Editable: ev.Get("editable").Bool(),
		})
		return err

	case "select":
		start, err := endpointOf(ev.Get("start"))
		if err != nil {
			return err
		}
		end, err := endpointOf(ev.Get("end"))
		if err != nil {
			return err
		}
		_, err = h.Select(ctx, anchor.Endpoints{Start: start, End: end})
		return err

	case "click":
		_, err := h.Click(ev.Get("x").Num(), ev.Get("y").Num(), ev.Get("inside").Bool())
		return err

	case "recolor":
		return h.Recolor(ctx, ev.Get("id").Str(), ev.Get("color").Str())

	case "delete":
		return h.Delete(ctx, ev.Get("id").Str())

	case "noteDelete":
		return h.DeleteNote(ctx, ev.Get("id").Str())

	case "noteChanged", "noteMode", "noteMoved", "noteResized", "noteStyle":
		id := ev.Get("id").Str()
		cur := noteOf(h, id)
		if cur == nil {
			return fmt.Errorf("browser: %s: unknown note %s", typ, id)
		}
		next := *cur
		switch typ {
		case "noteChanged":
			next.HTML = ev.Get("html").Str()
		case "noteMode":
			next.ViewMode = annotation.ViewMode(ev.Get("view_mode").Str())
		case "noteMoved":
			next.BBox.Left = ev.Get("left").Num()
			next.BBox.Top = ev.Get("top").Num()
		case "noteResized":
			next.BBox.Width = ev.Get("width").Num()
			next.BBox.Height = ev.Get("height").Num()
		}
		if st, ok := styleOf(ev.Get("style")); ok {
			next.Style = st
		}
		_, err := h.UpdateNote(ctx, id, next)
		return err

	default:
		return fmt.Errorf("browser: unknown page event %q", typ)
	}
}

// payloadOf unwraps the argument list the binding receives; the page script
// passes a single event object.
func payloadOf(v gson.JSON) gson.JSON {
	if args, ok := v.Val().([]interface{}); ok {
		if len(args) == 0 {
			return gson.New(nil)
		}
		return gson.New(args[0])
	}
	return v
}

func noteOf(h handler, id string) *annotation.Note {
	for _, n := range h.Notes() {
		if n.ID == id {
			return n.Note
		}
	}
	return nil
}

// styleOf reads a computed-style snapshot sent by the page script. It
// reports false when the event carries none.
func styleOf(v gson.JSON) (annotation.Style, bool) {
	if _, ok := v.Val().(map[string]interface{}); !ok {
		return annotation.Style{}, false
	}
	return annotation.Style{
		BackgroundColor: v.Get("background_color").Str(),
		Color:           v.Get("color").Str(),
		FontFamily:      v.Get("font_family").Str(),
		FontSize:        v.Get("font_size").Str(),
		LineHeight:      v.Get("line_height").Str(),
		LetterSpacing:   v.Get("letter_spacing").Str(),
		WordSpacing:     v.Get("word_spacing").Str(),
		Border:          v.Get("border").Str(),
		Padding:         v.Get("padding").Str(),
		Margin:          v.Get("margin").Str(),
		MarginTop:       v.Get("margin_top").Str(),
	}, true
}

func endpointOf(v gson.JSON) (anchor.Endpoint, error) {
	p, err := anchor.Parse(v.Get("path").Str())
	if err != nil {
		return anchor.Endpoint{}, err
	}
	return anchor.Endpoint{Path: p, Offset: v.Get("offset").Int()}, nil
}
