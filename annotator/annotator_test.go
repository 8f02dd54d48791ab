package annotator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/floatnote/anchor"
	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/annotator/internal/store"
	"github.com/hazyhaar/floatnote/bus"
	"github.com/hazyhaar/floatnote/dbopen"
)

const pageURL = "https://ex.com/a"

const onePara = `<html><body><p data-box="10,10,100,20">alpha beta</p></body></html>`

const threeParas = `<html><body>` +
	`<p data-box="10,10,100,20">alpha beta</p>` +
	`<p data-box="10,50,100,20">gamma delta</p>` +
	`<p data-box="10,90,100,20">epsilon zeta</p>` +
	`</body></html>`

// eventLog records every event published on the bus.
type eventLog struct {
	mu     sync.Mutex
	events []bus.Event
}

func (l *eventLog) add(_ context.Context, e bus.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) ofType(t bus.Type) []bus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []bus.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc    *Service
	clock  *anchor.FakeClock
	events *eventLog
}

// newFixture creates a Service backed by an in-memory SQLite database and a
// logical clock.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	clock := anchor.NewFakeClock()
	events := &eventLog{}
	svc := newService(&Config{}, &store.Store{DB: db}, slog.Default(),
		WithClock(clock),
		WithSink(bus.NewCallback(events.add)),
	)
	t.Cleanup(func() { svc.Close() })
	return &fixture{svc: svc, clock: clock, events: events}
}

// boxLayout reads "left,top,width,height" from the data-box attribute of the
// element enclosing the range start.
func boxLayout(r *anchor.Range) (annotation.Rect, error) {
	for n := r.StartNode; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		for _, a := range n.Attr {
			if a.Key != "data-box" {
				continue
			}
			var b annotation.Rect
			if _, err := fmt.Sscanf(a.Val, "%g,%g,%g,%g", &b.Left, &b.Top, &b.Width, &b.Height); err != nil {
				return annotation.Rect{}, err
			}
			return b, nil
		}
	}
	return annotation.Rect{}, fmt.Errorf("no box for %s", r)
}

func newPage(t *testing.T, url, src string) *StaticPage {
	t.Helper()
	p, err := NewStaticPage(url, strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	p.SetLayout(boxLayout)
	return p
}

func paragraphs(t *testing.T, p *StaticPage) []*html.Node {
	t.Helper()
	doc, _ := p.Document(context.Background())
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// selectText returns a range over the first n bytes of paragraph i.
func selectText(t *testing.T, p *StaticPage, i, n int) *anchor.Range {
	t.Helper()
	txt := paragraphs(t, p)[i].FirstChild
	r, err := anchor.NewRange(txt, 0, txt, n)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// storedHighlight builds a highlight anchored inside the text of element
// step p (e.g. "p[2]").
func storedHighlight(id, url, p string, created time.Time) *annotation.Annotation {
	path := anchor.MustParse("/html[1]/body[1]/" + p + "/text()[1]")
	return &annotation.Annotation{
		ID:        id,
		Kind:      annotation.KindHighlight,
		URL:       url,
		CreatedAt: created,
		Highlight: &annotation.Highlight{
			Text:  "text of " + id,
			Start: anchor.Endpoint{Path: path, Offset: 0},
			End:   anchor.Endpoint{Path: path, Offset: 3},
			Color: annotation.DefaultColor,
		},
	}
}

func storedNote(id, url, body string, created time.Time) *annotation.Annotation {
	return &annotation.Annotation{
		ID:        id,
		Kind:      annotation.KindNote,
		URL:       url,
		CreatedAt: created,
		Note: &annotation.Note{
			HTML:     body,
			BBox:     annotation.Rect{Left: 40, Top: 60, Width: 300, Height: 200},
			ViewMode: annotation.ViewModeEdit,
		},
	}
}

func (f *fixture) seed(t *testing.T, recs ...*annotation.Annotation) {
	t.Helper()
	for _, r := range recs {
		if err := f.svc.Store().Put(context.Background(), r); err != nil {
			t.Fatalf("seed %s: %v", r.ID, err)
		}
	}
}

func (f *fixture) attach(t *testing.T, p Page) *Session {
	t.Helper()
	sess, err := f.svc.Attach(context.Background(), p)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	return sess
}
