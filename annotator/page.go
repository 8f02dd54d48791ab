package annotator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/floatnote/anchor"
	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/overlay"
	"github.com/hazyhaar/floatnote/spatial"
)

// Page is the host document a Session annotates: a live browser tab or a
// static parsed document.
type Page interface {
	// URL is the current page URL, used verbatim as the record key.
	URL() string

	// Document returns a snapshot of the current DOM. Ranges built on a
	// snapshot are measured and painted through this Page.
	Document(ctx context.Context) (*html.Node, error)

	spatial.Measurer
	overlay.Backend

	// Viewport returns the visible area in document coordinates.
	Viewport() (annotation.Rect, error)

	// ScrollTo scrolls the page so that (x, y) is the top-left corner.
	ScrollTo(x, y float64) error
}

// NoteHost is implemented by pages that render sticky notes.
type NoteHost interface {
	ShowNote(a *annotation.Annotation) error
	RemoveNote(id string) error
}

// EventSource is implemented by pages that report user input (selection,
// clicks, keys, note edits). Attach binds it to the session the input
// drives.
type EventSource interface {
	Bind(s *Session)
}

// Opener opens live pages.
type Opener interface {
	Open(ctx context.Context, url string) (Page, error)
}

// ErrNoLayout is returned by StaticPage measurements when no layout
// function is set.
var ErrNoLayout = errors.New("annotator: static page has no layout")

// LayoutFunc computes the viewport-relative box of a range.
type LayoutFunc func(r *anchor.Range) (annotation.Rect, error)

// StaticPage is a parsed HTML document with no rendering engine. It paints
// into an overlay.MemoryBackend and keeps notes in memory. Geometry comes
// from an optional LayoutFunc.
type StaticPage struct {
	*overlay.MemoryBackend

	url string

	mu       sync.Mutex
	doc      *html.Node
	layout   LayoutFunc
	scrollX  float64
	scrollY  float64
	viewport annotation.Rect
	notes    map[string]*annotation.Annotation
}

// NewStaticPage parses r as the document at url.
func NewStaticPage(url string, r io.Reader) (*StaticPage, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("annotator: parse %s: %w", url, err)
	}
	return &StaticPage{
		MemoryBackend: overlay.NewMemoryBackend(),
		url:           url,
		doc:           doc,
		viewport:      annotation.Rect{Width: 1280, Height: 800},
		notes:         make(map[string]*annotation.Annotation),
	}, nil
}

// URL implements Page.
func (p *StaticPage) URL() string { return p.url }

// Document implements Page. The same tree is returned until SetHTML.
func (p *StaticPage) Document(context.Context) (*html.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc, nil
}

// SetHTML replaces the document, as a reload or a script rewrite would.
func (p *StaticPage) SetHTML(src string) error {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("annotator: parse %s: %w", p.url, err)
	}
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return nil
}

// SetLayout installs the geometry source used by ClientRect.
func (p *StaticPage) SetLayout(fn LayoutFunc) {
	p.mu.Lock()
	p.layout = fn
	p.mu.Unlock()
}

// SetViewportSize sets the viewport width and height.
func (p *StaticPage) SetViewportSize(w, h float64) {
	p.mu.Lock()
	p.viewport.Width, p.viewport.Height = w, h
	p.mu.Unlock()
}

// ClientRect implements spatial.Measurer.
func (p *StaticPage) ClientRect(r *anchor.Range) (annotation.Rect, error) {
	p.mu.Lock()
	fn := p.layout
	p.mu.Unlock()
	if fn == nil {
		return annotation.Rect{}, ErrNoLayout
	}
	return fn(r)
}

// ScrollOffset implements spatial.Measurer.
func (p *StaticPage) ScrollOffset() (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollX, p.scrollY, nil
}

// Viewport implements Page.
func (p *StaticPage) Viewport() (annotation.Rect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return annotation.Rect{Left: p.scrollX, Top: p.scrollY, Width: p.viewport.Width, Height: p.viewport.Height}, nil
}

// ScrollTo implements Page. Negative positions clamp to zero.
func (p *StaticPage) ScrollTo(x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollX, p.scrollY = max(x, 0), max(y, 0)
	return nil
}

// ShowNote implements NoteHost.
func (p *StaticPage) ShowNote(a *annotation.Annotation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes[a.ID] = a.Clone()
	return nil
}

// RemoveNote implements NoteHost.
func (p *StaticPage) RemoveNote(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.notes, id)
	return nil
}

// ShownNote returns the note rendered under id.
func (p *StaticPage) ShownNote(id string) (*annotation.Annotation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.notes[id]
	return a, ok
}
