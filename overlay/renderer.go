package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/floatnote/anchor"
	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/spatial"
)

// Persister stores the outcome of toolbar actions.
type Persister interface {
	Save(ctx context.Context, a *annotation.Annotation) error
	Delete(ctx context.Context, id string) error
}

// ToolbarHost shows the floating recolor/delete toolbar in the host.
type ToolbarHost interface {
	ShowToolbar(id string, x, y float64) error
	HideToolbar() error
}

// Toolbar is the toolbar state after a click.
type Toolbar struct {
	Visible bool    `json:"visible"`
	ID      string  `json:"id,omitempty"` // annotation the actions are bound to
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
}

// Config configures a Renderer.
type Config struct {
	Key       string // default DefaultKey
	Backend   Backend
	Index     *spatial.Index
	Persister Persister
	Toolbar   ToolbarHost // optional
	Logger    *slog.Logger
}

// Renderer owns the highlight paint set, the spatial index registrations and
// the toolbar of one page. Mutations are optimistic: the paint set and the
// index change first, persistence follows.
type Renderer struct {
	paint   *PaintSet
	index   *spatial.Index
	persist Persister
	toolbar ToolbarHost
	logger  *slog.Logger

	mu      sync.Mutex
	records map[string]*annotation.Annotation
	state   Toolbar
}

// NewRenderer creates a Renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Renderer{
		paint:   NewPaintSet(cfg.Key, cfg.Backend),
		index:   cfg.Index,
		persist: cfg.Persister,
		toolbar: cfg.Toolbar,
		logger:  cfg.Logger,
		records: make(map[string]*annotation.Annotation),
	}
}

// PaintSet exposes the underlying paint set.
func (r *Renderer) PaintSet() *PaintSet { return r.paint }

// Show paints a resolved highlight and registers it for hit testing.
func (r *Renderer) Show(a *annotation.Annotation, rng *anchor.Range) error {
	if a.Highlight == nil {
		return fmt.Errorf("overlay: show %s: %w", a.ID, annotation.ErrInvalid)
	}
	r.mu.Lock()
	r.records[a.ID] = a.Clone()
	r.mu.Unlock()

	err := r.paint.Paint(a.ID, rng, a.Highlight.Color)
	r.index.Put(a.ID, rng, a.Highlight.Color)
	return err
}

// Record returns the shown highlight record for id.
func (r *Renderer) Record(id string) (*annotation.Annotation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Records returns the shown highlights in paint order.
func (r *Renderer) Records() []*annotation.Annotation {
	items := r.paint.Items()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*annotation.Annotation, 0, len(items))
	for _, it := range items {
		if a, ok := r.records[it.ID]; ok {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Toolbar returns the current toolbar state.
func (r *Renderer) Toolbar() Toolbar {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Click updates the toolbar for a document click at (x, y) in document
// coordinates. Clicks inside the toolbar leave it unchanged; a hit shows it
// at the click point bound to the hit id; a miss hides it.
func (r *Renderer) Click(x, y float64, insideToolbar bool) (Toolbar, error) {
	if insideToolbar {
		return r.Toolbar(), nil
	}
	id, ok := r.index.HitTest(x, y)
	if !ok {
		return Toolbar{}, r.hideToolbar()
	}

	st := Toolbar{Visible: true, ID: id, X: x, Y: y}
	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
	if r.toolbar != nil {
		if err := r.toolbar.ShowToolbar(id, x, y); err != nil {
			return st, fmt.Errorf("overlay: show toolbar: %w", err)
		}
	}
	return st, nil
}

func (r *Renderer) hideToolbar() error {
	r.mu.Lock()
	was := r.state.Visible
	r.state = Toolbar{}
	r.mu.Unlock()
	if was && r.toolbar != nil {
		if err := r.toolbar.HideToolbar(); err != nil {
			return fmt.Errorf("overlay: hide toolbar: %w", err)
		}
	}
	return nil
}

// Recolor changes the color of a shown highlight: paint set, then spatial
// index, then persistence. A persistence failure leaves the new color on
// screen and is returned to the caller.
func (r *Renderer) Recolor(ctx context.Context, id, color string) error {
	color, err := annotation.NormalizeColor(color)
	if err != nil {
		return fmt.Errorf("overlay: recolor %s: %w: %v", id, annotation.ErrInvalid, err)
	}

	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("overlay: recolor %s: %w", id, ErrNotPainted)
	}
	rec = rec.Clone()
	rec.Highlight.Color = color
	r.records[id] = rec
	r.mu.Unlock()

	if err := r.paint.Recolor(id, color); err != nil {
		r.logger.Warn("overlay: repaint failed", "id", id, "error", err)
	}
	r.index.SetColor(id, color)

	if err := r.persist.Save(ctx, rec.Clone()); err != nil {
		return fmt.Errorf("overlay: recolor %s: %w", id, err)
	}
	return nil
}

// Refresh replaces the record of a shown highlight whose endpoints are
// unchanged, repainting it when the color differs. Nothing is persisted;
// it mirrors edits made elsewhere.
func (r *Renderer) Refresh(a *annotation.Annotation) error {
	if a.Highlight == nil {
		return fmt.Errorf("overlay: refresh %s: %w", a.ID, annotation.ErrInvalid)
	}
	r.mu.Lock()
	prev, ok := r.records[a.ID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("overlay: refresh %s: %w", a.ID, ErrNotPainted)
	}
	r.records[a.ID] = a.Clone()
	r.mu.Unlock()

	if prev.Highlight.Color == a.Highlight.Color {
		return nil
	}
	err := r.paint.Recolor(a.ID, a.Highlight.Color)
	r.index.SetColor(a.ID, a.Highlight.Color)
	return err
}

// Delete removes a highlight: paint set, then spatial index, then
// persistence. Deleting an id that is not shown still reaches the store,
// whose delete is idempotent.
func (r *Renderer) Delete(ctx context.Context, id string) error {
	r.Forget(id)
	if err := r.persist.Delete(ctx, id); err != nil {
		return fmt.Errorf("overlay: delete %s: %w", id, err)
	}
	return nil
}

// Forget removes a highlight from the page without touching the store. It
// mirrors deletions made elsewhere.
func (r *Renderer) Forget(id string) {
	if err := r.paint.Unpaint(id); err != nil {
		r.logger.Warn("overlay: unpaint failed", "id", id, "error", err)
	}
	r.index.Remove(id)

	r.mu.Lock()
	delete(r.records, id)
	hide := r.state.Visible && r.state.ID == id
	r.mu.Unlock()
	if hide {
		if err := r.hideToolbar(); err != nil {
			r.logger.Warn("overlay: hide toolbar failed", "id", id, "error", err)
		}
	}
}

// Reset clears the paint set, the index and the toolbar, ready for a fresh
// page load.
func (r *Renderer) Reset() error {
	r.mu.Lock()
	r.records = make(map[string]*annotation.Annotation)
	r.mu.Unlock()
	r.index.Reset()
	if err := r.hideToolbar(); err != nil {
		r.logger.Warn("overlay: hide toolbar failed", "error", err)
	}
	return r.paint.Clear()
}
