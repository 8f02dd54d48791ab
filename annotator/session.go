package annotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/floatnote/anchor"
	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/bus"
	"github.com/hazyhaar/floatnote/overlay"
	"github.com/hazyhaar/floatnote/spatial"
)

// Publisher delivers cross-surface events without blocking on receivers.
type Publisher interface {
	Publish(ctx context.Context, e bus.Event)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	ID        string
	Page      Page
	Adapter   *Adapter
	Publisher Publisher // optional
	Clock     anchor.Clock

	HighlightKey    string
	DefaultColor    string
	MaxRounds       int
	RoundDelay      time.Duration
	SelectionWindow time.Duration
	NoteWidth       float64
	NoteHeight      float64

	Now    func() time.Time
	Logger *slog.Logger
}

// Session is the annotation core of one page context. Every entry point,
// including delayed restoration rounds, runs as one turn under a single
// lock, so the paint set and the spatial index only change between turns.
type Session struct {
	id      string
	page    Page
	adapter *Adapter
	publish Publisher
	clock   anchor.Clock
	cfg     SessionConfig
	logger  *slog.Logger

	index    *spatial.Index
	renderer *overlay.Renderer
	mode     *Controller

	ctx    context.Context
	cancel context.CancelFunc

	turn      sync.Mutex
	closed    bool
	doc       *html.Node
	restorer  *anchor.Restorer
	pending   map[string]*annotation.Annotation
	notes     map[string]*annotation.Annotation
	noteOrder []string
}

// NewSession creates a session for cfg.Page. Call Load to restore the
// stored annotations.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Page == nil || cfg.Adapter == nil {
		return nil, errors.New("annotator: session needs a page and an adapter")
	}
	if cfg.Clock == nil {
		cfg.Clock = anchor.SystemClock()
	}
	if cfg.DefaultColor == "" {
		cfg.DefaultColor = annotation.DefaultColor
	}
	if cfg.NoteWidth <= 0 {
		cfg.NoteWidth = 300
	}
	if cfg.NoteHeight <= 0 {
		cfg.NoteHeight = 200
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("page", cfg.ID)

	s := &Session{
		id:      cfg.ID,
		page:    cfg.Page,
		adapter: cfg.Adapter,
		publish: cfg.Publisher,
		cfg:     cfg,
		logger:  logger,
		mode:    NewController(cfg.Clock, cfg.SelectionWindow, logger),
		pending: make(map[string]*annotation.Annotation),
		notes:   make(map[string]*annotation.Annotation),
	}
	s.clock = turnClock{Clock: cfg.Clock, mu: &s.turn}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var toolbar overlay.ToolbarHost
	if h, ok := cfg.Page.(overlay.ToolbarHost); ok {
		toolbar = h
	}
	s.index = spatial.New(cfg.Page)
	s.renderer = overlay.NewRenderer(overlay.Config{
		Key:       cfg.HighlightKey,
		Backend:   cfg.Page,
		Index:     s.index,
		Persister: cfg.Adapter,
		Toolbar:   toolbar,
		Logger:    logger,
	})
	return s, nil
}

// turnClock runs scheduled callbacks as session turns.
type turnClock struct {
	anchor.Clock
	mu *sync.Mutex
}

func (c turnClock) AfterFunc(d time.Duration, f func()) anchor.Timer {
	return c.Clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		f()
	})
}

func (s *Session) lock() error {
	s.turn.Lock()
	if s.closed {
		s.turn.Unlock()
		return ErrClosed
	}
	return nil
}

// ID returns the page id.
func (s *Session) ID() string { return s.id }

// URL returns the page URL.
func (s *Session) URL() string { return s.page.URL() }

// Index exposes the spatial index.
func (s *Session) Index() *spatial.Index { return s.index }

// Mode returns the interaction state.
func (s *Session) Mode() Mode { return s.mode.Mode() }

// LoadResult summarises a Load.
type LoadResult struct {
	Highlights int `json:"highlights"` // stored highlights for the page
	Resolved   int `json:"resolved"`   // painted in the first round
	Notes      int `json:"notes"`
}

// Load fetches the page's records, shows its notes and starts restoring its
// highlights. The first restoration round completes before Load returns;
// later rounds run on the clock. Loading again rebuilds everything.
func (s *Session) Load(ctx context.Context) (LoadResult, error) {
	if err := s.lock(); err != nil {
		return LoadResult{}, err
	}
	defer s.turn.Unlock()

	url := s.page.URL()
	recs, err := s.adapter.LoadForURL(ctx, url)
	if err != nil {
		return LoadResult{}, err
	}
	doc, err := s.page.Document(ctx)
	if err != nil {
		return LoadResult{}, fmt.Errorf("annotator: load %s: %w", url, err)
	}

	if s.restorer != nil {
		s.restorer.Stop()
	}
	if err := s.renderer.Reset(); err != nil {
		s.logger.Warn("annotator: reset overlay failed", "error", err)
	}
	s.clearNotesLocked()
	s.doc = doc
	s.pending = make(map[string]*annotation.Annotation)

	var tasks []anchor.Task
	var res LoadResult
	for _, r := range recs {
		switch r.Kind {
		case annotation.KindHighlight:
			s.pending[r.ID] = r
			tasks = append(tasks, anchor.Task{ID: r.ID, Endpoints: r.Highlight.Endpoints()})
		case annotation.KindNote:
			s.showNoteLocked(r)
			res.Notes++
		}
	}
	res.Highlights = len(tasks)

	s.restorer = anchor.NewRestorer(anchor.RestoreConfig{
		Resolve:     s.resolve,
		Clock:       s.clock,
		MaxRounds:   s.cfg.MaxRounds,
		RoundDelay:  s.cfg.RoundDelay,
		BeforeRound: s.beforeRound,
		OnResolved:  s.onResolved,
		OnDropped:   s.onDropped,
		Logger:      s.logger,
	})
	s.restorer.Run(tasks)
	res.Resolved = s.restorer.Stats().Resolved

	s.logger.Info("annotator: page loaded", "url", url,
		"highlights", res.Highlights, "resolved", res.Resolved, "notes", res.Notes)
	return res, nil
}

func (s *Session) resolve(e anchor.Endpoints) (*anchor.Range, error) {
	return anchor.Restore(s.doc, e)
}

func (s *Session) beforeRound(round int) {
	if round == 1 {
		return
	}
	doc, err := s.page.Document(s.ctx)
	if err != nil {
		s.logger.Debug("annotator: snapshot failed, reusing previous", "round", round, "error", err)
		return
	}
	s.doc = doc
}

func (s *Session) onResolved(id string, r *anchor.Range) {
	rec, ok := s.pending[id]
	if !ok {
		// Deleted while waiting for its round.
		return
	}
	delete(s.pending, id)
	if err := s.renderer.Show(rec, r); err != nil {
		s.logger.Warn("annotator: paint restored highlight failed", "id", id, "error", err)
	}
}

func (s *Session) onDropped(id string, err error) {
	delete(s.pending, id)
	s.logger.Debug("annotator: highlight not shown on this page view", "id", id, "error", err)
}

// RestoreStats reports the progress of the current restoration batch.
func (s *Session) RestoreStats() anchor.RestoreStats {
	s.turn.Lock()
	defer s.turn.Unlock()
	if s.restorer == nil {
		return anchor.RestoreStats{}
	}
	return s.restorer.Stats()
}

// EnableSelectionMode arms selection: the next mouse-up within the window
// finalizes a highlight.
func (s *Session) EnableSelectionMode() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.turn.Unlock()
	s.mode.Arm()
	return nil
}

// Escape cancels an armed selection. It reports whether anything was armed.
func (s *Session) Escape() bool {
	if err := s.lock(); err != nil {
		return false
	}
	defer s.turn.Unlock()
	return s.mode.Disarm("escape")
}

// Key handles a keydown from the page.
func (s *Session) Key(ctx context.Context, ev KeyEvent) (Action, error) {
	switch action := ParseShortcut(ev); action {
	case ActionHighlight:
		return action, s.EnableSelectionMode()
	case ActionNote:
		_, err := s.CreateNote(ctx)
		return action, err
	case ActionEscape:
		if s.Escape() {
			return action, nil
		}
	}
	return ActionNone, nil
}

// MouseUp finalizes sel into a highlight when selection is armed. It returns
// nil without error when the session is idle or the selection is empty. A
// failed save leaves the highlight painted and returns the error.
func (s *Session) MouseUp(ctx context.Context, sel *anchor.Range) (*annotation.Annotation, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.turn.Unlock()
	return s.finalizeLocked(ctx, sel)
}

// Select resolves endpoints reported by the host against a fresh snapshot
// and finalizes them like MouseUp.
func (s *Session) Select(ctx context.Context, e anchor.Endpoints) (*annotation.Annotation, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.turn.Unlock()
	if !s.mode.Armed() {
		return nil, nil
	}
	doc, err := s.page.Document(ctx)
	if err != nil {
		return nil, fmt.Errorf("annotator: select: %w", err)
	}
	s.doc = doc
	sel, err := anchor.Restore(doc, e)
	if err != nil {
		return nil, fmt.Errorf("annotator: select: %w", err)
	}
	return s.finalizeLocked(ctx, sel)
}

func (s *Session) finalizeLocked(ctx context.Context, sel *anchor.Range) (*annotation.Annotation, error) {
	if !s.mode.Armed() {
		return nil, nil
	}
	ends, text, err := anchor.FromSelection(sel)
	if errors.Is(err, anchor.ErrEmptySelection) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("annotator: selection: %w", err)
	}

	bbox, err := s.index.DocumentRect(sel)
	if err != nil {
		s.logger.Debug("annotator: no geometry for selection", "error", err)
		bbox = annotation.Rect{}
	}
	rec := &annotation.Annotation{
		ID:        annotation.NewHighlightID(),
		Kind:      annotation.KindHighlight,
		URL:       s.page.URL(),
		CreatedAt: s.cfg.Now().UTC(),
		Highlight: &annotation.Highlight{
			Text:  text,
			Start: ends.Start,
			End:   ends.End,
			Color: s.cfg.DefaultColor,
			BBox:  bbox,
		},
	}

	if err := s.renderer.Show(rec, sel); err != nil {
		s.logger.Warn("annotator: paint failed", "id", rec.ID, "error", err)
	}
	s.mode.Disarm("selection")

	if err := s.adapter.Save(ctx, rec); err != nil {
		s.logger.Warn("annotator: save failed", "id", rec.ID, "error", err)
		return rec, err
	}
	s.emit(ctx, bus.AnnotationCreated(s.id, rec))
	return rec, nil
}

// Click updates the toolbar for a click at document coordinates (x, y).
func (s *Session) Click(x, y float64, insideToolbar bool) (overlay.Toolbar, error) {
	if err := s.lock(); err != nil {
		return overlay.Toolbar{}, err
	}
	defer s.turn.Unlock()
	return s.renderer.Click(x, y, insideToolbar)
}

// Toolbar returns the toolbar state.
func (s *Session) Toolbar() overlay.Toolbar { return s.renderer.Toolbar() }

// Highlights returns the painted highlights in paint order.
func (s *Session) Highlights() []*annotation.Annotation { return s.renderer.Records() }

// Recolor changes a painted highlight's color and saves it.
func (s *Session) Recolor(ctx context.Context, id, color string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.turn.Unlock()
	err := s.renderer.Recolor(ctx, id, color)
	if errors.Is(err, overlay.ErrNotPainted) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// Delete removes a highlight or a note from the page, then from the store.
// Deleting an unknown id still reaches the store and succeeds.
func (s *Session) Delete(ctx context.Context, id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.turn.Unlock()

	delete(s.pending, id)
	var err error
	if _, ok := s.notes[id]; ok {
		s.removeNoteLocked(id)
		err = s.adapter.Delete(ctx, id)
	} else {
		err = s.renderer.Delete(ctx, id)
	}
	if err != nil {
		return err
	}
	s.emit(ctx, bus.AnnotationDeleted(s.id, s.page.URL(), id))
	return nil
}

// DeleteNote is Delete restricted to notes shown on this page.
func (s *Session) DeleteNote(ctx context.Context, id string) error {
	s.turn.Lock()
	_, ok := s.notes[id]
	s.turn.Unlock()
	if !ok {
		return fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	return s.Delete(ctx, id)
}

// RemoteDeleted mirrors a deletion made on another surface. The store is
// not touched.
func (s *Session) RemoteDeleted(id string) {
	if err := s.lock(); err != nil {
		return
	}
	defer s.turn.Unlock()
	delete(s.pending, id)
	if _, ok := s.notes[id]; ok {
		s.removeNoteLocked(id)
		return
	}
	s.renderer.Forget(id)
}

// RemoteUpdated mirrors a record saved on another surface. Notes are shown
// again with the new content; highlights are recolored in place, or
// resolved again against a fresh snapshot when their endpoints moved. The
// store is not touched.
func (s *Session) RemoteUpdated(ctx context.Context, rec *annotation.Annotation) {
	if err := s.lock(); err != nil {
		return
	}
	defer s.turn.Unlock()
	if rec.URL != s.page.URL() {
		return
	}

	switch {
	case rec.Note != nil:
		s.showNoteLocked(rec)
	case rec.Highlight != nil:
		s.remoteHighlightLocked(ctx, rec)
	}
}

func (s *Session) remoteHighlightLocked(ctx context.Context, rec *annotation.Annotation) {
	e := rec.Highlight.Endpoints()
	if prev, ok := s.pending[rec.ID]; ok && prev.Highlight.Endpoints().Equal(e) {
		// Still waiting for its round; it will be painted with the new record.
		s.pending[rec.ID] = rec.Clone()
		return
	}
	delete(s.pending, rec.ID)

	if prev, ok := s.renderer.Record(rec.ID); ok {
		if prev.Highlight.Endpoints().Equal(e) {
			if err := s.renderer.Refresh(rec); err != nil {
				s.logger.Warn("annotator: refresh highlight failed", "id", rec.ID, "error", err)
			}
			return
		}
		s.renderer.Forget(rec.ID)
	}

	doc, err := s.page.Document(ctx)
	if err != nil {
		s.logger.Warn("annotator: snapshot for remote update failed", "id", rec.ID, "error", err)
		return
	}
	s.doc = doc
	r, err := anchor.Restore(doc, e)
	if err != nil {
		s.logger.Debug("annotator: remote highlight not shown on this page view", "id", rec.ID, "error", err)
		return
	}
	if err := s.renderer.Show(rec.Clone(), r); err != nil {
		s.logger.Warn("annotator: paint remote highlight failed", "id", rec.ID, "error", err)
	}
}

// CreateNote adds an empty note of the configured size centered in the
// viewport and saves it.
func (s *Session) CreateNote(ctx context.Context) (*annotation.Annotation, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.turn.Unlock()

	vp, err := s.page.Viewport()
	if err != nil {
		return nil, fmt.Errorf("annotator: create note: %w", err)
	}
	w, h := s.cfg.NoteWidth, s.cfg.NoteHeight
	rec := &annotation.Annotation{
		ID:        annotation.NewNoteID(),
		Kind:      annotation.KindNote,
		URL:       s.page.URL(),
		CreatedAt: s.cfg.Now().UTC(),
		Note: &annotation.Note{
			BBox: annotation.Rect{
				Left:   vp.Left + (vp.Width-w)/2,
				Top:    vp.Top + (vp.Height-h)/2,
				Width:  w,
				Height: h,
			},
			ViewMode: annotation.ViewModeEdit,
		},
	}
	s.showNoteLocked(rec)

	if err := s.adapter.Save(ctx, rec); err != nil {
		s.logger.Warn("annotator: save note failed", "id", rec.ID, "error", err)
		return rec.Clone(), err
	}
	s.emit(ctx, bus.AnnotationCreated(s.id, rec.Clone()))
	return rec.Clone(), nil
}

// UpdateNote replaces the payload of note id and saves the full record.
// The HTML is sanitised first.
func (s *Session) UpdateNote(ctx context.Context, id string, n annotation.Note) (*annotation.Annotation, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.turn.Unlock()

	cur, ok := s.notes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n.HTML = SanitizeNoteHTML(n.HTML)
	if n.ViewMode == "" {
		n.ViewMode = annotation.ViewModeEdit
	}
	rec := cur.Clone()
	rec.Note = &n
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	s.showNoteLocked(rec)

	if err := s.adapter.Save(ctx, rec); err != nil {
		s.logger.Warn("annotator: save note failed", "id", id, "error", err)
		return rec.Clone(), err
	}
	return rec.Clone(), nil
}

// Notes returns the page's notes in creation order.
func (s *Session) Notes() []*annotation.Annotation {
	s.turn.Lock()
	defer s.turn.Unlock()
	out := make([]*annotation.Annotation, 0, len(s.noteOrder))
	for _, id := range s.noteOrder {
		out = append(out, s.notes[id].Clone())
	}
	return out
}

func (s *Session) showNoteLocked(rec *annotation.Annotation) {
	if _, ok := s.notes[rec.ID]; !ok {
		s.noteOrder = append(s.noteOrder, rec.ID)
	}
	s.notes[rec.ID] = rec.Clone()
	if host, ok := s.page.(NoteHost); ok {
		if err := host.ShowNote(rec.Clone()); err != nil {
			s.logger.Warn("annotator: show note failed", "id", rec.ID, "error", err)
		}
	}
}

func (s *Session) removeNoteLocked(id string) {
	delete(s.notes, id)
	for i, nid := range s.noteOrder {
		if nid == id {
			s.noteOrder = append(s.noteOrder[:i], s.noteOrder[i+1:]...)
			break
		}
	}
	if host, ok := s.page.(NoteHost); ok {
		if err := host.RemoveNote(id); err != nil {
			s.logger.Warn("annotator: remove note failed", "id", id, "error", err)
		}
	}
}

func (s *Session) clearNotesLocked() {
	for _, id := range append([]string(nil), s.noteOrder...) {
		s.removeNoteLocked(id)
	}
}

// SetMode applies a mode request from another surface: "highlight" arms
// selection, "note" creates a note, "dashboard" is accepted and ignored.
func (s *Session) SetMode(ctx context.Context, mode string) error {
	switch mode {
	case "highlight":
		return s.EnableSelectionMode()
	case "note":
		_, err := s.CreateNote(ctx)
		return err
	case "dashboard":
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
}

// ScrollTo scrolls so that (x, y) lands 50px in from the top-left corner.
func (s *Session) ScrollTo(x, y float64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.turn.Unlock()
	if err := s.page.ScrollTo(x-50, y-50); err != nil {
		return fmt.Errorf("annotator: scroll: %w", err)
	}
	return nil
}

// PageInfo describes a live session.
type PageInfo struct {
	ID         string              `json:"id"`
	URL        string              `json:"url"`
	Mode       Mode                `json:"mode"`
	Highlights int                 `json:"highlights"`
	Notes      int                 `json:"notes"`
	Restore    anchor.RestoreStats `json:"restore"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() PageInfo {
	stats := s.RestoreStats()
	s.turn.Lock()
	notes := len(s.notes)
	s.turn.Unlock()
	return PageInfo{
		ID:         s.id,
		URL:        s.page.URL(),
		Mode:       s.mode.Mode(),
		Highlights: s.index.Len(),
		Notes:      notes,
		Restore:    stats,
	}
}

// Close abandons pending restoration rounds and the selection timer.
func (s *Session) Close() error {
	s.turn.Lock()
	defer s.turn.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.restorer != nil {
		s.restorer.Stop()
	}
	s.mode.Stop()
	s.cancel()
	return nil
}

func (s *Session) emit(ctx context.Context, e bus.Event) {
	if s.publish == nil {
		return
	}
	s.publish.Publish(context.WithoutCancel(ctx), e)
}
