// Package annotator runs the annotation core against pages and exposes it to
// the other surfaces.
//
// A Service owns the record store, the event bus and one Session per open
// page. The pipeline for a page:
//
//	store → Adapter.LoadForURL → Session.Load → restore rounds → overlay
//
// and for a new highlight:
//
//	mouse-up → anchor.FromSelection → overlay → Adapter.Save → bus
//
// Usage:
//
//	svc, err := annotator.New(cfg, logger, annotator.WithOpener(browser))
//	defer svc.Close()
//	sess, err := svc.OpenPage(ctx, "https://example.com/")
//	svc.RegisterMCP(mcpServer)
//	http.ListenAndServe(cfg.Listen, svc.Handler())
package annotator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hazyhaar/floatnote/anchor"
	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/annotator/internal/store"
	"github.com/hazyhaar/floatnote/bus"
	"github.com/hazyhaar/floatnote/idgen"
)

// Service is the floatnote orchestrator.
type Service struct {
	config   *Config
	store    *store.Store
	adapter  *Adapter
	router   *bus.Router
	events   *bus.Broadcaster
	exporter *Exporter
	opener   Opener
	clock    anchor.Clock
	pageIDs  idgen.Generator
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
}

// Option configures a Service.
type Option func(*Service)

// WithOpener sets the browser used by OpenPage.
func WithOpener(o Opener) Option { return func(s *Service) { s.opener = o } }

// WithClock sets the clock driving restoration rounds and selection expiry.
func WithClock(c anchor.Clock) Option { return func(s *Service) { s.clock = c } }

// WithSink adds an event sink next to the configured ones.
func WithSink(sink bus.Sink) Option { return func(s *Service) { s.router.Add(sink) } }

// New creates a Service. It opens the SQLite database and the configured
// event sinks.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	st.Logger = logger
	return newService(cfg, st, logger, opts...), nil
}

func newService(cfg *Config, st *store.Store, logger *slog.Logger, opts ...Option) *Service {
	cfg.defaults()
	events := bus.NewBroadcaster(64, logger)
	s := &Service{
		config:   cfg,
		store:    st,
		adapter:  NewAdapter(st, logger),
		router:   bus.NewRouter(logger, events),
		events:   events,
		exporter: NewExporter(),
		clock:    anchor.SystemClock(),
		pageIDs:  idgen.Prefixed("pg_", idgen.NanoID(10)),
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			s.router.Add(bus.NewStdout(os.Stdout))
		case "webhook":
			hopts := []bus.WebhookOption{bus.WithWebhookLogger(logger)}
			if sc.Retries > 0 {
				hopts = append(hopts, bus.WithWebhookRetries(sc.Retries))
			}
			hook := bus.NewWebhook(sc.URL, hopts...)
			s.router.Add(bus.NewAsync(hook, 256, logger))
		}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.config }

// Store returns the underlying store for direct access (testing, admin).
func (s *Service) Store() *store.Store { return s.store }

// Events returns the SSE broadcaster.
func (s *Service) Events() *bus.Broadcaster { return s.events }

// Publish delivers an event to every sink, best-effort.
func (s *Service) Publish(ctx context.Context, e bus.Event) { s.router.Publish(ctx, e) }

// Attach starts a session on page and loads its annotations.
func (s *Service) Attach(ctx context.Context, page Page) (*Session, error) {
	sess, err := NewSession(SessionConfig{
		ID:              s.pageIDs(),
		Page:            page,
		Adapter:         s.adapter,
		Publisher:       s.router,
		Clock:           s.clock,
		HighlightKey:    s.config.Highlight.Key,
		DefaultColor:    s.config.Highlight.DefaultColor,
		MaxRounds:       s.config.Restore.MaxRounds,
		RoundDelay:      s.config.Restore.RoundDelay,
		SelectionWindow: s.config.Selection.Window,
		NoteWidth:       s.config.Note.Width,
		NoteHeight:      s.config.Note.Height,
		Logger:          s.logger,
	})
	if err != nil {
		return nil, err
	}
	if _, err := sess.Load(ctx); err != nil {
		sess.Close()
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.order = append(s.order, sess.ID())
	s.mu.Unlock()
	if src, ok := page.(EventSource); ok {
		src.Bind(sess)
	}
	return sess, nil
}

// OpenPage opens url through the configured Opener and attaches to it.
func (s *Service) OpenPage(ctx context.Context, url string) (*Session, error) {
	if s.opener == nil {
		return nil, ErrNoOpener
	}
	page, err := s.opener.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("annotator: open %s: %w", url, err)
	}
	sess, err := s.Attach(ctx, page)
	if err != nil {
		if c, ok := page.(interface{ Close() error }); ok {
			c.Close()
		}
		return nil, err
	}
	return sess, nil
}

// Session returns the live session id.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return sess, nil
}

// Pages describes the live sessions in attach order.
func (s *Service) Pages() []PageInfo {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.order))
	for _, id := range s.order {
		sessions = append(sessions, s.sessions[id])
	}
	s.mu.Unlock()

	out := make([]PageInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Info())
	}
	return out
}

// Health is the /health payload.
type Health struct {
	Status      string                  `json:"status"`
	Pages       int                     `json:"pages"`
	Annotations map[annotation.Kind]int `json:"annotations,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Health reports the live page count and the stored records per kind. A
// store that cannot be queried makes the status "degraded".
func (s *Service) Health(ctx context.Context) Health {
	s.mu.Lock()
	h := Health{Status: "ok", Pages: len(s.order)}
	s.mu.Unlock()

	counts, err := s.store.Count(ctx)
	if err != nil {
		h.Status = "degraded"
		h.Error = err.Error()
		return h
	}
	h.Annotations = counts
	return h
}

// ClosePage closes a session and, when it has one, its page.
func (s *Service) ClosePage(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		for i, oid := range s.order {
			if oid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	sess.Close()
	if c, ok := sess.page.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// List returns stored records, newest first. An empty url lists every
// page; an empty kind keeps both kinds.
func (s *Service) List(ctx context.Context, url string, kind annotation.Kind) ([]*annotation.Annotation, error) {
	var recs []*annotation.Annotation
	var err error
	if url == "" {
		recs, err = s.adapter.All(ctx)
	} else {
		recs, err = s.adapter.LoadForURL(ctx, url)
	}
	if err != nil {
		return nil, err
	}
	recs = annotation.Filter(recs, kind)
	annotation.SortNewestFirst(recs)
	return recs, nil
}

// Get returns one stored record.
func (s *Service) Get(ctx context.Context, id string) (*annotation.Annotation, error) {
	return s.adapter.Get(ctx, id)
}

// Put stores a full record from another surface, then mirrors it into
// every live page of its URL. Note HTML is sanitised and highlight colors
// normalized first.
func (s *Service) Put(ctx context.Context, rec *annotation.Annotation) error {
	rec = rec.Clone()
	if rec.Note != nil {
		rec.Note.HTML = SanitizeNoteHTML(rec.Note.HTML)
	}
	if rec.Highlight != nil {
		c, err := annotation.NormalizeColor(rec.Highlight.Color)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", annotation.ErrInvalid, rec.ID, err)
		}
		rec.Highlight.Color = c
	}
	if err := s.adapter.Save(ctx, rec); err != nil {
		return err
	}

	s.mu.Lock()
	var live []*Session
	for _, sess := range s.sessions {
		if sess.URL() == rec.URL {
			live = append(live, sess)
		}
	}
	s.mu.Unlock()
	for _, sess := range live {
		sess.RemoteUpdated(ctx, rec)
	}
	return nil
}

// Delete removes a record from the store and from every live page showing
// it, then announces the deletion. Deleting an absent id succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	var url string
	if rec, err := s.adapter.Get(ctx, id); err == nil {
		url = rec.URL
	}
	if err := s.adapter.Delete(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	var live []*Session
	for _, sess := range s.sessions {
		if url == "" || sess.URL() == url {
			live = append(live, sess)
		}
	}
	s.mu.Unlock()
	for _, sess := range live {
		sess.RemoteDeleted(id)
	}

	s.router.Publish(ctx, bus.AnnotationDeleted("", url, id))
	return nil
}

// Export renders the records of url (every page when empty) as markdown,
// oldest first.
func (s *Service) Export(ctx context.Context, url string) (string, error) {
	var recs []*annotation.Annotation
	var err error
	if url == "" {
		recs, err = s.adapter.All(ctx)
	} else {
		recs, err = s.adapter.LoadForURL(ctx, url)
	}
	if err != nil {
		return "", err
	}
	return s.exporter.Markdown(recs)
}

// SetMode forwards a mode request to a live page and announces it.
func (s *Service) SetMode(ctx context.Context, pageID, mode string) error {
	sess, err := s.Session(pageID)
	if err != nil {
		return err
	}
	if err := sess.SetMode(ctx, mode); err != nil {
		return err
	}
	s.router.Publish(ctx, bus.SetMode(pageID, mode))
	return nil
}

// ScrollTo scrolls a live page to a document position and announces it.
func (s *Service) ScrollTo(ctx context.Context, pageID string, x, y float64) error {
	sess, err := s.Session(pageID)
	if err != nil {
		return err
	}
	if err := sess.ScrollTo(x, y); err != nil {
		return err
	}
	s.router.Publish(ctx, bus.ScrollToPosition(pageID, x, y))
	return nil
}

// Close closes every session, the event sinks and the database.
func (s *Service) Close() error {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.ClosePage(id); err != nil {
			s.logger.Warn("annotator: close page failed", "page", id, "error", err)
		}
	}
	if err := s.router.Close(); err != nil {
		s.logger.Warn("annotator: close sinks failed", "error", err)
	}
	return s.store.Close()
}
