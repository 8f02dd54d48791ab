package annotator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/floatnote/annotation"
)

func TestLoadForURL_ExactMatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		storedHighlight("h1", "https://ex.com/a", "p[1]", t0),
		storedHighlight("h2", "https://ex.com/a?x=1", "p[1]", t0),
		storedHighlight("h3", "https://ex.com/a#top", "p[1]", t0),
		storedHighlight("h4", "https://ex.com/b", "p[1]", t0),
	)
	ctx := context.Background()

	// The store's url index over-returns sibling URLs.
	raw, err := f.svc.Store().QueryByURL(ctx, "https://ex.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 3 {
		t.Fatalf("store returned %d, want 3 sharing the url key", len(raw))
	}

	got, err := f.svc.adapter.LoadForURL(ctx, "https://ex.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "h1" {
		t.Fatalf("got %d records: %v", len(got), got)
	}

	q, _ := f.svc.adapter.LoadForURL(ctx, "https://ex.com/a?x=1")
	if len(q) != 1 || q[0].ID != "h2" {
		t.Errorf("query url load = %v", q)
	}
}

func TestLoadForURL_ResultsAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, storedHighlight("h1", pageURL, "p[1]", t0))
	ctx := context.Background()

	first, _ := f.svc.adapter.LoadForURL(ctx, pageURL)
	first[0].Highlight.Color = "#000000"
	second, _ := f.svc.adapter.LoadForURL(ctx, pageURL)
	if second[0].Highlight.Color != annotation.DefaultColor {
		t.Errorf("loads share records: %s", second[0].Highlight.Color)
	}
}

func TestAdapter_SaveReplaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.svc.adapter

	rec := storedNote("n1", pageURL, "<p>one</p>", t0)
	if err := a.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Note.HTML = "<p>two</p>"
	rec.Note.Style = annotation.Style{}
	if err := a.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := a.Get(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Note.HTML != "<p>two</p>" {
		t.Errorf("html = %s", got.Note.HTML)
	}
	all, _ := a.All(ctx)
	if len(all) != 1 {
		t.Errorf("all = %d", len(all))
	}
}

func TestAdapter_DeleteIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, storedHighlight("h1", pageURL, "p[1]", t0))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := f.svc.adapter.Delete(ctx, "h1"); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if _, err := f.svc.adapter.Get(ctx, "h1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get = %v", err)
	}
}

func TestAdapter_ErrorClasses(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(failingBackend{}, nil)

	err := a.Save(ctx, storedNote("n1", pageURL, "", time.Now()))
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, errDiskFull) {
		t.Errorf("save err = %v", err)
	}

	bad := storedNote("", pageURL, "", time.Now())
	err = a.Save(ctx, bad)
	if !errors.Is(err, annotation.ErrInvalid) || errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("invalid save err = %v", err)
	}

	if err := a.Delete(ctx, "x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("delete err = %v", err)
	}
}

func TestAdapter_ClosedStore(t *testing.T) {
	f := newFixture(t)
	f.svc.Store().DB.Close()

	_, err := f.svc.adapter.LoadForURL(context.Background(), pageURL)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v", err)
	}
}

// gatedBackend holds QueryByURL until release is closed and fails the query
// when its context has been cancelled by then, as a database driver would.
type gatedBackend struct {
	failingBackend
	started chan struct{}
	release chan struct{}
	once    sync.Once
	recs    []*annotation.Annotation
}

func (g *gatedBackend) QueryByURL(ctx context.Context, _ string) ([]*annotation.Annotation, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.recs, nil
}

func TestLoadForURL_CancelledCallerDoesNotFailOthers(t *testing.T) {
	g := &gatedBackend{
		started: make(chan struct{}),
		release: make(chan struct{}),
		recs:    []*annotation.Annotation{storedHighlight("h1", pageURL, "p[1]", t0)},
	}
	a := NewAdapter(g, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := a.LoadForURL(firstCtx, pageURL)
		firstErr <- err
	}()
	<-g.started

	type result struct {
		recs []*annotation.Annotation
		err  error
	}
	second := make(chan result, 1)
	go func() {
		recs, err := a.LoadForURL(context.Background(), pageURL)
		second <- result{recs, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller still waiting on the shared query")
	}

	close(g.release)
	select {
	case r := <-second:
		if r.err != nil {
			t.Fatalf("second caller failed: %v", r.err)
		}
		if len(r.recs) != 1 || r.recs[0].ID != "h1" {
			t.Errorf("second caller got %v", r.recs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
}
