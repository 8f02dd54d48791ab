package annotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/floatnote/annotation"
)

// Backend is the external record store. QueryByURL may over-return: callers
// must not assume every record matches the URL exactly.
type Backend interface {
	Get(ctx context.Context, id string) (*annotation.Annotation, error)
	Put(ctx context.Context, a *annotation.Annotation) error
	Delete(ctx context.Context, id string) error
	QueryByURL(ctx context.Context, url string) ([]*annotation.Annotation, error)
	QueryAll(ctx context.Context) ([]*annotation.Annotation, error)
}

// Adapter is the store-facing side of a page: exact-URL loads, full-record
// saves and idempotent deletes. Concurrent loads of the same URL share one
// backend query. It does no per-id locking; callers serialize writes to an
// id.
type Adapter struct {
	backend Backend
	logger  *slog.Logger
	loads   singleflight.Group
}

// NewAdapter wraps a Backend.
func NewAdapter(b Backend, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{backend: b, logger: logger}
}

// LoadForURL returns the records whose URL equals pageURL exactly, oldest
// first. The shared query runs detached from any one caller's
// cancellation; a caller whose ctx ends stops waiting with ctx.Err().
func (a *Adapter) LoadForURL(ctx context.Context, pageURL string) ([]*annotation.Annotation, error) {
	qctx := context.WithoutCancel(ctx)
	ch := a.loads.DoChan(pageURL, func() (any, error) {
		recs, err := a.backend.QueryByURL(qctx, pageURL)
		if err != nil {
			return nil, err
		}
		exact := make([]*annotation.Annotation, 0, len(recs))
		for _, r := range recs {
			if r.URL != pageURL {
				continue
			}
			exact = append(exact, r)
		}
		if skipped := len(recs) - len(exact); skipped > 0 {
			a.logger.Debug("annotator: filtered sibling url records", "url", pageURL, "skipped", skipped)
		}
		return exact, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, unavailable("load", pageURL, res.Err)
	}

	// Shared results are cloned so callers never alias each other.
	shared := res.Val.([]*annotation.Annotation)
	out := make([]*annotation.Annotation, len(shared))
	for i, r := range shared {
		out[i] = r.Clone()
	}
	return out, nil
}

// Save stores a, replacing any record with the same id.
func (a *Adapter) Save(ctx context.Context, rec *annotation.Annotation) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := a.backend.Put(ctx, rec); err != nil {
		return unavailable("save", rec.ID, err)
	}
	return nil
}

// Delete removes id. Deleting an absent id succeeds.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	if err := a.backend.Delete(ctx, id); err != nil {
		return unavailable("delete", id, err)
	}
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (a *Adapter) Get(ctx context.Context, id string) (*annotation.Annotation, error) {
	rec, err := a.backend.Get(ctx, id)
	if err != nil {
		return nil, unavailable("get", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// All returns every stored record, oldest first.
func (a *Adapter) All(ctx context.Context) ([]*annotation.Annotation, error) {
	recs, err := a.backend.QueryAll(ctx)
	if err != nil {
		return nil, unavailable("query all", "", err)
	}
	return recs, nil
}

func unavailable(op, subject string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if subject == "" {
		return fmt.Errorf("annotator: %s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("annotator: %s %s: %w: %w", op, subject, ErrStoreUnavailable, err)
}
