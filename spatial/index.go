// Package spatial maps annotation ids to their live, resolved ranges and
// answers point-in-highlight queries.
//
// The table is keyed by annotation id, never by node identity, and is
// rebuilt from scratch on each page load. Iteration follows insertion
// order, so when highlights overlap the earliest-registered one wins a hit
// test.
package spatial

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hazyhaar/floatnote/anchor"
	"github.com/hazyhaar/floatnote/annotation"
)

// ErrUnknownID is returned for ids not present in the index.
var ErrUnknownID = errors.New("spatial: unknown id")

// Measurer reports layout geometry for live ranges.
type Measurer interface {
	// ClientRect returns the bounding box of r relative to the viewport.
	ClientRect(r *anchor.Range) (annotation.Rect, error)
	// ScrollOffset returns the current horizontal and vertical scroll.
	ScrollOffset() (x, y float64, err error)
}

// Entry is a registered highlight.
type Entry struct {
	ID    string
	Range *anchor.Range
	Color string
}

// Index is an id-keyed, insertion-ordered table of live ranges. It is safe
// for concurrent use.
type Index struct {
	measure Measurer

	mu      sync.RWMutex
	order   []string
	entries map[string]*Entry
}

// New creates an empty index measuring through m.
func New(m Measurer) *Index {
	return &Index{
		measure: m,
		entries: make(map[string]*Entry),
	}
}

// Put registers or replaces the range for id. A replaced id keeps its
// original position in iteration order.
func (ix *Index) Put(id string, r *anchor.Range, color string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if e, ok := ix.entries[id]; ok {
		e.Range = r
		e.Color = color
		return
	}
	ix.entries[id] = &Entry{ID: id, Range: r, Color: color}
	ix.order = append(ix.order, id)
}

// Remove drops id. It reports whether id was present; removing an absent
// id is not an error.
func (ix *Index) Remove(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.entries[id]; !ok {
		return false
	}
	delete(ix.entries, id)
	for i, v := range ix.order {
		if v == id {
			ix.order = append(ix.order[:i], ix.order[i+1:]...)
			break
		}
	}
	return true
}

// SetColor updates the color recorded for id.
func (ix *Index) SetColor(id, color string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[id]
	if ok {
		e.Color = color
	}
	return ok
}

// Get returns a copy of the entry for id.
func (ix *Index) Get(id string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of registered ids.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.order)
}

// IDs returns the registered ids in insertion order.
func (ix *Index) IDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]string(nil), ix.order...)
}

// Reset empties the index.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.order = nil
	ix.entries = make(map[string]*Entry)
}

// Rect returns the bounding box of id in document coordinates (client rect
// plus scroll offset).
func (ix *Index) Rect(id string) (annotation.Rect, error) {
	e, ok := ix.Get(id)
	if !ok {
		return annotation.Rect{}, fmt.Errorf("spatial: rect %s: %w", id, ErrUnknownID)
	}
	return ix.documentRect(e.Range)
}

// DocumentRect measures an arbitrary range in document coordinates.
func (ix *Index) DocumentRect(r *anchor.Range) (annotation.Rect, error) {
	return ix.documentRect(r)
}

func (ix *Index) documentRect(r *anchor.Range) (annotation.Rect, error) {
	if !r.Attached() {
		return annotation.Rect{}, fmt.Errorf("spatial: measure: %w", anchor.ErrDetached)
	}
	client, err := ix.measure.ClientRect(r)
	if err != nil {
		return annotation.Rect{}, fmt.Errorf("spatial: measure: %w", err)
	}
	sx, sy, err := ix.measure.ScrollOffset()
	if err != nil {
		return annotation.Rect{}, fmt.Errorf("spatial: scroll offset: %w", err)
	}
	return client.Translate(sx, sy), nil
}

// HitTest returns the first id, in insertion order, whose document-space
// rectangle contains (x, y). Ranges that are detached or cannot be measured
// never match.
func (ix *Index) HitTest(x, y float64) (string, bool) {
	ix.mu.RLock()
	entries := make([]Entry, 0, len(ix.order))
	for _, id := range ix.order {
		entries = append(entries, *ix.entries[id])
	}
	ix.mu.RUnlock()

	for _, e := range entries {
		rect, err := ix.documentRect(e.Range)
		if err != nil {
			continue
		}
		if rect.Contains(x, y) {
			return e.ID, true
		}
	}
	return "", false
}
