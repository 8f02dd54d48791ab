// Package overlay renders highlights without touching page content. Ranges
// are collected into a paint set keyed by a fixed overlay identifier and
// handed to a native Backend (CSS custom highlights in a live tab, a memory
// table for static documents).
package overlay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hazyhaar/floatnote/anchor"
)

// DefaultKey is the overlay identifier of the highlight paint set.
const DefaultKey = "floatnote-highlight"

// ErrNotPainted is returned when an operation targets an id that is not in
// the paint set.
var ErrNotPainted = errors.New("overlay: annotation not painted")

// Item is one painted range.
type Item struct {
	ID    string
	Range *anchor.Range
	Color string
}

// Backend applies paint set changes to the host. Add replaces any item
// already registered under the same id.
type Backend interface {
	Add(key string, item Item) error
	Remove(key, id string) error
	Clear(key string) error
}

// PaintSet is the in-memory view of one overlay key. Multiple ranges
// coexist; overlapping ranges render additively in the backend.
type PaintSet struct {
	key     string
	backend Backend

	mu    sync.Mutex
	order []string
	items map[string]Item
}

// NewPaintSet creates an empty set for key. An empty key uses DefaultKey.
func NewPaintSet(key string, b Backend) *PaintSet {
	if key == "" {
		key = DefaultKey
	}
	return &PaintSet{key: key, backend: b, items: make(map[string]Item)}
}

// Key returns the overlay identifier.
func (p *PaintSet) Key() string { return p.key }

// Paint adds or replaces the range for id.
func (p *PaintSet) Paint(id string, r *anchor.Range, color string) error {
	item := Item{ID: id, Range: r, Color: color}
	p.mu.Lock()
	if _, ok := p.items[id]; !ok {
		p.order = append(p.order, id)
	}
	p.items[id] = item
	p.mu.Unlock()

	if err := p.backend.Add(p.key, item); err != nil {
		return fmt.Errorf("overlay: paint %s: %w", id, err)
	}
	return nil
}

// Unpaint removes id. Removing an absent id is a no-op.
func (p *PaintSet) Unpaint(id string) error {
	p.mu.Lock()
	if _, ok := p.items[id]; !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.items, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if err := p.backend.Remove(p.key, id); err != nil {
		return fmt.Errorf("overlay: unpaint %s: %w", id, err)
	}
	return nil
}

// Recolor repaints id with a new color.
func (p *PaintSet) Recolor(id, color string) error {
	p.mu.Lock()
	item, ok := p.items[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("overlay: recolor %s: %w", id, ErrNotPainted)
	}
	item.Color = color
	p.items[id] = item
	p.mu.Unlock()

	if err := p.backend.Add(p.key, item); err != nil {
		return fmt.Errorf("overlay: recolor %s: %w", id, err)
	}
	return nil
}

// Has reports whether id is painted.
func (p *PaintSet) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.items[id]
	return ok
}

// Get returns the painted item for id.
func (p *PaintSet) Get(id string) (Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.items[id]
	return it, ok
}

// Len returns the number of painted ranges.
func (p *PaintSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Items returns the painted items in paint order.
func (p *PaintSet) Items() []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Item, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.items[id])
	}
	return out
}

// Clear empties the set.
func (p *PaintSet) Clear() error {
	p.mu.Lock()
	p.order = nil
	p.items = make(map[string]Item)
	p.mu.Unlock()

	if err := p.backend.Clear(p.key); err != nil {
		return fmt.Errorf("overlay: clear: %w", err)
	}
	return nil
}

// MemoryBackend keeps painted items in memory. Static documents have no
// renderer, so sessions over them paint here.
type MemoryBackend struct {
	mu   sync.Mutex
	sets map[string]map[string]Item
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sets: make(map[string]map[string]Item)}
}

func (m *MemoryBackend) Add(key string, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]Item)
		m.sets[key] = set
	}
	set[item.ID] = item
	return nil
}

func (m *MemoryBackend) Remove(key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[key], id)
	return nil
}

func (m *MemoryBackend) Clear(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, key)
	return nil
}

// Lookup returns the item painted under key and id.
func (m *MemoryBackend) Lookup(key, id string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.sets[key][id]
	return it, ok
}

// Count returns the number of items painted under key.
func (m *MemoryBackend) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sets[key])
}
