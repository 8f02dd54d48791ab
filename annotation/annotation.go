// Package annotation defines the persisted annotation records: highlights
// anchored to page structure and free-floating sticky notes. These types are
// the contract shared by the store, the HTTP and MCP surfaces, and the page
// session.
package annotation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/floatnote/anchor"
	"github.com/hazyhaar/floatnote/idgen"
)

// Kind distinguishes the two record payloads.
type Kind string

const (
	KindHighlight Kind = "highlight"
	KindNote      Kind = "note"
)

// DefaultColor is the highlight color used when none is chosen.
const DefaultColor = "#ffeb3b"

// ErrInvalid indicates a record that cannot be stored or rendered.
var ErrInvalid = errors.New("annotation: invalid record")

// ID generators. Ids are a millisecond timestamp plus a random suffix.
var (
	NewHighlightID idgen.Generator = idgen.Stamped("highlight", "_", nil, idgen.NanoID(9))
	NewNoteID      idgen.Generator = idgen.Stamped("note", "-", nil, idgen.NanoID(9))
)

// Annotation is one stored record. Exactly one of Highlight and Note is set,
// matching Kind.
type Annotation struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	URL       string     `json:"url"` // exact-match key, never normalized
	CreatedAt time.Time  `json:"created_at"`
	Highlight *Highlight `json:"highlight,omitempty"`
	Note      *Note      `json:"note,omitempty"`
}

// Highlight is the payload of a text highlight.
type Highlight struct {
	Text  string          `json:"text"`
	Start anchor.Endpoint `json:"start"`
	End   anchor.Endpoint `json:"end"`
	Color string          `json:"color"`
	BBox  Rect            `json:"bbox"` // document coordinates at save time, scroll-into-view only
}

// Endpoints returns the stored anchor endpoints.
func (h *Highlight) Endpoints() anchor.Endpoints {
	return anchor.Endpoints{Start: h.Start, End: h.End}
}

// ViewMode is the display state of a note.
type ViewMode string

const (
	ViewModeView ViewMode = "view"
	ViewModeEdit ViewMode = "edit"
)

// Note is the payload of a sticky note.
type Note struct {
	HTML     string   `json:"html"`
	BBox     Rect     `json:"bbox"`
	Style    Style    `json:"style"`
	ViewMode ViewMode `json:"view_mode"`
}

// Style is the computed-style snapshot captured when a note is saved.
type Style struct {
	BackgroundColor string `json:"background_color,omitempty"`
	Color           string `json:"color,omitempty"`
	FontFamily      string `json:"font_family,omitempty"`
	FontSize        string `json:"font_size,omitempty"`
	LineHeight      string `json:"line_height,omitempty"`
	LetterSpacing   string `json:"letter_spacing,omitempty"`
	WordSpacing     string `json:"word_spacing,omitempty"`
	Border          string `json:"border,omitempty"`
	Padding         string `json:"padding,omitempty"`
	Margin          string `json:"margin,omitempty"`
	MarginTop       string `json:"margin_top,omitempty"`
}

// Rect is an axis-aligned box in document coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns Left+Width.
func (r Rect) Right() float64 { return r.Left + r.Width }

// Bottom returns Top+Height.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Contains reports whether (x, y) lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left && x <= r.Right() && y >= r.Top && y <= r.Bottom()
}

// Translate returns r moved by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	r.Left += dx
	r.Top += dy
	return r
}

// IsZero reports whether r has no area.
func (r Rect) IsZero() bool { return r.Width <= 0 || r.Height <= 0 }

// Validate checks that the record is internally consistent.
func (a *Annotation) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil", ErrInvalid)
	}
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if a.URL == "" {
		return fmt.Errorf("%w: %s: empty url", ErrInvalid, a.ID)
	}
	switch a.Kind {
	case KindHighlight:
		if a.Highlight == nil || a.Note != nil {
			return fmt.Errorf("%w: %s: highlight record needs exactly a highlight payload", ErrInvalid, a.ID)
		}
		if a.Highlight.Start.Path == nil || a.Highlight.End.Path == nil {
			return fmt.Errorf("%w: %s: missing anchor path", ErrInvalid, a.ID)
		}
		if _, err := NormalizeColor(a.Highlight.Color); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, a.ID, err)
		}
	case KindNote:
		if a.Note == nil || a.Highlight != nil {
			return fmt.Errorf("%w: %s: note record needs exactly a note payload", ErrInvalid, a.ID)
		}
		switch a.Note.ViewMode {
		case ViewModeView, ViewModeEdit, "":
		default:
			return fmt.Errorf("%w: %s: unknown view mode %q", ErrInvalid, a.ID, a.Note.ViewMode)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalid, a.ID, a.Kind)
	}
	return nil
}

// BBox returns the stored bounding box of either payload.
func (a *Annotation) BBox() Rect {
	switch {
	case a.Highlight != nil:
		return a.Highlight.BBox
	case a.Note != nil:
		return a.Note.BBox
	}
	return Rect{}
}

// Clone returns a deep copy.
func (a *Annotation) Clone() *Annotation {
	c := *a
	if a.Highlight != nil {
		h := *a.Highlight
		c.Highlight = &h
	}
	if a.Note != nil {
		n := *a.Note
		c.Note = &n
	}
	return &c
}

// SortNewestFirst orders records by creation time, most recent first; ties
// keep id order for stable listings.
func SortNewestFirst(list []*Annotation) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// Filter returns the records of the given kind. An empty kind keeps all.
func Filter(list []*Annotation, kind Kind) []*Annotation {
	if kind == "" {
		return list
	}
	out := make([]*Annotation, 0, len(list))
	for _, a := range list {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// ParseKind validates a kind string. The empty string is accepted as "any".
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindHighlight, KindNote:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalid, s)
	}
}

// NormalizeColor accepts #rgb and #rrggbb colors and returns the lower-case
// six-digit form. The empty string maps to DefaultColor.
func NormalizeColor(c string) (string, error) {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return DefaultColor, nil
	}
	if !strings.HasPrefix(c, "#") {
		return "", fmt.Errorf("color %q: want #rgb or #rrggbb", c)
	}
	hex := c[1:]
	for _, r := range hex {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return "", fmt.Errorf("color %q: not hex", c)
		}
	}
	switch len(hex) {
	case 3:
		return "#" + string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]}), nil
	case 6:
		return c, nil
	}
	return "", fmt.Errorf("color %q: want #rgb or #rrggbb", c)
}
