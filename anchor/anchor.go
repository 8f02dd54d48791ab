package anchor

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// FromSelection captures the endpoints of a live selection. Collapsed or
// whitespace-only selections return ErrEmptySelection; the caller treats
// that as a no-op. The returned text is the trimmed selected text, kept on
// the record for listings.
func FromSelection(r *Range) (Endpoints, string, error) {
	if r == nil || r.Collapsed() {
		return Endpoints{}, "", ErrEmptySelection
	}
	text := strings.TrimSpace(r.Text())
	if text == "" {
		return Endpoints{}, "", ErrEmptySelection
	}

	start, err := Encode(r.StartNode)
	if err != nil {
		return Endpoints{}, "", fmt.Errorf("anchor: selection start: %w", err)
	}
	end, err := Encode(r.EndNode)
	if err != nil {
		return Endpoints{}, "", fmt.Errorf("anchor: selection end: %w", err)
	}

	return Endpoints{
		Start: Endpoint{Path: start, Offset: r.StartOffset},
		End:   Endpoint{Path: end, Offset: r.EndOffset},
	}, text, nil
}

// Restore resolves stored endpoints against doc. Every failure is reported
// as ErrUnresolvedAnchor; the underlying cause (ErrPathNotFound,
// ErrMalformedPath, ErrIndexSize, ErrInvalidRange) stays reachable through
// errors.Is.
func Restore(doc *html.Node, e Endpoints) (*Range, error) {
	start, err := Decode(doc, e.Start.Path)
	if err != nil {
		return nil, fmt.Errorf("anchor: restore start: %w: %w", ErrUnresolvedAnchor, err)
	}
	end, err := Decode(doc, e.End.Path)
	if err != nil {
		return nil, fmt.Errorf("anchor: restore end: %w: %w", ErrUnresolvedAnchor, err)
	}

	r, err := NewRange(start, e.Start.Offset, end, e.End.Offset)
	if err != nil {
		return nil, fmt.Errorf("anchor: restore: %w: %w", ErrUnresolvedAnchor, err)
	}
	return r, nil
}
