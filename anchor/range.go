package anchor

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/net/html"
)

// Range is a span of a document between two boundary points, with browser
// semantics: offsets count UTF-16 code units inside text nodes and children
// inside elements.
type Range struct {
	StartNode   *html.Node
	StartOffset int
	EndNode     *html.Node
	EndOffset   int
}

// NewRange builds a range, validating offsets against node bounds
// (ErrIndexSize) and boundary ordering (ErrInvalidRange).
func NewRange(startNode *html.Node, startOffset int, endNode *html.Node, endOffset int) (*Range, error) {
	if startNode == nil || endNode == nil {
		return nil, fmt.Errorf("anchor: new range: nil node: %w", ErrInvalidRange)
	}
	if err := checkOffset(startNode, startOffset); err != nil {
		return nil, fmt.Errorf("anchor: new range start: %w", err)
	}
	if err := checkOffset(endNode, endOffset); err != nil {
		return nil, fmt.Errorf("anchor: new range end: %w", err)
	}

	cmp, ok := comparePoints(startNode, startOffset, endNode, endOffset)
	if !ok {
		return nil, fmt.Errorf("anchor: new range: endpoints in different trees: %w", ErrInvalidRange)
	}
	if cmp > 0 {
		return nil, fmt.Errorf("anchor: new range: end precedes start: %w", ErrInvalidRange)
	}

	return &Range{
		StartNode:   startNode,
		StartOffset: startOffset,
		EndNode:     endNode,
		EndOffset:   endOffset,
	}, nil
}

// Collapsed reports whether start and end are the same boundary point.
func (r *Range) Collapsed() bool {
	return r.StartNode == r.EndNode && r.StartOffset == r.EndOffset
}

// Attached reports whether both endpoints are still reachable from the same
// document node.
func (r *Range) Attached() bool {
	if r == nil || r.StartNode == nil || r.EndNode == nil {
		return false
	}
	root := treeRoot(r.StartNode)
	return root.Type == html.DocumentNode && root == treeRoot(r.EndNode)
}

// Text returns the concatenated text covered by the range, in document order.
func (r *Range) Text() string {
	if r == nil || r.Collapsed() {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(r.clip(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(treeRoot(r.StartNode))
	return b.String()
}

// clip returns the part of text node t inside the range.
func (r *Range) clip(t *html.Node) string {
	units := utf16.Encode([]rune(t.Data))
	from, to := 0, len(units)
	if t == r.StartNode {
		from = r.StartOffset
	}
	if t == r.EndNode {
		to = r.EndOffset
	}

	// (t, to) must be after the start and (t, from) before the end.
	if c, ok := comparePoints(t, to, r.StartNode, r.StartOffset); !ok || c <= 0 {
		return ""
	}
	if c, ok := comparePoints(t, from, r.EndNode, r.EndOffset); !ok || c >= 0 {
		return ""
	}
	if from >= to {
		return ""
	}
	return string(utf16.Decode(units[from:to]))
}

func (r *Range) String() string {
	return fmt.Sprintf("Range(%s:%d..%s:%d)", describe(r.StartNode), r.StartOffset, describe(r.EndNode), r.EndOffset)
}

func describe(n *html.Node) string {
	if n == nil {
		return "<nil>"
	}
	if p, err := Encode(n); err == nil {
		return p.String()
	}
	return "<detached>"
}

// NodeLength is the DOM length of n: UTF-16 units for text and comments,
// number of children otherwise.
func NodeLength(n *html.Node) int {
	switch n.Type {
	case html.TextNode, html.CommentNode:
		return len(utf16.Encode([]rune(n.Data)))
	default:
		count := 0
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			count++
		}
		return count
	}
}

func checkOffset(n *html.Node, off int) error {
	if n.Type == html.DoctypeNode {
		return fmt.Errorf("doctype boundary: %w", ErrInvalidRange)
	}
	if off < 0 || off > NodeLength(n) {
		return fmt.Errorf("offset %d not in [0,%d]: %w", off, NodeLength(n), ErrIndexSize)
	}
	return nil
}

func treeRoot(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// ancestors returns the chain from the tree root down to n inclusive.
func ancestors(n *html.Node) []*html.Node {
	var chain []*html.Node
	for cur := n; cur != nil; cur = cur.Parent {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func childIndex(n *html.Node) int {
	idx := 0
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		idx++
	}
	return idx
}

// comparePoints orders two boundary points: -1 before, 0 equal, 1 after.
// ok is false when the nodes do not share a root.
func comparePoints(a *html.Node, ao int, b *html.Node, bo int) (cmp int, ok bool) {
	if a == b {
		return sign(ao - bo), true
	}

	ca, cb := ancestors(a), ancestors(b)
	if ca[0] != cb[0] {
		return 0, false
	}

	// Length of the shared prefix.
	i := 0
	for i < len(ca) && i < len(cb) && ca[i] == cb[i] {
		i++
	}

	switch {
	case i == len(ca):
		// a is an ancestor of b; compare ao with the index of b's branch.
		if childIndex(cb[i]) < ao {
			return 1, true
		}
		return -1, true
	case i == len(cb):
		// b is an ancestor of a.
		if childIndex(ca[i]) < bo {
			return -1, true
		}
		return 1, true
	default:
		return sign(childIndex(ca[i]) - childIndex(cb[i])), true
	}
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
