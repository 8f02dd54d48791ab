package anchor

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Encode computes the structural path of n. Text nodes yield a TextPath,
// elements an ElementPath. The node must be attached to a document.
func Encode(n *html.Node) (Path, error) {
	if n == nil {
		return nil, fmt.Errorf("anchor: encode nil node: %w", ErrDetached)
	}

	switch n.Type {
	case html.TextNode:
		parent := n.Parent
		if parent == nil || parent.Type != html.ElementNode {
			return nil, fmt.Errorf("anchor: encode text: %w", ErrDetached)
		}
		ep, err := encodeElement(parent)
		if err != nil {
			return nil, err
		}
		return TextPath{Parent: ep, Index: textRank(n)}, nil
	case html.ElementNode:
		return encodeElement(n)
	default:
		return nil, fmt.Errorf("anchor: encode node type %d: %w", n.Type, ErrUnsupportedNode)
	}
}

func encodeElement(n *html.Node) (ElementPath, error) {
	var rev []Segment
	for cur := n; ; cur = cur.Parent {
		if cur == nil {
			return nil, fmt.Errorf("anchor: encode <%s>: %w", tagName(n), ErrDetached)
		}
		if cur.Type == html.DocumentNode {
			break
		}
		if cur.Type != html.ElementNode {
			return nil, fmt.Errorf("anchor: encode <%s>: %w", tagName(n), ErrDetached)
		}
		rev = append(rev, Segment{Tag: tagName(cur), Index: siblingIndex(cur)})
	}

	path := make(ElementPath, len(rev))
	for i, s := range rev {
		path[len(rev)-1-i] = s
	}
	return path, nil
}

// siblingIndex is the 1-based rank of n among preceding element siblings
// sharing its tag name.
func siblingIndex(n *html.Node) int {
	tag := tagName(n)
	idx := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && tagName(s) == tag {
			idx++
		}
	}
	return idx
}

// textRank is the 0-based rank of a text node among its parent's direct
// text-node children.
func textRank(n *html.Node) int {
	rank := 0
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.TextNode {
			rank++
		}
	}
	return rank
}

func tagName(n *html.Node) string {
	return strings.ToLower(n.Data)
}

// Decode resolves p against the tree rooted at doc, which is normally the
// *html.Node of type DocumentNode returned by html.Parse. A path that no
// longer matches the tree fails with ErrPathNotFound; a path that cannot
// be valid for any tree fails with ErrMalformedPath.
func Decode(doc *html.Node, p Path) (*html.Node, error) {
	if doc == nil {
		return nil, fmt.Errorf("anchor: decode: nil document: %w", ErrPathNotFound)
	}

	switch p := p.(type) {
	case ElementPath:
		return decodeElement(doc, p)
	case TextPath:
		if p.Index < 0 {
			return nil, fmt.Errorf("%w: negative text index %d", ErrMalformedPath, p.Index)
		}
		parent, err := decodeElement(doc, p.Parent)
		if err != nil {
			return nil, err
		}
		if t := nthText(parent, p.Index); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("anchor: decode %s: no text child %d: %w", p, p.Index, ErrPathNotFound)
	case nil:
		return nil, fmt.Errorf("%w: nil path", ErrMalformedPath)
	default:
		return nil, fmt.Errorf("%w: unknown path type %T", ErrMalformedPath, p)
	}
}

func decodeElement(doc *html.Node, p ElementPath) (*html.Node, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: empty element path", ErrMalformedPath)
	}

	cur := doc
	for depth, seg := range p {
		if seg.Tag == "" || seg.Index < 1 {
			return nil, fmt.Errorf("%w: bad segment %q[%d] at depth %d", ErrMalformedPath, seg.Tag, seg.Index, depth)
		}
		next := nthElement(cur, strings.ToLower(seg.Tag), seg.Index)
		if next == nil {
			return nil, fmt.Errorf("anchor: decode %s: no %s[%d] at depth %d: %w",
				p, seg.Tag, seg.Index, depth, ErrPathNotFound)
		}
		cur = next
	}
	return cur, nil
}

// nthElement returns the idx'th (1-based) direct element child of parent
// with the given tag, or nil when there are fewer candidates.
func nthElement(parent *html.Node, tag string, idx int) *html.Node {
	pos := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && tagName(c) == tag {
			pos++
			if pos == idx {
				return c
			}
		}
	}
	return nil
}

// nthText returns the idx'th (0-based) direct text child of parent.
func nthText(parent *html.Node, idx int) *html.Node {
	pos := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode {
			continue
		}
		if pos == idx {
			return c
		}
		pos++
	}
	return nil
}
