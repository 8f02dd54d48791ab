package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CDP node types.
const (
	nodeElement  = 1
	nodeText     = 3
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
)

// enableDOM turns on the DOM domain with whitespace-only text nodes
// reported. Without it Chrome hides them from getDocument and every text
// rank after one shifts.
func enableDOM(p *rod.Page) error {
	return proto.DOMEnable{IncludeWhitespace: proto.DOMEnableIncludeWhitespaceAll}.Call(p)
}

// snapshot returns the live node tree of p. Serialising outerHTML and
// parsing it again would merge adjacent text nodes and drop empty ones,
// so the tree is rebuilt from DOM.getDocument instead.
func snapshot(ctx context.Context, p *rod.Page) (*html.Node, error) {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth}.Call(p.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: DOM.getDocument: %w", err)
	}
	doc := convertNode(res.Root)
	if doc == nil || doc.Type != html.DocumentNode {
		return nil, fmt.Errorf("browser: DOM.getDocument: root is not a document")
	}
	return doc, nil
}

// convertNode maps a CDP node and its children to an *html.Node tree,
// keeping every child in order. CDATA sections are skipped since the page
// script does not count them as text() steps. Shadow roots, frame
// documents, template contents and pseudo elements are reported outside
// Children and are left out, matching what childNodes shows the script.
func convertNode(n *proto.DOMNode) *html.Node {
	if n == nil {
		return nil
	}
	var out *html.Node
	switch n.NodeType {
	case nodeDocument:
		out = &html.Node{Type: html.DocumentNode}
	case nodeDoctype:
		out = &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(n.NodeName)}
	case nodeElement:
		name := n.LocalName
		if name == "" {
			name = n.NodeName
		}
		name = strings.ToLower(name)
		out = &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
		for i := 0; i+1 < len(n.Attributes); i += 2 {
			out.Attr = append(out.Attr, html.Attribute{Key: n.Attributes[i], Val: n.Attributes[i+1]})
		}
	case nodeText:
		out = &html.Node{Type: html.TextNode, Data: n.NodeValue}
	case nodeComment:
		out = &html.Node{Type: html.CommentNode, Data: n.NodeValue}
	default:
		return nil
	}
	for _, c := range n.Children {
		if cn := convertNode(c); cn != nil {
			out.AppendChild(cn)
		}
	}
	return out
}
