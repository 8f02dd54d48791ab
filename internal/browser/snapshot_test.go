package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/floatnote/anchor"
)

func element(name string, attrs []string, children ...*proto.DOMNode) *proto.DOMNode {
	return &proto.DOMNode{NodeType: nodeElement, NodeName: name, LocalName: name, Attributes: attrs, Children: children}
}

func text(v string) *proto.DOMNode {
	return &proto.DOMNode{NodeType: nodeText, NodeName: "#text", NodeValue: v}
}

// liveDoc mirrors a DOM after scripts appended "" and "world" to a
// paragraph that started as "Hello ". Serialised and re-parsed it would
// collapse to a single text node.
func liveDoc() *proto.DOMNode {
	p := element("P", []string{"class", "lead", "data-x", "1"}, text("Hello "), text(""), text("world"))
	body := element("BODY", nil,
		&proto.DOMNode{NodeType: nodeComment, NodeName: "#comment", NodeValue: " banner "},
		p,
	)
	return &proto.DOMNode{
		NodeType: nodeDocument,
		NodeName: "#document",
		Children: []*proto.DOMNode{
			{NodeType: nodeDoctype, NodeName: "html"},
			element("HTML", nil, element("HEAD", nil), body),
		},
	}
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findElement(c, tag); f != nil {
			return f
		}
	}
	return nil
}

func TestConvertNode_KeepsEveryTextNode(t *testing.T) {
	doc := convertNode(liveDoc())
	if doc == nil || doc.Type != html.DocumentNode {
		t.Fatalf("root = %+v, want document", doc)
	}
	if doc.FirstChild == nil || doc.FirstChild.Type != html.DoctypeNode {
		t.Fatal("doctype missing")
	}

	p := findElement(doc, "p")
	if p == nil {
		t.Fatal("p missing")
	}
	var texts []string
	for c := p.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode {
			t.Fatalf("unexpected child type %v", c.Type)
		}
		texts = append(texts, c.Data)
	}
	if len(texts) != 3 || texts[0] != "Hello " || texts[1] != "" || texts[2] != "world" {
		t.Fatalf("texts = %q", texts)
	}
	if len(p.Attr) != 2 || p.Attr[0].Key != "class" || p.Attr[0].Val != "lead" || p.Attr[1].Key != "data-x" {
		t.Errorf("attrs = %+v", p.Attr)
	}

	body := findElement(doc, "body")
	if body.FirstChild.Type != html.CommentNode || body.FirstChild.Data != " banner " {
		t.Errorf("comment = %+v", body.FirstChild)
	}
}

func TestConvertNode_AnchorsMatchLiveTextRanks(t *testing.T) {
	doc := convertNode(liveDoc())
	p := findElement(doc, "p")
	world := p.LastChild

	path, err := anchor.Encode(world)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := path.String(), "/html[1]/body[1]/p[1]/text()[3]"; got != want {
		t.Fatalf("path = %s, want %s", got, want)
	}
	back, err := anchor.Decode(doc, path)
	if err != nil {
		t.Fatal(err)
	}
	if back != world {
		t.Fatal("decode landed on a different node")
	}

	e := anchor.Endpoints{
		Start: anchor.Endpoint{Path: path, Offset: 0},
		End:   anchor.Endpoint{Path: path, Offset: 5},
	}
	r, err := anchor.Restore(doc, e)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Text(); got != "world" {
		t.Errorf("restored text = %q, want world", got)
	}
}

func TestConvertNode_SkipsUnknownTypes(t *testing.T) {
	root := liveDoc()
	p := root.Children[1].Children[1].Children[1]
	p.Children = append(p.Children, &proto.DOMNode{NodeType: 4, NodeName: "#cdata-section", NodeValue: "x"})

	doc := convertNode(root)
	if got := findElement(doc, "p").LastChild.Data; got != "world" {
		t.Errorf("last child = %q, want world", got)
	}
	if convertNode(nil) != nil {
		t.Error("nil node should convert to nil")
	}
}
