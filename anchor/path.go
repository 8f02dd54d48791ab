// Package anchor turns live DOM positions into durable structural references
// and back.
//
// A position is stored as an AnchorPath plus an offset. An ElementPath is a
// sequence of (tag, sibling index) steps from the document's root element;
// a TextPath extends it with the rank of a text node among its parent's
// direct text children. The persisted form is an XPath subset:
//
//	/html[1]/body[1]/div[2]/p[3]           element
//	/html[1]/body[1]/div[2]/p[3]/text()[1] first text child of that p
//
// Resolution is strict: a path either lands on exactly one node of the
// current tree or fails with ErrPathNotFound. Drift tolerance is the job of
// the Restorer, which retries failed anchors over a bounded number of rounds.
package anchor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Path is either an ElementPath or a TextPath.
type Path interface {
	// String returns the persisted form of the path.
	String() string
	isPath()
}

// Segment is one step of an ElementPath.
type Segment struct {
	Tag   string // lower-case tag name
	Index int    // 1-based rank among same-tag element siblings
}

// ElementPath addresses an element from the document's root element.
type ElementPath []Segment

// TextPath addresses a direct text child of an element.
type TextPath struct {
	Parent ElementPath
	Index  int // 0-based rank among the parent's direct text-node children
}

func (ElementPath) isPath() {}
func (TextPath) isPath()    {}

func (p ElementPath) String() string {
	var b strings.Builder
	for _, s := range p {
		b.WriteByte('/')
		b.WriteString(s.Tag)
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(s.Index))
		b.WriteByte(']')
	}
	return b.String()
}

func (p TextPath) String() string {
	return p.Parent.String() + "/text()[" + strconv.Itoa(p.Index+1) + "]"
}

// Equal reports whether two paths address the same location.
func Equal(a, b Path) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// Parse reads the persisted form of a path. Steps without an index are
// read as index 1; a trailing "text()" without an index is the first text
// child.
func Parse(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") {
		return nil, fmt.Errorf("%w: %q: must be an absolute path", ErrMalformedPath, s)
	}

	steps := strings.Split(s[1:], "/")
	var elems ElementPath
	for i, step := range steps {
		name, idx, hasIdx, err := parseStep(step)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedPath, s, err)
		}

		if name == "text()" {
			if i != len(steps)-1 {
				return nil, fmt.Errorf("%w: %q: text() must be the last step", ErrMalformedPath, s)
			}
			if len(elems) == 0 {
				return nil, fmt.Errorf("%w: %q: text() needs a parent element", ErrMalformedPath, s)
			}
			if !hasIdx {
				idx = 1
			}
			return TextPath{Parent: elems, Index: idx - 1}, nil
		}

		if !hasIdx {
			idx = 1
		}
		elems = append(elems, Segment{Tag: name, Index: idx})
	}
	return elems, nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// literals in tests and fixtures.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// parseStep parses "div", "div[2]", "text()" and "text()[3]".
func parseStep(step string) (name string, idx int, hasIdx bool, err error) {
	if step == "" {
		return "", 0, false, fmt.Errorf("empty step")
	}

	open := strings.IndexByte(step, '[')
	if open < 0 {
		name = step
	} else {
		if !strings.HasSuffix(step, "]") {
			return "", 0, false, fmt.Errorf("unterminated predicate in %q", step)
		}
		name = step[:open]
		n, convErr := strconv.Atoi(step[open+1 : len(step)-1])
		if convErr != nil {
			return "", 0, false, fmt.Errorf("non-numeric index in %q", step)
		}
		if n < 1 {
			return "", 0, false, fmt.Errorf("index must be >= 1 in %q", step)
		}
		idx, hasIdx = n, true
	}

	name = strings.ToLower(name)
	if name == "text()" {
		return name, idx, hasIdx, nil
	}
	if !validTag(name) {
		return "", 0, false, fmt.Errorf("invalid tag %q", name)
	}
	return name, idx, hasIdx, nil
}

func validTag(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.' || r == ':'):
		default:
			return false
		}
	}
	return true
}

// Endpoint is one boundary point of a stored range.
type Endpoint struct {
	Path   Path
	Offset int
}

type endpointJSON struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
}

// MarshalJSON encodes the endpoint with its path in persisted form.
func (e Endpoint) MarshalJSON() ([]byte, error) {
	var p string
	if e.Path != nil {
		p = e.Path.String()
	}
	return json.Marshal(endpointJSON{Path: p, Offset: e.Offset})
}

// UnmarshalJSON decodes an endpoint. A path that does not parse yields an
// error wrapping ErrMalformedPath.
func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var raw endpointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p, err := Parse(raw.Path)
	if err != nil {
		return err
	}
	e.Path = p
	e.Offset = raw.Offset
	return nil
}

// Endpoints are the two boundary points of a stored highlight.
type Endpoints struct {
	Start Endpoint `json:"start"`
	End   Endpoint `json:"end"`
}

// Equal reports whether e and o address the same boundary points.
func (e Endpoints) Equal(o Endpoints) bool {
	return e.Start.Offset == o.Start.Offset && e.End.Offset == o.End.Offset &&
		Equal(e.Start.Path, o.Start.Path) && Equal(e.End.Path, o.End.Path)
}
