// Package bus carries cross-surface messages between page sessions and the
// other UI surfaces (popup, dashboard, external listeners). Delivery is
// best-effort: a missing or slow receiver never blocks the publisher.
package bus

import (
	"time"

	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/idgen"
)

// Type names a message.
type Type string

const (
	TypeAnnotationCreated Type = "annotationCreated"
	TypeAnnotationDeleted Type = "annotationDeleted"
	TypeSetMode           Type = "setMode"
	TypeScrollToPosition  Type = "scrollToPosition"
)

// Event is one message. Fields other than ID, Type and Timestamp are set
// according to Type.
type Event struct {
	ID        string `json:"id"` // UUIDv7
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	PageID    string `json:"page_id,omitempty"`
	URL       string `json:"url,omitempty"`

	Annotation   *annotation.Annotation `json:"annotation,omitempty"`    // annotationCreated
	AnnotationID string                 `json:"annotation_id,omitempty"` // annotationDeleted
	Mode         string                 `json:"mode,omitempty"`          // setMode
	X            float64                `json:"x,omitempty"`             // scrollToPosition
	Y            float64                `json:"y,omitempty"`
}

func newEvent(t Type) Event {
	return Event{ID: idgen.New(), Type: t, Timestamp: time.Now().UnixMilli()}
}

// AnnotationCreated announces a new record.
func AnnotationCreated(pageID string, a *annotation.Annotation) Event {
	e := newEvent(TypeAnnotationCreated)
	e.PageID = pageID
	e.URL = a.URL
	e.Annotation = a
	return e
}

// AnnotationDeleted announces a removed record. pageID is empty when the
// deletion did not originate in a page.
func AnnotationDeleted(pageID, url, id string) Event {
	e := newEvent(TypeAnnotationDeleted)
	e.PageID = pageID
	e.URL = url
	e.AnnotationID = id
	return e
}

// SetMode asks a page to arm an interaction mode.
func SetMode(pageID, mode string) Event {
	e := newEvent(TypeSetMode)
	e.PageID = pageID
	e.Mode = mode
	return e
}

// ScrollToPosition asks a page to scroll to a document position.
func ScrollToPosition(pageID string, x, y float64) Event {
	e := newEvent(TypeScrollToPosition)
	e.PageID = pageID
	e.X, e.Y = x, y
	return e
}
