package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ysmood/gson"

	"github.com/hazyhaar/floatnote/anchor"
	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/annotator"
	"github.com/hazyhaar/floatnote/overlay"
)

// recorder is a handler that records every call.
type recorder struct {
	mu    sync.Mutex
	calls []string

	key     annotator.KeyEvent
	sel     anchor.Endpoints
	clickX  float64
	clickY  float64
	inside  bool
	color   string
	note    annotation.Note
	notes   []*annotation.Annotation
	failKey error
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Key(_ context.Context, ev annotator.KeyEvent) (annotator.Action, error) {
	r.record("key")
	r.key = ev
	return annotator.ParseShortcut(ev), r.failKey
}

func (r *recorder) Select(_ context.Context, e anchor.Endpoints) (*annotation.Annotation, error) {
	r.record("select")
	r.sel = e
	return nil, nil
}

func (r *recorder) Click(x, y float64, inside bool) (overlay.Toolbar, error) {
	r.record("click")
	r.clickX, r.clickY, r.inside = x, y, inside
	return overlay.Toolbar{}, nil
}

func (r *recorder) Recolor(_ context.Context, id, color string) error {
	r.record("recolor:" + id)
	r.color = color
	return nil
}

func (r *recorder) Delete(_ context.Context, id string) error {
	r.record("delete:" + id)
	return nil
}

func (r *recorder) UpdateNote(_ context.Context, id string, n annotation.Note) (*annotation.Annotation, error) {
	r.record("note:" + id)
	r.note = n
	return nil, nil
}

func (r *recorder) DeleteNote(_ context.Context, id string) error {
	r.record("deleteNote:" + id)
	return nil
}

func (r *recorder) Notes() []*annotation.Annotation { return r.notes }

func event(t *testing.T, js string) gson.JSON {
	t.Helper()
	return gson.NewFrom(js)
}

func TestDispatch_Key(t *testing.T) {
	h := &recorder{}
	err := dispatch(context.Background(), h, event(t, `{"type":"key","key":"H","ctrl":true,"editable":false}`))
	if err != nil {
		t.Fatal(err)
	}
	if h.key.Key != "h" || !h.key.Ctrl || h.key.Editable {
		t.Errorf("key = %+v", h.key)
	}

	dispatch(context.Background(), h, event(t, `{"type":"key","key":"Escape"}`))
	if h.key.Key != "Escape" {
		t.Errorf("named key lower-cased: %q", h.key.Key)
	}

	h.failKey = errors.New("boom")
	if err := dispatch(context.Background(), h, event(t, `{"type":"key","key":"n","meta":true}`)); err == nil {
		t.Error("handler error lost")
	}
}

func TestDispatch_Select(t *testing.T) {
	h := &recorder{}
	ev := event(t, `{"type":"select",
		"start":{"path":"/html[1]/body[1]/p[2]/text()[1]","offset":0},
		"end":{"path":"/html[1]/body[1]/p[3]/text()[1]","offset":5}}`)
	if err := dispatch(context.Background(), h, ev); err != nil {
		t.Fatal(err)
	}
	if h.sel.Start.Path.String() != "/html[1]/body[1]/p[2]/text()[1]" || h.sel.End.Offset != 5 {
		t.Errorf("sel = %+v", h.sel)
	}

	bad := event(t, `{"type":"select","start":{"path":"p[2]","offset":0},"end":{"path":"/html[1]","offset":0}}`)
	if err := dispatch(context.Background(), h, bad); !errors.Is(err, anchor.ErrMalformedPath) {
		t.Errorf("bad path err = %v", err)
	}
}

func TestDispatch_ClickRecolorDelete(t *testing.T) {
	h := &recorder{}
	ctx := context.Background()
	dispatch(ctx, h, event(t, `{"type":"click","x":20.5,"y":55,"inside":true}`))
	if h.clickX != 20.5 || h.clickY != 55 || !h.inside {
		t.Errorf("click = %g,%g,%v", h.clickX, h.clickY, h.inside)
	}
	dispatch(ctx, h, event(t, `{"type":"recolor","id":"h1","color":"#4caf50"}`))
	dispatch(ctx, h, event(t, `{"type":"delete","id":"h1"}`))

	want := []string{"click", "recolor:h1", "delete:h1"}
	got := h.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
	if h.color != "#4caf50" {
		t.Errorf("color = %s", h.color)
	}
}

func TestDispatch_NoteEdits(t *testing.T) {
	h := &recorder{notes: []*annotation.Annotation{{
		ID:   "n1",
		Kind: annotation.KindNote,
		Note: &annotation.Note{
			HTML:     "<p>old</p>",
			BBox:     annotation.Rect{Left: 1, Top: 2, Width: 300, Height: 200},
			Style:    annotation.Style{Color: "red"},
			ViewMode: annotation.ViewModeEdit,
		},
	}}}
	ctx := context.Background()

	if err := dispatch(ctx, h, event(t, `{"type":"noteChanged","id":"n1","html":"<p>new</p>"}`)); err != nil {
		t.Fatal(err)
	}
	if h.note.HTML != "<p>new</p>" || h.note.BBox.Width != 300 || h.note.Style.Color != "red" {
		t.Errorf("note = %+v", h.note)
	}

	dispatch(ctx, h, event(t, `{"type":"noteMode","id":"n1","view_mode":"view"}`))
	if h.note.ViewMode != annotation.ViewModeView || h.note.HTML != "<p>old</p>" {
		t.Errorf("mode change = %+v", h.note)
	}

	if err := dispatch(ctx, h, event(t, `{"type":"noteChanged","id":"nope","html":""}`)); err == nil {
		t.Error("unknown note accepted")
	}
}

func TestDispatch_NoteGeometryStyleAndDelete(t *testing.T) {
	h := &recorder{notes: []*annotation.Annotation{{
		ID:   "n1",
		Kind: annotation.KindNote,
		Note: &annotation.Note{
			HTML:     "<p>text</p>",
			BBox:     annotation.Rect{Left: 10, Top: 20, Width: 300, Height: 200},
			ViewMode: annotation.ViewModeView,
		},
	}}}
	ctx := context.Background()

	if err := dispatch(ctx, h, event(t, `{"type":"noteMoved","id":"n1","left":140,"top":620.5}`)); err != nil {
		t.Fatal(err)
	}
	want := annotation.Rect{Left: 140, Top: 620.5, Width: 300, Height: 200}
	if h.note.BBox != want || h.note.HTML != "<p>text</p>" {
		t.Errorf("moved = %+v", h.note)
	}
	if h.note.Style != (annotation.Style{}) {
		t.Errorf("move without style touched style: %+v", h.note.Style)
	}

	if err := dispatch(ctx, h, event(t, `{"type":"noteResized","id":"n1","width":420,"height":96,
		"style":{"background_color":"rgb(255, 249, 196)","font_size":"14px","margin_top":"0px"}}`)); err != nil {
		t.Fatal(err)
	}
	want = annotation.Rect{Left: 10, Top: 20, Width: 420, Height: 96}
	if h.note.BBox != want {
		t.Errorf("resized bbox = %+v, want %+v", h.note.BBox, want)
	}
	if h.note.Style.BackgroundColor != "rgb(255, 249, 196)" || h.note.Style.FontSize != "14px" || h.note.Style.MarginTop != "0px" {
		t.Errorf("resized style = %+v", h.note.Style)
	}

	style := `{"background_color":"rgb(1, 2, 3)","color":"rgb(0, 0, 0)","font_family":"serif","font_size":"16px",
		"line_height":"22px","letter_spacing":"normal","word_spacing":"0px","border":"1px solid rgb(224, 198, 0)",
		"padding":"0px 8px 8px","margin":"0px","margin_top":"0px"}`
	if err := dispatch(ctx, h, event(t, `{"type":"noteStyle","id":"n1","style":`+style+`}`)); err != nil {
		t.Fatal(err)
	}
	wantStyle := annotation.Style{
		BackgroundColor: "rgb(1, 2, 3)",
		Color:           "rgb(0, 0, 0)",
		FontFamily:      "serif",
		FontSize:        "16px",
		LineHeight:      "22px",
		LetterSpacing:   "normal",
		WordSpacing:     "0px",
		Border:          "1px solid rgb(224, 198, 0)",
		Padding:         "0px 8px 8px",
		Margin:          "0px",
		MarginTop:       "0px",
	}
	if h.note.Style != wantStyle {
		t.Errorf("style = %+v", h.note.Style)
	}

	dispatch(ctx, h, event(t, `{"type":"noteChanged","id":"n1","html":"<p>x</p>","style":{"color":"rgb(9, 9, 9)"}}`))
	if h.note.HTML != "<p>x</p>" || h.note.Style.Color != "rgb(9, 9, 9)" {
		t.Errorf("changed = %+v", h.note)
	}

	if err := dispatch(ctx, h, event(t, `{"type":"noteMoved","id":"gone","left":1,"top":1}`)); err == nil {
		t.Error("move of unknown note accepted")
	}

	if err := dispatch(ctx, h, event(t, `{"type":"noteDelete","id":"n1"}`)); err != nil {
		t.Fatal(err)
	}
	calls := h.Calls()
	if last := calls[len(calls)-1]; last != "deleteNote:n1" {
		t.Errorf("last call = %s, want deleteNote:n1", last)
	}
}

func TestDispatch_Unknown(t *testing.T) {
	if err := dispatch(context.Background(), &recorder{}, event(t, `{"type":"scroll"}`)); err == nil {
		t.Error("unknown event accepted")
	}
}

func TestPayloadOf(t *testing.T) {
	wrapped := payloadOf(gson.NewFrom(`[{"type":"click","x":1}]`))
	if wrapped.Get("type").Str() != "click" {
		t.Errorf("wrapped = %v", wrapped.Val())
	}
	direct := payloadOf(gson.NewFrom(`{"type":"delete"}`))
	if direct.Get("type").Str() != "delete" {
		t.Errorf("direct = %v", direct.Val())
	}
	if empty := payloadOf(gson.NewFrom(`[]`)); empty.Get("type").Str() != "" {
		t.Errorf("empty = %v", empty.Val())
	}
}

func TestBridge_OrderAndLifecycle(t *testing.T) {
	b := newBridge(nil)
	b.push(gson.NewFrom(`{"type":"delete","id":"early"}`)) // unbound, dropped

	h := &recorder{}
	b.start(h)
	for _, id := range []string{"a", "b", "c"} {
		b.push(gson.NewFrom(`{"type":"delete","id":"` + id + `"}`))
	}
	b.push(gson.NewFrom(`{"type":"bogus"}`)) // logged, not fatal
	b.push(gson.NewFrom(`{"type":"delete","id":"d"}`))

	deadline := time.Now().Add(2 * time.Second)
	for len(h.Calls()) < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.stop()
	b.stop()

	want := []string{"delete:a", "delete:b", "delete:c", "delete:d"}
	got := h.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}

	b.push(gson.NewFrom(`{"type":"delete","id":"late"}`))
	if len(h.Calls()) != 4 {
		t.Error("stopped bridge still dispatches")
	}
}

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "xhr": true}
	tests := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", false},
		{"Media", false},
		{"XHR", true},
		{"Document", false},
	}
	for _, tt := range tests {
		if got := shouldBlock(set, tt.typ); got != tt.want {
			t.Errorf("shouldBlock(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestManager_Guards(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.MemoryLimit != 2<<30 || m.cfg.RecycleInterval != 4*time.Hour || m.cfg.Logger == nil {
		t.Errorf("defaults = %+v", m.cfg)
	}
	if m.Browser() != nil {
		t.Error("browser before start")
	}

	m.track(1)
	if err := m.Recycle(); err == nil {
		t.Error("recycle with open page accepted")
	}
	m.track(-1)
	if m.OpenPages() != 0 {
		t.Errorf("open = %d", m.OpenPages())
	}

	m.Close()
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("start after close: %v", err)
	}
	if err := m.Recycle(); !errors.Is(err, ErrClosed) {
		t.Errorf("recycle after close: %v", err)
	}
}
