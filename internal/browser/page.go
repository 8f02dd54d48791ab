package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
	"golang.org/x/net/html"

	"github.com/hazyhaar/floatnote/anchor"
	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/annotator"
	"github.com/hazyhaar/floatnote/overlay"
)

// Palette is the set of colors offered by the highlight toolbar.
var Palette = []string{"#ffeb3b", "#4caf50", "#2196f3", "#e91e63", "#ff9800"}

// ErrPageClosed is returned by operations on a closed page.
var ErrPageClosed = errors.New("browser: page closed")

// Page is a live Chrome tab. It implements annotator.Page together with
// annotator.NoteHost, overlay.ToolbarHost and annotator.EventSource.
type Page struct {
	page   *rod.Page
	url    string
	mgr    *Manager
	logger *slog.Logger

	hijack     *rod.HijackRouter
	stopExpose func() error
	bridge     *bridge

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

var (
	_ annotator.Page        = (*Page)(nil)
	_ annotator.NoteHost    = (*Page)(nil)
	_ annotator.EventSource = (*Page)(nil)
	_ overlay.ToolbarHost   = (*Page)(nil)
)

// OpenPage creates a tab, installs the page script and the event bridge,
// and navigates to pageURL.
func OpenPage(ctx context.Context, mgr *Manager, pageURL string) (*Page, error) {
	b, err := mgr.Start(ctx)
	if err != nil {
		return nil, err
	}

	var rp *rod.Page
	if mgr.cfg.Stealth {
		rp, err = stealth.Page(b)
	} else {
		rp, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	p := &Page{page: rp, url: pageURL, mgr: mgr, logger: mgr.cfg.Logger}
	p.bridge = newBridge(p.logger)
	mgr.track(1)

	if len(mgr.cfg.ResourceBlocking) > 0 {
		p.hijack = blockResources(rp, mgr.cfg.ResourceBlocking)
	}

	stop, err := rp.Expose(bindingName, func(ev gson.JSON) (interface{}, error) {
		p.bridge.push(payloadOf(ev))
		return nil, nil
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: expose bridge: %w", err)
	}
	p.stopExpose = stop

	if _, err := rp.EvalOnNewDocument("(" + pageScript + ")()"); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: install script: %w", err)
	}

	if err := enableDOM(rp); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: enable DOM: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := rp.Context(navCtx).Navigate(pageURL); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := rp.Context(navCtx).WaitLoad(); err != nil {
		p.logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	// Pages that were already parsed when the script was registered.
	if _, err := rp.Eval(pageScript); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: install script: %w", err)
	}
	return p, nil
}

// URL implements annotator.Page. It is the URL the page was opened with,
// the key its records are stored under.
func (p *Page) URL() string { return p.url }

// Bind implements annotator.EventSource.
func (p *Page) Bind(s *annotator.Session) {
	p.bridge.start(s)
}

// Document implements annotator.Page with a snapshot of the live node tree.
func (p *Page) Document(ctx context.Context) (*html.Node, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return snapshot(ctx, p.page)
}

// call invokes window.__floatnote[fn](args...).
func (p *Page) call(fn string, args ...interface{}) (gson.JSON, error) {
	if err := p.check(); err != nil {
		return gson.JSON{}, err
	}
	res, err := p.page.Eval(`(fn, ...args) => window.__floatnote[fn](...args)`, append([]interface{}{fn}, args...)...)
	if err != nil {
		return gson.JSON{}, fmt.Errorf("browser: %s: %w", fn, err)
	}
	return res.Value, nil
}

func (p *Page) check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	return nil
}

// rangeArgs encodes the boundary points of r as (startPath, startOffset,
// endPath, endOffset) for the page script.
func rangeArgs(r *anchor.Range) ([]interface{}, error) {
	sp, err := anchor.Encode(r.StartNode)
	if err != nil {
		return nil, err
	}
	ep, err := anchor.Encode(r.EndNode)
	if err != nil {
		return nil, err
	}
	return []interface{}{sp.String(), r.StartOffset, ep.String(), r.EndOffset}, nil
}

func rectOf(v gson.JSON) annotation.Rect {
	return annotation.Rect{
		Left:   v.Get("left").Num(),
		Top:    v.Get("top").Num(),
		Width:  v.Get("width").Num(),
		Height: v.Get("height").Num(),
	}
}

// ClientRect implements spatial.Measurer.
func (p *Page) ClientRect(r *anchor.Range) (annotation.Rect, error) {
	args, err := rangeArgs(r)
	if err != nil {
		return annotation.Rect{}, err
	}
	v, err := p.call("rect", args...)
	if err != nil {
		return annotation.Rect{}, err
	}
	return rectOf(v), nil
}

// ScrollOffset implements spatial.Measurer.
func (p *Page) ScrollOffset() (float64, float64, error) {
	v, err := p.call("viewport")
	if err != nil {
		return 0, 0, err
	}
	return v.Get("left").Num(), v.Get("top").Num(), nil
}

// Viewport implements annotator.Page.
func (p *Page) Viewport() (annotation.Rect, error) {
	v, err := p.call("viewport")
	if err != nil {
		return annotation.Rect{}, err
	}
	return rectOf(v), nil
}

// ScrollTo implements annotator.Page.
func (p *Page) ScrollTo(x, y float64) error {
	_, err := p.call("scrollTo", x, y)
	return err
}

// Add implements overlay.Backend with a CSS custom highlight per color.
func (p *Page) Add(key string, item overlay.Item) error {
	args, err := rangeArgs(item.Range)
	if err != nil {
		return err
	}
	all := append([]interface{}{key, item.ID}, args...)
	_, err = p.call("add", append(all, item.Color)...)
	return err
}

// Remove implements overlay.Backend.
func (p *Page) Remove(key, id string) error {
	_, err := p.call("remove", key, id)
	return err
}

// Clear implements overlay.Backend.
func (p *Page) Clear(key string) error {
	_, err := p.call("clear", key)
	return err
}

// noteView is the shape the page script renders.
type noteView struct {
	ID       string              `json:"id"`
	HTML     string              `json:"html"`
	BBox     annotation.Rect     `json:"bbox"`
	Style    annotation.Style    `json:"style"`
	ViewMode annotation.ViewMode `json:"view_mode"`
}

// ShowNote implements annotator.NoteHost.
func (p *Page) ShowNote(a *annotation.Annotation) error {
	if a.Note == nil {
		return fmt.Errorf("browser: show note %s: %w", a.ID, annotation.ErrInvalid)
	}
	_, err := p.call("showNote", noteView{
		ID:       a.ID,
		HTML:     a.Note.HTML,
		BBox:     a.Note.BBox,
		Style:    a.Note.Style,
		ViewMode: a.Note.ViewMode,
	})
	return err
}

// RemoveNote implements annotator.NoteHost.
func (p *Page) RemoveNote(id string) error {
	_, err := p.call("removeNote", id)
	return err
}

// ShowToolbar implements overlay.ToolbarHost.
func (p *Page) ShowToolbar(id string, x, y float64) error {
	_, err := p.call("showToolbar", id, x, y, Palette)
	return err
}

// HideToolbar implements overlay.ToolbarHost.
func (p *Page) HideToolbar() error {
	_, err := p.call("hideToolbar")
	return err
}

// Close stops the bridge and closes the tab.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.bridge.stop()
		if p.stopExpose != nil {
			if e := p.stopExpose(); e != nil {
				p.logger.Debug("browser: stop bridge", "error", e)
			}
		}
		if p.hijack != nil {
			if e := p.hijack.Stop(); e != nil {
				p.logger.Debug("browser: stop hijack", "error", e)
			}
		}
		err = p.page.Close()
		p.mgr.track(-1)
	})
	return err
}

// Opener opens live pages on a Manager.
type Opener struct {
	mgr *Manager
}

// NewOpener returns an annotator.Opener backed by mgr.
func NewOpener(mgr *Manager) *Opener {
	return &Opener{mgr: mgr}
}

// Open implements annotator.Opener.
func (o *Opener) Open(ctx context.Context, url string) (annotator.Page, error) {
	return OpenPage(ctx, o.mgr, url)
}
