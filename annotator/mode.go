package annotator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/floatnote/anchor"
)

// Mode is the interaction state of a page.
type Mode string

const (
	ModeIdle           Mode = "idle"
	ModeSelectionArmed Mode = "selection-armed"
)

// Controller owns the interaction mode of one page. Arming starts an expiry
// timer; a finalized selection, Escape or the expiry return to Idle.
type Controller struct {
	clock  anchor.Clock
	window time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	mode  Mode
	timer anchor.Timer
	gen   uint64
}

// NewController creates an idle controller whose armed window lasts window.
func NewController(clock anchor.Clock, window time.Duration, logger *slog.Logger) *Controller {
	if clock == nil {
		clock = anchor.SystemClock()
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{clock: clock, window: window, logger: logger, mode: ModeIdle}
}

// Mode returns the current state.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Armed reports whether the next mouse-up finalizes a selection.
func (c *Controller) Armed() bool { return c.Mode() == ModeSelectionArmed }

// Arm enters SelectionArmed. Arming again restarts the window.
func (c *Controller) Arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.mode = ModeSelectionArmed
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.window, func() { c.expire(gen) })
}

// Disarm returns to Idle. It reports whether the controller was armed.
func (c *Controller) Disarm(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeSelectionArmed {
		return false
	}
	c.stopTimerLocked()
	c.mode = ModeIdle
	c.gen++
	c.logger.Debug("annotator: selection disarmed", "reason", reason)
	return true
}

// Stop cancels any pending expiry and returns to Idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.mode = ModeIdle
	c.gen++
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.mode != ModeSelectionArmed {
		return
	}
	c.mode = ModeIdle
	c.timer = nil
	c.logger.Debug("annotator: selection window expired")
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// KeyEvent is a keydown reported by the host.
type KeyEvent struct {
	Key      string `json:"key"`
	Ctrl     bool   `json:"ctrl,omitempty"`
	Meta     bool   `json:"meta,omitempty"`
	Shift    bool   `json:"shift,omitempty"`
	Alt      bool   `json:"alt,omitempty"`
	Editable bool   `json:"editable,omitempty"` // target is an input, textarea, contenteditable or note
}

// Action is what a key event asks for.
type Action string

const (
	ActionNone      Action = ""
	ActionHighlight Action = "highlight"
	ActionNote      Action = "note"
	ActionEscape    Action = "escape"
)

// ParseShortcut maps a key event to an action. Ctrl/Cmd+H arms highlight
// selection, Ctrl/Cmd+N creates a note, Escape cancels. Events typed into an
// editing context are ignored.
func ParseShortcut(ev KeyEvent) Action {
	if ev.Editable {
		return ActionNone
	}
	if ev.Key == "Escape" {
		return ActionEscape
	}
	if !(ev.Ctrl || ev.Meta) || ev.Shift || ev.Alt {
		return ActionNone
	}
	switch ev.Key {
	case "h":
		return ActionHighlight
	case "n":
		return ActionNote
	}
	return ActionNone
}
