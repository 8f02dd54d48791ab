package anchor

import (
	"log/slog"
	"sync"
	"time"
)

// Restore queue defaults.
const (
	DefaultMaxRounds  = 5
	DefaultRoundDelay = time.Second
)

// Task is one pending restoration: an annotation id, its stored endpoints,
// and the round that will attempt it (1-based).
type Task struct {
	ID        string
	Endpoints Endpoints
	Round     int

	err error
}

// ResolveFunc resolves endpoints against the current document.
type ResolveFunc func(Endpoints) (*Range, error)

// RestoreConfig configures a Restorer.
type RestoreConfig struct {
	// Resolve turns endpoints into a live range. Required.
	Resolve ResolveFunc

	// Clock schedules later rounds. Default: SystemClock().
	Clock Clock

	// MaxRounds bounds the number of rounds any task takes part in. Default: 5.
	MaxRounds int

	// RoundDelay is the unit of backoff: failures of round n are retried
	// after n*RoundDelay. Default: 1s.
	RoundDelay time.Duration

	// BeforeRound runs at the start of each round, before any resolution.
	// Sessions use it to refresh their document snapshot.
	BeforeRound func(round int)

	// OnResolved runs for every task resolved in a round, as soon as it
	// resolves.
	OnResolved func(id string, r *Range)

	// OnDropped runs for every task still failing after the last round.
	OnDropped func(id string, err error)

	Logger *slog.Logger
}

func (c *RestoreConfig) defaults() {
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.RoundDelay <= 0 {
		c.RoundDelay = DefaultRoundDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RestoreStats summarises a Restorer's progress.
type RestoreStats struct {
	Rounds   int `json:"rounds"`
	Resolved int `json:"resolved"`
	Dropped  int `json:"dropped"`
	Pending  int `json:"pending"`
}

// Restorer drains a batch of restoration tasks over at most MaxRounds
// rounds. The first round runs synchronously in Run; each failing subset is
// re-enqueued and drained again after an increasing delay. Whatever still
// fails after the last round is dropped.
type Restorer struct {
	cfg RestoreConfig

	mu      sync.Mutex
	pending []Task
	timer   Timer
	stopped bool
	started bool
	stats   RestoreStats
}

// NewRestorer creates a Restorer. Call Run once with the batch.
func NewRestorer(cfg RestoreConfig) *Restorer {
	cfg.defaults()
	return &Restorer{cfg: cfg}
}

// Run enqueues the batch as round-1 tasks and drains the first round
// before returning. Calling Run more than once has no effect.
func (q *Restorer) Run(tasks []Task) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.pending = make([]Task, len(tasks))
	for i, t := range tasks {
		t.Round = 1
		q.pending[i] = t
	}
	q.mu.Unlock()

	q.drain()
}

// Stop abandons any scheduled rounds. Tasks still pending are neither
// resolved nor reported as dropped.
func (q *Restorer) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.pending = nil
}

// Done reports whether no round remains to run.
func (q *Restorer) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped || len(q.pending) == 0
}

// Stats returns a snapshot of the progress counters.
func (q *Restorer) Stats() RestoreStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}

// Delay returns the wait before the round following round.
func (q *Restorer) Delay(round int) time.Duration {
	return time.Duration(round) * q.cfg.RoundDelay
}

func (q *Restorer) drain() {
	q.mu.Lock()
	if q.stopped || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	tasks := q.pending
	q.pending = nil
	q.timer = nil
	q.stats.Rounds++
	round := tasks[0].Round
	q.mu.Unlock()

	log := q.cfg.Logger
	if q.cfg.BeforeRound != nil {
		q.cfg.BeforeRound(round)
	}

	var failed []Task
	resolved := 0
	for _, t := range tasks {
		if q.isStopped() {
			return
		}
		r, err := q.cfg.Resolve(t.Endpoints)
		if err != nil {
			log.Debug("anchor: restore attempt failed", "id", t.ID, "round", round, "error", err)
			t.err = err
			failed = append(failed, t)
			continue
		}
		resolved++
		if q.cfg.OnResolved != nil {
			q.cfg.OnResolved(t.ID, r)
		}
	}

	q.mu.Lock()
	q.stats.Resolved += resolved
	if q.stopped {
		q.mu.Unlock()
		return
	}
	if len(failed) == 0 {
		q.mu.Unlock()
		log.Debug("anchor: restore complete", "round", round, "resolved", resolved)
		return
	}
	if round >= q.cfg.MaxRounds {
		q.stats.Dropped += len(failed)
		q.mu.Unlock()
		for _, t := range failed {
			log.Warn("anchor: anchor dropped after last round",
				"id", t.ID, "rounds", round, "error", t.err)
			if q.cfg.OnDropped != nil {
				q.cfg.OnDropped(t.ID, t.err)
			}
		}
		return
	}

	for i := range failed {
		failed[i].Round = round + 1
	}
	q.pending = failed
	delay := q.Delay(round)
	q.timer = q.cfg.Clock.AfterFunc(delay, q.drain)
	q.mu.Unlock()

	log.Debug("anchor: restore round rescheduled",
		"round", round, "resolved", resolved, "failed", len(failed), "delay", delay)
}

func (q *Restorer) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}
