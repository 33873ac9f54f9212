// Package progress tracks scrape completion for long-running scans and
// exposes it to callbacks and the HTTP progress endpoint.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time view of a scan.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Total     int64     `json:"total"`
	Processed int64     `json:"processed"`
	Failed    int64     `json:"failed"`
	Percent   float64   `json:"percent"`
	StartedAt time.Time `json:"started_at"`
}

// Tracker counts processed pages against a known total. Callbacks fire
// at most once per whole-percent step so a million-page scan does not
// spam its listener.
type Tracker struct {
	runID     string
	total     atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	startedAt time.Time

	mu          sync.Mutex
	lastPercent int
	onStep      func(Snapshot)
}

// NewTracker starts a tracker for total pages. onStep may be nil.
func NewTracker(total int64, onStep func(Snapshot)) *Tracker {
	t := &Tracker{
		runID:     uuid.NewString(),
		startedAt: time.Now().UTC(),
		onStep:    onStep,
	}
	t.total.Store(total)
	return t
}

// AddTotal grows the expected total, for scans that discover work while
// running.
func (t *Tracker) AddTotal(n int64) {
	t.total.Add(n)
}

// Done records one processed page and fires the callback when the
// completion percentage crosses a whole-percent boundary.
func (t *Tracker) Done() {
	t.processed.Add(1)
	t.maybeNotify()
}

// Failed records one permanently failed page. Failed pages count as
// processed for completion purposes.
func (t *Tracker) Failed() {
	t.failed.Add(1)
	t.processed.Add(1)
	t.maybeNotify()
}

func (t *Tracker) maybeNotify() {
	if t.onStep == nil {
		return
	}
	snap := t.Snapshot()
	percent := int(snap.Percent)

	t.mu.Lock()
	fire := percent > t.lastPercent
	if fire {
		t.lastPercent = percent
	}
	t.mu.Unlock()

	if fire {
		t.onStep(snap)
	}
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Snapshot {
	total := t.total.Load()
	processed := t.processed.Load()
	percent := 0.0
	if total > 0 {
		percent = 100 * float64(processed) / float64(total)
		if percent > 100 {
			percent = 100
		}
	}
	return Snapshot{
		RunID:     t.runID,
		Total:     total,
		Processed: processed,
		Failed:    t.failed.Load(),
		Percent:   percent,
		StartedAt: t.startedAt,
	}
}
