// Package session infers continuous play sessions from repeated
// point-in-time polls. The Steam Web API has no start/stop events; the
// tracker derives session boundaries purely from the sequence of activity
// identifiers observed on the fast polling tier.
package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/steamwatch/steamwatch/internal/events"
	"github.com/steamwatch/steamwatch/internal/monitor"
)

// Derived field keys the tracker writes into fast-tier observations. They
// participate in the aggregator's merge-never-regress contract like any
// collector-owned field.
const (
	FieldSessionActive     = "session_active"
	FieldSessionActivity   = "session_activity"
	FieldSessionLabel      = "session_label"
	FieldSessionStart      = "session_start"
	FieldSessionElapsedMin = "session_elapsed_min"
	FieldSessionCount      = "session_count"
	FieldSessionAvgMin     = "session_avg_min"
)

// DefaultHistoryCapacity caps the rolling window of closed sessions.
const DefaultHistoryCapacity = 50

// Window is one closed play session.
type Window struct {
	Activity string        `json:"activity"`
	Label    string        `json:"label,omitempty"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

// Stats is a point-in-time view of the tracker.
type Stats struct {
	Active      bool
	Activity    string
	Label       string
	Start       time.Time
	Elapsed     time.Duration
	ClosedCount int64
	AvgDuration time.Duration
	History     []Window
}

// Config configures a Tracker.
type Config struct {
	// ActivityField is the observation field carrying the activity
	// identifier (absent while no activity is running).
	ActivityField string

	// LabelField optionally carries a human-readable name for the activity.
	LabelField string

	// HistoryCapacity caps the rolling history of closed windows.
	// Defaults to DefaultHistoryCapacity.
	HistoryCapacity int
}

// Tracker maintains the current session window and a rolling history of
// closed windows. It consumes fast-tier observations via Observe, which the
// engine invokes as the tier's hook before merging.
//
// State machine per observation:
//   - idle, id observed        -> open window at now
//   - active, same id          -> elapsed recomputed from the original start
//   - active, different id     -> close window, then open for the new id
//   - active, no id            -> close window, go idle
//   - failed observation       -> no transition; a single failed poll must
//     never end a session
type Tracker struct {
	config Config

	mu          sync.Mutex
	active      bool
	activity    string
	label       string
	start       time.Time
	elapsed     time.Duration
	history     []Window
	closedCount int64
	avg         time.Duration

	now func() time.Time // injectable for tests
}

// NewTracker returns an idle tracker.
func NewTracker(config Config) *Tracker {
	if config.HistoryCapacity <= 0 {
		config.HistoryCapacity = DefaultHistoryCapacity
	}
	return &Tracker{
		config: config,
		now:    time.Now,
	}
}

// Observe consumes one fast-tier observation, advances the state machine and
// writes the derived session fields back into the observation so they ride
// the merge with the collector's own fields.
func (t *Tracker) Observe(obs *monitor.Observation) {
	if obs == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if obs.Failed {
		// A failed poll says nothing about the activity; keep the window
		// open and surface the last-known elapsed time.
		if t.active {
			t.elapsed = now.Sub(t.start)
			t.annotateLocked(obs)
		}
		return
	}

	id, _ := obs.Get(t.config.ActivityField)
	label := ""
	if t.config.LabelField != "" {
		label, _ = obs.Get(t.config.LabelField)
	}

	switch {
	case !t.active && id != "":
		t.openLocked(id, label, now)

	case t.active && id == t.activity:
		// Recompute from the original start rather than accumulating poll
		// deltas, so missed polls cannot drift the elapsed time.
		t.elapsed = now.Sub(t.start)
		if label != "" {
			t.label = label
		}

	case t.active && id != t.activity:
		t.closeLocked(now)
		if id != "" {
			t.openLocked(id, label, now)
		}
	}

	t.annotateLocked(obs)
}

// Stats returns a consistent copy of the tracker state.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	history := make([]Window, len(t.history))
	copy(history, t.history)

	return Stats{
		Active:      t.active,
		Activity:    t.activity,
		Label:       t.label,
		Start:       t.start,
		Elapsed:     t.elapsed,
		ClosedCount: t.closedCount,
		AvgDuration: t.avg,
		History:     history,
	}
}

// History returns a copy of the rolling history of closed windows.
func (t *Tracker) History() []Window {
	return t.Stats().History
}

func (t *Tracker) openLocked(id, label string, now time.Time) {
	t.active = true
	t.activity = id
	t.label = label
	t.start = now
	t.elapsed = 0

	events.GetGlobalEventLogger().LogSessionStarted(id, label)
}

func (t *Tracker) closeLocked(now time.Time) {
	t.elapsed = now.Sub(t.start)

	window := Window{
		Activity: t.activity,
		Label:    t.label,
		Start:    t.start,
		Duration: t.elapsed,
	}

	t.history = append(t.history, window)
	if len(t.history) > t.config.HistoryCapacity {
		t.history = t.history[len(t.history)-t.config.HistoryCapacity:]
	}
	t.closedCount++
	t.recomputeAvgLocked()

	events.GetGlobalEventLogger().LogSessionEnded(window.Activity, window.Label, window.Duration.Minutes())

	t.active = false
	t.activity = ""
	t.label = ""
	t.start = time.Time{}
	t.elapsed = 0
}

func (t *Tracker) recomputeAvgLocked() {
	if len(t.history) == 0 {
		t.avg = 0
		return
	}

	var total time.Duration
	for _, w := range t.history {
		total += w.Duration
	}
	t.avg = total / time.Duration(len(t.history))
}

// annotateLocked writes the derived session fields into the observation.
// Activity and start are written only while a window is open; empty values
// would be ignored by the merge anyway, and session_active carries the
// idle/active distinction explicitly.
func (t *Tracker) annotateLocked(obs *monitor.Observation) {
	obs.Set(FieldSessionActive, strconv.FormatBool(t.active))
	obs.Set(FieldSessionCount, strconv.FormatInt(t.closedCount, 10))
	obs.Set(FieldSessionAvgMin, formatMinutes(t.avg))
	obs.Set(FieldSessionElapsedMin, formatMinutes(t.elapsed))

	if t.active {
		obs.Set(FieldSessionActivity, t.activity)
		obs.Set(FieldSessionLabel, t.label)
		obs.Set(FieldSessionStart, t.start.Format(time.RFC3339))
	}
}

func formatMinutes(d time.Duration) string {
	return strconv.FormatFloat(d.Minutes(), 'f', 1, 64)
}
