package monitor

import (
	"maps"
	"sync"
	"time"
)

// Aggregator merges partial observations from all tiers into the single
// canonical snapshot. Merges are serialized by an internal mutex so that two
// tiers merging concurrently can never observe each other's half-applied
// update.
//
// Field merge rules:
//   - no prior value + incoming value (even empty) -> adopt
//   - prior value + incoming absent or empty       -> keep prior (never regress)
//   - prior value + incoming meaningful value      -> incoming wins
//
// A failed observation contributes its error flag and message but its absent
// fields never blank out data another tier already populated.
type Aggregator struct {
	mu   sync.Mutex
	snap Snapshot

	now func() time.Time // injectable for tests
}

// NewAggregator returns an aggregator with a fresh, empty snapshot.
func NewAggregator() *Aggregator {
	return &Aggregator{
		snap: Snapshot{Fields: make(map[string]string)},
		now:  time.Now,
	}
}

// Merge applies one observation to the canonical snapshot and returns a copy
// of the merged result. A malformed observation (nil, or carrying no
// timestamp) is dropped whole and ErrMalformedObservation is returned; the
// snapshot is left untouched.
func (a *Aggregator) Merge(obs *Observation) (Snapshot, error) {
	if obs == nil || obs.Timestamp.IsZero() {
		return a.Current(), ErrMalformedObservation
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for key, incoming := range obs.Fields {
		if _, known := a.snap.Fields[key]; known && incoming == "" {
			// Keep last known good.
			continue
		}
		a.snap.Fields[key] = incoming
	}

	a.snap.HasError = a.snap.HasError || obs.Failed
	if obs.FailureMessage != "" {
		a.snap.ErrorMessage = obs.FailureMessage
	}

	// Freshness bookkeeping tracks the most recent write regardless of
	// field-level outcomes.
	a.snap.UpdatedAt = obs.Timestamp
	a.snap.Version++

	return a.copyLocked(), nil
}

// Current returns a consistent copy of the canonical snapshot.
func (a *Aggregator) Current() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyLocked()
}

// Reset discards all merged state. Used when monitoring restarts from a
// stopped state so a new run never merges against a previous run's data.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snap = Snapshot{Fields: make(map[string]string)}
}

func (a *Aggregator) copyLocked() Snapshot {
	out := a.snap
	out.Fields = maps.Clone(a.snap.Fields)
	return out
}
