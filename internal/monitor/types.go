// Package monitor provides the tiered polling engine for steamwatch.
package monitor

import (
	"context"
	"time"
)

// TierID identifies one polling cadence.
type TierID string

const (
	// TierFast polls presence data (persona state, running game) every few seconds.
	TierFast TierID = "fast"
	// TierMedium polls social data (friend list) on a medium cadence.
	TierMedium TierID = "medium"
	// TierSlow polls library data (owned games) on a slow cadence.
	TierSlow TierID = "slow"
)

// Collector performs one polling cycle for a tier.
// Implementations must be idempotent across repeated invocations and must not
// assume any ordering relative to other tiers' collectors.
type Collector interface {
	Collect(ctx context.Context) (*Observation, error)
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(ctx context.Context) (*Observation, error)

func (f CollectorFunc) Collect(ctx context.Context) (*Observation, error) {
	return f(ctx)
}

// ObservationHook is invoked with a tier's observation before it is merged.
// Hooks may mutate the observation's fields; the session tracker uses this to
// annotate fast-tier observations with derived session fields.
type ObservationHook func(obs *Observation)

// TierConfig is the static configuration for one tier.
// Tiers are configured at construction and immutable afterwards.
type TierConfig struct {
	// ID identifies the tier in logs and metrics.
	ID TierID

	// Interval is the polling period for this tier.
	Interval time.Duration

	// StaggerOffset delays the tier's first firing. When zero, the engine
	// derives one from the tier's position and the configured stagger delta.
	StaggerOffset time.Duration

	// Collector performs the tier's polling cycle.
	Collector Collector

	// Hook, if set, runs on every completed observation before the merge.
	Hook ObservationHook
}

// Observation is the result of one collector invocation.
//
// Fields is a set of named values. A key absent from the map means the
// collector did not attempt to collect that field; a key present with an
// empty value means the collector observed it as empty. The distinction
// matters to the merge rules.
type Observation struct {
	Tier           TierID            `json:"tier"`
	Timestamp      time.Time         `json:"timestamp"`
	Fields         map[string]string `json:"fields,omitempty"`
	Failed         bool              `json:"failed,omitempty"`
	FailureMessage string            `json:"failure_message,omitempty"`
}

// NewObservation returns an empty successful observation stamped now.
func NewObservation(tier TierID) *Observation {
	return &Observation{
		Tier:      tier,
		Timestamp: time.Now(),
		Fields:    make(map[string]string),
	}
}

// NewFailedObservation returns an observation carrying a failure.
func NewFailedObservation(tier TierID, msg string) *Observation {
	return &Observation{
		Tier:           tier,
		Timestamp:      time.Now(),
		Fields:         make(map[string]string),
		Failed:         true,
		FailureMessage: msg,
	}
}

// Set records a field value on the observation.
func (o *Observation) Set(key, value string) {
	if o.Fields == nil {
		o.Fields = make(map[string]string)
	}
	o.Fields[key] = value
}

// Get returns a field value and whether the field was collected at all.
func (o *Observation) Get(key string) (string, bool) {
	v, ok := o.Fields[key]
	return v, ok
}

// Snapshot is the canonical merged state: the superset union of all fields
// ever contributed by any tier. Snapshots handed to consumers are value
// copies with their own field map and must be treated as immutable.
type Snapshot struct {
	Fields       map[string]string `json:"fields"`
	UpdatedAt    time.Time         `json:"updated_at"`
	HasError     bool              `json:"has_error"`
	ErrorMessage string            `json:"error_message,omitempty"`

	// Version increments on every successful merge.
	Version uint64 `json:"version"`
}

// Field returns a merged field value, or "" if it was never contributed.
func (s Snapshot) Field(key string) string {
	return s.Fields[key]
}

// StatsRecorder receives per-cycle engine statistics. Implementations must be
// safe for concurrent use. The prometheus metrics adapter implements this.
type StatsRecorder interface {
	RecordCycle(tier TierID, outcome string, elapsed time.Duration)
	RecordGateWait(tier TierID, wait time.Duration)
	RecordSnapshot(snap Snapshot)
}

// Cycle outcome labels reported to the StatsRecorder.
const (
	OutcomeOK          = "ok"
	OutcomeFailed      = "failed"
	OutcomeGateTimeout = "gate_timeout"
	OutcomeSkipped     = "skipped"
)

// EngineError represents an error from the polling engine.
type EngineError struct {
	Op   string // Operation that failed (start, merge, ...)
	Tier TierID // Tier involved, if any
	Err  error  // Underlying error
}

func (e *EngineError) Error() string {
	if e.Tier != "" {
		return "monitor " + string(e.Tier) + ": " + e.Op + ": " + e.Err.Error()
	}
	return "monitor: " + e.Op + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Common engine errors.
var (
	ErrEngineClosed         = &EngineError{Op: "start", Err: errEngineClosed}
	ErrNoTiers              = &EngineError{Op: "start", Err: errNoTiers}
	ErrNilCollector         = &EngineError{Op: "start", Err: errNilCollector}
	ErrMalformedObservation = &EngineError{Op: "merge", Err: errMalformedObservation}
)

// Internal error values.
var (
	errEngineClosed         = errorString("engine closed")
	errNoTiers              = errorString("no tiers configured")
	errNilCollector         = errorString("tier has no collector")
	errMalformedObservation = errorString("malformed observation")
)

type errorString string

func (e errorString) Error() string { return string(e) }
