package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steamwatch/steamwatch/internal/events"
	"github.com/steamwatch/steamwatch/internal/gate"
)

const (
	// DefaultStaggerDelta spaces the tiers' first firings so no two tiers hit
	// the backend simultaneously at startup.
	DefaultStaggerDelta = 250 * time.Millisecond
	// DefaultGateTimeout bounds how long a cycle waits for the rate gate
	// before the cycle is abandoned as a timeout failure.
	DefaultGateTimeout = 5 * time.Second
	// DefaultCollectTimeout bounds a single collector invocation.
	DefaultCollectTimeout = 30 * time.Second
	// DefaultDisposeTimeout bounds the drain performed by Dispose.
	DefaultDisposeTimeout = 10 * time.Second
)

// CycleTracer starts a trace span around one polling cycle. The returned
// end function records the cycle outcome and finishes the span.
type CycleTracer interface {
	StartCycle(ctx context.Context, tier TierID) (context.Context, func(failed bool, msg string))
}

// EngineConfig configures the polling engine.
type EngineConfig struct {
	// Tiers are the independently-scheduled polling cadences.
	Tiers []TierConfig

	// StaggerDelta derives a first-firing offset (index * delta) for tiers
	// that do not set one explicitly.
	StaggerDelta time.Duration

	// GateTimeout is the maximum wait for the rate gate per cycle.
	GateTimeout time.Duration

	// CollectTimeout bounds one collector invocation. An invocation already
	// past the gate runs against this deadline, not the engine's lifecycle
	// context, so Stop can drain it instead of tearing it mid-call.
	CollectTimeout time.Duration

	// Gate serializes backend calls across tiers. When nil the engine owns a
	// private gate.
	Gate *gate.Gate

	// Stats receives per-cycle statistics. Optional.
	Stats StatsRecorder

	// Tracer wraps each cycle in a trace span. Optional.
	Tracer CycleTracer
}

// Engine owns one periodic timer per configured tier and drives the
// collect -> gate -> merge -> publish cycle for each of them.
//
// The engine is single-use: after Stop it stays closed, and an application
// that restarts monitoring constructs a fresh engine, which starts from an
// empty canonical snapshot.
type Engine struct {
	config     *EngineConfig
	gate       *gate.Gate
	aggregator *Aggregator
	publisher  *Publisher
	tiers      []*tierState

	started atomic.Bool
	closed  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// tierState carries one tier's runtime counters. Counters live here rather
// than as loose package state so the engine stays testable with short
// intervals and fake collectors.
type tierState struct {
	cfg      TierConfig
	inFlight atomic.Bool
	cycles   atomic.Int64
	skipped  atomic.Int64
	lastRun  atomic.Int64 // unix nanos of the most recent cycle start
}

// TierStats is a point-in-time view of one tier's counters.
type TierStats struct {
	ID      TierID
	Cycles  int64
	Skipped int64
	LastRun time.Time
}

// NewEngine validates the configuration and builds an inert engine; timers
// are not armed until Start.
func NewEngine(config *EngineConfig) (*Engine, error) {
	if config == nil || len(config.Tiers) == 0 {
		return nil, ErrNoTiers
	}

	cfg := *config
	if cfg.StaggerDelta <= 0 {
		cfg.StaggerDelta = DefaultStaggerDelta
	}
	if cfg.GateTimeout <= 0 {
		cfg.GateTimeout = DefaultGateTimeout
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = DefaultCollectTimeout
	}

	g := cfg.Gate
	if g == nil {
		g = gate.New()
	}

	tiers := make([]*tierState, 0, len(cfg.Tiers))
	for i, tc := range cfg.Tiers {
		if tc.Collector == nil {
			return nil, &EngineError{Op: "start", Tier: tc.ID, Err: errNilCollector}
		}
		if tc.Interval <= 0 {
			return nil, &EngineError{Op: "start", Tier: tc.ID, Err: fmt.Errorf("interval must be positive, got %v", tc.Interval)}
		}
		if tc.StaggerOffset == 0 {
			tc.StaggerOffset = time.Duration(i) * cfg.StaggerDelta
		}
		tiers = append(tiers, &tierState{cfg: tc})
	}

	return &Engine{
		config:     &cfg,
		gate:       g,
		aggregator: NewAggregator(),
		publisher:  NewPublisher(),
		tiers:      tiers,
	}, nil
}

// Start arms every tier's timer: one firing at now+stagger, then periodic at
// the tier's interval. Calling Start again is a no-op; starting a closed
// engine returns ErrEngineClosed.
func (e *Engine) Start(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	if e.started.Swap(true) {
		return nil
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	for _, t := range e.tiers {
		e.wg.Add(1)
		go e.runTier(t)
	}

	return nil
}

// Stop disarms all timers and waits for in-flight cycles to drain. A cycle
// already past the rate gate completes and its result is still merged; a
// cycle still waiting on the gate abandons without side effects. Stop
// returns ctx.Err() if the drain outlives ctx.
func (e *Engine) Stop(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose tears the engine down deterministically. It is safe to call
// multiple times and after Stop.
func (e *Engine) Dispose() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultDisposeTimeout)
	defer cancel()
	_ = e.Stop(ctx)
}

// IsRunning reports whether the engine has started and not yet been stopped.
func (e *Engine) IsRunning() bool {
	return e.started.Load() && !e.closed.Load()
}

// Subscribe registers a snapshot handler and returns its subscription id.
func (e *Engine) Subscribe(h SnapshotHandler) int64 {
	return e.publisher.Subscribe(h)
}

// Unsubscribe removes a snapshot subscription.
func (e *Engine) Unsubscribe(id int64) {
	e.publisher.Unsubscribe(id)
}

// Current returns a copy of the canonical snapshot.
func (e *Engine) Current() Snapshot {
	return e.aggregator.Current()
}

// Gate exposes the rate gate shared by all tiers.
func (e *Engine) Gate() *gate.Gate {
	return e.gate
}

// TierStats returns the runtime counters for the given tier.
func (e *Engine) TierStats(id TierID) (TierStats, bool) {
	for _, t := range e.tiers {
		if t.cfg.ID == id {
			stats := TierStats{
				ID:      id,
				Cycles:  t.cycles.Load(),
				Skipped: t.skipped.Load(),
			}
			if ns := t.lastRun.Load(); ns > 0 {
				stats.LastRun = time.Unix(0, ns)
			}
			return stats, true
		}
	}
	return TierStats{}, false
}

// runTier is one tier's timer loop: a single staggered firing, then a
// periodic ticker until the engine is cancelled.
func (e *Engine) runTier(t *tierState) {
	defer e.wg.Done()

	timer := time.NewTimer(t.cfg.StaggerOffset)
	defer timer.Stop()

	select {
	case <-e.ctx.Done():
		return
	case <-timer.C:
	}

	e.fire(t)

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.fire(t)
		}
	}
}

// fire launches one cycle for the tier unless the previous cycle is still in
// flight, in which case the firing is suppressed and counted.
func (e *Engine) fire(t *tierState) {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.skipped.Add(1)
		events.GetGlobalEventLogger().LogCycleSkipped(string(t.cfg.ID), t.cycles.Load())
		e.recordCycle(t.cfg.ID, OutcomeSkipped, 0)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer t.inFlight.Store(false)
		e.runCycle(t)
	}()
}

// runCycle performs one collect -> merge -> publish pass for the tier.
// Collector failures and gate timeouts become failed observations; only the
// engine's own cancellation abandons a cycle without a trace in the
// canonical snapshot.
func (e *Engine) runCycle(t *tierState) {
	start := time.Now()
	t.cycles.Add(1)
	t.lastRun.Store(start.UnixNano())

	endSpan := func(bool, string) {}
	spanCtx := e.ctx
	if e.config.Tracer != nil {
		spanCtx, endSpan = e.config.Tracer.StartCycle(e.ctx, t.cfg.ID)
	}

	gateStart := time.Now()
	gateCtx, cancelGate := context.WithTimeout(spanCtx, e.config.GateTimeout)
	err := e.gate.Acquire(gateCtx)
	cancelGate()
	e.recordGateWait(t.cfg.ID, time.Since(gateStart))

	if err != nil {
		if e.ctx.Err() != nil {
			// Stopping: abandon cleanly with no observation.
			endSpan(false, "")
			return
		}
		waitMs := time.Since(gateStart).Milliseconds()
		events.GetGlobalEventLogger().LogGateTimeout(string(t.cfg.ID), waitMs)
		obs := NewFailedObservation(t.cfg.ID, fmt.Sprintf("rate gate timeout after %v", e.config.GateTimeout))
		e.finishCycle(t, obs, OutcomeGateTimeout, start, endSpan)
		return
	}

	// Past the gate: the collector runs against its own deadline, detached
	// from the lifecycle context, so Stop drains it rather than tearing it
	// mid-call.
	collectCtx, cancelCollect := context.WithTimeout(context.Background(), e.config.CollectTimeout)
	obs, collectErr := e.collect(collectCtx, t)
	cancelCollect()

	outcome := OutcomeOK
	switch {
	case collectErr != nil:
		obs = NewFailedObservation(t.cfg.ID, collectErr.Error())
		outcome = OutcomeFailed
	case obs == nil:
		obs = NewFailedObservation(t.cfg.ID, "collector returned no observation")
		outcome = OutcomeFailed
	case obs.Failed:
		outcome = OutcomeFailed
	}

	obs.Tier = t.cfg.ID
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}

	e.finishCycle(t, obs, outcome, start, endSpan)
}

// collect invokes the tier's collector under the gate, releasing the gate on
// all paths including a panicking collector. A panic is converted into a
// cycle failure so the tier's timer keeps running.
func (e *Engine) collect(ctx context.Context, t *tierState) (obs *Observation, err error) {
	defer e.gate.Release()
	defer func() {
		if r := recover(); r != nil {
			obs = nil
			err = fmt.Errorf("collector panic: %v", r)
		}
	}()

	return t.cfg.Collector.Collect(ctx)
}

// finishCycle runs the tier hook, merges the observation and publishes the
// result.
func (e *Engine) finishCycle(t *tierState, obs *Observation, outcome string, start time.Time, endSpan func(bool, string)) {
	if t.cfg.Hook != nil {
		t.cfg.Hook(obs)
	}

	snap, err := e.aggregator.Merge(obs)
	if err != nil {
		events.GetGlobalEventLogger().LogObservationDropped(string(t.cfg.ID), err.Error())
	} else {
		e.publisher.Publish(snap)
		if e.config.Stats != nil {
			e.config.Stats.RecordSnapshot(snap)
		}
	}

	if obs.Failed {
		events.GetGlobalEventLogger().LogCycleFailed(string(t.cfg.ID), obs.FailureMessage, time.Since(start).Milliseconds())
	}

	e.recordCycle(t.cfg.ID, outcome, time.Since(start))
	endSpan(obs.Failed, obs.FailureMessage)
}

func (e *Engine) recordCycle(id TierID, outcome string, elapsed time.Duration) {
	if e.config.Stats != nil {
		e.config.Stats.RecordCycle(id, outcome, elapsed)
	}
}

func (e *Engine) recordGateWait(id TierID, wait time.Duration) {
	if e.config.Stats != nil {
		e.config.Stats.RecordGateWait(id, wait)
	}
}
