package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steamwatch/steamwatch/internal/monitor"
)

const (
	testActivityField = "game_id"
	testLabelField    = "game_name"
)

func newTestTracker(capacity int) (*Tracker, *time.Time) {
	tr := NewTracker(Config{
		ActivityField:   testActivityField,
		LabelField:      testLabelField,
		HistoryCapacity: capacity,
	})

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clock := &now
	tr.now = func() time.Time { return *clock }
	return tr, clock
}

func poll(tr *Tracker, gameID, gameName string) *monitor.Observation {
	obs := monitor.NewObservation(monitor.TierFast)
	if gameID != "" {
		obs.Set(testActivityField, gameID)
		obs.Set(testLabelField, gameName)
	}
	tr.Observe(obs)
	return obs
}

func failedPoll(tr *Tracker) *monitor.Observation {
	obs := monitor.NewFailedObservation(monitor.TierFast, "simulated poll failure")
	tr.Observe(obs)
	return obs
}

func TestTracker_IdleToActive(t *testing.T) {
	tr, _ := newTestTracker(0)

	obs := poll(tr, "570", "Dota 2")

	stats := tr.Stats()
	if !stats.Active || stats.Activity != "570" || stats.Label != "Dota 2" {
		t.Errorf("stats = %+v, want active Dota 2", stats)
	}
	if stats.Elapsed != 0 {
		t.Errorf("elapsed = %v, want 0 at session start", stats.Elapsed)
	}

	if v, _ := obs.Get(FieldSessionActive); v != "true" {
		t.Errorf("session_active = %q, want true", v)
	}
	if v, _ := obs.Get(FieldSessionActivity); v != "570" {
		t.Errorf("session_activity = %q, want 570", v)
	}
	if _, ok := obs.Get(FieldSessionStart); !ok {
		t.Error("session_start should be annotated while active")
	}
}

func TestTracker_ElapsedRecomputedFromOriginalStart(t *testing.T) {
	tr, clock := newTestTracker(0)

	poll(tr, "570", "Dota 2")

	// Even with wildly missed polls in between, elapsed is now-start, not a
	// sum of poll deltas.
	*clock = clock.Add(7 * time.Minute)
	obs := poll(tr, "570", "Dota 2")

	stats := tr.Stats()
	if stats.Elapsed != 7*time.Minute {
		t.Errorf("elapsed = %v, want 7m", stats.Elapsed)
	}
	if v, _ := obs.Get(FieldSessionElapsedMin); v != "7.0" {
		t.Errorf("session_elapsed_min = %q, want 7.0", v)
	}
}

func TestTracker_FailedPollDoesNotEndSession(t *testing.T) {
	tr, clock := newTestTracker(0)

	// Sequence [A, A, <failed>, A]: the session must survive the failure and
	// keep its original start.
	poll(tr, "570", "Dota 2")
	*clock = clock.Add(time.Minute)
	poll(tr, "570", "Dota 2")
	*clock = clock.Add(time.Minute)
	obs := failedPoll(tr)
	*clock = clock.Add(time.Minute)
	poll(tr, "570", "Dota 2")

	stats := tr.Stats()
	if !stats.Active {
		t.Fatal("a failed poll must not close the session")
	}
	if stats.ClosedCount != 0 {
		t.Errorf("closed windows = %d, want 0", stats.ClosedCount)
	}
	if stats.Elapsed != 3*time.Minute {
		t.Errorf("elapsed = %v, want 3m (from original start)", stats.Elapsed)
	}

	// The failed poll still surfaces last-known elapsed.
	if v, _ := obs.Get(FieldSessionElapsedMin); v != "2.0" {
		t.Errorf("failed poll session_elapsed_min = %q, want 2.0", v)
	}
}

func TestTracker_SessionBoundaries(t *testing.T) {
	tr, clock := newTestTracker(0)

	// Sequence [null, A, A, B, null] at one-minute spacing: exactly two
	// windows, A spanning the two A polls and B spanning the one B poll.
	poll(tr, "", "")
	*clock = clock.Add(time.Minute)
	poll(tr, "570", "Dota 2")
	*clock = clock.Add(time.Minute)
	poll(tr, "570", "Dota 2")
	*clock = clock.Add(time.Minute)
	poll(tr, "440", "Team Fortress 2")
	*clock = clock.Add(time.Minute)
	obs := poll(tr, "", "")

	history := tr.History()
	if len(history) != 2 {
		t.Fatalf("history = %d windows, want 2", len(history))
	}

	if history[0].Activity != "570" || history[0].Duration != 2*time.Minute {
		t.Errorf("window 0 = %+v, want 570 for 2m", history[0])
	}
	if history[1].Activity != "440" || history[1].Duration != time.Minute {
		t.Errorf("window 1 = %+v, want 440 for 1m", history[1])
	}

	stats := tr.Stats()
	if stats.Active {
		t.Error("tracker should be idle after the null poll")
	}
	if v, _ := obs.Get(FieldSessionActive); v != "false" {
		t.Errorf("session_active = %q, want false", v)
	}
	if v, _ := obs.Get(FieldSessionCount); v != "2" {
		t.Errorf("session_count = %q, want 2", v)
	}
	if v, _ := obs.Get(FieldSessionAvgMin); v != "1.5" {
		t.Errorf("session_avg_min = %q, want 1.5", v)
	}
}

func TestTracker_DirectGameSwitchClosesAndReopens(t *testing.T) {
	tr, clock := newTestTracker(0)

	poll(tr, "570", "Dota 2")
	*clock = clock.Add(10 * time.Minute)
	poll(tr, "440", "Team Fortress 2")

	stats := tr.Stats()
	if !stats.Active || stats.Activity != "440" {
		t.Errorf("stats = %+v, want active 440", stats)
	}
	if stats.Elapsed != 0 {
		t.Errorf("elapsed = %v, want 0 for the fresh window", stats.Elapsed)
	}

	history := tr.History()
	if len(history) != 1 || history[0].Activity != "570" || history[0].Duration != 10*time.Minute {
		t.Errorf("history = %+v, want one 10m window for 570", history)
	}
}

func TestTracker_HistoryCapAndAverage(t *testing.T) {
	tr, clock := newTestTracker(3)

	for i := 0; i < 5; i++ {
		poll(tr, "570", "Dota 2")
		*clock = clock.Add(time.Duration(i+1) * time.Minute)
		poll(tr, "", "")
		*clock = clock.Add(time.Minute)
	}

	stats := tr.Stats()
	if len(stats.History) != 3 {
		t.Errorf("history length = %d, want cap 3", len(stats.History))
	}
	if stats.ClosedCount != 5 {
		t.Errorf("closed count = %d, want cumulative 5", stats.ClosedCount)
	}

	// Retained windows are the last three: 3m, 4m, 5m.
	if stats.AvgDuration != 4*time.Minute {
		t.Errorf("avg = %v, want 4m over the retained window", stats.AvgDuration)
	}
}

func TestTracker_AnnotationsSurviveMerge(t *testing.T) {
	tr, clock := newTestTracker(0)
	agg := monitor.NewAggregator()

	obs := poll(tr, "570", "Dota 2")
	if _, err := agg.Merge(obs); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	*clock = clock.Add(2 * time.Minute)
	obs = poll(tr, "570", "Dota 2")
	if _, err := agg.Merge(obs); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	snap := agg.Current()
	if snap.Field(FieldSessionActivity) != "570" {
		t.Errorf("merged session_activity = %q", snap.Field(FieldSessionActivity))
	}
	if snap.Field(FieldSessionElapsedMin) != "2.0" {
		t.Errorf("merged session_elapsed_min = %q", snap.Field(FieldSessionElapsedMin))
	}
}

// TestTracker_EndToEndWithEngine drives the real engine with a scripted fast
// tier: three polls reporting Game1, then null. The merged snapshot must end
// with one closed window for Game1 and no current activity.
func TestTracker_EndToEndWithEngine(t *testing.T) {
	tr := NewTracker(Config{
		ActivityField: testActivityField,
		LabelField:    testLabelField,
	})

	var polls atomic.Int64
	scripted := monitor.CollectorFunc(func(ctx context.Context) (*monitor.Observation, error) {
		obs := monitor.NewObservation(monitor.TierFast)
		if polls.Add(1) <= 3 {
			obs.Set(testActivityField, "game1")
			obs.Set(testLabelField, "Game1")
		}
		return obs, nil
	})

	e, err := monitor.NewEngine(&monitor.EngineConfig{
		Tiers: []monitor.TierConfig{
			{
				ID:        monitor.TierFast,
				Interval:  20 * time.Millisecond,
				Collector: scripted,
				Hook:      tr.Observe,
			},
		},
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Dispose()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if polls.Load() >= 5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	history := tr.History()
	if len(history) != 1 {
		t.Fatalf("history = %d windows, want 1", len(history))
	}
	if history[0].Activity != "game1" {
		t.Errorf("closed window activity = %q, want game1", history[0].Activity)
	}
	// Three 20ms polls span roughly 40ms from the first sighting; allow a
	// generous scheduling tolerance.
	if history[0].Duration < 20*time.Millisecond || history[0].Duration > 500*time.Millisecond {
		t.Errorf("closed window duration = %v, want ~40ms", history[0].Duration)
	}

	snap := e.Current()
	if snap.Field(FieldSessionActive) != "false" {
		t.Errorf("session_active = %q, want false after the null poll", snap.Field(FieldSessionActive))
	}
	if snap.Field(FieldSessionCount) != "1" {
		t.Errorf("session_count = %q, want 1", snap.Field(FieldSessionCount))
	}
}
