package monitor

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func obsWithFields(tier TierID, fields map[string]string) *Observation {
	obs := NewObservation(tier)
	for k, v := range fields {
		obs.Set(k, v)
	}
	return obs
}

func TestAggregator_AdoptsNewFields(t *testing.T) {
	a := NewAggregator()

	snap, err := a.Merge(obsWithFields(TierFast, map[string]string{
		"persona_name": "gordon",
		"status":       "",
	}))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if snap.Field("persona_name") != "gordon" {
		t.Errorf("persona_name = %q, want %q", snap.Field("persona_name"), "gordon")
	}
	// Explicitly-empty values are adopted when no prior value exists.
	if v, ok := snap.Fields["status"]; !ok || v != "" {
		t.Errorf("status = %q (present=%v), want explicitly empty", v, ok)
	}
	if snap.Version != 1 {
		t.Errorf("version = %d, want 1", snap.Version)
	}
}

func TestAggregator_NeverRegresses(t *testing.T) {
	a := NewAggregator()

	if _, err := a.Merge(obsWithFields(TierFast, map[string]string{"persona_name": "gordon"})); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	t.Run("absent field keeps prior value", func(t *testing.T) {
		snap, err := a.Merge(obsWithFields(TierMedium, map[string]string{"friend_count": "42"}))
		if err != nil {
			t.Fatalf("merge failed: %v", err)
		}
		if snap.Field("persona_name") != "gordon" {
			t.Errorf("persona_name = %q, want %q", snap.Field("persona_name"), "gordon")
		}
		if snap.Field("friend_count") != "42" {
			t.Errorf("friend_count = %q, want %q", snap.Field("friend_count"), "42")
		}
	})

	t.Run("empty field keeps prior value", func(t *testing.T) {
		snap, err := a.Merge(obsWithFields(TierFast, map[string]string{"persona_name": ""}))
		if err != nil {
			t.Fatalf("merge failed: %v", err)
		}
		if snap.Field("persona_name") != "gordon" {
			t.Errorf("persona_name = %q, want %q", snap.Field("persona_name"), "gordon")
		}
	})

	t.Run("failed observation keeps all prior values", func(t *testing.T) {
		snap, err := a.Merge(NewFailedObservation(TierMedium, "network down"))
		if err != nil {
			t.Fatalf("merge failed: %v", err)
		}
		if snap.Field("persona_name") != "gordon" || snap.Field("friend_count") != "42" {
			t.Error("failed observation must not blank previously-merged fields")
		}
	})
}

func TestAggregator_MeaningfulValueWins(t *testing.T) {
	a := NewAggregator()

	a.Merge(obsWithFields(TierFast, map[string]string{"status": "online"}))
	snap, _ := a.Merge(obsWithFields(TierFast, map[string]string{"status": "away"}))

	if snap.Field("status") != "away" {
		t.Errorf("status = %q, want %q", snap.Field("status"), "away")
	}
}

func TestAggregator_ErrorFlagAndMessage(t *testing.T) {
	a := NewAggregator()

	snap, _ := a.Merge(obsWithFields(TierFast, map[string]string{"status": "online"}))
	if snap.HasError {
		t.Error("clean merge should not set error flag")
	}

	snap, _ = a.Merge(NewFailedObservation(TierMedium, "friend list: status 500"))
	if !snap.HasError {
		t.Error("failed observation should set error flag")
	}
	if snap.ErrorMessage != "friend list: status 500" {
		t.Errorf("error message = %q", snap.ErrorMessage)
	}

	// A failure without a message keeps the previous message.
	failed := NewFailedObservation(TierSlow, "")
	snap, _ = a.Merge(failed)
	if snap.ErrorMessage != "friend list: status 500" {
		t.Errorf("empty message should not replace prior, got %q", snap.ErrorMessage)
	}
}

func TestAggregator_TimestampAlwaysAdvances(t *testing.T) {
	a := NewAggregator()

	first := obsWithFields(TierFast, map[string]string{"status": "online"})
	a.Merge(first)

	second := NewFailedObservation(TierMedium, "boom")
	second.Timestamp = first.Timestamp.Add(5 * time.Second)
	snap, _ := a.Merge(second)

	if !snap.UpdatedAt.Equal(second.Timestamp) {
		t.Errorf("UpdatedAt = %v, want %v", snap.UpdatedAt, second.Timestamp)
	}
}

func TestAggregator_DropsMalformedObservations(t *testing.T) {
	a := NewAggregator()
	a.Merge(obsWithFields(TierFast, map[string]string{"status": "online"}))

	t.Run("nil observation", func(t *testing.T) {
		if _, err := a.Merge(nil); err != ErrMalformedObservation {
			t.Errorf("err = %v, want ErrMalformedObservation", err)
		}
	})

	t.Run("zero timestamp", func(t *testing.T) {
		obs := &Observation{Tier: TierFast, Fields: map[string]string{"status": "away"}}
		if _, err := a.Merge(obs); err != ErrMalformedObservation {
			t.Errorf("err = %v, want ErrMalformedObservation", err)
		}
	})

	snap := a.Current()
	if snap.Field("status") != "online" {
		t.Error("malformed observation must be dropped whole, not partially merged")
	}
	if snap.Version != 1 {
		t.Errorf("version = %d, want 1 (malformed merges must not bump)", snap.Version)
	}
}

func TestAggregator_SnapshotIsACopy(t *testing.T) {
	a := NewAggregator()
	snap, _ := a.Merge(obsWithFields(TierFast, map[string]string{"status": "online"}))

	snap.Fields["status"] = "mutated"

	if a.Current().Field("status") != "online" {
		t.Error("mutating a returned snapshot must not affect canonical state")
	}
}

func TestAggregator_Reset(t *testing.T) {
	a := NewAggregator()
	a.Merge(obsWithFields(TierFast, map[string]string{"status": "online"}))

	a.Reset()

	snap := a.Current()
	if len(snap.Fields) != 0 || snap.Version != 0 {
		t.Errorf("reset snapshot = %+v, want empty", snap)
	}
}

func TestAggregator_ConcurrentMerges(t *testing.T) {
	a := NewAggregator()

	var wg sync.WaitGroup
	tiers := []TierID{TierFast, TierMedium, TierSlow}

	for i, tier := range tiers {
		wg.Add(1)
		go func(tier TierID, key string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Merge(obsWithFields(tier, map[string]string{key: strconv.Itoa(j)}))
			}
		}(tier, "field_"+string(tier)+"_"+strconv.Itoa(i))
	}

	wg.Wait()

	snap := a.Current()
	if snap.Version != 300 {
		t.Errorf("version = %d, want 300", snap.Version)
	}
	if len(snap.Fields) != 3 {
		t.Errorf("fields = %d, want 3", len(snap.Fields))
	}
}
