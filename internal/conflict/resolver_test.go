// Package conflict provides unit tests for conflict detection and resolution.
package conflict

import (
	"testing"

	"github.com/verdantchain/fieldsync/internal/models"
)

func makePair(localVersion, remoteVersion int64) (*models.WorkDraft, *models.RemoteRecord) {
	local := &models.WorkDraft{
		LocalID:       "draft-1",
		Fingerprint:   "fp-1",
		RemoteVersion: localVersion,
	}
	remote := &models.RemoteRecord{
		ID:          "remote-1",
		Fingerprint: "fp-other",
		Version:     remoteVersion,
	}
	return local, remote
}

// TestDetectNoConflictWhenVersionsMatch tests the happy path.
func TestDetectNoConflictWhenVersionsMatch(t *testing.T) {
	r := NewResolver(models.StrategyManual)

	local, remote := makePair(3, 3)
	out := r.Detect(local, remote)

	if out.InConflict {
		t.Error("Expected no conflict when versions match")
	}
}

// TestDetectConflictOnAdvancedRemote tests detection when the parent record
// moved under the draft.
func TestDetectConflictOnAdvancedRemote(t *testing.T) {
	r := NewResolver(models.StrategyManual)

	local, remote := makePair(3, 5)
	out := r.Detect(local, remote)

	if !out.InConflict {
		t.Fatal("Expected conflict when remote version advanced")
	}
	if out.LocalVersion != 3 || out.RemoteVersion != 5 {
		t.Errorf("Expected versions (3, 5), got (%d, %d)", out.LocalVersion, out.RemoteVersion)
	}
}

// TestDetectNilInputs tests that missing sides never conflict.
func TestDetectNilInputs(t *testing.T) {
	r := NewResolver(models.StrategyManual)

	local, remote := makePair(1, 2)

	if out := r.Detect(nil, remote); out.InConflict {
		t.Error("Expected no conflict with nil local")
	}
	if out := r.Detect(local, nil); out.InConflict {
		t.Error("Expected no conflict with nil remote")
	}
}

// TestResolveStrategies tests each strategy maps to its action.
func TestResolveStrategies(t *testing.T) {
	r := NewResolver(models.StrategyManual)
	local, remote := makePair(1, 2)
	out := r.Detect(local, remote)

	cases := []struct {
		strategy models.ResolutionStrategy
		action   models.ResolvedAction
	}{
		{models.StrategyServerWins, models.ActionDiscardLocal},
		{models.StrategyClientWins, models.ActionKeepLocal},
		{models.StrategyManual, models.ActionAwaitingUser},
	}

	for _, c := range cases {
		record, err := r.Resolve(out, c.strategy)
		if err != nil {
			t.Fatalf("Resolve(%s) failed: %v", c.strategy, err)
		}
		if record.Action != c.action {
			t.Errorf("Strategy %s: expected action %s, got %s", c.strategy, c.action, record.Action)
		}
		if record.LocalID != local.LocalID {
			t.Errorf("Strategy %s: expected record for %s, got %s", c.strategy, local.LocalID, record.LocalID)
		}
	}
}

// TestResolveDeterministic tests the same inputs always produce the same action.
func TestResolveDeterministic(t *testing.T) {
	r := NewResolver(models.StrategyManual)
	local, remote := makePair(1, 4)
	out := r.Detect(local, remote)

	first, err := r.Resolve(out, models.StrategyServerWins)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		again, err := r.Resolve(out, models.StrategyServerWins)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if again.Action != first.Action {
			t.Fatalf("Expected deterministic action %s, got %s", first.Action, again.Action)
		}
	}
}

// TestResolveWithoutConflict tests resolve rejects a non-conflict outcome.
func TestResolveWithoutConflict(t *testing.T) {
	r := NewResolver(models.StrategyManual)

	local, remote := makePair(2, 2)
	out := r.Detect(local, remote)

	if _, err := r.Resolve(out, models.StrategyServerWins); err == nil {
		t.Error("Expected error resolving a non-conflict")
	}
}

// TestResolveUnknownStrategy tests the closed-set dispatch rejects strangers.
func TestResolveUnknownStrategy(t *testing.T) {
	r := NewResolver(models.StrategyManual)
	local, remote := makePair(1, 2)
	out := r.Detect(local, remote)

	if _, err := r.Resolve(out, models.ResolutionStrategy("three_way_merge")); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}
