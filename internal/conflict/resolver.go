// Package conflict provides conflict detection and policy-based resolution
// between a local draft and the remote state it was based on.
package conflict

import (
	"time"

	"github.com/verdantchain/fieldsync/internal/errors"
	"github.com/verdantchain/fieldsync/internal/logging"
	"github.com/verdantchain/fieldsync/internal/models"
)

// Outcome is the result of conflict detection.
type Outcome struct {
	InConflict    bool
	LocalDraft    *models.WorkDraft
	Remote        *models.RemoteRecord
	LocalVersion  int64
	RemoteVersion int64
	DetectedAt    int64
}

// Resolver applies resolution strategies to detected conflicts.
// Resolution is deterministic: the same (local, remote, strategy) triple
// always yields the same action. Field-by-field merging is never attempted;
// work content is not structured for safe automatic merge.
type Resolver struct {
	defaultStrategy models.ResolutionStrategy
}

// NewResolver creates a Resolver with the given default strategy.
func NewResolver(defaultStrategy models.ResolutionStrategy) *Resolver {
	return &Resolver{defaultStrategy: defaultStrategy}
}

// DefaultStrategy returns the strategy applied when none is named.
func (r *Resolver) DefaultStrategy() models.ResolutionStrategy {
	return r.defaultStrategy
}

// Detect reports whether the draft conflicts with the remote snapshot.
// A conflict exists when the draft's last-known remote version no longer
// matches the version the server currently holds for the same logical
// target. A draft with remote version 0 is new and targets nothing; it can
// only conflict if the server already holds a divergent record for it.
func (r *Resolver) Detect(local *models.WorkDraft, remote *models.RemoteRecord) Outcome {
	out := Outcome{
		LocalDraft: local,
		Remote:     remote,
		DetectedAt: time.Now().Unix(),
	}
	if local == nil || remote == nil {
		return out
	}

	out.LocalVersion = local.RemoteVersion
	out.RemoteVersion = remote.Version

	if local.RemoteVersion == remote.Version {
		return out
	}

	out.InConflict = true
	logging.Warn("Version clash detected",
		map[string]interface{}{
			"local_id":       local.LocalID,
			"local_version":  local.RemoteVersion,
			"remote_version": remote.Version,
		})
	return out
}

// Resolve applies a strategy to a detected conflict and returns the record
// of the decision. The strategy is applied by policy, never inferred:
//
//   - ServerWins discards the local draft; used where the server is
//     authoritative (e.g. approval status).
//   - ClientWins keeps the local draft and rebases it onto the observed
//     remote version so the next publish targets current state; used where
//     local capture is authoritative (the work content itself).
//   - Manual records both versions and takes no further action until the
//     user picks an outcome.
func (r *Resolver) Resolve(outcome Outcome, strategy models.ResolutionStrategy) (*models.ConflictRecord, error) {
	if !outcome.InConflict || outcome.LocalDraft == nil || outcome.Remote == nil {
		return nil, errors.New(errors.ErrInternal, "resolve called without a detected conflict")
	}

	record := &models.ConflictRecord{
		LocalID:        outcome.LocalDraft.LocalID,
		LocalVersion:   outcome.LocalVersion,
		RemoteVersion:  outcome.RemoteVersion,
		RemoteSnapshot: *outcome.Remote,
		Strategy:       strategy,
		DetectedAt:     outcome.DetectedAt,
	}

	// Closed set: adding a strategy is a compile-visible change here.
	switch strategy {
	case models.StrategyServerWins:
		record.Action = models.ActionDiscardLocal
	case models.StrategyClientWins:
		record.Action = models.ActionKeepLocal
	case models.StrategyManual:
		record.Action = models.ActionAwaitingUser
	default:
		return nil, errors.Newf(errors.ErrInternal, "unknown resolution strategy %q", strategy)
	}

	logging.Info("Conflict resolution decided",
		map[string]interface{}{
			"local_id": record.LocalID,
			"strategy": record.Strategy,
			"action":   record.Action,
		})

	return record, nil
}
