// Package engine drives the offline work queue through its sync lifecycle.
//
// The orchestrator is a state machine over the whole queue, not a single
// entry: idle until a trigger arrives, draining while due entries are
// processed one at a time, then idle again. Exactly one network operation is
// in flight at any moment so the server observes this device's submissions
// in creation order.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verdantchain/fieldsync/internal/conflict"
	"github.com/verdantchain/fieldsync/internal/errors"
	"github.com/verdantchain/fieldsync/internal/logging"
	"github.com/verdantchain/fieldsync/internal/models"
	"github.com/verdantchain/fieldsync/internal/retry"
	"github.com/verdantchain/fieldsync/internal/store"
)

// Engine is the sync orchestrator.
type Engine struct {
	store     *store.Manager
	policy    retry.Policy
	resolver  *conflict.Resolver
	media     MediaStore
	publisher AttestationPublisher
	listener  Listener

	mu       sync.Mutex
	draining bool
	online   bool

	cancelled atomic.Bool
	trigger   chan struct{}
}

// New creates an Engine over its collaborators.
func New(st *store.Manager, policy retry.Policy, resolver *conflict.Resolver,
	media MediaStore, publisher AttestationPublisher) *Engine {
	return &Engine{
		store:     st,
		policy:    policy,
		resolver:  resolver,
		media:     media,
		publisher: publisher,
		listener:  nopListener{},
		trigger:   make(chan struct{}, 1),
	}
}

// SetListener attaches a status listener. Must be called before Run.
func (e *Engine) SetListener(l Listener) {
	if l == nil {
		l = nopListener{}
	}
	e.listener = l
}

// OnConnectivityChange records the connectivity signal. A transition to
// online triggers a cycle; a transition to offline stops new entries from
// starting but does not cancel an in-flight one.
func (e *Engine) OnConnectivityChange(isOnline bool) {
	e.mu.Lock()
	was := e.online
	e.online = isOnline
	e.mu.Unlock()

	if was != isOnline {
		logging.Info("Connectivity changed", map[string]interface{}{"online": isOnline})
	}
	if isOnline {
		e.TriggerSync()
	}
}

// Online reports the last observed connectivity state.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// TriggerSync requests a cycle. Requests coalesce: if a cycle is already
// draining, the request is a no-op and the running cycle picks up any newly
// eligible entries on its next iteration.
func (e *Engine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Cancel stops the current cycle cooperatively: the in-flight entry is
// allowed to finish (a successful remote write must never go unrecorded
// locally) but no further entries are started.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// Run services triggers until the context ends. The periodic interval is a
// safety net for entries whose backoff expires while no other trigger fires.
// A non-positive interval falls back to one minute.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.trigger:
		case <-ticker.C:
		}

		if err := e.RunCycle(ctx); err != nil {
			logging.Error("Sync cycle failed", err)
		}
	}
}

// RunCycle drains due entries, oldest first, one at a time. Concurrent
// requests while draining are no-ops.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.mu.Lock()
	if e.draining || !e.online {
		e.mu.Unlock()
		return nil
	}
	e.draining = true
	e.mu.Unlock()

	e.cancelled.Store(false)
	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	var stats CycleStats
	for {
		if ctx.Err() != nil || e.cancelled.Load() || !e.Online() {
			break
		}

		due, err := e.store.Due(time.Now())
		if err != nil {
			return err
		}
		if len(due) == 0 {
			break
		}

		for _, entry := range due {
			if ctx.Err() != nil || e.cancelled.Load() || !e.Online() {
				break
			}
			e.processEntry(ctx, entry, &stats)
		}
	}

	if stats.Picked > 0 {
		logging.Info("Sync cycle finished",
			map[string]interface{}{
				"picked":       stats.Picked,
				"synced":       stats.Synced,
				"deduplicated": stats.Deduplicated,
				"retried":      stats.Retried,
				"abandoned":    stats.Abandoned,
				"conflicted":   stats.Conflicted,
			})
	}
	e.listener.CycleFinished(stats)
	return nil
}

// processEntry pushes one entry through a single sync attempt.
func (e *Engine) processEntry(ctx context.Context, entry *models.QueueEntry, stats *CycleStats) {
	id := entry.Draft.LocalID

	current, err := e.store.Transition(id, store.Event{Type: store.EventStart})
	if err != nil {
		// Lost a race with another transition; this is not our entry to run.
		if !errors.Is(err, errors.ErrInvalidTransition) {
			logging.Error("Failed to start entry", err, map[string]interface{}{"local_id": id})
		}
		return
	}
	stats.Picked++
	e.listener.EntryUpdated(current)

	// Remote dedup: if an attestation already exists for this fingerprint
	// (e.g. a crash landed between server accept and local record), the
	// entry is synced without a network write.
	existing, err := e.publisher.ExistsByFingerprint(ctx, current.Draft.Fingerprint)
	if err != nil {
		e.handleFailure(current, err, stats)
		return
	}
	if existing != nil {
		updated, err := e.store.Transition(id, store.Event{Type: store.EventSucceed})
		if err != nil {
			logging.ErrorWithCode("Failed to record remote dedup",
				string(errors.ErrInvalidTransition), err,
				map[string]interface{}{"local_id": id, "remote_id": existing.ID})
			return
		}
		stats.Synced++
		stats.Deduplicated++
		e.listener.EntryUpdated(updated)
		logging.Info("Entry already attested remotely",
			map[string]interface{}{"local_id": id, "fingerprint": current.Draft.Fingerprint})
		return
	}

	mediaIDs := make([]string, 0, len(current.Draft.Payload.Media))
	for _, ref := range current.Draft.Payload.Media {
		contentID, err := e.media.Upload(ctx, ref)
		if err != nil {
			e.handleFailure(current, err, stats)
			return
		}
		mediaIDs = append(mediaIDs, contentID)
	}

	remote, err := e.publisher.Publish(ctx, &current.Draft, mediaIDs)
	if err != nil {
		if errors.Is(err, errors.ErrConflictDetected) {
			e.handleConflict(current, remote, stats)
			return
		}
		e.handleFailure(current, err, stats)
		return
	}

	updated, err := e.store.Transition(id, store.Event{Type: store.EventSucceed})
	if err != nil {
		logging.ErrorWithCode("Failed to record publish success",
			string(errors.ErrInvalidTransition), err,
			map[string]interface{}{"local_id": id, "remote_id": remote.ID})
		return
	}
	stats.Synced++
	e.listener.EntryUpdated(updated)
	logging.Info("Entry attested",
		map[string]interface{}{"local_id": id, "remote_id": remote.ID, "tx_ref": remote.TxRef})
}

// handleFailure classifies a failed attempt, records it, and either
// schedules a retry or abandons the entry.
func (e *Engine) handleFailure(entry *models.QueueEntry, cause error, stats *CycleStats) {
	id := entry.Draft.LocalID
	transient := errors.IsTransient(cause)

	failed, err := e.store.Transition(id, store.Event{
		Type:      store.EventFail,
		Error:     cause.Error(),
		Transient: transient,
	})
	if err != nil {
		logging.Error("Failed to record attempt failure", err, map[string]interface{}{"local_id": id})
		return
	}

	if transient && !e.policy.ShouldAbandon(failed.AttemptCount) {
		delay := e.policy.NextDelay(failed.AttemptCount)
		scheduled, err := e.store.Transition(id, store.Event{
			Type:           store.EventScheduleRetry,
			NextEligibleAt: time.Now().Add(delay),
		})
		if err != nil {
			logging.Error("Failed to schedule retry", err, map[string]interface{}{"local_id": id})
			return
		}
		stats.Retried++
		e.listener.EntryUpdated(scheduled)
		logging.Warn("Attempt failed, retry scheduled",
			map[string]interface{}{
				"local_id": id,
				"attempt":  failed.AttemptCount,
				"delay_s":  int(delay.Seconds()),
				"error":    cause.Error(),
			})
		return
	}

	abandoned, err := e.store.Transition(id, store.Event{Type: store.EventAbandon})
	if err != nil {
		logging.Error("Failed to abandon entry", err, map[string]interface{}{"local_id": id})
		return
	}
	stats.Abandoned++
	e.listener.EntryUpdated(abandoned)
	logging.ErrorWithCode("Entry abandoned, manual action required",
		string(errors.CodeOf(cause)), cause,
		map[string]interface{}{"local_id": id, "attempts": abandoned.AttemptCount})
}

// handleConflict marks the entry conflicted, records both versions, and
// applies the resolver's default strategy.
func (e *Engine) handleConflict(entry *models.QueueEntry, remote *models.RemoteRecord, stats *CycleStats) {
	id := entry.Draft.LocalID

	conflicted, err := e.store.Transition(id, store.Event{
		Type:  store.EventConflict,
		Error: "remote state diverged from this draft's base version",
	})
	if err != nil {
		logging.Error("Failed to mark entry conflicted", err, map[string]interface{}{"local_id": id})
		return
	}
	stats.Conflicted++
	e.listener.EntryUpdated(conflicted)

	outcome := e.resolver.Detect(&conflicted.Draft, remote)
	if !outcome.InConflict {
		// The publisher signalled a clash the version fields no longer show;
		// trust the signal and keep the remote's version for the record.
		outcome.InConflict = true
	}

	if err := e.ApplyResolution(id, outcome, e.resolver.DefaultStrategy()); err != nil {
		logging.Error("Failed to apply conflict resolution", err, map[string]interface{}{"local_id": id})
	}
}

// ApplyResolution resolves a conflicted entry with a strategy and applies the
// resulting action. The UI calls this with the user's choice for manual
// conflicts; the engine calls it with the default strategy on detection.
func (e *Engine) ApplyResolution(id models.UUID, outcome conflict.Outcome, strategy models.ResolutionStrategy) error {
	record, err := e.resolver.Resolve(outcome, strategy)
	if err != nil {
		return err
	}
	if err := e.store.RecordConflict(record); err != nil {
		return err
	}

	switch record.Action {
	case models.ActionDiscardLocal:
		updated, err := e.store.Transition(id, store.Event{Type: store.EventAbandon})
		if err != nil {
			return err
		}
		e.listener.EntryUpdated(updated)
	case models.ActionKeepLocal:
		updated, err := e.store.Transition(id, store.Event{
			Type:          store.EventResolve,
			RemoteVersion: record.RemoteVersion,
		})
		if err != nil {
			return err
		}
		e.listener.EntryUpdated(updated)
		e.TriggerSync()
	case models.ActionAwaitingUser:
		// Blocked until the user picks an outcome.
	}
	return nil
}

// ResolveManually applies a user's decision to a conflicted entry. The entry
// keeps its local id; the attempt budget resets with the resolution.
func (e *Engine) ResolveManually(id models.UUID, strategy models.ResolutionStrategy) error {
	if strategy == models.StrategyManual {
		return errors.New(errors.ErrInternal, "manual resolution requires a concrete strategy")
	}

	entry, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if entry.State != models.StateConflicted {
		return errors.Newf(errors.ErrInvalidTransition,
			"entry %s is %s, not conflicted", id, entry.State)
	}

	records, err := e.store.ConflictsFor(id)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.Newf(errors.ErrNotFound, "no conflict record for %s", id)
	}

	outcome := conflict.Outcome{
		InConflict:    true,
		LocalDraft:    &entry.Draft,
		Remote:        &records[0].RemoteSnapshot,
		LocalVersion:  entry.Draft.RemoteVersion,
		RemoteVersion: records[0].RemoteSnapshot.Version,
		DetectedAt:    records[0].DetectedAt,
	}
	return e.ApplyResolution(id, outcome, strategy)
}
