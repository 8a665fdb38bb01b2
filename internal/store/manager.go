// Package store owns the persistent sync queue.
package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdantchain/fieldsync/internal/errors"
	"github.com/verdantchain/fieldsync/internal/fingerprint"
	"github.com/verdantchain/fieldsync/internal/logging"
	"github.com/verdantchain/fieldsync/internal/models"
)

// EventType names a state-machine edge request.
type EventType string

const (
	// EventStart moves pending -> syncing when a cycle picks the entry up.
	EventStart EventType = "start"
	// EventSucceed moves syncing -> synced. Synced is terminal and immutable.
	EventSucceed EventType = "succeed"
	// EventFail moves syncing -> failed and records the attempt.
	EventFail EventType = "fail"
	// EventScheduleRetry moves failed -> pending with a next-eligible time.
	EventScheduleRetry EventType = "schedule_retry"
	// EventConflict moves syncing -> conflicted.
	EventConflict EventType = "conflict"
	// EventResolve moves conflicted -> pending with a fresh attempt budget.
	EventResolve EventType = "resolve"
	// EventAbandon moves failed or conflicted -> abandoned.
	EventAbandon EventType = "abandon"
)

// Event is a transition request handed to the Storage Manager. All state
// changes flow through here; no other component mutates entries directly.
type Event struct {
	Type EventType

	// Error is the human-readable failure for EventFail / EventConflict.
	Error string
	// Transient marks an EventFail as counting toward the backoff schedule.
	// Permanent failures do not consume retry budget; they bypass it.
	Transient bool
	// NextEligibleAt is when a rescheduled entry becomes due (EventScheduleRetry).
	NextEligibleAt time.Time
	// RemoteVersion rebases the draft during EventResolve (0 = keep as is).
	RemoteVersion int64
}

// transitions is the state graph: which source states each event accepts.
var transitions = map[EventType]struct {
	from []models.EntryState
	to   models.EntryState
}{
	EventStart:         {from: []models.EntryState{models.StatePending}, to: models.StateSyncing},
	EventSucceed:       {from: []models.EntryState{models.StateSyncing}, to: models.StateSynced},
	EventFail:          {from: []models.EntryState{models.StateSyncing}, to: models.StateFailed},
	EventScheduleRetry: {from: []models.EntryState{models.StateFailed}, to: models.StatePending},
	EventConflict:      {from: []models.EntryState{models.StateSyncing}, to: models.StateConflicted},
	EventResolve:       {from: []models.EntryState{models.StateConflicted}, to: models.StatePending},
	EventAbandon:       {from: []models.EntryState{models.StateFailed, models.StateConflicted}, to: models.StateAbandoned},
}

// QuotaConfig bounds local queue storage.
type QuotaConfig struct {
	// CeilingBytes is the storage ceiling; 0 means unbounded.
	CeilingBytes int64
	// Retention is how long synced entries are kept before becoming reclaimable.
	Retention time.Duration
}

// ReclaimPolicy directs a reclaim pass.
type ReclaimPolicy struct {
	// Retention overrides the manager's retention window when non-zero.
	Retention time.Duration
	// DropAbandoned permits deleting abandoned entries under quota pressure.
	DropAbandoned bool
}

// Filter selects queue entries for List.
type Filter struct {
	States      []models.EntryState
	DueBefore   time.Time // non-zero: only entries with next_eligible_at <= DueBefore
	Fingerprint models.Fingerprint
	Limit       int
}

// Manager is the Storage Manager: it exclusively owns entry persistence and
// state transitions. Racing transitions on one entry are resolved by
// compare-and-set on the state column; the loser gets INVALID_TRANSITION.
type Manager struct {
	db    *DB
	quota QuotaConfig

	// serializes the dedup-check-then-insert in Enqueue
	enqueueMu sync.Mutex
}

// NewManager creates a Storage Manager over an open database.
func NewManager(db *DB, quota QuotaConfig) *Manager {
	return &Manager{db: db, quota: quota}
}

// Enqueue persists a draft as a pending queue entry. Enqueue is idempotent
// on content: if a non-abandoned entry with the same fingerprint exists, it
// is returned unchanged and no duplicate is created. Under quota pressure a
// single reclaim pass runs before the enqueue fails with QUOTA_EXCEEDED.
func (m *Manager) Enqueue(draft *models.WorkDraft) (*models.QueueEntry, error) {
	fp, err := fingerprint.Compute(draft.Payload)
	if err != nil {
		return nil, err
	}
	draft.Fingerprint = fp

	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	existing, err := m.findByFingerprint(fp)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logging.Debug("Enqueue deduplicated against existing entry",
			map[string]interface{}{
				"local_id":    existing.Draft.LocalID,
				"fingerprint": fp,
			})
		return existing, nil
	}

	if err := m.ensureQuotaHeadroom(); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	if draft.LocalID == "" {
		draft.LocalID = models.UUID(uuid.New().String())
	}
	if draft.CreatedAt == 0 {
		draft.CreatedAt = now
	}
	if draft.MutatedAt == 0 {
		draft.MutatedAt = now
	}

	payloadJSON, err := draft.MarshalPayload()
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to serialize payload", err)
	}

	_, err = m.db.Exec(`
		INSERT INTO queue_entries
			(local_id, fingerprint, payload, state, remote_version,
			 attempt_count, last_attempt_at, next_eligible_at, last_error,
			 created_at, mutated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0, '', ?, ?, ?)`,
		draft.LocalID, string(fp), string(payloadJSON), models.StatePending,
		draft.RemoteVersion, draft.CreatedAt, draft.MutatedAt, now)
	if err != nil {
		return nil, classifyWriteError(err)
	}

	logging.Info("Draft enqueued",
		map[string]interface{}{
			"local_id":    draft.LocalID,
			"fingerprint": fp,
		})

	return m.Get(draft.LocalID)
}

// ensureQuotaHeadroom attempts one reclaim pass when usage is at the ceiling.
func (m *Manager) ensureQuotaHeadroom() error {
	report, err := m.QuotaReport()
	if err != nil {
		return err
	}
	if !report.OverCeiling() {
		return nil
	}

	if _, err := m.Reclaim(ReclaimPolicy{DropAbandoned: true}); err != nil {
		return err
	}

	report, err = m.QuotaReport()
	if err != nil {
		return err
	}
	if report.OverCeiling() {
		return errors.Newf(errors.ErrQuotaExceeded,
			"storage at %d of %d bytes after reclaim", report.UsedBytes, report.CeilingBytes)
	}
	return nil
}

// RecoverInFlight returns entries stranded in syncing by a process crash to
// the queue, immediately eligible. The interrupted publish's outcome is
// unknown; the next cycle's remote dedup check settles whether the server
// accepted it. An interruption is not a failed attempt, so it does not
// consume retry budget. Called once on startup, before any cycle runs.
func (m *Manager) RecoverInFlight() (int, error) {
	stranded, err := m.List(Filter{States: []models.EntryState{models.StateSyncing}})
	if err != nil {
		return 0, err
	}

	for _, entry := range stranded {
		id := entry.Draft.LocalID
		if _, err := m.Transition(id, Event{
			Type:  EventFail,
			Error: "interrupted by process restart",
		}); err != nil {
			return 0, err
		}
		if _, err := m.Transition(id, Event{
			Type:           EventScheduleRetry,
			NextEligibleAt: time.Now(),
		}); err != nil {
			return 0, err
		}
	}

	if len(stranded) > 0 {
		logging.Info("Recovered interrupted entries",
			map[string]interface{}{"count": len(stranded)})
	}
	return len(stranded), nil
}

// Transition applies a state-machine event to an entry. An edge not present
// in the graph, or lost to a racing transition, fails with INVALID_TRANSITION.
func (m *Manager) Transition(localID models.UUID, event Event) (*models.QueueEntry, error) {
	edge, ok := transitions[event.Type]
	if !ok {
		return nil, errors.Newf(errors.ErrInvalidTransition, "unknown event %q", event.Type)
	}

	now := time.Now().Unix()

	set := []string{"state = ?", "updated_at = ?"}
	args := []interface{}{edge.to, now}

	switch event.Type {
	case EventFail:
		set = append(set, "last_error = ?", "last_attempt_at = ?")
		args = append(args, event.Error, now)
		if event.Transient {
			set = append(set, "attempt_count = attempt_count + 1")
		}
	case EventConflict:
		set = append(set, "last_error = ?")
		args = append(args, event.Error)
	case EventScheduleRetry:
		set = append(set, "next_eligible_at = ?")
		args = append(args, event.NextEligibleAt.Unix())
	case EventResolve:
		// A user resolution is fresh intent: reset the retry budget.
		set = append(set, "attempt_count = 0", "next_eligible_at = 0", "last_error = ''")
		if event.RemoteVersion > 0 {
			set = append(set, "remote_version = ?", "mutated_at = ?")
			args = append(args, event.RemoteVersion, now)
		}
	}

	placeholders := make([]string, len(edge.from))
	for i, s := range edge.from {
		placeholders[i] = "?"
		args = append(args, s)
	}
	args = append(args, localID)

	query := "UPDATE queue_entries SET " + strings.Join(set, ", ") +
		" WHERE state IN (" + strings.Join(placeholders, ", ") + ") AND local_id = ?"

	res, err := m.db.Exec(query, args...)
	if err != nil {
		return nil, classifyWriteError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to read affected rows", err)
	}
	if affected == 0 {
		entry, getErr := m.Get(localID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, errors.Newf(errors.ErrInvalidTransition,
			"event %q not valid from state %q", event.Type, entry.State)
	}

	return m.Get(localID)
}

// Get returns the entry for a local id.
func (m *Manager) Get(localID models.UUID) (*models.QueueEntry, error) {
	row := m.db.QueryRow(selectColumns+" FROM queue_entries WHERE local_id = ?", localID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.ErrNotFound, "no queue entry for %s", localID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to load entry", err)
	}
	return entry, nil
}

// List returns entries matching the filter, oldest created first so a cycle
// preserves the causal order of the user's own submissions.
func (m *Manager) List(filter Filter) ([]*models.QueueEntry, error) {
	query := selectColumns + " FROM queue_entries"
	var conds []string
	var args []interface{}

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, s := range filter.States {
			placeholders[i] = "?"
			args = append(args, s)
		}
		conds = append(conds, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.DueBefore.IsZero() {
		conds = append(conds, "next_eligible_at <= ?")
		args = append(args, filter.DueBefore.Unix())
	}
	if filter.Fingerprint != "" {
		conds = append(conds, "fingerprint = ?")
		args = append(args, string(filter.Fingerprint))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, local_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list entries", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to iterate entries", err)
	}
	return entries, nil
}

// Due returns pending entries eligible for a sync attempt at now.
func (m *Manager) Due(now time.Time) ([]*models.QueueEntry, error) {
	return m.List(Filter{
		States:    []models.EntryState{models.StatePending},
		DueBefore: now,
	})
}

// QuotaReport aggregates device-reported usage, reclaimable bytes, and
// per-state counts.
func (m *Manager) QuotaReport() (*models.StorageQuotaReport, error) {
	used, err := m.db.UsedBytes()
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to read storage usage", err)
	}

	report := &models.StorageQuotaReport{
		UsedBytes:     used,
		CeilingBytes:  m.quota.CeilingBytes,
		CountsByState: make(map[models.EntryState]int),
	}

	rows, err := m.db.Query("SELECT state, COUNT(*) FROM queue_entries GROUP BY state")
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to count entries", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state models.EntryState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan counts", err)
		}
		report.CountsByState[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to iterate counts", err)
	}

	cutoff := time.Now().Add(-m.quota.Retention).Unix()
	err = m.db.QueryRow(`
		SELECT COALESCE(SUM(LENGTH(payload) + LENGTH(last_error)), 0)
		FROM queue_entries WHERE state = ? AND updated_at <= ?`,
		models.StateSynced, cutoff).Scan(&report.ReclaimableBytes)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to compute reclaimable bytes", err)
	}

	return report, nil
}

// Reclaim evicts entries that are safe to lose: synced entries past the
// retention window first, then abandoned entries if quota pressure remains
// and the policy permits. Entries in pending, syncing, failed, or conflicted
// state are never evicted; losing unsynced work is a correctness violation,
// not a cache miss. Returns the number of entries deleted.
func (m *Manager) Reclaim(policy ReclaimPolicy) (int, error) {
	retention := policy.Retention
	if retention == 0 {
		retention = m.quota.Retention
	}
	cutoff := time.Now().Add(-retention).Unix()

	res, err := m.db.Exec(
		"DELETE FROM queue_entries WHERE state = ? AND updated_at <= ?",
		models.StateSynced, cutoff)
	if err != nil {
		return 0, classifyWriteError(err)
	}
	synced, _ := res.RowsAffected()
	deleted := int(synced)

	if policy.DropAbandoned {
		report, err := m.QuotaReport()
		if err != nil {
			return deleted, err
		}
		if report.OverCeiling() {
			res, err := m.db.Exec(
				"DELETE FROM queue_entries WHERE state = ?", models.StateAbandoned)
			if err != nil {
				return deleted, classifyWriteError(err)
			}
			abandoned, _ := res.RowsAffected()
			deleted += int(abandoned)
		}
	}

	if deleted > 0 {
		// Return freed pages to the filesystem so usage reporting moves.
		if _, err := m.db.Exec("PRAGMA incremental_vacuum;"); err != nil {
			logging.Warn("Vacuum after reclaim failed", map[string]interface{}{"error": err.Error()})
		}
		logging.Info("Reclaimed queue entries", map[string]interface{}{"deleted": deleted})
	}

	return deleted, nil
}

// RecordConflict persists a conflict record for user awareness and audit.
func (m *Manager) RecordConflict(record *models.ConflictRecord) error {
	if record.ID == "" {
		record.ID = models.UUID(uuid.New().String())
	}
	if record.DetectedAt == 0 {
		record.DetectedAt = time.Now().Unix()
	}

	snapshot, err := json.Marshal(record.RemoteSnapshot)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to serialize remote snapshot", err)
	}

	_, err = m.db.Exec(`
		INSERT INTO conflict_records
			(id, local_id, local_version, remote_version, remote_snapshot,
			 strategy, action, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.LocalID, record.LocalVersion, record.RemoteVersion,
		string(snapshot), record.Strategy, record.Action, record.DetectedAt)
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// ConflictsFor returns the conflict records for an entry, newest first.
// The UI uses these to show both versions for manual resolution.
func (m *Manager) ConflictsFor(localID models.UUID) ([]*models.ConflictRecord, error) {
	rows, err := m.db.Query(`
		SELECT id, local_id, local_version, remote_version, remote_snapshot,
		       strategy, action, detected_at
		FROM conflict_records WHERE local_id = ? ORDER BY detected_at DESC, id`,
		localID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list conflicts", err)
	}
	defer rows.Close()

	var records []*models.ConflictRecord
	for rows.Next() {
		var rec models.ConflictRecord
		var snapshot string
		if err := rows.Scan(&rec.ID, &rec.LocalID, &rec.LocalVersion,
			&rec.RemoteVersion, &snapshot, &rec.Strategy, &rec.Action,
			&rec.DetectedAt); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan conflict", err)
		}
		if err := json.Unmarshal([]byte(snapshot), &rec.RemoteSnapshot); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to decode remote snapshot", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to iterate conflicts", err)
	}
	return records, nil
}

// findByFingerprint returns a non-abandoned entry with the fingerprint, if any.
func (m *Manager) findByFingerprint(fp models.Fingerprint) (*models.QueueEntry, error) {
	row := m.db.QueryRow(
		selectColumns+" FROM queue_entries WHERE fingerprint = ? AND state != ? LIMIT 1",
		string(fp), models.StateAbandoned)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to look up fingerprint", err)
	}
	return entry, nil
}

const selectColumns = `SELECT local_id, fingerprint, payload, state,
	remote_version, attempt_count, last_attempt_at, next_eligible_at,
	last_error, created_at, mutated_at, updated_at`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	var payload string
	err := s.Scan(
		&entry.Draft.LocalID, &entry.Draft.Fingerprint, &payload, &entry.State,
		&entry.Draft.RemoteVersion, &entry.AttemptCount, &entry.LastAttemptAt,
		&entry.NextEligibleAt, &entry.LastError, &entry.Draft.CreatedAt,
		&entry.Draft.MutatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := entry.Draft.UnmarshalPayload(json.RawMessage(payload)); err != nil {
		return nil, err
	}
	return &entry, nil
}

// classifyWriteError maps storage write failures onto the error taxonomy.
// Write failures are surfaced, never silently dropped, and the manager does
// not retry its own writes.
func classifyWriteError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "database or disk is full") ||
		strings.Contains(msg, "SQLITE_FULL") {
		return errors.Wrap(errors.ErrQuotaExceeded, "storage write rejected", err)
	}
	return errors.Wrap(errors.ErrStorage, "storage write failed", err)
}
