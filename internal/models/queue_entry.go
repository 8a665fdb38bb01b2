// Package models provides data model definitions for the FieldSync engine.
package models

import "time"

// EntryState represents the sync lifecycle state of a queue entry.
type EntryState string

const (
	StatePending    EntryState = "pending"
	StateSyncing    EntryState = "syncing"
	StateSynced     EntryState = "synced"
	StateFailed     EntryState = "failed"
	StateConflicted EntryState = "conflicted"
	StateAbandoned  EntryState = "abandoned"
)

// IsTerminal reports whether the state permits no further transitions.
func (s EntryState) IsTerminal() bool {
	return s == StateSynced || s == StateAbandoned
}

// Valid reports whether the state is one of the known lifecycle states.
func (s EntryState) Valid() bool {
	switch s {
	case StatePending, StateSyncing, StateSynced, StateFailed, StateConflicted, StateAbandoned:
		return true
	}
	return false
}

// QueueEntry wraps a WorkDraft with its sync state. Exactly one entry exists
// per local id; the Storage Manager owns all state transitions.
type QueueEntry struct {
	Draft          WorkDraft  `json:"draft"`
	State          EntryState `db:"state" json:"state"`
	AttemptCount   int        `db:"attempt_count" json:"attempt_count"`
	LastAttemptAt  int64      `db:"last_attempt_at" json:"last_attempt_at"`
	NextEligibleAt int64      `db:"next_eligible_at" json:"next_eligible_at"`
	LastError      string     `db:"last_error" json:"last_error,omitempty"`
	UpdatedAt      int64      `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for QueueEntry.
func (QueueEntry) TableName() string {
	return "queue_entries"
}

// Due reports whether the entry is eligible for a sync attempt at now.
func (e *QueueEntry) Due(now time.Time) bool {
	return e.State == StatePending && e.NextEligibleAt <= now.Unix()
}
