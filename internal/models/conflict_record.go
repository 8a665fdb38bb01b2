// Package models provides data model definitions for the FieldSync engine.
package models

import "time"

// ResolutionStrategy names the policy applied to a detected conflict.
type ResolutionStrategy string

const (
	StrategyServerWins ResolutionStrategy = "server_wins"
	StrategyClientWins ResolutionStrategy = "client_wins"
	StrategyManual     ResolutionStrategy = "manual"
)

// ResolvedAction is the outcome a resolution produced.
type ResolvedAction string

const (
	ActionKeepLocal    ResolvedAction = "keep_local"
	ActionDiscardLocal ResolvedAction = "discard_local"
	// ActionMerged is reserved; automatic merging is not performed.
	ActionMerged ResolvedAction = "merged"
	// ActionAwaitingUser marks a manual conflict pending a user decision.
	ActionAwaitingUser ResolvedAction = "awaiting_user"
)

// ConflictRecord captures a detected divergence between a local draft and the
// remote state it was based on, for user awareness and audit.
type ConflictRecord struct {
	ID             UUID               `db:"id" json:"id"`
	LocalID        UUID               `db:"local_id" json:"local_id"`
	LocalVersion   int64              `db:"local_version" json:"local_version"`
	RemoteVersion  int64              `db:"remote_version" json:"remote_version"`
	RemoteSnapshot RemoteRecord       `json:"remote_snapshot"`
	Strategy       ResolutionStrategy `db:"strategy" json:"strategy"`
	Action         ResolvedAction     `db:"action" json:"action"`
	DetectedAt     int64              `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictRecord.
func (ConflictRecord) TableName() string {
	return "conflict_records"
}

// DetectedTime returns DetectedAt as time.Time.
func (c *ConflictRecord) DetectedTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
