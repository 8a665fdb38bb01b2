// Package models provides data model definitions for the FieldSync engine.
package models

import (
	"encoding/json"
	"time"
)

// Fingerprint is a content-derived identifier for a work payload.
// Two payloads with identical semantic content always share a fingerprint.
type Fingerprint string

// String returns the string representation of the Fingerprint.
func (f Fingerprint) String() string {
	return string(f)
}

// MediaRef references a captured media file by its own content hash.
// The raw bytes live on disk until the Media Store accepts the upload.
type MediaRef struct {
	ContentHash string `json:"content_hash"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	LocalPath   string `json:"local_path,omitempty"`
}

// WorkPayload is the content of a unit of conservation work: what was done,
// measured values, and the ordered media captured alongside it.
// Timestamps and local identifiers are deliberately not part of the payload.
type WorkPayload struct {
	ActionRef string             `json:"action_ref"`
	GardenRef string             `json:"garden_ref"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Notes     string             `json:"notes,omitempty"`
	Media     []MediaRef         `json:"media,omitempty"`
}

// WorkDraft is a locally captured, not-yet-published unit of work.
type WorkDraft struct {
	LocalID       UUID        `db:"local_id" json:"local_id"`
	Payload       WorkPayload `db:"payload" json:"payload"`
	Fingerprint   Fingerprint `db:"fingerprint" json:"fingerprint"`
	RemoteVersion int64       `db:"remote_version" json:"remote_version"` // 0 = new draft
	CreatedAt     int64       `db:"created_at" json:"created_at"`
	MutatedAt     int64       `db:"mutated_at" json:"mutated_at"`
}

// CreatedTime returns CreatedAt as time.Time.
func (d *WorkDraft) CreatedTime() time.Time {
	return time.Unix(d.CreatedAt, 0)
}

// MarshalPayload serializes the payload for persistence.
func (d *WorkDraft) MarshalPayload() (json.RawMessage, error) {
	return json.Marshal(d.Payload)
}

// UnmarshalPayload deserializes a persisted payload into the draft.
func (d *WorkDraft) UnmarshalPayload(raw json.RawMessage) error {
	return json.Unmarshal(raw, &d.Payload)
}
