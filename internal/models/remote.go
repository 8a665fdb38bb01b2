// Package models provides data model definitions for the FieldSync engine.
package models

import "time"

// RemoteRecord is the Attestation Publisher's view of a published work record.
type RemoteRecord struct {
	ID             UUID        `json:"id"`
	Fingerprint    Fingerprint `json:"fingerprint"`
	Version        int64       `json:"version"`
	ApprovalStatus string      `json:"approval_status,omitempty"`
	TxRef          string      `json:"tx_ref,omitempty"`
	PublishedAt    int64       `json:"published_at"`
}

// PublishedTime returns PublishedAt as time.Time.
func (r *RemoteRecord) PublishedTime() time.Time {
	return time.Unix(r.PublishedAt, 0)
}
