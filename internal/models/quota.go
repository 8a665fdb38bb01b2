// Package models provides data model definitions for the FieldSync engine.
package models

// StorageQuotaReport is an aggregate view of local queue storage usage.
// UsedBytes reflects device-reported usage, not an estimate from entry
// counts, since media payload sizes vary by orders of magnitude.
type StorageQuotaReport struct {
	UsedBytes        int64              `json:"used_bytes"`
	ReclaimableBytes int64              `json:"reclaimable_bytes"`
	CeilingBytes     int64              `json:"ceiling_bytes"`
	CountsByState    map[EntryState]int `json:"counts_by_state"`
}

// OverCeiling reports whether usage has reached the configured ceiling.
// A zero ceiling means unbounded.
func (r *StorageQuotaReport) OverCeiling() bool {
	return r.CeilingBytes > 0 && r.UsedBytes >= r.CeilingBytes
}
