// Package engine drives the offline work queue through its sync lifecycle.
package engine

import (
	"context"

	"github.com/verdantchain/fieldsync/internal/models"
)

// MediaStore uploads captured media files. Upload is idempotent per file
// content hash: re-sending the same content returns the same id.
type MediaStore interface {
	Upload(ctx context.Context, ref models.MediaRef) (string, error)
}

// AttestationPublisher is the on-chain attestation collaborator. Both calls
// are safe to retry: the publisher is idempotent on a client-supplied
// idempotency key derived from the fingerprint.
//
// Errors from both calls are already classified into the engine's taxonomy.
// When Publish fails with CONFLICT_DETECTED, the returned record is non-nil
// and holds the server's current snapshot of the contested target.
type AttestationPublisher interface {
	ExistsByFingerprint(ctx context.Context, fp models.Fingerprint) (*models.RemoteRecord, error)
	Publish(ctx context.Context, draft *models.WorkDraft, mediaIDs []string) (*models.RemoteRecord, error)
}

// Listener observes entry and cycle outcomes; the status surface plugs in
// here to push updates to the UI.
type Listener interface {
	EntryUpdated(entry *models.QueueEntry)
	CycleFinished(stats CycleStats)
}

// CycleStats summarizes one drain cycle.
type CycleStats struct {
	Picked       int `json:"picked"`
	Synced       int `json:"synced"`
	Deduplicated int `json:"deduplicated"`
	Retried      int `json:"retried"`
	Abandoned    int `json:"abandoned"`
	Conflicted   int `json:"conflicted"`
}

// nopListener is used when no listener is attached.
type nopListener struct{}

func (nopListener) EntryUpdated(*models.QueueEntry) {}
func (nopListener) CycleFinished(CycleStats)        {}
