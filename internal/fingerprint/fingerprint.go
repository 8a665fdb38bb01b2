// Package fingerprint derives stable content identifiers for work payloads.
// The fingerprint is a SHA-256 over a canonical serialization, so two
// payloads with identical semantic content collide on the same id regardless
// of client, locale, or when it was computed. Timestamps and local ids are
// not part of a payload and never enter the hash.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"sort"
	"strconv"

	"github.com/verdantchain/fieldsync/internal/errors"
	"github.com/verdantchain/fieldsync/internal/models"
)

// Compute returns the content fingerprint of a payload.
//
// Canonical form: fields are written in a fixed order, each value
// length-prefixed so adjacent fields can never alias; metric names are
// sorted; metric values use shortest round-trip decimal formatting so float
// rendering cannot drift between clients; media are represented by their own
// content hashes in payload order, never by raw bytes.
func Compute(payload models.WorkPayload) (models.Fingerprint, error) {
	h := sha256.New()

	writeString(h, "action", payload.ActionRef)
	writeString(h, "garden", payload.GardenRef)

	names := make([]string, 0, len(payload.Metrics))
	for name := range payload.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := payload.Metrics[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", errors.Newf(errors.ErrPermanentValidation,
				"metric %q is not a finite number", name)
		}
		if v == 0 {
			v = 0 // fold negative zero
		}
		writeString(h, "metric."+name, strconv.FormatFloat(v, 'g', -1, 64))
	}

	writeString(h, "notes", payload.Notes)

	for _, m := range payload.Media {
		if m.ContentHash == "" {
			return "", errors.New(errors.ErrPermanentValidation,
				"media reference missing content hash")
		}
		writeString(h, "media", m.ContentHash)
	}

	return models.Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// writeString writes a length-prefixed tag/value pair into the hash.
func writeString(h hash.Hash, tag, value string) {
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], uint64(len(tag)))
	h.Write(buf[:])
	h.Write([]byte(tag))

	binary.BigEndian.PutUint64(buf[:], uint64(len(value)))
	h.Write(buf[:])
	h.Write([]byte(value))
}
