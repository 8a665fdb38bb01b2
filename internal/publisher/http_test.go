package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/verdantchain/fieldsync/internal/errors"
	"github.com/verdantchain/fieldsync/internal/models"
)

func testDraft() *models.WorkDraft {
	return &models.WorkDraft{
		LocalID:     models.UUID("local-1"),
		Fingerprint: models.Fingerprint("abc123"),
		Payload: models.WorkPayload{
			ActionRef: "mulch-beds",
			GardenRef: "north-plot",
			Metrics:   map[string]float64{"area_m2": 12.5},
		},
		RemoteVersion: 0,
	}
}

// TestPublishSuccess verifies a 201 response is decoded into a remote record.
func TestPublishSuccess(t *testing.T) {
	var gotIdempotencyKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/records" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")

		var req attestationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if req.Fingerprint != "abc123" {
			t.Errorf("expected fingerprint abc123 in request, got %q", req.Fingerprint)
		}
		if len(req.MediaIDs) != 1 || req.MediaIDs[0] != "blob-1" {
			t.Errorf("expected media ids to ride along, got %v", req.MediaIDs)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(attestationResponse{
			ID:             "rec-9",
			Fingerprint:    req.Fingerprint,
			Version:        1,
			ApprovalStatus: "pending_review",
			TxRef:          "0xdeadbeef",
			PublishedAt:    time.Now().Unix(),
		})
	}))
	defer srv.Close()

	client := NewClient(&Config{Endpoint: srv.URL, APIKey: "secret"})
	rec, err := client.Publish(context.Background(), testDraft(), []string{"blob-1"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if rec.ID != "rec-9" || rec.Version != 1 || rec.TxRef != "0xdeadbeef" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if gotIdempotencyKey != "abc123" {
		t.Errorf("expected fingerprint as idempotency key, got %q", gotIdempotencyKey)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
}

// TestPublishConflictReturnsSnapshot verifies a 409 yields the server snapshot
// alongside a CONFLICT_DETECTED error.
func TestPublishConflictReturnsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(attestationResponse{
			ID:          "rec-9",
			Fingerprint: "remote-fp",
			Version:     4,
		})
	}))
	defer srv.Close()

	client := NewClient(&Config{Endpoint: srv.URL})
	rec, err := client.Publish(context.Background(), testDraft(), nil)

	if apperrors.CodeOf(err) != apperrors.ErrConflictDetected {
		t.Fatalf("expected CONFLICT_DETECTED, got %v", err)
	}
	if rec == nil || rec.Version != 4 {
		t.Errorf("expected conflict snapshot at version 4, got %+v", rec)
	}
}

// TestPublishStatusClassification verifies HTTP status codes map onto the
// error taxonomy.
func TestPublishStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		code   apperrors.ErrorCode
	}{
		{http.StatusInternalServerError, apperrors.ErrTransientNetwork},
		{http.StatusBadGateway, apperrors.ErrTransientNetwork},
		{http.StatusTooManyRequests, apperrors.ErrTransientNetwork},
		{http.StatusBadRequest, apperrors.ErrPermanentValidation},
		{http.StatusUnprocessableEntity, apperrors.ErrPermanentValidation},
		{http.StatusUnauthorized, apperrors.ErrAuthFailed},
		{http.StatusForbidden, apperrors.ErrAuthFailed},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		client := NewClient(&Config{Endpoint: srv.URL})
		_, err := client.Publish(context.Background(), testDraft(), nil)
		srv.Close()

		if apperrors.CodeOf(err) != tc.code {
			t.Errorf("status %d: expected code %s, got %v", tc.status, tc.code, err)
		}
	}
}

// TestPublishTransportErrorIsTransient verifies a connection failure is
// classified as transient.
func TestPublishTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(&Config{Endpoint: srv.URL})
	_, err := client.Publish(context.Background(), testDraft(), nil)

	if apperrors.CodeOf(err) != apperrors.ErrTransientNetwork {
		t.Errorf("expected TRANSIENT_NETWORK for transport error, got %v", err)
	}
}

// TestExistsByFingerprint verifies the lookup returns the record on 200 and
// nil on 404.
func TestExistsByFingerprint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fingerprint") == "known" {
			json.NewEncoder(w).Encode(attestationResponse{
				ID:          "rec-1",
				Fingerprint: "known",
				Version:     2,
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(&Config{Endpoint: srv.URL})

	rec, err := client.ExistsByFingerprint(context.Background(), "known")
	if err != nil || rec == nil || rec.Version != 2 {
		t.Errorf("expected known fingerprint record at version 2, got rec=%+v err=%v", rec, err)
	}

	rec, err = client.ExistsByFingerprint(context.Background(), "unknown")
	if err != nil || rec != nil {
		t.Errorf("expected unknown fingerprint to be absent, got rec=%+v err=%v", rec, err)
	}
}

// TestExistsByFingerprintServerError verifies a 5xx lookup comes back as a
// transient error rather than a false negative.
func TestExistsByFingerprintServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(&Config{Endpoint: srv.URL})
	_, err := client.ExistsByFingerprint(context.Background(), "fp")

	if apperrors.CodeOf(err) != apperrors.ErrTransientNetwork {
		t.Errorf("expected TRANSIENT_NETWORK for lookup 5xx, got %v", err)
	}
}
