// Package publisher provides the HTTP client for the attestation service.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/verdantchain/fieldsync/internal/errors"
	"github.com/verdantchain/fieldsync/internal/models"
)

// Config holds attestation service connection configuration.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client talks to the attestation service. It implements
// engine.AttestationPublisher.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new attestation service client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

type attestationRequest struct {
	Fingerprint string             `json:"fingerprint"`
	Version     int64              `json:"version"`
	Payload     models.WorkPayload `json:"payload"`
	MediaIDs    []string           `json:"media_ids,omitempty"`
}

type attestationResponse struct {
	ID             string `json:"id"`
	Fingerprint    string `json:"fingerprint"`
	Version        int64  `json:"version"`
	ApprovalStatus string `json:"approval_status"`
	TxRef          string `json:"tx_ref"`
	PublishedAt    int64  `json:"published_at"`
}

func (r *attestationResponse) toRecord() *models.RemoteRecord {
	return &models.RemoteRecord{
		ID:             models.UUID(r.ID),
		Fingerprint:    models.Fingerprint(r.Fingerprint),
		Version:        r.Version,
		ApprovalStatus: r.ApprovalStatus,
		TxRef:          r.TxRef,
		PublishedAt:    r.PublishedAt,
	}
}

// ExistsByFingerprint asks the service whether a record with this content
// fingerprint has already been published, returning it if so and nil if not.
func (c *Client) ExistsByFingerprint(ctx context.Context, fp models.Fingerprint) (*models.RemoteRecord, error) {
	endpoint := fmt.Sprintf("%s/v1/records?fingerprint=%s", c.config.Endpoint, url.QueryEscape(string(fp)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to create lookup request", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "fingerprint lookup failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var ar attestationResponse
		if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to decode lookup response", err)
		}
		return ar.toRecord(), nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	default:
		return nil, classifyStatus(resp.StatusCode, nil)
	}
}

// Publish submits a draft for attestation. The fingerprint doubles as the
// idempotency key, so resubmitting the same content is safe.
//
// On a version conflict the returned record is the server's current snapshot
// and the error carries code CONFLICT_DETECTED.
func (c *Client) Publish(ctx context.Context, draft *models.WorkDraft, mediaIDs []string) (*models.RemoteRecord, error) {
	body, err := json.Marshal(attestationRequest{
		Fingerprint: string(draft.Fingerprint),
		Version:     draft.RemoteVersion,
		Payload:     draft.Payload,
		MediaIDs:    mediaIDs,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode attestation request", err)
	}

	endpoint := c.config.Endpoint + "/v1/records"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to create publish request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", string(draft.Fingerprint))
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "publish request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var ar attestationResponse
		if err := json.Unmarshal(respBody, &ar); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to decode publish response", err)
		}
		return ar.toRecord(), nil

	case http.StatusConflict:
		// The server's snapshot rides along so the conflict resolver can
		// compare versions without a second round trip.
		var ar attestationResponse
		if err := json.Unmarshal(respBody, &ar); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to decode conflict snapshot", err)
		}
		return ar.toRecord(), apperrors.Newf(apperrors.ErrConflictDetected,
			"remote record is at version %d", ar.Version)

	default:
		return nil, classifyStatus(resp.StatusCode, respBody)
	}
}

func (c *Client) setAuth(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
}

// classifyStatus maps an HTTP status to the engine's error taxonomy. Server
// and throttling errors are transient; client errors are permanent.
func classifyStatus(status int, body []byte) error {
	msg := fmt.Sprintf("attestation service returned status %d", status)
	if len(body) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, truncate(body, 256))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.New(apperrors.ErrAuthFailed, msg)
	case status == http.StatusTooManyRequests:
		return apperrors.New(apperrors.ErrTransientNetwork, msg)
	case status >= http.StatusInternalServerError:
		return apperrors.New(apperrors.ErrTransientNetwork, msg)
	case status >= http.StatusBadRequest:
		return apperrors.New(apperrors.ErrPermanentValidation, msg)
	default:
		return apperrors.New(apperrors.ErrTransientNetwork, msg)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
