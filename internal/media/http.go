// Package media uploads draft attachments to content-addressed blob storage.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	apperrors "github.com/verdantchain/fieldsync/internal/errors"
	"github.com/verdantchain/fieldsync/internal/models"
)

// Config holds blob storage connection configuration.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client uploads media blobs keyed by their content hash. It implements
// engine.MediaStore. Because the key is derived from content, retrying an
// upload after a partial failure is harmless.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new blob storage client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
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

// Upload stores the blob behind ref and returns its remote identifier, which
// is the content hash itself. If the blob is already present the upload is
// skipped.
func (c *Client) Upload(ctx context.Context, ref models.MediaRef) (string, error) {
	if ref.ContentHash == "" {
		return "", apperrors.New(apperrors.ErrPermanentValidation, "media reference has no content hash")
	}

	exists, err := c.exists(ctx, ref.ContentHash)
	if err != nil {
		return "", err
	}
	if exists {
		return ref.ContentHash, nil
	}

	data, err := os.ReadFile(ref.LocalPath)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage,
			fmt.Sprintf("failed to read media file %s", ref.LocalPath), err)
	}

	// The file on disk must still match the hash the draft was
	// fingerprinted with; a mismatch means the attachment changed after
	// capture and the draft content no longer describes it.
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != ref.ContentHash {
		return "", apperrors.Newf(apperrors.ErrPermanentValidation,
			"media file %s does not match its recorded content hash", ref.LocalPath)
	}

	if err := c.put(ctx, ref, data); err != nil {
		return "", err
	}
	return ref.ContentHash, nil
}

func (c *Client) exists(ctx context.Context, contentHash string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.blobURL(contentHash), nil)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrInternal, "failed to create blob lookup request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrTransientNetwork, "blob lookup failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, classifyStatus(resp.StatusCode, nil)
	}
}

func (c *Client) put(ctx context.Context, ref models.MediaRef, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.blobURL(ref.ContentHash), bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to create blob upload request", err)
	}
	req.Header.Set("Content-Type", contentType(ref))
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransientNetwork, "blob upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return classifyStatus(resp.StatusCode, body)
	}
	return nil
}

func (c *Client) blobURL(contentHash string) string {
	return fmt.Sprintf("%s/v1/blobs/%s", c.config.Endpoint, contentHash)
}

func contentType(ref models.MediaRef) string {
	if ref.MimeType != "" {
		return ref.MimeType
	}
	return "application/octet-stream"
}

func classifyStatus(status int, body []byte) error {
	msg := fmt.Sprintf("blob storage returned status %d", status)
	if len(body) > 0 {
		if len(body) > 256 {
			body = body[:256]
		}
		msg = fmt.Sprintf("%s: %s", msg, body)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.New(apperrors.ErrAuthFailed, msg)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return apperrors.New(apperrors.ErrTransientNetwork, msg)
	case status >= http.StatusBadRequest:
		return apperrors.New(apperrors.ErrPermanentValidation, msg)
	default:
		return apperrors.New(apperrors.ErrTransientNetwork, msg)
	}
}
