package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/verdantchain/fieldsync/internal/errors"
	"github.com/verdantchain/fieldsync/internal/models"
)

func writeBlob(t *testing.T, content string) models.MediaRef {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	sum := sha256.Sum256([]byte(content))
	return models.MediaRef{
		ContentHash: hex.EncodeToString(sum[:]),
		MimeType:    "image/jpeg",
		SizeBytes:   int64(len(content)),
		LocalPath:   path,
	}
}

// blobServer is a minimal content-addressed store for tests.
type blobServer struct {
	mu    sync.Mutex
	blobs map[string][]byte
	puts  int
}

func newBlobServer() (*blobServer, *httptest.Server) {
	bs := &blobServer{blobs: make(map[string][]byte)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := filepath.Base(r.URL.Path)
		bs.mu.Lock()
		defer bs.mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			if _, ok := bs.blobs[hash]; ok {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			bs.blobs[hash] = body
			bs.puts++
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	return bs, srv
}

// TestUploadReturnsContentHash verifies an upload stores the blob and returns
// its content hash as the identifier.
func TestUploadReturnsContentHash(t *testing.T) {
	bs, srv := newBlobServer()
	defer srv.Close()

	ref := writeBlob(t, "soil moisture reading photo")
	client := NewClient(&Config{Endpoint: srv.URL})

	id, err := client.Upload(context.Background(), ref)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if id != ref.ContentHash {
		t.Errorf("expected content hash as identifier, got %q", id)
	}
	if _, ok := bs.blobs[ref.ContentHash]; !ok {
		t.Error("expected blob to be stored under its content hash")
	}
}

// TestUploadSkipsExistingBlob verifies re-uploading the same content does not
// transfer the bytes again.
func TestUploadSkipsExistingBlob(t *testing.T) {
	bs, srv := newBlobServer()
	defer srv.Close()

	ref := writeBlob(t, "duplicate attachment")
	client := NewClient(&Config{Endpoint: srv.URL})

	for i := 0; i < 3; i++ {
		if _, err := client.Upload(context.Background(), ref); err != nil {
			t.Fatalf("Upload %d failed: %v", i, err)
		}
	}

	if bs.puts != 1 {
		t.Errorf("expected a single PUT for repeated uploads, got %d", bs.puts)
	}
}

// TestUploadRejectsHashMismatch verifies a file modified after capture is a
// permanent validation failure, not something to retry.
func TestUploadRejectsHashMismatch(t *testing.T) {
	_, srv := newBlobServer()
	defer srv.Close()

	ref := writeBlob(t, "original content")
	if err := os.WriteFile(ref.LocalPath, []byte("tampered content"), 0o644); err != nil {
		t.Fatalf("failed to modify test file: %v", err)
	}

	client := NewClient(&Config{Endpoint: srv.URL})
	_, err := client.Upload(context.Background(), ref)

	if apperrors.CodeOf(err) != apperrors.ErrPermanentValidation {
		t.Errorf("expected PERMANENT_VALIDATION for hash mismatch, got %v", err)
	}
}

// TestUploadMissingFileIsStorageError verifies a vanished local file surfaces
// as a storage error.
func TestUploadMissingFileIsStorageError(t *testing.T) {
	_, srv := newBlobServer()
	defer srv.Close()

	ref := writeBlob(t, "will be deleted")
	os.Remove(ref.LocalPath)

	client := NewClient(&Config{Endpoint: srv.URL})
	_, err := client.Upload(context.Background(), ref)

	if apperrors.CodeOf(err) != apperrors.ErrStorage {
		t.Errorf("expected STORAGE_ERROR for missing file, got %v", err)
	}
}

// TestUploadServerErrorIsTransient verifies 5xx responses are retryable.
func TestUploadServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ref := writeBlob(t, "unlucky upload")
	client := NewClient(&Config{Endpoint: srv.URL})
	_, err := client.Upload(context.Background(), ref)

	if apperrors.CodeOf(err) != apperrors.ErrTransientNetwork {
		t.Errorf("expected TRANSIENT_NETWORK for 5xx, got %v", err)
	}
}

// TestUploadEmptyHashRejected verifies a ref without a content hash is
// rejected before any network traffic.
func TestUploadEmptyHashRejected(t *testing.T) {
	client := NewClient(&Config{Endpoint: "http://127.0.0.1:0"})
	_, err := client.Upload(context.Background(), models.MediaRef{LocalPath: "/nope"})

	if apperrors.CodeOf(err) != apperrors.ErrPermanentValidation {
		t.Errorf("expected PERMANENT_VALIDATION for empty hash, got %v", err)
	}
}
