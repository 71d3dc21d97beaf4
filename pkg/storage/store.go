package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when a key has no stored object.
var ErrObjectNotFound = errors.New("storage object not found")

// ErrOutsideNamespace is returned when a key does not belong to the caller's namespace.
var ErrOutsideNamespace = errors.New("storage key outside client namespace")

// ObjectStore is the contract shared by the S3 and local disk drivers.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}

var segmentSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ObjectKey renders {client_id}/{category}/{type}/{unix_nano}.{ext}.
func ObjectKey(clientID, category, docType, filename string, now time.Time) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" || strings.ContainsAny(clientID, "/\\.") {
		return "", fmt.Errorf("invalid client id for object key")
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	ext = segmentSanitizer.ReplaceAllString(ext, "")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s/%s/%d.%s",
		clientID,
		sanitizeSegment(category, "misc"),
		sanitizeSegment(docType, "file"),
		now.UnixNano(),
		ext,
	), nil
}

// EnsureOwned rejects keys that are not inside the client's namespace.
func EnsureOwned(key, clientID string) error {
	if clientID == "" || key == "" {
		return ErrOutsideNamespace
	}
	clean := path.Clean(key)
	if clean != key || strings.HasPrefix(clean, "/") || strings.Contains(clean, "..") {
		return ErrOutsideNamespace
	}
	if !strings.HasPrefix(clean, clientID+"/") {
		return ErrOutsideNamespace
	}
	return nil
}

func sanitizeSegment(raw, fallback string) string {
	cleaned := strings.Trim(segmentSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "_"), "_")
	if cleaned == "" {
		return fallback
	}
	return cleaned
}
