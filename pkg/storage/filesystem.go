package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage persists objects on disk under a base directory and serves them
// through HMAC-signed download tokens.
type LocalStorage struct {
	baseDir     string
	downloadURL string
	signer      *SignedURLSigner
}

// NewLocalStorage ensures the base directory exists and returns a handle.
// downloadURL is the absolute or relative route that redeems tokens.
func NewLocalStorage(baseDir, downloadURL string, signer *SignedURLSigner) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./storage"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir, downloadURL: downloadURL, signer: signer}, nil
}

// Put copies body into the object at key.
func (s *LocalStorage) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("prepare storage directory: %w", err)
	}
	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create object file: %w", err)
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return fmt.Errorf("write object stream: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close object file: %w", err)
	}
	return nil
}

// Get returns a read handle for the object.
func (s *LocalStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("open object file: %w", err)
	}
	return file, nil
}

// Delete removes the object; a missing object is not an error.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object file: %w", err)
	}
	return nil
}

// Exists reports whether the object is present.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	target, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object file: %w", err)
	}
	return true, nil
}

// SignedURL returns a download route carrying a signed token for key.
func (s *LocalStorage) SignedURL(_ context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	if s.signer == nil {
		return "", time.Time{}, fmt.Errorf("signed url signer not configured")
	}
	token, expiresAt, err := s.signer.GenerateWithTTL("object", key, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.downloadURL + "?token=" + url.QueryEscape(token), expiresAt, nil
}

// Redeem validates a download token and returns the object key it grants.
func (s *LocalStorage) Redeem(token string) (string, error) {
	if s.signer == nil {
		return "", fmt.Errorf("signed url signer not configured")
	}
	_, key, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *LocalStorage) resolve(key string) (string, error) {
	if key == "" || filepath.IsAbs(key) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(key)), nil
}
