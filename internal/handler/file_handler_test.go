package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/pkg/storage"
)

func newLocalStore(t *testing.T) *storage.LocalStorage {
	t.Helper()
	signer := storage.NewSignedURLSigner("test-secret", time.Minute)
	store, err := storage.NewLocalStorage(t.TempDir(), "/api/v1/files/download", signer)
	require.NoError(t, err)
	return store
}

func TestFileDownloadRedeemsToken(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()
	key := "c1/reports/profit_loss/1700000000.pdf"
	body := "%PDF-1.4 profit and loss"
	require.NoError(t, store.Put(ctx, key, strings.NewReader(body), int64(len(body)), "application/pdf"))

	signed, _, err := store.SignedURL(ctx, key, time.Minute)
	require.NoError(t, err)
	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/files/download", parsed.Path)

	h := NewFileHandler(store)
	c, w := newGinContext(http.MethodGet, "/files/download?"+parsed.RawQuery, nil)
	h.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "1700000000.pdf")
}

func TestFileDownloadRejectsBadTokens(t *testing.T) {
	h := NewFileHandler(newLocalStore(t))

	c, w := newGinContext(http.MethodGet, "/files/download", nil)
	h.Download(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodGet, "/files/download?token=forged", nil)
	h.Download(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFileDownloadWithoutLocalDriver(t *testing.T) {
	h := NewFileHandler(nil)
	c, w := newGinContext(http.MethodGet, "/files/download?token=x", nil)
	h.Download(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
