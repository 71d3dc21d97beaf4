package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/response"
	"github.com/noah-isme/client-portal-api/pkg/storage"
)

type tokenRedeemer interface {
	Redeem(token string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// FileHandler redeems signed download tokens issued by the local storage driver.
type FileHandler struct {
	store tokenRedeemer
}

// NewFileHandler constructs the handler. store is nil for drivers that sign their own URLs.
func NewFileHandler(store tokenRedeemer) *FileHandler {
	return &FileHandler{store: store}
}

// Download godoc
// @Summary Download a stored file through a signed token
// @Tags Files
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /files/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	if h.store == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "signed downloads are not served by this storage driver"))
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	key, err := h.store.Redeem(token)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "download link is invalid or expired"))
		return
	}
	body, err := h.store.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "file not found"))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file"))
		return
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file"))
		return
	}
	streamFile(c, path.Base(key), mimetype.Detect(data).String(), int64(len(data)), io.NopCloser(bytes.NewReader(data)))
}
