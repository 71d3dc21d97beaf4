package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/client-portal-api/internal/middleware"
	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/internal/service"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// requireClaims writes 401 and returns false when the request is anonymous.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

// requireClient resolves the caller's own client id from the token.
func requireClient(c *gin.Context) (*models.JWTClaims, string, bool) {
	claims, ok := requireClaims(c)
	if !ok {
		return nil, "", false
	}
	if claims.ClientID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "client account required"))
		return nil, "", false
	}
	return claims, claims.ClientID, true
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

// formFile opens a multipart file field. The returned closer must be called.
func formFile(c *gin.Context, field string, required bool) (*service.FileUpload, func(), error) {
	header, err := c.FormFile(field)
	if err != nil {
		if !required && err == http.ErrMissingFile {
			return nil, func() {}, nil
		}
		return nil, func() {}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is required", field))
	}
	src, err := header.Open()
	if err != nil {
		return nil, func() {}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	upload := &service.FileUpload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        src,
	}
	return upload, func() { _ = src.Close() }, nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func queryBool(c *gin.Context, key string) *bool {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

func streamFile(c *gin.Context, filename, contentType string, size int64, body io.ReadCloser) {
	response.Stream(c, filename, contentType, size, body)
}
