package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/client-portal-api/internal/dto"
	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/internal/service"
	"github.com/noah-isme/client-portal-api/pkg/response"
)

type documentService interface {
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
	Upload(ctx context.Context, clientID, docType string, upload *service.FileUpload, uploaderID string) (*models.Document, error)
	ViewURL(ctx context.Context, clientID, id string) (string, time.Time, error)
	Download(ctx context.Context, clientID, id string) (*models.Document, io.ReadCloser, error)
	Delete(ctx context.Context, clientID, id string) error
	Checklist(ctx context.Context, clientID string) ([]models.RequiredDocument, models.DocumentGate, error)
	Review(ctx context.Context, id string, status models.DocumentStatus, reviewerID string) (*models.Document, error)
}

// DocumentHandler serves client files to their owner and to staff.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(svc documentService) *DocumentHandler {
	return &DocumentHandler{service: svc}
}

func documentFilter(c *gin.Context, clientID string) models.DocumentFilter {
	return models.DocumentFilter{
		ClientID: clientID,
		Category: strings.TrimSpace(c.Query("category")),
		Status:   models.DocumentStatus(strings.TrimSpace(c.Query("status"))),
		Limit:    queryInt(c, "limit", 100),
		Offset:   queryInt(c, "offset", 0),
	}
}

// List godoc
// @Summary List own documents
// @Tags Documents
// @Produce json
// @Param category query string false "onboarding or ad_hoc"
// @Param status query string false "Document status"
// @Success 200 {object} response.Envelope
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	docs, err := h.service.List(c.Request.Context(), documentFilter(c, clientID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, nil)
}

// Upload godoc
// @Summary Upload a document
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param document_type formData string false "Document type"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	claims, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	upload, closeFile, err := formFile(c, "file", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeFile()

	doc, err := h.service.Upload(c.Request.Context(), clientID, c.PostForm("document_type"), upload, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// URL godoc
// @Summary Get a time-limited link to a document
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id}/url [get]
func (h *DocumentHandler) URL(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	h.signedURL(c, clientID)
}

// Download godoc
// @Summary Download a document
// @Tags Documents
// @Produce octet-stream
// @Param id path string true "Document ID"
// @Success 200 {file} binary
// @Router /documents/{id}/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	h.download(c, clientID)
}

// Delete godoc
// @Summary Delete a document
// @Tags Documents
// @Param id path string true "Document ID"
// @Success 204
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), clientID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListForClient godoc
// @Summary List a client's documents
// @Tags Staff
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} response.Envelope
// @Router /staff/clients/{id}/documents [get]
func (h *DocumentHandler) ListForClient(c *gin.Context) {
	docs, err := h.service.List(c.Request.Context(), documentFilter(c, c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, nil)
}

// Checklist godoc
// @Summary Get a client's required-document checklist
// @Tags Staff
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} response.Envelope
// @Router /staff/clients/{id}/required-documents [get]
func (h *DocumentHandler) Checklist(c *gin.Context) {
	slots, gate, err := h.service.Checklist(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil, map[string]interface{}{"gate": gate})
}

// StaffURL godoc
// @Summary Get a time-limited link to any document
// @Tags Staff
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /staff/documents/{id}/url [get]
func (h *DocumentHandler) StaffURL(c *gin.Context) {
	h.signedURL(c, "")
}

// StaffDownload godoc
// @Summary Download any document
// @Tags Staff
// @Produce octet-stream
// @Param id path string true "Document ID"
// @Success 200 {file} binary
// @Router /staff/documents/{id}/download [get]
func (h *DocumentHandler) StaffDownload(c *gin.Context) {
	h.download(c, "")
}

// Review godoc
// @Summary Review a document
// @Description processed verifies the matching checklist slot; rejected deletes the file and reopens the slot
// @Tags Staff
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body dto.ReviewDocumentRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /staff/documents/{id}/review [patch]
func (h *DocumentHandler) Review(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.ReviewDocumentRequest
	if !bindJSON(c, &req, "status is required") {
		return
	}
	doc, err := h.service.Review(c.Request.Context(), c.Param("id"), req.Status, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

func (h *DocumentHandler) signedURL(c *gin.Context, clientID string) {
	url, expires, err := h.service.ViewURL(c.Request.Context(), clientID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SignedURLResponse{URL: url, ExpiresAt: expires}, nil)
}

func (h *DocumentHandler) download(c *gin.Context, clientID string) {
	doc, body, err := h.service.Download(c.Request.Context(), clientID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, doc.Name, doc.MimeType, doc.SizeBytes, body)
}
