package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/client-portal-api/internal/dto"
	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/response"
)

type archiveService interface {
	Archive(ctx context.Context, clientID, actorID string) (*models.ArchivalJob, error)
	Job(ctx context.Context, clientID string) (*models.ArchivalJob, error)
	ListArchived(ctx context.Context, filter models.ArchiveFilter) ([]models.ArchivedClient, error)
	ExportCSV(ctx context.Context, filter models.ArchiveFilter) ([]byte, error)
}

// ArchiveHandler manages client archival endpoints.
type ArchiveHandler struct {
	service archiveService
	now     func() time.Time
}

// NewArchiveHandler constructs the handler.
func NewArchiveHandler(service archiveService) *ArchiveHandler {
	return &ArchiveHandler{service: service, now: time.Now}
}

func archiveFilter(c *gin.Context) models.ArchiveFilter {
	return models.ArchiveFilter{
		Search: strings.TrimSpace(c.Query("search")),
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	}
}

// Archive godoc
// @Summary Archive a client
// @Description Copies the client, documents and reports into retention and removes the login. Safe to repeat; an unfinished run resumes.
// @Tags Admin
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /admin/clients/{id}/archive [post]
func (h *ArchiveHandler) Archive(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	job, err := h.service.Archive(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ArchivalResponse{Job: job}, nil)
}

// Status godoc
// @Summary Get a client's archival job
// @Tags Admin
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/clients/{id}/archive [get]
func (h *ArchiveHandler) Status(c *gin.Context) {
	job, err := h.service.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ArchivalResponse{Job: job}, nil)
}

// List godoc
// @Summary List archived clients
// @Tags Admin
// @Produce json
// @Param search query string false "Name, company or e-mail"
// @Success 200 {object} response.Envelope
// @Router /admin/archives [get]
func (h *ArchiveHandler) List(c *gin.Context) {
	clients, err := h.service.ListArchived(c.Request.Context(), archiveFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, clients, nil)
}

// Export godoc
// @Summary Export archived clients as CSV
// @Tags Admin
// @Produce text/csv
// @Param search query string false "Name, company or e-mail"
// @Success 200 {file} binary
// @Router /admin/archives/export.csv [get]
func (h *ArchiveHandler) Export(c *gin.Context) {
	data, err := h.service.ExportCSV(c.Request.Context(), archiveFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("archived-clients-%s.csv", h.now().UTC().Format("20060102"))
	response.Attachment(c, filename, "text/csv; charset=utf-8", data)
}
