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
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/response"
)

type reportService interface {
	Upload(ctx context.Context, clientID string, req models.UploadReportRequest, upload *service.FileUpload, actorID string) (*models.Report, error)
	List(ctx context.Context, clientID string, reportType models.ReportType) ([]models.Report, error)
	ViewURL(ctx context.Context, clientID, id string) (string, time.Time, error)
	Download(ctx context.Context, clientID, id string) (*models.Report, io.ReadCloser, error)
	Delete(ctx context.Context, id, actorID string) error
}

// ReportHandler serves financial reports.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(svc reportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// List godoc
// @Summary List own reports
// @Tags Reports
// @Produce json
// @Param type query string false "profit_loss, balance_sheet or reconciliation"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	h.list(c, clientID)
}

// URL godoc
// @Summary Get a time-limited link to a report
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id}/url [get]
func (h *ReportHandler) URL(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	url, expires, err := h.service.ViewURL(c.Request.Context(), clientID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SignedURLResponse{URL: url, ExpiresAt: expires}, nil)
}

// Download godoc
// @Summary Download a report
// @Tags Reports
// @Produce octet-stream
// @Param id path string true "Report ID"
// @Success 200 {file} binary
// @Router /reports/{id}/download [get]
func (h *ReportHandler) Download(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	report, body, err := h.service.Download(c.Request.Context(), clientID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, report.Name, report.MimeType, report.SizeBytes, body)
}

// ListForClient godoc
// @Summary List a client's reports
// @Tags Staff
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} response.Envelope
// @Router /staff/clients/{id}/reports [get]
func (h *ReportHandler) ListForClient(c *gin.Context) {
	h.list(c, c.Param("id"))
}

// Upload godoc
// @Summary Upload a report for a client
// @Tags Staff
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Client ID"
// @Param report_type formData string true "profit_loss, balance_sheet or reconciliation"
// @Param name formData string true "Report name"
// @Param period_start formData string false "YYYY-MM-DD"
// @Param period_end formData string false "YYYY-MM-DD"
// @Param file formData file true "Report file"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /staff/clients/{id}/reports [post]
func (h *ReportHandler) Upload(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req models.UploadReportRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report payload"))
		return
	}
	upload, closeFile, err := formFile(c, "file", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeFile()

	report, err := h.service.Upload(c.Request.Context(), c.Param("id"), req, upload, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}

// Delete godoc
// @Summary Delete a report
// @Tags Staff
// @Param id path string true "Report ID"
// @Success 204
// @Router /staff/reports/{id} [delete]
func (h *ReportHandler) Delete(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *ReportHandler) list(c *gin.Context, clientID string) {
	reportType := models.ReportType(strings.ToLower(strings.TrimSpace(c.Query("type"))))
	reports, err := h.service.List(c.Request.Context(), clientID, reportType)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reports, nil)
}
