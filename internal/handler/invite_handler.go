package handler

import (
	"context"
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

type inviteService interface {
	Issue(ctx context.Context, req models.CreateInviteRequest, letter *service.FileUpload, createdBy string) (*models.InviteCode, error)
	Validate(ctx context.Context, code, email string) (*models.InviteValidation, error)
	EngagementLetterURL(ctx context.Context, code string) (string, time.Time, error)
	List(ctx context.Context, filter models.InviteFilter) ([]models.InviteCode, error)
	Revoke(ctx context.Context, code, actorID string) error
}

// InviteHandler serves invite code checks and staff invite management.
type InviteHandler struct {
	service inviteService
}

// NewInviteHandler constructs the handler.
func NewInviteHandler(svc inviteService) *InviteHandler {
	return &InviteHandler{service: svc}
}

// Validate godoc
// @Summary Check an invite code
// @Tags Invites
// @Accept json
// @Produce json
// @Param payload body dto.ValidateInviteRequest true "Code and optional e-mail"
// @Success 200 {object} response.Envelope
// @Router /invites/validate [post]
func (h *InviteHandler) Validate(c *gin.Context) {
	var req dto.ValidateInviteRequest
	if !bindJSON(c, &req, "invite code is required") {
		return
	}
	result, err := h.service.Validate(c.Request.Context(), req.Code, req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// EngagementLetter godoc
// @Summary Get the engagement letter of a valid invite
// @Tags Invites
// @Produce json
// @Param code path string true "Invite code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /invites/{code}/engagement-letter [get]
func (h *InviteHandler) EngagementLetter(c *gin.Context) {
	url, expires, err := h.service.EngagementLetterURL(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SignedURLResponse{URL: url, ExpiresAt: expires}, nil)
}

// Issue godoc
// @Summary Issue an invite code
// @Description Accepts JSON, or multipart form data with an optional engagement_letter file
// @Tags Staff
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Param payload body models.CreateInviteRequest true "Invite"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /staff/invites [post]
func (h *InviteHandler) Issue(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req models.CreateInviteRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid invite payload"))
		return
	}

	var letter *service.FileUpload
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		upload, closeFile, err := formFile(c, "engagement_letter", false)
		if err != nil {
			response.Error(c, err)
			return
		}
		defer closeFile()
		letter = upload
	}

	invite, err := h.service.Issue(c.Request.Context(), req, letter, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invite)
}

// List godoc
// @Summary List invite codes
// @Tags Staff
// @Produce json
// @Param used query bool false "Filter by redemption"
// @Param expired query bool false "Filter by expiry"
// @Success 200 {object} response.Envelope
// @Router /staff/invites [get]
func (h *InviteHandler) List(c *gin.Context) {
	invites, err := h.service.List(c.Request.Context(), models.InviteFilter{
		Used:    queryBool(c, "used"),
		Expired: queryBool(c, "expired"),
		Limit:   queryInt(c, "limit", 100),
		Offset:  queryInt(c, "offset", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invites, nil)
}

// Revoke godoc
// @Summary Revoke an unused invite code
// @Tags Staff
// @Param code path string true "Invite code"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /staff/invites/{code} [delete]
func (h *InviteHandler) Revoke(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.service.Revoke(c.Request.Context(), c.Param("code"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
