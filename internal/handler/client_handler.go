package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/client-portal-api/internal/dto"
	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/response"
)

type clientService interface {
	Profile(ctx context.Context, clientID string) (*models.ClientProfile, error)
	UpdateProfile(ctx context.Context, clientID string, req models.UpdateProfileRequest) (*models.ClientProfile, error)
	List(ctx context.Context, filter models.ClientFilter) ([]models.Client, *models.Pagination, error)
	Get(ctx context.Context, clientID string) (*models.ClientProfile, error)
}

type accountDeleter interface {
	DeleteAccount(ctx context.Context, clientID, userID string) (*models.ArchivalJob, error)
}

// ClientHandler serves the caller's profile and the staff client directory.
type ClientHandler struct {
	clients  clientService
	accounts accountDeleter
}

// NewClientHandler constructs the handler.
func NewClientHandler(clients clientService, accounts accountDeleter) *ClientHandler {
	return &ClientHandler{clients: clients, accounts: accounts}
}

// Me godoc
// @Summary Get own client profile
// @Tags Profile
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /me [get]
func (h *ClientHandler) Me(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	profile, err := h.clients.Profile(c.Request.Context(), clientID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// UpdateMe godoc
// @Summary Update own client profile
// @Tags Profile
// @Accept json
// @Produce json
// @Param payload body models.UpdateProfileRequest true "Profile fields"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /me [put]
func (h *ClientHandler) UpdateMe(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	var req models.UpdateProfileRequest
	if !bindJSON(c, &req, "invalid profile payload") {
		return
	}
	profile, err := h.clients.UpdateProfile(c.Request.Context(), clientID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// DeleteMe godoc
// @Summary Delete own account
// @Description Archives the client with its documents and reports, then removes the login
// @Tags Profile
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /me [delete]
func (h *ClientHandler) DeleteMe(c *gin.Context) {
	claims, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	job, err := h.accounts.DeleteAccount(c.Request.Context(), clientID, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ArchivalResponse{Job: job}, nil)
}

// List godoc
// @Summary List clients
// @Tags Staff
// @Produce json
// @Param search query string false "Name, company or e-mail"
// @Param subscription_status query string false "Subscription status"
// @Param onboarding_status query string false "Onboarding status"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /staff/clients [get]
func (h *ClientHandler) List(c *gin.Context) {
	filter := models.ClientFilter{
		Search:             strings.TrimSpace(c.Query("search")),
		SubscriptionStatus: models.SubscriptionStatus(strings.TrimSpace(c.Query("subscription_status"))),
		OnboardingStatus:   models.OnboardingStatus(strings.TrimSpace(c.Query("onboarding_status"))),
		Page:               queryInt(c, "page", 1),
		PageSize:           queryInt(c, "page_size", 20),
	}
	clients, pagination, err := h.clients.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, clients, pagination)
}

// Get godoc
// @Summary Get a client
// @Tags Staff
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /staff/clients/{id} [get]
func (h *ClientHandler) Get(c *gin.Context) {
	profile, err := h.clients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}
