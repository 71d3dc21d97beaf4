package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/client-portal-api/internal/dto"
	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/response"
)

type billingService interface {
	Plans() []models.Plan
	CreateCheckout(ctx context.Context, clientID, planID string) (string, error)
	CreatePortal(ctx context.Context, clientID string) (string, error)
	Sync(ctx context.Context, clientID, actorID string) (*models.Client, error)
}

// BillingHandler exposes the plan catalog and payment processor redirects.
type BillingHandler struct {
	service billingService
}

// NewBillingHandler constructs the handler.
func NewBillingHandler(svc billingService) *BillingHandler {
	return &BillingHandler{service: svc}
}

// Plans godoc
// @Summary List subscription plans
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /plans [get]
func (h *BillingHandler) Plans(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Plans(), nil)
}

// Checkout godoc
// @Summary Open a subscription checkout
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body dto.SelectPlanRequest true "Plan"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /billing/checkout [post]
func (h *BillingHandler) Checkout(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	var req dto.SelectPlanRequest
	if !bindJSON(c, &req, "plan is required") {
		return
	}
	url, err := h.service.CreateCheckout(c.Request.Context(), clientID, req.PlanID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RedirectResponse{URL: url}, nil)
}

// Portal godoc
// @Summary Open the billing portal
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /billing/portal [post]
func (h *BillingHandler) Portal(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	url, err := h.service.CreatePortal(c.Request.Context(), clientID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RedirectResponse{URL: url}, nil)
}

// Sync godoc
// @Summary Re-read subscription state from the payment processor
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /billing/sync [post]
func (h *BillingHandler) Sync(c *gin.Context) {
	claims, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	h.sync(c, clientID, claims.UserID)
}

// StaffSync godoc
// @Summary Re-read a client's subscription state from the payment processor
// @Tags Staff
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} response.Envelope
// @Router /staff/clients/{id}/billing/sync [post]
func (h *BillingHandler) StaffSync(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	h.sync(c, c.Param("id"), claims.UserID)
}

func (h *BillingHandler) sync(c *gin.Context, clientID, actorID string) {
	client, err := h.service.Sync(c.Request.Context(), clientID, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, client, nil)
}
