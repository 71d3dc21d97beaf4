package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/client-portal-api/internal/dto"
	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/internal/service"
	"github.com/noah-isme/client-portal-api/pkg/response"
)

type onboardingService interface {
	State(ctx context.Context, clientID string) (*models.OnboardingState, error)
	Advance(ctx context.Context, clientID string, step int) (*models.OnboardingState, error)
	UploadDocument(ctx context.Context, clientID, docType string, upload *service.FileUpload, uploaderID string) (*models.RequiredDocument, error)
	RemoveDocument(ctx context.Context, clientID, docType string) error
	UpdateAccountingInfo(ctx context.Context, clientID string, req models.AccountingInfoRequest) (*models.AccountingInfo, error)
	SelectPlan(ctx context.Context, clientID, planID string) (*models.PlanSelection, error)
	CheckoutReturn(ctx context.Context, clientID, result string) (*models.OnboardingState, error)
	Complete(ctx context.Context, clientID string) (*models.OnboardingState, error)
}

// OnboardingHandler drives the client onboarding wizard.
type OnboardingHandler struct {
	service onboardingService
}

// NewOnboardingHandler constructs the handler.
func NewOnboardingHandler(svc onboardingService) *OnboardingHandler {
	return &OnboardingHandler{service: svc}
}

// State godoc
// @Summary Get onboarding state
// @Tags Onboarding
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /onboarding [get]
func (h *OnboardingHandler) State(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	state, err := h.service.State(c.Request.Context(), clientID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// Advance godoc
// @Summary Move to an onboarding step
// @Description Forward moves are limited to the next step and require the current step to be complete
// @Tags Onboarding
// @Accept json
// @Produce json
// @Param payload body dto.AdvanceOnboardingRequest true "Target step"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /onboarding/advance [post]
func (h *OnboardingHandler) Advance(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	var req dto.AdvanceOnboardingRequest
	if !bindJSON(c, &req, "invalid step") {
		return
	}
	state, err := h.service.Advance(c.Request.Context(), clientID, req.Step)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// UploadDocument godoc
// @Summary Upload a required document
// @Description Replaces any earlier upload for the same document type
// @Tags Onboarding
// @Accept multipart/form-data
// @Produce json
// @Param type path string true "Document type"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /onboarding/documents/{type} [post]
func (h *OnboardingHandler) UploadDocument(c *gin.Context) {
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

	slot, err := h.service.UploadDocument(c.Request.Context(), clientID, c.Param("type"), upload, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// RemoveDocument godoc
// @Summary Remove a required document upload
// @Tags Onboarding
// @Param type path string true "Document type"
// @Success 204
// @Router /onboarding/documents/{type} [delete]
func (h *OnboardingHandler) RemoveDocument(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	if err := h.service.RemoveDocument(c.Request.Context(), clientID, c.Param("type")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateAccounting godoc
// @Summary Save accounting system details
// @Tags Onboarding
// @Accept json
// @Produce json
// @Param payload body models.AccountingInfoRequest true "Accounting info"
// @Success 200 {object} response.Envelope
// @Router /onboarding/accounting [put]
func (h *OnboardingHandler) UpdateAccounting(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	var req models.AccountingInfoRequest
	if !bindJSON(c, &req, "invalid accounting info") {
		return
	}
	info, err := h.service.UpdateAccountingInfo(c.Request.Context(), clientID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}

// SelectPlan godoc
// @Summary Choose a subscription plan
// @Description Returns a checkout URL, or records the plan directly when payment is waived
// @Tags Onboarding
// @Accept json
// @Produce json
// @Param payload body dto.SelectPlanRequest true "Plan"
// @Success 200 {object} response.Envelope
// @Router /onboarding/plan [post]
func (h *OnboardingHandler) SelectPlan(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	var req dto.SelectPlanRequest
	if !bindJSON(c, &req, "plan is required") {
		return
	}
	selection, err := h.service.SelectPlan(c.Request.Context(), clientID, req.PlanID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, selection, nil)
}

// CheckoutReturn godoc
// @Summary Record the checkout outcome
// @Tags Onboarding
// @Accept json
// @Produce json
// @Param payload body dto.CheckoutReturnRequest true "Checkout result"
// @Success 200 {object} response.Envelope
// @Router /onboarding/checkout-return [post]
func (h *OnboardingHandler) CheckoutReturn(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	var req dto.CheckoutReturnRequest
	if !bindJSON(c, &req, "result must be success or cancel") {
		return
	}
	state, err := h.service.CheckoutReturn(c.Request.Context(), clientID, req.Result)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// Complete godoc
// @Summary Finish onboarding
// @Tags Onboarding
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /onboarding/complete [post]
func (h *OnboardingHandler) Complete(c *gin.Context) {
	_, clientID, ok := requireClient(c)
	if !ok {
		return
	}
	state, err := h.service.Complete(c.Request.Context(), clientID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}
