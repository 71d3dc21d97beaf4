package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/dto"
	"github.com/noah-isme/client-portal-api/internal/service"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/response"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodyBytes   = 1 << 20
)

type webhookReconciler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (service.ReconcileOutcome, error)
}

// WebhookHandler receives payment processor deliveries.
type WebhookHandler struct {
	reconciler webhookReconciler
	logger     *zap.Logger
}

// NewWebhookHandler constructs the handler.
func NewWebhookHandler(reconciler webhookReconciler, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{reconciler: reconciler, logger: logger}
}

// Stripe godoc
// @Summary Receive payment processor webhook
// @Description Verifies the signature and reconciles the event into client subscription state. Non-2xx answers ask the processor to retry.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Webhook signature"
// @Success 200 {object} dto.WebhookAck
// @Failure 400 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read webhook body"))
		return
	}

	outcome, err := h.reconciler.HandleWebhook(c.Request.Context(), payload, c.GetHeader(stripeSignatureHeader))
	if err != nil {
		appErr := appErrors.FromError(err)
		if appErr.Status >= http.StatusInternalServerError {
			h.logger.Error("webhook processing failed", zap.String("code", appErr.Code), zap.Error(err))
		} else {
			h.logger.Warn("webhook rejected", zap.String("code", appErr.Code), zap.Error(err))
		}
		response.Error(c, appErr)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookAck{Received: true, Outcome: string(outcome)})
}
