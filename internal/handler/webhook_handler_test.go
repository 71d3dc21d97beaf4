package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/internal/service"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

type reconcilerStub struct {
	payload   []byte
	signature string
	outcome   service.ReconcileOutcome
	err       error
}

func (r *reconcilerStub) HandleWebhook(_ context.Context, payload []byte, signature string) (service.ReconcileOutcome, error) {
	r.payload = payload
	r.signature = signature
	return r.outcome, r.err
}

func TestWebhookAcknowledgesProcessedEvent(t *testing.T) {
	stub := &reconcilerStub{outcome: service.OutcomeProcessed}
	h := NewWebhookHandler(stub, nil)

	c, w := newGinContext(http.MethodPost, "/webhooks/stripe", []byte(`{"id":"evt_1"}`))
	c.Request.Header.Set("Stripe-Signature", "t=1,v1=abc")
	h.Stripe(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true,"outcome":"processed"}`, w.Body.String())
	assert.Equal(t, `{"id":"evt_1"}`, string(stub.payload))
	assert.Equal(t, "t=1,v1=abc", stub.signature)
}

func TestWebhookStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"bad signature", appErrors.Clone(appErrors.ErrWebhookSignature, ""), http.StatusBadRequest},
		{"not configured", appErrors.Clone(appErrors.ErrWebhookUnconfigured, ""), http.StatusInternalServerError},
		{"database failure", appErrors.Clone(appErrors.ErrInternal, "failed to apply subscription"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewWebhookHandler(&reconcilerStub{outcome: service.OutcomeFailed, err: tc.err}, nil)
			c, w := newGinContext(http.MethodPost, "/webhooks/stripe", []byte(`{}`))
			h.Stripe(c)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
