package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/config"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/payments"
)

func newBillingFixture(client *models.Client) (*BillingService, *stubGateway) {
	gw := &stubGateway{checkoutURL: "https://checkout.test/s/1", portalURL: "https://billing.test/p/1"}
	cfg := config.StripeConfig{
		SuccessURL:      "https://portal.test/onboarding?checkout=success",
		CancelURL:       "https://portal.test/onboarding?checkout=cancel",
		PortalReturnURL: "https://portal.test/billing",
		PriceIDs:        map[string]string{models.PlanGrowth: "price_growth"},
	}
	svc := NewBillingService(newStubClientStore(client), gw, nil, nil, cfg, nil)
	return svc, gw
}

func TestCreateCheckoutCarriesTrialAndMetadata(t *testing.T) {
	client := trialingClient()
	now := time.Date(2024, 1, 29, 12, 0, 0, 0, time.UTC)
	svc, gw := newBillingFixture(client)
	svc.now = func() time.Time { return now }

	url, err := svc.CreateCheckout(context.Background(), "c1", "growth")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/s/1", url)
	assert.Equal(t, "c1", gw.checkoutReq.ClientID)
	assert.Equal(t, "growth", gw.checkoutReq.PlanID)
	assert.Equal(t, "price_growth", gw.checkoutReq.PriceID)
	assert.Equal(t, "owner@acme.test", gw.checkoutReq.CustomerEmail)
	assert.Equal(t, int64(3), gw.checkoutReq.TrialDays)
}

func TestCreateCheckoutRejectsUnknownOrUnpricedPlan(t *testing.T) {
	svc, _ := newBillingFixture(trialingClient())

	_, err := svc.CreateCheckout(context.Background(), "c1", "enterprise")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.CreateCheckout(context.Background(), "c1", "starter")
	assert.True(t, errors.Is(err, appErrors.ErrPaymentProvider))
}

func TestCreatePortalRequiresCustomer(t *testing.T) {
	client := trialingClient()
	svc, gw := newBillingFixture(client)

	_, err := svc.CreatePortal(context.Background(), "c1")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	client.StripeCustomerID = strPtr("cus_1")
	url, err := svc.CreatePortal(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.test/p/1", url)

	gw.callErr = payments.ErrNotConfigured
	_, err = svc.CreatePortal(context.Background(), "c1")
	assert.True(t, errors.Is(err, appErrors.ErrPaymentProvider))
}
