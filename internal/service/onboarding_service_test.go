package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/events"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

func (s *stubClientStore) UpdateAccountingInfo(ctx context.Context, id, encoded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.AccountingInfo = &encoded
	return nil
}

func (s *stubClientStore) SetOnboardingStep(ctx context.Context, id string, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.OnboardingStep = step
	return nil
}

func (s *stubClientStore) SelectPlan(ctx context.Context, id, plan string, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.SubscriptionPlan = &plan
	c.OnboardingStep = step
	return nil
}

func (s *stubClientStore) CompleteOnboarding(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.OnboardingStatus = models.OnboardingCompleted
	c.OnboardingStep = models.OnboardingStepReview
	if c.OnboardingCompletedAt == nil {
		c.OnboardingCompletedAt = &at
	}
	return nil
}

type stubCheckout struct {
	url   string
	plans []string
}

func (s *stubCheckout) CreateCheckout(ctx context.Context, clientID, planID string) (string, error) {
	s.plans = append(s.plans, planID)
	return s.url, nil
}

type onboardingFixture struct {
	svc      *OnboardingService
	clients  *stubClientStore
	docs     *DocumentService
	checkout *stubCheckout
	notifier *recordingNotifier
}

func newOnboardingFixture(client *models.Client) onboardingFixture {
	clients := newStubClientStore(client)
	docs, _, _ := newDocumentFixture()
	checkout := &stubCheckout{url: "https://checkout.test/cs_1"}
	notifier := &recordingNotifier{}
	catalog := models.NewPlanCatalog(map[string]string{"growth": "price_growth"})
	svc := NewOnboardingService(clients, docs, checkout, catalog, notifier, nil, nil)
	return onboardingFixture{svc: svc, clients: clients, docs: docs, checkout: checkout, notifier: notifier}
}

func newOnboardingClient() *models.Client {
	return &models.Client{
		ID:                 "c1",
		UserID:             "u1",
		Name:               "Acme",
		SubscriptionStatus: models.SubscriptionNone,
		OnboardingStatus:   models.OnboardingPending,
		OnboardingStep:     models.OnboardingStepDocuments,
	}
}

func TestOnboardingStateCreatesChecklist(t *testing.T) {
	f := newOnboardingFixture(newOnboardingClient())

	state, err := f.svc.State(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingStepDocuments, state.Step)
	assert.Len(t, state.Documents, 3)
	assert.Equal(t, 2, state.Gate.Missing)
	assert.False(t, state.PaymentComplete)
	assert.Equal(t, models.AccountingInfoStructured, state.AccountingInfo.Kind)
}

func TestOnboardingDocumentGateReportsMissing(t *testing.T) {
	f := newOnboardingFixture(newOnboardingClient())
	ctx := context.Background()

	_, err := f.svc.UploadDocument(ctx, "c1", "bank_statement", pdfUpload("b.pdf", "b"), "u1")
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, "c1", models.OnboardingStepAccounting)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrOnboardingIncomplete.Code, appErr.Code)
	assert.Equal(t, 1, appErr.Details["missing"])

	_, err = f.svc.UploadDocument(ctx, "c1", "tax_return", pdfUpload("t.pdf", "t"), "u1")
	require.NoError(t, err)
	state, err := f.svc.Advance(ctx, "c1", models.OnboardingStepAccounting)
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingStepAccounting, state.Step)
}

func TestOnboardingStepsCannotBeSkipped(t *testing.T) {
	f := newOnboardingFixture(newOnboardingClient())

	_, err := f.svc.Advance(context.Background(), "c1", models.OnboardingStepPlan)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	_, err = f.svc.Advance(context.Background(), "c1", 7)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestOnboardingAccountingGuard(t *testing.T) {
	client := newOnboardingClient()
	client.OnboardingStep = models.OnboardingStepAccounting
	f := newOnboardingFixture(client)
	ctx := context.Background()

	_, err := f.svc.Advance(ctx, "c1", models.OnboardingStepPlan)
	assert.True(t, errors.Is(err, appErrors.ErrOnboardingIncomplete))

	_, err = f.svc.UpdateAccountingInfo(ctx, "c1", models.AccountingInfoRequest{CompanyName: "  "})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	info, err := f.svc.UpdateAccountingInfo(ctx, "c1", models.AccountingInfoRequest{System: "QuickBooks", CompanyName: "Acme LLC", Email: "N/A"})
	require.NoError(t, err)
	assert.Equal(t, models.AccountingInfoVersion, info.Version)

	state, err := f.svc.Advance(ctx, "c1", models.OnboardingStepPlan)
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingStepPlan, state.Step)
	assert.Equal(t, "Acme LLC", state.AccountingInfo.CompanyName)
}

func TestOnboardingSelectPlanWithCheckout(t *testing.T) {
	client := newOnboardingClient()
	client.OnboardingStep = models.OnboardingStepPlan
	f := newOnboardingFixture(client)
	ctx := context.Background()

	_, err := f.svc.SelectPlan(ctx, "c1", "platinum")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	sel, err := f.svc.SelectPlan(ctx, "c1", "Growth")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/cs_1", sel.CheckoutURL)
	assert.Equal(t, models.OnboardingStepPlan, sel.Step)
	assert.Equal(t, []string{"growth"}, f.checkout.plans)

	state, err := f.svc.CheckoutReturn(ctx, "c1", "cancel")
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingStepPlan, state.Step)

	state, err = f.svc.CheckoutReturn(ctx, "c1", "success")
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingStepReview, state.Step)

	_, err = f.svc.CheckoutReturn(ctx, "c1", "maybe")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestOnboardingSelectPlanBypass(t *testing.T) {
	client := newOnboardingClient()
	client.OnboardingStep = models.OnboardingStepPlan
	client.BypassPayment = true
	client.SubscriptionStatus = models.SubscriptionActive
	f := newOnboardingFixture(client)

	sel, err := f.svc.SelectPlan(context.Background(), "c1", "starter")
	require.NoError(t, err)
	assert.Empty(t, sel.CheckoutURL)
	assert.Equal(t, models.OnboardingStepReview, sel.Step)
	assert.Empty(t, f.checkout.plans)

	stored, _ := f.clients.GetByID(context.Background(), "c1")
	assert.Equal(t, "starter", stored.Plan())
	assert.Equal(t, models.OnboardingStepReview, stored.OnboardingStep)
}

func TestOnboardingSelectPlanRequiresPlanStep(t *testing.T) {
	f := newOnboardingFixture(newOnboardingClient())
	_, err := f.svc.SelectPlan(context.Background(), "c1", "growth")
	assert.True(t, errors.Is(err, appErrors.ErrOnboardingIncomplete))
}

func TestOnboardingCompleteRevalidatesDocuments(t *testing.T) {
	client := newOnboardingClient()
	client.OnboardingStep = models.OnboardingStepReview
	client.SubscriptionPlan = strPtr("growth")
	client.SubscriptionStatus = models.SubscriptionActive
	f := newOnboardingFixture(client)
	ctx := context.Background()

	_, err := f.svc.Complete(ctx, "c1")
	require.Error(t, err)
	assert.Equal(t, 2, appErrors.FromError(err).Details["missing"])
	assert.Empty(t, f.notifier.published)

	for _, typ := range []string{"bank_statement", "tax_return"} {
		_, err := f.svc.UploadDocument(ctx, "c1", typ, pdfUpload(typ+".pdf", typ), "u1")
		require.NoError(t, err)
	}

	state, err := f.svc.Complete(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingCompleted, state.Status)
	require.NotNil(t, state.CompletedAt)
	assert.Equal(t, []string{events.OnboardingCompleted + ":c1"}, f.notifier.published)

	again, err := f.svc.Complete(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingCompleted, again.Status)
	assert.Len(t, f.notifier.published, 1)

	_, err = f.svc.Advance(ctx, "c1", models.OnboardingStepDocuments)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
}

func TestOnboardingUnknownClient(t *testing.T) {
	f := newOnboardingFixture(newOnboardingClient())
	_, err := f.svc.State(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
