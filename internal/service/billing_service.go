package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/config"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/payments"
)

type billingClientReader interface {
	GetByID(ctx context.Context, id string) (*models.Client, error)
}

type billingGateway interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

type subscriptionSyncer interface {
	Sync(ctx context.Context, clientID, actorID string) (*models.Client, error)
}

// BillingService opens processor-hosted checkout and portal sessions.
type BillingService struct {
	clients billingClientReader
	gateway billingGateway
	syncer  subscriptionSyncer
	catalog *models.PlanCatalog
	cfg     config.StripeConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewBillingService constructs the billing service.
func NewBillingService(clients billingClientReader, gateway billingGateway, syncer subscriptionSyncer, catalog *models.PlanCatalog, cfg config.StripeConfig, logger *zap.Logger) *BillingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog == nil {
		catalog = models.NewPlanCatalog(cfg.PriceIDs)
	}
	return &BillingService{
		clients: clients,
		gateway: gateway,
		syncer:  syncer,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Plans returns the catalog.
func (s *BillingService) Plans() []models.Plan {
	return s.catalog.All()
}

// CreateCheckout opens a subscription checkout for the client and returns its URL.
func (s *BillingService) CreateCheckout(ctx context.Context, clientID, planID string) (string, error) {
	plan, ok := s.catalog.Lookup(planID)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown plan")
	}
	if plan.StripePrice == "" {
		return "", appErrors.Clone(appErrors.ErrPaymentProvider, "plan is not available for checkout")
	}
	client, err := s.loadClient(ctx, clientID)
	if err != nil {
		return "", err
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		ClientID:      client.ID,
		PlanID:        plan.ID,
		PriceID:       plan.StripePrice,
		CustomerID:    client.CustomerID(),
		CustomerEmail: client.ContactEmail,
		SuccessURL:    s.cfg.SuccessURL,
		CancelURL:     s.cfg.CancelURL,
		TrialDays:     s.remainingTrialDays(client),
	})
	if err != nil {
		return "", s.providerError(err, "failed to create checkout session")
	}
	s.logger.Info("checkout session created", zap.String("client_id", client.ID), zap.String("plan", plan.ID))
	return url, nil
}

// CreatePortal opens the hosted billing portal for the client's customer.
func (s *BillingService) CreatePortal(ctx context.Context, clientID string) (string, error) {
	client, err := s.loadClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	customerID := client.CustomerID()
	if customerID == "" {
		return "", appErrors.Clone(appErrors.ErrPreconditionFailed, "no billing account on file")
	}
	url, err := s.gateway.CreatePortalSession(ctx, customerID, s.cfg.PortalReturnURL)
	if err != nil {
		return "", s.providerError(err, "failed to create billing portal session")
	}
	return url, nil
}

// Sync pulls the processor's current subscription into the client row.
func (s *BillingService) Sync(ctx context.Context, clientID, actorID string) (*models.Client, error) {
	return s.syncer.Sync(ctx, clientID, actorID)
}

func (s *BillingService) loadClient(ctx context.Context, clientID string) (*models.Client, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
	}
	return client, nil
}

// remainingTrialDays carries an in-progress trial into checkout, rounded up.
func (s *BillingService) remainingTrialDays(client *models.Client) int64 {
	if client.SubscriptionStatus != models.SubscriptionTrialing || client.TrialEnd == nil {
		return 0
	}
	left := client.TrialEnd.Sub(s.now())
	if left <= 0 {
		return 0
	}
	return int64(math.Ceil(left.Hours() / 24))
}

func (s *BillingService) providerError(err error, message string) error {
	if errors.Is(err, payments.ErrNotConfigured) {
		return appErrors.Clone(appErrors.ErrPaymentProvider, "payment processor not configured")
	}
	s.logger.Warn(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrPaymentProvider.Code, appErrors.ErrPaymentProvider.Status, message)
}
