package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/pkg/breaker"
	"github.com/noah-isme/client-portal-api/pkg/config"
)

// StripeGateway implements Gateway on top of stripe-go.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	breaker       *breaker.Breaker
	logger        *zap.Logger
}

// NewStripeGateway builds a gateway. Missing keys are reported per call rather
// than at start-up so the rest of the portal keeps serving.
func NewStripeGateway(cfg config.StripeConfig, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &StripeGateway{
		webhookSecret: cfg.WebhookSecret,
		breaker:       breaker.New("stripe", logger),
		logger:        logger,
	}
	if cfg.SecretKey != "" {
		g.api = client.New(cfg.SecretKey, nil)
	}
	return g
}

// CreateCheckoutSession opens a subscription checkout and returns its redirect URL.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	if g.api == nil {
		return "", ErrNotConfigured
	}
	if req.PriceID == "" {
		return "", fmt.Errorf("price id missing for plan %s", req.PlanID)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.ClientID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataClientID: req.ClientID,
				MetadataPlanID:   req.PlanID,
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataClientID, req.ClientID)
	params.AddMetadata(MetadataPlanID, req.PlanID)
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(req.TrialDays)
	}

	var session *stripe.CheckoutSession
	err := g.breaker.Do(func() error {
		var callErr error
		session, callErr = g.api.CheckoutSessions.New(params)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return session.URL, nil
}

// CreatePortalSession opens the hosted billing portal for a customer.
func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if g.api == nil {
		return "", ErrNotConfigured
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	var session *stripe.BillingPortalSession
	err := g.breaker.Do(func() error {
		var callErr error
		session, callErr = g.api.BillingPortalSessions.New(params)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return session.URL, nil
}

// GetSubscription fetches one subscription by id.
func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if g.api == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	var sub *stripe.Subscription
	err := g.breaker.Do(func() error {
		var callErr error
		sub, callErr = g.api.Subscriptions.Get(subscriptionID, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return convertSubscription(sub), nil
}

// LatestSubscription returns the most recently created subscription of a customer.
func (g *StripeGateway) LatestSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	if g.api == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	var latest *stripe.Subscription
	err := g.breaker.Do(func() error {
		iter := g.api.Subscriptions.List(params)
		for iter.Next() {
			sub := iter.Subscription()
			if latest == nil || sub.Created > latest.Created {
				latest = sub
			}
		}
		return iter.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if latest == nil {
		return nil, ErrNoSubscription
	}
	return convertSubscription(latest), nil
}

// UpdateSubscriptionMetadata merges metadata into the processor subscription.
func (g *StripeGateway) UpdateSubscriptionMetadata(ctx context.Context, subscriptionID string, metadata map[string]string) error {
	if g.api == nil {
		return ErrNotConfigured
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	err := g.breaker.Do(func() error {
		_, callErr := g.api.Subscriptions.Update(subscriptionID, params)
		return callErr
	})
	if err != nil {
		return fmt.Errorf("update subscription metadata: %w", err)
	}
	return nil
}

// CustomerEmail returns the billing e-mail stored on the customer.
func (g *StripeGateway) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if g.api == nil {
		return "", ErrNotConfigured
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx

	var cust *stripe.Customer
	err := g.breaker.Do(func() error {
		var callErr error
		cust, callErr = g.api.Customers.Get(customerID, params)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("get customer: %w", err)
	}
	return cust.Email, nil
}

// ParseWebhook verifies the signature header and decodes the event body.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if g.webhookSecret == "" {
		return nil, ErrNotConfigured
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return convertEvent(evt)
}

func convertEvent(evt stripe.Event) (*Event, error) {
	out := &Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Created: time.Unix(evt.Created, 0).UTC(),
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Checkout = convertCheckout(&session)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		out.Subscription = convertSubscription(&sub)
	case EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		out.Invoice = &Invoice{ID: inv.ID}
		if inv.Customer != nil {
			out.Invoice.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			out.Invoice.SubscriptionID = inv.Subscription.ID
		}
	}
	return out, nil
}

func convertCheckout(session *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            session.ID,
		Mode:          string(session.Mode),
		CustomerEmail: session.CustomerEmail,
		Metadata:      session.Metadata,
	}
	if session.Customer != nil {
		out.CustomerID = session.Customer.ID
		if out.CustomerEmail == "" {
			out.CustomerEmail = session.Customer.Email
		}
	}
	if session.Subscription != nil {
		out.SubscriptionID = session.Subscription.ID
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		out.CustomerEmail = session.CustomerDetails.Email
	}
	return out
}

func convertSubscription(sub *stripe.Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
		StartedAt:         unixPtr(sub.StartDate),
		TrialEnd:          unixPtr(sub.TrialEnd),
		CurrentPeriodEnd:  unixPtr(sub.CurrentPeriodEnd),
		CanceledAt:        unixPtr(sub.CanceledAt),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			out.PriceID = item.Price.ID
			out.UnitAmount = item.Price.UnitAmount
			break
		}
	}
	return out
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

// IsSignatureError reports whether err came from webhook verification.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}
