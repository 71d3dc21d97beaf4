package payments

import (
	"context"
	"errors"
	"time"
)

// Supported processor event types.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	CheckoutModeSubscription  = "subscription"
	MetadataClientID          = "client_id"
	MetadataPlanID            = "plan_id"
)

var (
	// ErrNotConfigured is returned when credentials for the processor are missing.
	ErrNotConfigured = errors.New("payment processor not configured")
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrNoSubscription is returned when a customer has no subscription on file.
	ErrNoSubscription = errors.New("no subscription found")
)

// Gateway is the payment processor surface used by billing and reconciliation.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	LatestSubscription(ctx context.Context, customerID string) (*Subscription, error)
	UpdateSubscriptionMetadata(ctx context.Context, subscriptionID string, metadata map[string]string) error
	CustomerEmail(ctx context.Context, customerID string) (string, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// CheckoutRequest describes a subscription checkout for one client.
type CheckoutRequest struct {
	ClientID      string
	PlanID        string
	PriceID       string
	CustomerID    string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	TrialDays     int64
}

// Event is a verified processor event reduced to the fields the portal reads.
type Event struct {
	ID           string
	Type         string
	Created      time.Time
	Checkout     *CheckoutSession
	Subscription *Subscription
	Invoice      *Invoice
}

// CheckoutSession is the payload of a completed checkout.
type CheckoutSession struct {
	ID             string
	Mode           string
	CustomerID     string
	SubscriptionID string
	CustomerEmail  string
	Metadata       map[string]string
}

// Subscription mirrors the processor's subscription object.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	Metadata          map[string]string
	PriceID           string
	UnitAmount        int64
	StartedAt         *time.Time
	TrialEnd          *time.Time
	CurrentPeriodEnd  *time.Time
	CanceledAt        *time.Time
}

// Invoice is the payload of invoice events.
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
}
