package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/models"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/payments"
)

// ReconcileOutcome describes what happened to one processor event.
type ReconcileOutcome string

const (
	OutcomeProcessed ReconcileOutcome = "processed"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeStale     ReconcileOutcome = "stale"
	OutcomeIgnored   ReconcileOutcome = "ignored"
	OutcomeFailed    ReconcileOutcome = "failed"
)

type reconcilerClientRepository interface {
	GetByID(ctx context.Context, id string) (*models.Client, error)
	GetByCustomerID(ctx context.Context, customerID string) (*models.Client, error)
	FindByBillingEmail(ctx context.Context, email string) (*models.Client, error)
	ApplySubscription(ctx context.Context, upd models.SubscriptionUpdate) (bool, error)
}

type webhookEventStore interface {
	Claim(ctx context.Context, id, eventType string, createdAt time.Time) (bool, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkIgnored(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

type keyLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type reconcilerGateway interface {
	ParseWebhook(payload []byte, signature string) (*payments.Event, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*payments.Subscription, error)
	LatestSubscription(ctx context.Context, customerID string) (*payments.Subscription, error)
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

type subscriptionNotifier interface {
	NotifySubscriptionChange(ctx context.Context, client *models.Client, change SubscriptionChange)
	BackfillSubscriptionMetadata(ctx context.Context, subscriptionID string, metadata map[string]string)
}

type webhookMetrics interface {
	RecordWebhook(eventType, outcome string, duration time.Duration)
	ObserveLockWait(duration time.Duration)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SubscriptionReconciler maps processor events onto client subscription state.
// Events are claimed by id, serialized per customer and applied only when they
// are newer than the last applied event.
type SubscriptionReconciler struct {
	clients  reconcilerClientRepository
	events   webhookEventStore
	locker   keyLocker
	gateway  reconcilerGateway
	catalog  *models.PlanCatalog
	notifier subscriptionNotifier
	metrics  webhookMetrics
	audit    auditWriter
	logger   *zap.Logger
	now      func() time.Time
}

// NewSubscriptionReconciler constructs the reconciler.
func NewSubscriptionReconciler(clients reconcilerClientRepository, events webhookEventStore, locker keyLocker, gateway reconcilerGateway, catalog *models.PlanCatalog, notifier subscriptionNotifier, metrics webhookMetrics, audit auditWriter, logger *zap.Logger) *SubscriptionReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog == nil {
		catalog = models.NewPlanCatalog(nil)
	}
	return &SubscriptionReconciler{
		clients:  clients,
		events:   events,
		locker:   locker,
		gateway:  gateway,
		catalog:  catalog,
		notifier: notifier,
		metrics:  metrics,
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleWebhook verifies and reconciles one webhook delivery.
func (s *SubscriptionReconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (ReconcileOutcome, error) {
	evt, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrNotConfigured) {
			return OutcomeFailed, appErrors.Clone(appErrors.ErrWebhookUnconfigured, "")
		}
		if payments.IsSignatureError(err) {
			return OutcomeFailed, appErrors.Wrap(err, appErrors.ErrWebhookSignature.Code, appErrors.ErrWebhookSignature.Status, appErrors.ErrWebhookSignature.Message)
		}
		return OutcomeFailed, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid webhook payload")
	}
	return s.Reconcile(ctx, evt)
}

// Reconcile applies a verified event exactly once.
func (s *SubscriptionReconciler) Reconcile(ctx context.Context, evt *payments.Event) (outcome ReconcileOutcome, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordWebhook(evt.Type, string(outcome), time.Since(start))
		}
	}()

	claimed, err := s.events.Claim(ctx, evt.ID, evt.Type, evt.Created)
	if err != nil {
		return OutcomeFailed, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record webhook event")
	}
	if !claimed {
		s.logger.Info("duplicate webhook event acknowledged", zap.String("event_id", evt.ID), zap.String("type", evt.Type))
		return OutcomeDuplicate, nil
	}

	switch evt.Type {
	case payments.EventCheckoutCompleted:
		outcome, err = s.applyCheckout(ctx, evt)
	case payments.EventSubscriptionCreated, payments.EventSubscriptionUpdated, payments.EventSubscriptionDeleted:
		outcome, err = s.applySubscriptionEvent(ctx, evt)
	case payments.EventInvoicePaymentFailed:
		outcome, err = s.applyPaymentFailed(ctx, evt)
	default:
		s.logger.Info("ignoring unsupported webhook event", zap.String("event_id", evt.ID), zap.String("type", evt.Type))
		outcome = OutcomeIgnored
	}

	if err != nil {
		if markErr := s.events.MarkFailed(ctx, evt.ID, err); markErr != nil {
			s.logger.Warn("failed to mark webhook event failed", zap.String("event_id", evt.ID), zap.Error(markErr))
		}
		s.logger.Error("webhook reconciliation failed", zap.String("event_id", evt.ID), zap.String("type", evt.Type), zap.Error(err))
		return OutcomeFailed, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reconcile webhook event")
	}

	finish := s.events.MarkProcessed
	if outcome == OutcomeIgnored {
		finish = s.events.MarkIgnored
	}
	if err := finish(ctx, evt.ID); err != nil {
		s.logger.Warn("failed to finalise webhook event", zap.String("event_id", evt.ID), zap.Error(err))
	}
	return outcome, nil
}

func (s *SubscriptionReconciler) applyCheckout(ctx context.Context, evt *payments.Event) (ReconcileOutcome, error) {
	cs := evt.Checkout
	if cs == nil || cs.Mode != payments.CheckoutModeSubscription {
		return OutcomeIgnored, nil
	}

	clientID := cs.Metadata[payments.MetadataClientID]
	planID := cs.Metadata[payments.MetadataPlanID]
	missingMetadata := clientID == "" || planID == ""

	client, err := s.findCheckoutClient(ctx, cs, clientID)
	if err != nil {
		return OutcomeFailed, err
	}
	if client == nil {
		s.logger.Warn("checkout completed for unknown client", zap.String("event_id", evt.ID), zap.String("customer_id", cs.CustomerID))
		return OutcomeIgnored, nil
	}

	if planID == "" && cs.SubscriptionID != "" && s.gateway != nil {
		if sub, subErr := s.gateway.GetSubscription(ctx, cs.SubscriptionID); subErr == nil {
			planID = s.resolvePlan(sub)
		} else {
			s.logger.Warn("failed to load subscription for plan inference", zap.String("subscription_id", cs.SubscriptionID), zap.Error(subErr))
		}
	}

	lockKey := cs.CustomerID
	if lockKey == "" {
		lockKey = "client:" + client.ID
	}
	unlock, err := s.lock(ctx, lockKey)
	if err != nil {
		return OutcomeFailed, err
	}
	defer unlock()

	current, err := s.clients.GetByID(ctx, client.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("reload client: %w", err)
	}

	status := models.SubscriptionActive
	upd := models.SubscriptionUpdate{
		ClientID:      current.ID,
		EventAt:       evt.Created,
		Status:        &status,
		ClearTrialEnd: true,
		StartedAt:     &evt.Created,
	}
	if planID != "" {
		upd.Plan = &planID
	}
	if cs.CustomerID != "" {
		upd.CustomerID = &cs.CustomerID
	}
	if cs.SubscriptionID != "" {
		upd.SubscriptionID = &cs.SubscriptionID
	}

	outcome, err := s.apply(ctx, current, upd, evt.ID)
	if err != nil || outcome != OutcomeProcessed {
		return outcome, err
	}

	if missingMetadata && s.notifier != nil && cs.SubscriptionID != "" {
		meta := map[string]string{payments.MetadataClientID: current.ID}
		if planID != "" {
			meta[payments.MetadataPlanID] = planID
		}
		s.notifier.BackfillSubscriptionMetadata(ctx, cs.SubscriptionID, meta)
	}
	return outcome, nil
}

func (s *SubscriptionReconciler) findCheckoutClient(ctx context.Context, cs *payments.CheckoutSession, clientID string) (*models.Client, error) {
	if clientID != "" {
		client, err := s.clients.GetByID(ctx, clientID)
		if err == nil {
			return client, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load checkout client: %w", err)
		}
	}

	email := cs.CustomerEmail
	if email == "" && cs.CustomerID != "" && s.gateway != nil {
		found, err := s.gateway.CustomerEmail(ctx, cs.CustomerID)
		if err != nil {
			s.logger.Warn("failed to load customer email", zap.String("customer_id", cs.CustomerID), zap.Error(err))
		}
		email = found
	}
	if email == "" {
		return nil, nil
	}
	client, err := s.clients.FindByBillingEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find client by billing email: %w", err)
	}
	return client, nil
}

func (s *SubscriptionReconciler) applySubscriptionEvent(ctx context.Context, evt *payments.Event) (ReconcileOutcome, error) {
	sub := evt.Subscription
	if sub == nil || sub.CustomerID == "" {
		return OutcomeIgnored, nil
	}
	status, ok := NormalizeSubscriptionStatus(sub.Status, sub.CancelAtPeriodEnd)
	if evt.Type == payments.EventSubscriptionDeleted {
		status, ok = models.SubscriptionCancelled, true
	}
	if !ok {
		s.logger.Info("ignoring subscription status", zap.String("event_id", evt.ID), zap.String("status", sub.Status))
		return OutcomeIgnored, nil
	}

	unlock, err := s.lock(ctx, sub.CustomerID)
	if err != nil {
		return OutcomeFailed, err
	}
	defer unlock()

	client, err := s.clientForSubscription(ctx, sub)
	if err != nil {
		return OutcomeFailed, err
	}
	if client == nil {
		s.logger.Warn("subscription event for unknown customer", zap.String("event_id", evt.ID), zap.String("customer_id", sub.CustomerID))
		return OutcomeIgnored, nil
	}

	if evt.Type != payments.EventSubscriptionCreated && supersededSubscription(client, sub.ID) {
		s.logger.Warn("ignoring event for superseded subscription",
			zap.String("event_id", evt.ID),
			zap.String("client_id", client.ID),
			zap.String("subscription_id", sub.ID))
		return OutcomeIgnored, nil
	}

	upd := s.subscriptionUpdate(client, sub, status, evt.Created)
	if evt.Type == payments.EventSubscriptionCreated && sub.StartedAt != nil {
		upd.StartedAt = sub.StartedAt
	}
	return s.apply(ctx, client, upd, evt.ID)
}

func (s *SubscriptionReconciler) subscriptionUpdate(client *models.Client, sub *payments.Subscription, status models.SubscriptionStatus, eventAt time.Time) models.SubscriptionUpdate {
	upd := models.SubscriptionUpdate{
		ClientID:   client.ID,
		EventAt:    eventAt,
		Status:     &status,
		CustomerID: &sub.CustomerID,
	}
	if sub.ID != "" {
		upd.SubscriptionID = &sub.ID
	}
	if planID := s.resolvePlan(sub); planID != "" {
		upd.Plan = &planID
	}
	switch {
	case status == models.SubscriptionTrialing && sub.TrialEnd != nil:
		upd.TrialEnd = sub.TrialEnd
	case status != models.SubscriptionTrialing:
		upd.ClearTrialEnd = true
	}
	if status == models.SubscriptionCancelled {
		cancelledAt := eventAt
		if sub.CanceledAt != nil {
			cancelledAt = *sub.CanceledAt
		}
		upd.CancelledAt = &cancelledAt
	}
	return upd
}

func (s *SubscriptionReconciler) clientForSubscription(ctx context.Context, sub *payments.Subscription) (*models.Client, error) {
	client, err := s.clients.GetByCustomerID(ctx, sub.CustomerID)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load client by customer: %w", err)
	}
	clientID := sub.Metadata[payments.MetadataClientID]
	if clientID == "" {
		return nil, nil
	}
	client, err = s.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load client by metadata: %w", err)
	}
	if existing := client.CustomerID(); existing != "" && existing != sub.CustomerID {
		s.logger.Warn("subscription metadata points at client bound to another customer",
			zap.String("client_id", client.ID), zap.String("customer_id", sub.CustomerID))
		return nil, nil
	}
	return client, nil
}

func (s *SubscriptionReconciler) applyPaymentFailed(ctx context.Context, evt *payments.Event) (ReconcileOutcome, error) {
	inv := evt.Invoice
	if inv == nil || inv.CustomerID == "" {
		return OutcomeIgnored, nil
	}

	unlock, err := s.lock(ctx, inv.CustomerID)
	if err != nil {
		return OutcomeFailed, err
	}
	defer unlock()

	client, err := s.clients.GetByCustomerID(ctx, inv.CustomerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("payment failure for unknown customer", zap.String("event_id", evt.ID), zap.String("customer_id", inv.CustomerID))
			return OutcomeIgnored, nil
		}
		return OutcomeFailed, fmt.Errorf("load client by customer: %w", err)
	}

	if !subscriptionLive(client.SubscriptionStatus) {
		s.logger.Info("payment failure for ended subscription", zap.String("event_id", evt.ID), zap.String("client_id", client.ID))
		return OutcomeIgnored, nil
	}
	if supersededSubscription(client, inv.SubscriptionID) {
		s.logger.Warn("ignoring payment failure for superseded subscription",
			zap.String("event_id", evt.ID),
			zap.String("client_id", client.ID),
			zap.String("subscription_id", inv.SubscriptionID))
		return OutcomeIgnored, nil
	}

	status := models.SubscriptionPastDue
	return s.apply(ctx, client, models.SubscriptionUpdate{
		ClientID: client.ID,
		EventAt:  evt.Created,
		Status:   &status,
	}, evt.ID)
}

func subscriptionLive(status models.SubscriptionStatus) bool {
	return status != models.SubscriptionNone && status != models.SubscriptionCancelled && status != ""
}

// supersededSubscription reports whether subscriptionID names a subscription
// other than the client's stored, still-live one.
func supersededSubscription(client *models.Client, subscriptionID string) bool {
	if subscriptionID == "" || client.StripeSubscriptionID == nil || *client.StripeSubscriptionID == "" {
		return false
	}
	return *client.StripeSubscriptionID != subscriptionID && subscriptionLive(client.SubscriptionStatus)
}

// apply runs the conditional write and the change notification for one client.
func (s *SubscriptionReconciler) apply(ctx context.Context, client *models.Client, upd models.SubscriptionUpdate, eventID string) (ReconcileOutcome, error) {
	if upd.Status != nil && !client.SubscriptionStatus.CanTransitionTo(*upd.Status) {
		s.logger.Warn("rejecting subscription transition",
			zap.String("client_id", client.ID),
			zap.String("from", string(client.SubscriptionStatus)),
			zap.String("to", string(*upd.Status)),
			zap.String("event_id", eventID))
		return OutcomeIgnored, nil
	}

	applied, err := s.clients.ApplySubscription(ctx, upd)
	if err != nil {
		return OutcomeFailed, err
	}
	if !applied {
		s.logger.Info("stale subscription event skipped", zap.String("client_id", client.ID), zap.String("event_id", eventID))
		return OutcomeStale, nil
	}

	newPlan := client.Plan()
	if upd.Plan != nil {
		newPlan = *upd.Plan
	}
	newStatus := client.SubscriptionStatus
	if upd.Status != nil {
		newStatus = *upd.Status
	}
	if changeType := ClassifySubscriptionChange(s.catalog, client.Plan(), newPlan, client.SubscriptionStatus, newStatus); changeType != "" && s.notifier != nil {
		s.notifier.NotifySubscriptionChange(ctx, client, SubscriptionChange{
			Type:       changeType,
			FromPlan:   client.Plan(),
			ToPlan:     newPlan,
			FromStatus: client.SubscriptionStatus,
			ToStatus:   newStatus,
			EventID:    eventID,
		})
	}
	return OutcomeProcessed, nil
}

func (s *SubscriptionReconciler) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, key)
	if s.metrics != nil {
		s.metrics.ObserveLockWait(time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("lock customer %s: %w", key, err)
	}
	return unlock, nil
}

func (s *SubscriptionReconciler) resolvePlan(sub *payments.Subscription) string {
	if sub == nil {
		return ""
	}
	if planID := sub.Metadata[payments.MetadataPlanID]; planID != "" {
		if _, ok := s.catalog.Lookup(planID); ok {
			return planID
		}
	}
	if plan, ok := s.catalog.InferByPrice(sub.PriceID, sub.UnitAmount); ok {
		return plan.ID
	}
	return ""
}

// Sync reads the processor's current subscription for a client and applies it
// as if it were an event observed now.
func (s *SubscriptionReconciler) Sync(ctx context.Context, clientID, actorID string) (*models.Client, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
	}
	customerID := client.CustomerID()
	if customerID == "" {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "client has no billing customer")
	}

	sub, err := s.gateway.LatestSubscription(ctx, customerID)
	if err != nil {
		if errors.Is(err, payments.ErrNoSubscription) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no subscription found for customer")
		}
		if errors.Is(err, payments.ErrNotConfigured) {
			return nil, appErrors.Clone(appErrors.ErrPaymentProvider, "payment processor not configured")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPaymentProvider.Code, appErrors.ErrPaymentProvider.Status, "failed to read subscription")
	}

	status, ok := NormalizeSubscriptionStatus(sub.Status, sub.CancelAtPeriodEnd)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("subscription status %q cannot be synced", sub.Status))
	}

	unlock, err := s.lock(ctx, customerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock customer")
	}
	defer unlock()

	current, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload client")
	}
	upd := s.subscriptionUpdate(current, sub, status, s.now())
	if current.SubscriptionStartedAt == nil && sub.StartedAt != nil {
		upd.StartedAt = sub.StartedAt
	}
	if !current.SubscriptionStatus.CanTransitionTo(status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move subscription from %s to %s", current.SubscriptionStatus, status))
	}
	if _, err := s.apply(ctx, current, upd, "sync"); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply subscription")
	}

	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     optionalString(actorID),
			Action:     models.AuditActionBillingSync,
			Resource:   "client",
			ResourceID: &current.ID,
			NewValues:  []byte(fmt.Sprintf(`{"status":%q}`, status)),
		}); err != nil {
			s.logger.Warn("failed to record billing sync audit log", zap.Error(err))
		}
	}

	updated, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload client")
	}
	return updated, nil
}

// NormalizeSubscriptionStatus maps a processor status to the internal
// lifecycle. Statuses without a mapping report false.
func NormalizeSubscriptionStatus(status string, cancelAtPeriodEnd bool) (models.SubscriptionStatus, bool) {
	switch status {
	case "active":
		if cancelAtPeriodEnd {
			return models.SubscriptionCanceling, true
		}
		return models.SubscriptionActive, true
	case "trialing":
		if cancelAtPeriodEnd {
			return models.SubscriptionCanceling, true
		}
		return models.SubscriptionTrialing, true
	case "past_due", "unpaid":
		return models.SubscriptionPastDue, true
	case "canceled", "incomplete_expired":
		return models.SubscriptionCancelled, true
	}
	return "", false
}

// ClassifySubscriptionChange derives the admin-facing change type. An empty
// result means nothing noteworthy changed.
func ClassifySubscriptionChange(catalog *models.PlanCatalog, oldPlan, newPlan string, oldStatus, newStatus models.SubscriptionStatus) string {
	ending := func(s models.SubscriptionStatus) bool {
		return s == models.SubscriptionCanceling || s == models.SubscriptionCancelled
	}
	switch {
	case ending(newStatus) && !ending(oldStatus):
		return models.ChangeCancel
	case ending(oldStatus) && (newStatus == models.SubscriptionActive || newStatus == models.SubscriptionTrialing):
		return models.ChangeReactivate
	case oldPlan == newPlan || newPlan == "":
		return ""
	case oldPlan == "":
		return models.ChangeUpgrade
	}
	oldP, okOld := catalog.Lookup(oldPlan)
	newP, okNew := catalog.Lookup(newPlan)
	if !okOld || !okNew {
		return ""
	}
	switch {
	case newP.PriceCents > oldP.PriceCents:
		return models.ChangeUpgrade
	case newP.PriceCents < oldP.PriceCents:
		return models.ChangeDowngrade
	}
	return ""
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
