package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/events"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

type onboardingClientRepository interface {
	GetByID(ctx context.Context, id string) (*models.Client, error)
	UpdateAccountingInfo(ctx context.Context, id, encoded string) error
	SetOnboardingStep(ctx context.Context, id string, step int) error
	SelectPlan(ctx context.Context, id, plan string, step int) error
	CompleteOnboarding(ctx context.Context, id string, at time.Time) error
}

type onboardingDocuments interface {
	Checklist(ctx context.Context, clientID string) ([]models.RequiredDocument, models.DocumentGate, error)
	Gate(ctx context.Context, clientID string) (models.DocumentGate, error)
	UploadRequired(ctx context.Context, clientID, docType string, upload *FileUpload, uploaderID string) (*models.RequiredDocument, error)
	RemoveRequired(ctx context.Context, clientID, docType string) error
}

type checkoutStarter interface {
	CreateCheckout(ctx context.Context, clientID, planID string) (string, error)
}

type eventNotifier interface {
	PublishEvent(ctx context.Context, eventType, clientID string, data interface{})
}

// OnboardingService drives the four-step client onboarding wizard.
type OnboardingService struct {
	clients   onboardingClientRepository
	documents onboardingDocuments
	checkout  checkoutStarter
	catalog   *models.PlanCatalog
	notifier  eventNotifier
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewOnboardingService constructs the onboarding orchestrator.
func NewOnboardingService(clients onboardingClientRepository, documents onboardingDocuments, checkout checkoutStarter, catalog *models.PlanCatalog, notifier eventNotifier, validate *validator.Validate, logger *zap.Logger) *OnboardingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &OnboardingService{
		clients:   clients,
		documents: documents,
		checkout:  checkout,
		catalog:   catalog,
		notifier:  notifier,
		validate:  validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// State returns the wizard state, creating the document checklist on first load.
func (s *OnboardingService) State(ctx context.Context, clientID string) (*models.OnboardingState, error) {
	client, err := s.loadClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return s.state(ctx, client)
}

func (s *OnboardingService) state(ctx context.Context, client *models.Client) (*models.OnboardingState, error) {
	slots, gate, err := s.documents.Checklist(ctx, client.ID)
	if err != nil {
		return nil, err
	}
	step := client.OnboardingStep
	if step < models.OnboardingStepDocuments {
		step = models.OnboardingStepDocuments
	}
	return &models.OnboardingState{
		Step:            step,
		Status:          client.OnboardingStatus,
		CompletedAt:     client.OnboardingCompletedAt,
		Documents:       slots,
		Gate:            gate,
		AccountingInfo:  models.ParseAccountingInfo(client.AccountingInfo),
		SelectedPlan:    client.Plan(),
		PaymentComplete: paymentComplete(client),
		BypassPayment:   client.BypassPayment,
	}, nil
}

func paymentComplete(client *models.Client) bool {
	if client.BypassPayment {
		return client.Plan() != ""
	}
	return client.SubscriptionStatus.HasAccess()
}

// Advance moves the wizard to step. Moving back is always allowed; moving
// forward is allowed one step at a time when the current step's guard holds.
func (s *OnboardingService) Advance(ctx context.Context, clientID string, step int) (*models.OnboardingState, error) {
	if step < models.OnboardingStepDocuments || step > models.OnboardingStepReview {
		return nil, appErrors.Clone(appErrors.ErrValidation, "step must be between 1 and 4")
	}
	client, err := s.loadClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.OnboardingStatus == models.OnboardingCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "onboarding is already completed")
	}
	current := client.OnboardingStep
	if current < models.OnboardingStepDocuments {
		current = models.OnboardingStepDocuments
	}
	if step > current+1 {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "onboarding steps cannot be skipped")
	}
	if step > current {
		if err := s.checkGuard(ctx, client, current); err != nil {
			return nil, err
		}
	}
	if step != client.OnboardingStep {
		if err := s.clients.SetOnboardingStep(ctx, client.ID, step); err != nil {
			return nil, s.writeError(err, "failed to update onboarding step")
		}
		client.OnboardingStep = step
	}
	return s.state(ctx, client)
}

// checkGuard verifies the exit condition of step.
func (s *OnboardingService) checkGuard(ctx context.Context, client *models.Client, step int) error {
	switch step {
	case models.OnboardingStepDocuments:
		return s.documentGuard(ctx, client.ID)
	case models.OnboardingStepAccounting:
		if !models.ParseAccountingInfo(client.AccountingInfo).Complete() {
			return appErrors.Clone(appErrors.ErrOnboardingIncomplete, "company name and email are required")
		}
	case models.OnboardingStepPlan:
		if client.Plan() == "" {
			return appErrors.Clone(appErrors.ErrOnboardingIncomplete, "select a plan first")
		}
		if !paymentComplete(client) {
			return appErrors.Clone(appErrors.ErrOnboardingIncomplete, "payment has not been completed")
		}
	}
	return nil
}

func (s *OnboardingService) documentGuard(ctx context.Context, clientID string) error {
	gate, err := s.documents.Gate(ctx, clientID)
	if err != nil {
		return err
	}
	if !gate.Satisfied {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrOnboardingIncomplete, "required documents are missing"),
			map[string]interface{}{"missing": gate.Missing},
		)
	}
	return nil
}

// UploadDocument stores a checklist document for the client.
func (s *OnboardingService) UploadDocument(ctx context.Context, clientID, docType string, upload *FileUpload, uploaderID string) (*models.RequiredDocument, error) {
	return s.documents.UploadRequired(ctx, clientID, docType, upload, uploaderID)
}

// RemoveDocument clears a checklist slot.
func (s *OnboardingService) RemoveDocument(ctx context.Context, clientID, docType string) error {
	return s.documents.RemoveRequired(ctx, clientID, docType)
}

// UpdateAccountingInfo saves the step 2 form.
func (s *OnboardingService) UpdateAccountingInfo(ctx context.Context, clientID string, req models.AccountingInfoRequest) (*models.AccountingInfo, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid accounting info")
	}
	info := models.AccountingInfo{
		Kind:        models.AccountingInfoStructured,
		System:      strings.TrimSpace(req.System),
		CompanyName: strings.TrimSpace(req.CompanyName),
		Email:       strings.TrimSpace(req.Email),
		Notes:       strings.TrimSpace(req.Notes),
	}
	if !info.Complete() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "company name and email are required")
	}
	encoded, err := info.Encode()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode accounting info")
	}
	if err := s.clients.UpdateAccountingInfo(ctx, clientID, encoded); err != nil {
		return nil, s.writeError(err, "failed to save accounting info")
	}
	info.Version = models.AccountingInfoVersion
	return &info, nil
}

// SelectPlan records the plan choice. Clients that skip payment move straight
// to review; everyone else receives a checkout URL and resumes on return.
func (s *OnboardingService) SelectPlan(ctx context.Context, clientID, planID string) (*models.PlanSelection, error) {
	planID = strings.ToLower(strings.TrimSpace(planID))
	if _, ok := s.catalog.Lookup(planID); !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown plan")
	}
	client, err := s.loadClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.OnboardingStep < models.OnboardingStepPlan {
		return nil, appErrors.Clone(appErrors.ErrOnboardingIncomplete, "complete the previous steps first")
	}

	if client.BypassPayment {
		if err := s.clients.SelectPlan(ctx, client.ID, planID, models.OnboardingStepReview); err != nil {
			return nil, s.writeError(err, "failed to save plan selection")
		}
		return &models.PlanSelection{PlanID: planID, Step: models.OnboardingStepReview}, nil
	}

	url, err := s.checkout.CreateCheckout(ctx, client.ID, planID)
	if err != nil {
		return nil, err
	}
	return &models.PlanSelection{PlanID: planID, CheckoutURL: url, Step: models.OnboardingStepPlan}, nil
}

// CheckoutReturn resumes the wizard after the hosted checkout redirect.
func (s *OnboardingService) CheckoutReturn(ctx context.Context, clientID, result string) (*models.OnboardingState, error) {
	var step int
	switch strings.ToLower(strings.TrimSpace(result)) {
	case models.CheckoutResultSuccess:
		step = models.OnboardingStepReview
	case models.CheckoutResultCancel:
		step = models.OnboardingStepPlan
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "result must be success or cancel")
	}
	client, err := s.loadClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.OnboardingStatus == models.OnboardingCompleted {
		return s.state(ctx, client)
	}
	if client.OnboardingStep < models.OnboardingStepPlan {
		return nil, appErrors.Clone(appErrors.ErrOnboardingIncomplete, "complete the previous steps first")
	}
	if client.OnboardingStep != step {
		if err := s.clients.SetOnboardingStep(ctx, client.ID, step); err != nil {
			return nil, s.writeError(err, "failed to update onboarding step")
		}
		client.OnboardingStep = step
	}
	return s.state(ctx, client)
}

// Complete finishes onboarding after re-checking the required documents.
func (s *OnboardingService) Complete(ctx context.Context, clientID string) (*models.OnboardingState, error) {
	client, err := s.loadClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.OnboardingStatus == models.OnboardingCompleted {
		return s.state(ctx, client)
	}
	if client.OnboardingStep < models.OnboardingStepReview {
		return nil, appErrors.Clone(appErrors.ErrOnboardingIncomplete, "onboarding is not at the review step")
	}
	if err := s.documentGuard(ctx, client.ID); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.clients.CompleteOnboarding(ctx, client.ID, now); err != nil {
		return nil, s.writeError(err, "failed to complete onboarding")
	}
	client.OnboardingStatus = models.OnboardingCompleted
	client.OnboardingStep = models.OnboardingStepReview
	client.OnboardingCompletedAt = &now

	s.logger.Info("onboarding completed", zap.String("client_id", client.ID))
	if s.notifier != nil {
		s.notifier.PublishEvent(ctx, events.OnboardingCompleted, client.ID, map[string]interface{}{
			"plan":         client.Plan(),
			"completed_at": now,
		})
	}
	return s.state(ctx, client)
}

func (s *OnboardingService) loadClient(ctx context.Context, clientID string) (*models.Client, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
	}
	return client, nil
}

func (s *OnboardingService) writeError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "client not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
