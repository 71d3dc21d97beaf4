package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/models"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

type clientRepository interface {
	GetByID(ctx context.Context, id string) (*models.Client, error)
	List(ctx context.Context, filter models.ClientFilter) ([]models.Client, int, error)
	UpdateProfile(ctx context.Context, client *models.Client) error
}

// ClientService serves client profiles and the staff client directory.
type ClientService struct {
	repo     clientRepository
	catalog  *models.PlanCatalog
	validate *validator.Validate
	logger   *zap.Logger
}

// NewClientService constructs the client service.
func NewClientService(repo clientRepository, catalog *models.PlanCatalog, validate *validator.Validate, logger *zap.Logger) *ClientService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ClientService{repo: repo, catalog: catalog, validate: validate, logger: logger}
}

// Profile returns a client with decoded accounting info and plan details.
func (s *ClientService) Profile(ctx context.Context, clientID string) (*models.ClientProfile, error) {
	client, err := s.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return s.profile(client), nil
}

func (s *ClientService) profile(client *models.Client) *models.ClientProfile {
	out := &models.ClientProfile{Client: *client, AccountingInfo: models.ParseAccountingInfo(client.AccountingInfo)}
	if s.catalog != nil {
		if plan, ok := s.catalog.Lookup(client.Plan()); ok {
			out.Plan = &plan
		}
	}
	return out
}

// UpdateProfile applies the self-service edits.
func (s *ClientService) UpdateProfile(ctx context.Context, clientID string, req models.UpdateProfileRequest) (*models.ClientProfile, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile")
	}
	client, err := s.load(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "name must not be empty")
		}
		client.Name = name
	}
	if req.ContactEmail != nil {
		client.ContactEmail = models.NormalizeEmail(*req.ContactEmail)
	}
	if req.Phone != nil {
		client.Phone = optionalString(strings.TrimSpace(*req.Phone))
	}
	if req.CompanyName != nil {
		client.CompanyName = optionalString(strings.TrimSpace(*req.CompanyName))
	}
	if req.AccountingInfo != nil {
		if err := s.validate.Struct(req.AccountingInfo); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid accounting info")
		}
		encoded, err := models.AccountingInfo{
			Kind:        models.AccountingInfoStructured,
			System:      strings.TrimSpace(req.AccountingInfo.System),
			CompanyName: strings.TrimSpace(req.AccountingInfo.CompanyName),
			Email:       strings.TrimSpace(req.AccountingInfo.Email),
			Notes:       strings.TrimSpace(req.AccountingInfo.Notes),
		}.Encode()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode accounting info")
		}
		client.AccountingInfo = &encoded
	}

	if err := s.repo.UpdateProfile(ctx, client); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	return s.profile(client), nil
}

// List returns the staff client directory page with pagination metadata.
func (s *ClientService) List(ctx context.Context, filter models.ClientFilter) ([]models.Client, *models.Pagination, error) {
	if filter.SubscriptionStatus != "" && !filter.SubscriptionStatus.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid subscription status")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	filter.Search = strings.TrimSpace(filter.Search)

	clients, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list clients")
	}
	if clients == nil {
		clients = []models.Client{}
	}
	return clients, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one client for staff.
func (s *ClientService) Get(ctx context.Context, clientID string) (*models.ClientProfile, error) {
	return s.Profile(ctx, clientID)
}

func (s *ClientService) load(ctx context.Context, clientID string) (*models.Client, error) {
	client, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
	}
	return client, nil
}
