package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/config"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/storage"
)

type reportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id string) (*models.Report, error)
	ListByClient(ctx context.Context, clientID string, reportType models.ReportType) ([]models.Report, error)
	Delete(ctx context.Context, id string) error
}

type reportNotifier interface {
	NotifyReport(ctx context.Context, client *models.Client, report *models.Report)
}

// ReportService delivers staff-produced financial reports to clients.
type ReportService struct {
	repo     reportRepository
	clients  clientReader
	store    storage.ObjectStore
	notifier reportNotifier
	audit    auditWriter
	validate *validator.Validate
	cfg      config.StorageConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewReportService constructs the report service.
func NewReportService(repo reportRepository, clients clientReader, store storage.ObjectStore, notifier reportNotifier, audit auditWriter, validate *validator.Validate, cfg config.StorageConfig, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	return &ReportService{
		repo:     repo,
		clients:  clients,
		store:    store,
		notifier: notifier,
		audit:    audit,
		validate: validate,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores a report file for a client and notifies the client.
func (s *ReportService) Upload(ctx context.Context, clientID string, req models.UploadReportRequest, upload *FileUpload, actorID string) (*models.Report, error) {
	req.ReportType = models.ReportType(strings.ToLower(strings.TrimSpace(string(req.ReportType))))
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report")
	}
	if !req.ReportType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "report_type must be profit_loss, balance_sheet or reconciliation")
	}
	if req.PeriodStart != nil && req.PeriodEnd != nil && req.PeriodEnd.Before(*req.PeriodStart) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "period_end must not be before period_start")
	}
	if upload == nil || upload.Body == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if s.cfg.MaxFileSizeBytes > 0 && upload.Size > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "file is too large"),
			map[string]interface{}{"max_bytes": s.cfg.MaxFileSizeBytes})
	}
	upload.sniffContentType()
	if !mimeAllowed(s.cfg.AllowedMIMEs, upload.ContentType) {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "file type is not allowed"),
			map[string]interface{}{"content_type": upload.ContentType})
	}

	client, err := s.loadClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	key, err := storage.ObjectKey(client.ID, "reports", string(req.ReportType), upload.Name, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid upload target")
	}
	if err := s.store.Put(ctx, key, upload.Body, upload.Size, upload.ContentType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store report")
	}

	report := &models.Report{
		ClientID:    client.ID,
		ReportType:  req.ReportType,
		Name:        strings.TrimSpace(req.Name),
		StoragePath: key,
		MimeType:    upload.ContentType,
		SizeBytes:   upload.Size,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		UploadedBy:  actorID,
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, report); err != nil {
		s.deleteObject(ctx, key)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save report")
	}

	s.recordAudit(ctx, actorID, models.AuditActionReportUpload, report.ID)
	if s.notifier != nil {
		s.notifier.NotifyReport(ctx, client, report)
	}
	return report, nil
}

// List returns a client's reports, newest first.
func (s *ReportService) List(ctx context.Context, clientID string, reportType models.ReportType) ([]models.Report, error) {
	if reportType != "" && !reportType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid report type")
	}
	reports, err := s.repo.ListByClient(ctx, clientID, reportType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}
	if reports == nil {
		reports = []models.Report{}
	}
	return reports, nil
}

// Get loads a report; a non-empty clientID hides other clients' reports.
func (s *ReportService) Get(ctx context.Context, clientID, id string) (*models.Report, error) {
	report, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}
	if err := storage.EnsureOwned(report.StoragePath, report.ClientID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
	}
	if clientID != "" && report.ClientID != clientID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
	}
	return report, nil
}

// ViewURL returns a time-limited link to the report file.
func (s *ReportService) ViewURL(ctx context.Context, clientID, id string) (string, time.Time, error) {
	report, err := s.Get(ctx, clientID, id)
	if err != nil {
		return "", time.Time{}, err
	}
	url, expires, err := s.store.SignedURL(ctx, report.StoragePath, s.cfg.SignedURLTTL)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign report url")
	}
	return url, expires, nil
}

// Download opens the report file. The caller closes the reader.
func (s *ReportService) Download(ctx context.Context, clientID, id string) (*models.Report, io.ReadCloser, error) {
	report, err := s.Get(ctx, clientID, id)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.store.Get(ctx, report.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "report file not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read report")
	}
	return report, body, nil
}

// Delete removes a report row and then its file.
func (s *ReportService) Delete(ctx context.Context, id, actorID string) error {
	report, err := s.Get(ctx, "", id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, report.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete report")
	}
	s.deleteObject(ctx, report.StoragePath)
	s.recordAudit(ctx, actorID, models.AuditActionReportDelete, report.ID)
	return nil
}

func (s *ReportService) loadClient(ctx context.Context, clientID string) (*models.Client, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
	}
	return client, nil
}

func (s *ReportService) deleteObject(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.Warn("failed to delete report object", zap.String("key", key), zap.Error(err))
	}
}

func (s *ReportService) recordAudit(ctx context.Context, actorID, action, reportID string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     action,
		Resource:   "report",
		ResourceID: &reportID,
	}); err != nil {
		s.logger.Warn("failed to record report audit log", zap.Error(err))
	}
}
