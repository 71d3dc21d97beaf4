package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/config"
	"github.com/noah-isme/client-portal-api/pkg/events"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/export"
	"github.com/noah-isme/client-portal-api/pkg/storage"
)

type archiveStore interface {
	CreateJob(ctx context.Context, job *models.ArchivalJob) (*models.ArchivalJob, bool, error)
	GetJob(ctx context.Context, clientID string) (*models.ArchivalJob, error)
	ListUnfinished(ctx context.Context, limit int) ([]models.ArchivalJob, error)
	CopyAndPurge(ctx context.Context, job *models.ArchivalJob, archivedAt, deleteAfter time.Time) error
	MarkCompleted(ctx context.Context, jobID string, at time.Time) error
	RecordFailure(ctx context.Context, jobID string, cause error) error
	SetManifest(ctx context.Context, jobID, path string) error
	GetArchivedClient(ctx context.Context, clientID string) (*models.ArchivedClient, error)
	ListArchivedDocuments(ctx context.Context, clientID string) ([]models.ArchivedDocument, error)
	ListArchivedReports(ctx context.Context, clientID string) ([]models.ArchivedReport, error)
	ListArchivedClients(ctx context.Context, filter models.ArchiveFilter) ([]models.ArchivedClient, error)
}

type identityDeleter interface {
	Delete(ctx context.Context, id string) error
}

type archivalMetrics interface {
	RecordArchival(outcome string)
}

type manifestRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ArchiveService offboards clients into the retention tables.
//
// An archival job moves pending -> copied -> completed. Every step is safe to
// repeat, so an interrupted archival is finished by calling Archive again or
// by the resume sweep.
type ArchiveService struct {
	repo     archiveStore
	clients  clientReader
	users    identityDeleter
	store    storage.ObjectStore
	locker   keyLocker
	manifest manifestRenderer
	csv      datasetRenderer
	notifier eventNotifier
	audit    auditWriter
	metrics  archivalMetrics
	cfg      config.ArchivalConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewArchiveService constructs the archival pipeline.
func NewArchiveService(repo archiveStore, clients clientReader, users identityDeleter, store storage.ObjectStore, locker keyLocker, manifest manifestRenderer, csv datasetRenderer, notifier eventNotifier, audit auditWriter, cfg config.ArchivalConfig, logger *zap.Logger) *ArchiveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetentionYears <= 0 {
		cfg.RetentionYears = 7
	}
	return &ArchiveService{
		repo:     repo,
		clients:  clients,
		users:    users,
		store:    store,
		locker:   locker,
		manifest: manifest,
		csv:      csv,
		notifier: notifier,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UseMetrics records archival outcomes on m.
func (s *ArchiveService) UseMetrics(m archivalMetrics) {
	s.metrics = m
}

// Archive offboards a client. Calling it again for a client whose archival
// was interrupted resumes the existing job.
func (s *ArchiveService) Archive(ctx context.Context, clientID, actorID string) (*models.ArchivalJob, error) {
	unlock, err := s.lock(ctx, clientID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock client")
	}
	defer unlock()

	job, err := s.repo.GetJob(ctx, clientID)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		client, loadErr := s.clients.GetByID(ctx, clientID)
		if loadErr != nil {
			if errors.Is(loadErr, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
			}
			return nil, appErrors.Wrap(loadErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
		}
		job, _, err = s.repo.CreateJob(ctx, &models.ArchivalJob{
			ClientID:    client.ID,
			UserID:      optionalString(client.UserID),
			RequestedBy: actorID,
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start archival")
		}
		s.logger.Info("client archival started", zap.String("client_id", client.ID), zap.String("job_id", job.ID))
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load archival job")
	}

	if err := s.run(ctx, job); err != nil {
		return job, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "archival did not complete")
	}
	return job, nil
}

// DeleteAccount runs the archival pipeline for the caller's own client.
func (s *ArchiveService) DeleteAccount(ctx context.Context, clientID, userID string) (*models.ArchivalJob, error) {
	return s.Archive(ctx, clientID, userID)
}

// ResumeUnfinished finishes every job that has not reached completed.
// It returns the number of jobs completed by this sweep.
func (s *ArchiveService) ResumeUnfinished(ctx context.Context) (int, error) {
	jobs, err := s.repo.ListUnfinished(ctx, 50)
	if err != nil {
		return 0, fmt.Errorf("list unfinished archival jobs: %w", err)
	}
	done := 0
	for i := range jobs {
		job := jobs[i]
		unlock, err := s.lock(ctx, job.ClientID)
		if err != nil {
			s.logger.Warn("archival resume skipped", zap.String("client_id", job.ClientID), zap.Error(err))
			continue
		}
		err = s.run(ctx, &job)
		unlock()
		if err != nil {
			s.logger.Warn("archival resume failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

func (s *ArchiveService) run(ctx context.Context, job *models.ArchivalJob) error {
	if job.Status == models.ArchivalCompleted {
		return nil
	}
	if job.Status == models.ArchivalPending {
		now := s.now()
		deleteAfter := now.AddDate(s.cfg.RetentionYears, 0, 0)
		if err := s.repo.CopyAndPurge(ctx, job, now, deleteAfter); err != nil {
			s.recordFailure(ctx, job, err)
			return err
		}
		job.Status = models.ArchivalCopied
	}

	if job.UserID != nil && *job.UserID != "" {
		if err := s.users.Delete(ctx, *job.UserID); err != nil {
			s.recordFailure(ctx, job, err)
			return fmt.Errorf("delete identity: %w", err)
		}
	}

	if job.ManifestPath == nil {
		s.writeManifest(ctx, job)
	}

	now := s.now()
	if err := s.repo.MarkCompleted(ctx, job.ID, now); err != nil {
		s.recordFailure(ctx, job, err)
		return err
	}
	job.Status = models.ArchivalCompleted
	job.CompletedAt = &now

	s.observe("completed")
	s.logger.Info("client archived", zap.String("client_id", job.ClientID), zap.String("job_id", job.ID))
	if s.notifier != nil {
		s.notifier.PublishEvent(ctx, events.ClientArchived, job.ClientID, map[string]interface{}{"job_id": job.ID})
	}
	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     optionalString(job.RequestedBy),
			Action:     models.AuditActionClientArchive,
			Resource:   "client",
			ResourceID: &job.ClientID,
		}); err != nil {
			s.logger.Warn("failed to record archival audit log", zap.Error(err))
		}
	}
	return nil
}

func (s *ArchiveService) recordFailure(ctx context.Context, job *models.ArchivalJob, cause error) {
	s.observe("failed")
	s.logger.Error("archival step failed", zap.String("job_id", job.ID), zap.String("status", string(job.Status)), zap.Error(cause))
	if err := s.repo.RecordFailure(ctx, job.ID, cause); err != nil {
		s.logger.Warn("failed to record archival failure", zap.Error(err))
	}
}

// writeManifest stores a PDF listing the archived files. Failures are logged only.
func (s *ArchiveService) writeManifest(ctx context.Context, job *models.ArchivalJob) {
	if s.manifest == nil || s.store == nil {
		return
	}
	body, err := s.renderManifest(ctx, job.ClientID)
	if err != nil {
		s.logger.Warn("archive manifest not rendered", zap.String("client_id", job.ClientID), zap.Error(err))
		return
	}
	key := "archives/" + job.ClientID + "/manifest.pdf"
	if err := s.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/pdf"); err != nil {
		s.logger.Warn("archive manifest not stored", zap.String("client_id", job.ClientID), zap.Error(err))
		return
	}
	if err := s.repo.SetManifest(ctx, job.ID, key); err != nil {
		s.logger.Warn("archive manifest path not saved", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	job.ManifestPath = &key
}

func (s *ArchiveService) renderManifest(ctx context.Context, clientID string) ([]byte, error) {
	client, err := s.repo.GetArchivedClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	docs, err := s.repo.ListArchivedDocuments(ctx, clientID)
	if err != nil {
		return nil, err
	}
	reports, err := s.repo.ListArchivedReports(ctx, clientID)
	if err != nil {
		return nil, err
	}

	table := export.Dataset{Headers: []string{"kind", "type", "name", "storage_path", "created_at"}}
	for _, d := range docs {
		table.Rows = append(table.Rows, map[string]string{
			"kind": "document", "type": d.DocumentType, "name": d.Name,
			"storage_path": d.StoragePath, "created_at": d.CreatedAt.Format("2006-01-02"),
		})
	}
	for _, r := range reports {
		table.Rows = append(table.Rows, map[string]string{
			"kind": "report", "type": r.ReportType, "name": r.Name,
			"storage_path": r.StoragePath, "created_at": r.CreatedAt.Format("2006-01-02"),
		})
	}
	return s.manifest.Render(export.Document{
		Title: "Archive manifest: " + client.Name,
		Summary: []string{
			"Client ID: " + client.ID,
			"Contact: " + client.ContactEmail,
			"Archived: " + client.ArchivedAt.Format(time.RFC3339),
			"Retain until: " + client.DeleteAfterDate.Format("2006-01-02"),
			fmt.Sprintf("Documents: %d, reports: %d", len(docs), len(reports)),
		},
		Table:  table,
		Footer: client.Name,
	})
}

// Job returns the archival job of a client.
func (s *ArchiveService) Job(ctx context.Context, clientID string) (*models.ArchivalJob, error) {
	job, err := s.repo.GetJob(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "archival job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load archival job")
	}
	return job, nil
}

// ListArchived returns retained clients.
func (s *ArchiveService) ListArchived(ctx context.Context, filter models.ArchiveFilter) ([]models.ArchivedClient, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	clients, err := s.repo.ListArchivedClients(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list archived clients")
	}
	if clients == nil {
		clients = []models.ArchivedClient{}
	}
	return clients, nil
}

var archivedClientHeaders = []string{
	"id", "name", "contact_email", "company_name", "subscription_plan",
	"subscription_status", "created_at", "archived_at", "delete_after_date",
}

// ExportCSV renders the archived clients matching filter as CSV.
func (s *ArchiveService) ExportCSV(ctx context.Context, filter models.ArchiveFilter) ([]byte, error) {
	if filter.Limit <= 0 {
		filter.Limit = 1000
	}
	clients, err := s.ListArchived(ctx, filter)
	if err != nil {
		return nil, err
	}
	data := export.Dataset{Headers: archivedClientHeaders}
	for _, c := range clients {
		data.Rows = append(data.Rows, map[string]string{
			"id":                  c.ID,
			"name":                c.Name,
			"contact_email":       c.ContactEmail,
			"company_name":        derefString(c.CompanyName),
			"subscription_plan":   derefString(c.SubscriptionPlan),
			"subscription_status": c.SubscriptionStatus,
			"created_at":          c.CreatedAt.Format(time.RFC3339),
			"archived_at":         c.ArchivedAt.Format(time.RFC3339),
			"delete_after_date":   c.DeleteAfterDate.Format("2006-01-02"),
		})
	}
	out, err := s.csv.Render(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return out, nil
}

func (s *ArchiveService) lock(ctx context.Context, clientID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, "archive:"+clientID)
}

func (s *ArchiveService) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordArchival(outcome)
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
