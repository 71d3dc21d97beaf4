package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/client-portal-api/internal/models"
)

const archivalJobColumns = `id, client_id, user_id, status, requested_by, attempts, last_error, manifest_path, created_at, updated_at, completed_at`

const archivedClientColumns = `id, user_id, name, contact_email, phone, company_name, subscription_plan, subscription_status,
       stripe_customer_id, created_at, archived_at, delete_after_date, archived_by`

// ArchiveRepository moves offboarded clients into retention tables.
type ArchiveRepository struct {
	db *sqlx.DB
}

// NewArchiveRepository constructs the repository.
func NewArchiveRepository(db *sqlx.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// CreateJob inserts a pending job for the client. When a job already exists
// it is returned unchanged with created=false.
func (r *ArchiveRepository) CreateJob(ctx context.Context, job *models.ArchivalJob) (*models.ArchivalJob, bool, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ArchivalPending
	}
	now := time.Now().UTC()
	const query = `INSERT INTO archival_jobs (id, client_id, user_id, status, requested_by, attempts, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
	ON CONFLICT (client_id) DO NOTHING
	RETURNING ` + archivalJobColumns
	var created models.ArchivalJob
	err := r.db.GetContext(ctx, &created, query, job.ID, job.ClientID, job.UserID, job.Status, job.RequestedBy, now)
	if err == nil {
		return &created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("create archival job: %w", err)
	}
	existing, err := r.GetJob(ctx, job.ClientID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetJob returns the archival job of a client.
func (r *ArchiveRepository) GetJob(ctx context.Context, clientID string) (*models.ArchivalJob, error) {
	const query = `SELECT ` + archivalJobColumns + ` FROM archival_jobs WHERE client_id = $1`
	var job models.ArchivalJob
	if err := r.db.GetContext(ctx, &job, query, clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get archival job: %w", err)
	}
	return &job, nil
}

// ListUnfinished returns jobs that have not reached completed, oldest first.
func (r *ArchiveRepository) ListUnfinished(ctx context.Context, limit int) ([]models.ArchivalJob, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + archivalJobColumns + ` FROM archival_jobs WHERE status <> 'completed' ORDER BY created_at ASC LIMIT $1`
	var jobs []models.ArchivalJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list unfinished archival jobs: %w", err)
	}
	return jobs, nil
}

// CopyAndPurge copies the client, its documents and its reports into the
// retention tables and deletes the live rows in one transaction. Re-running
// after a partial failure is safe: copies skip existing ids.
func (r *ArchiveRepository) CopyAndPurge(ctx context.Context, job *models.ArchivalJob, archivedAt, deleteAfter time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive client: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const copyClient = `INSERT INTO archived_clients
	(id, user_id, name, contact_email, phone, company_name, accounting_info, subscription_plan, subscription_status,
	 stripe_customer_id, stripe_subscription_id, onboarding_status, created_at, archived_at, delete_after_date, archived_by)
	SELECT id, user_id, name, contact_email, phone, company_name, accounting_info, subscription_plan, subscription_status,
	       stripe_customer_id, stripe_subscription_id, onboarding_status, created_at, $2, $3, $4
	FROM clients WHERE id = $1
	ON CONFLICT (id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, copyClient, job.ClientID, archivedAt, deleteAfter, job.RequestedBy); err != nil {
		return fmt.Errorf("copy client to archive: %w", err)
	}

	const copyDocuments = `INSERT INTO archived_documents
	(id, client_id, name, storage_path, mime_type, document_type, category, status, created_at, archived_at, delete_after_date)
	SELECT id, client_id, name, storage_path, mime_type, document_type, category, status, created_at, $2, $3
	FROM documents WHERE client_id = $1
	ON CONFLICT (id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, copyDocuments, job.ClientID, archivedAt, deleteAfter); err != nil {
		return fmt.Errorf("copy documents to archive: %w", err)
	}

	const copyReports = `INSERT INTO archived_reports
	(id, client_id, report_type, name, storage_path, period_start, period_end, created_at, archived_at, delete_after_date)
	SELECT id, client_id, report_type, name, storage_path, period_start, period_end, created_at, $2, $3
	FROM reports WHERE client_id = $1
	ON CONFLICT (id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, copyReports, job.ClientID, archivedAt, deleteAfter); err != nil {
		return fmt.Errorf("copy reports to archive: %w", err)
	}

	for _, table := range []string{"required_documents", "messages", "documents", "reports"} {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE client_id = $1", table), job.ClientID); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, job.ClientID); err != nil {
		return fmt.Errorf("purge client: %w", err)
	}

	const markCopied = `UPDATE archival_jobs SET status = 'copied', attempts = attempts + 1, last_error = NULL, updated_at = $2 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, markCopied, job.ID, archivedAt); err != nil {
		return fmt.Errorf("mark archival copied: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit archive client: %w", err)
	}
	job.Status = models.ArchivalCopied
	return nil
}

// MarkCompleted finalises a job after the identity has been removed.
func (r *ArchiveRepository) MarkCompleted(ctx context.Context, jobID string, at time.Time) error {
	const query = `UPDATE archival_jobs SET status = 'completed', completed_at = $2, updated_at = $2, last_error = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, jobID, at); err != nil {
		return fmt.Errorf("mark archival completed: %w", err)
	}
	return nil
}

// RecordFailure stores the last error of a job attempt.
func (r *ArchiveRepository) RecordFailure(ctx context.Context, jobID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	const query = `UPDATE archival_jobs SET attempts = attempts + 1, last_error = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, jobID, msg); err != nil {
		return fmt.Errorf("record archival failure: %w", err)
	}
	return nil
}

// SetManifest stores the object key of the generated manifest.
func (r *ArchiveRepository) SetManifest(ctx context.Context, jobID, path string) error {
	const query = `UPDATE archival_jobs SET manifest_path = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, jobID, path); err != nil {
		return fmt.Errorf("set archival manifest: %w", err)
	}
	return nil
}

// GetArchivedClient returns the retained client row.
func (r *ArchiveRepository) GetArchivedClient(ctx context.Context, clientID string) (*models.ArchivedClient, error) {
	const query = `SELECT ` + archivedClientColumns + ` FROM archived_clients WHERE id = $1`
	var client models.ArchivedClient
	if err := r.db.GetContext(ctx, &client, query, clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get archived client: %w", err)
	}
	return &client, nil
}

// ListArchivedDocuments returns retained document rows of a client.
func (r *ArchiveRepository) ListArchivedDocuments(ctx context.Context, clientID string) ([]models.ArchivedDocument, error) {
	const query = `SELECT id, client_id, name, storage_path, document_type, category, status, created_at, archived_at, delete_after_date
	FROM archived_documents WHERE client_id = $1 ORDER BY created_at`
	var docs []models.ArchivedDocument
	if err := r.db.SelectContext(ctx, &docs, query, clientID); err != nil {
		return nil, fmt.Errorf("list archived documents: %w", err)
	}
	return docs, nil
}

// ListArchivedReports returns retained report rows of a client.
func (r *ArchiveRepository) ListArchivedReports(ctx context.Context, clientID string) ([]models.ArchivedReport, error) {
	const query = `SELECT id, client_id, report_type, name, storage_path, period_start, period_end, created_at, archived_at, delete_after_date
	FROM archived_reports WHERE client_id = $1 ORDER BY created_at`
	var reports []models.ArchivedReport
	if err := r.db.SelectContext(ctx, &reports, query, clientID); err != nil {
		return nil, fmt.Errorf("list archived reports: %w", err)
	}
	return reports, nil
}

// ListArchivedClients returns retained clients, most recently archived first.
func (r *ArchiveRepository) ListArchivedClients(ctx context.Context, filter models.ArchiveFilter) ([]models.ArchivedClient, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + archivedClientColumns + ` FROM archived_clients`)
	args := make([]interface{}, 0, 1)
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		builder.WriteString(" WHERE LOWER(name) LIKE $1 OR LOWER(contact_email) LIKE $1")
	}
	builder.WriteString(" ORDER BY archived_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var clients []models.ArchivedClient
	if err := r.db.SelectContext(ctx, &clients, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list archived clients: %w", err)
	}
	return clients, nil
}
