package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/client-portal-api/internal/models"
)

const reportColumns = `id, client_id, report_type, name, storage_path, mime_type, size_bytes, period_start, period_end, uploaded_by, created_at`

// ReportRepository persists financial report metadata.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a report row with generated defaults.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO reports (` + reportColumns + `)
VALUES (:id, :client_id, :report_type, :name, :storage_path, :mime_type, :size_bytes, :period_start, :period_end, :uploaded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// GetByID returns a report row by its identifier.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	const query = `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`
	var report models.Report
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// ListByClient returns the client's reports, optionally narrowed to one type.
func (r *ReportRepository) ListByClient(ctx context.Context, clientID string, reportType models.ReportType) ([]models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE client_id = $1`
	args := []interface{}{clientID}
	if reportType != "" {
		args = append(args, reportType)
		query += " AND report_type = $2"
	}
	query += " ORDER BY COALESCE(period_end, created_at::date) DESC, created_at DESC"

	var reports []models.Report
	if err := r.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// Delete removes a report row.
func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return expectOne(res, "delete report")
}
