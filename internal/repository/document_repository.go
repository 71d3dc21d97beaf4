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

const documentColumns = `id, client_id, name, storage_path, mime_type, size_bytes, document_type, category,
       status, uploaded_by, reviewed_by, reviewed_at, created_at, updated_at`

// DocumentRepository persists uploaded document metadata.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create stores a new ad hoc document row.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	prepareDocument(doc)
	if _, err := r.db.NamedExecContext(ctx, insertDocumentQuery, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

const insertDocumentQuery = `INSERT INTO documents
	(id, client_id, name, storage_path, mime_type, size_bytes, document_type, category, status, uploaded_by, created_at, updated_at)
	VALUES (:id, :client_id, :name, :storage_path, :mime_type, :size_bytes, :document_type, :category, :status, :uploaded_by, :created_at, :updated_at)`

func prepareDocument(doc *models.Document) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentPending
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt
}

// GetByID returns one document row.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// List returns documents matching the filter, newest first.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + documentColumns + ` FROM documents`)
	args := make([]interface{}, 0, 3)
	conditions := make([]string, 0, 3)

	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// UpdateStatus records a staff review outcome.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, reviewer string, at time.Time) error {
	const query = `UPDATE documents SET status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, reviewer, at)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return expectOne(res, "update document status")
}

// Delete removes a document row. Checklist slots pointing at it fall back to pending.
func (r *DocumentRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete document: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const resetSlot = `UPDATE required_documents SET status = 'pending', document_id = NULL, updated_at = NOW() WHERE document_id = $1`
	if _, err = tx.ExecContext(ctx, resetSlot, id); err != nil {
		return fmt.Errorf("reset required document slot: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err = expectOne(res, "delete document"); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete document: %w", err)
	}
	return nil
}
