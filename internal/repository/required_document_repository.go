package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/client-portal-api/internal/models"
)

const requiredDocumentColumns = `id, client_id, document_type, is_required, status, document_id, created_at, updated_at`

// RequiredDocumentRepository manages the onboarding checklist slots.
type RequiredDocumentRepository struct {
	db *sqlx.DB
}

// NewRequiredDocumentRepository constructs the repository.
func NewRequiredDocumentRepository(db *sqlx.DB) *RequiredDocumentRepository {
	return &RequiredDocumentRepository{db: db}
}

// ListByClient returns the checklist ordered by type.
func (r *RequiredDocumentRepository) ListByClient(ctx context.Context, clientID string) ([]models.RequiredDocument, error) {
	query := `SELECT ` + requiredDocumentColumns + ` FROM required_documents WHERE client_id = $1 ORDER BY document_type`
	var slots []models.RequiredDocument
	if err := r.db.SelectContext(ctx, &slots, query, clientID); err != nil {
		return nil, fmt.Errorf("list required documents: %w", err)
	}
	return slots, nil
}

// GetSlot returns the slot for one document type.
func (r *RequiredDocumentRepository) GetSlot(ctx context.Context, clientID, docType string) (*models.RequiredDocument, error) {
	query := `SELECT ` + requiredDocumentColumns + ` FROM required_documents WHERE client_id = $1 AND document_type = $2`
	var slot models.RequiredDocument
	if err := r.db.GetContext(ctx, &slot, query, clientID, docType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get required document: %w", err)
	}
	return &slot, nil
}

// RequiredType is one configured checklist entry.
type RequiredType struct {
	Type     string
	Required bool
}

// Reconcile aligns the client's checklist with the configured types. Types no
// longer configured are removed, missing types are inserted as pending and
// surviving slots keep their status and linked document.
func (r *RequiredDocumentRepository) Reconcile(ctx context.Context, clientID string, types []RequiredType) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reconcile required documents: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.Type)
	}

	const deleteStale = `DELETE FROM required_documents WHERE client_id = $1 AND NOT (document_type = ANY($2))`
	if _, err = tx.ExecContext(ctx, deleteStale, clientID, pq.Array(names)); err != nil {
		return fmt.Errorf("delete stale required documents: %w", err)
	}

	const upsert = `INSERT INTO required_documents (id, client_id, document_type, is_required, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, 'pending', $5, $5)
	ON CONFLICT (client_id, document_type) DO UPDATE SET is_required = EXCLUDED.is_required, updated_at = EXCLUDED.updated_at`
	now := time.Now().UTC()
	for _, t := range types {
		if _, err = tx.ExecContext(ctx, upsert, uuid.NewString(), clientID, t.Type, t.Required, now); err != nil {
			return fmt.Errorf("upsert required document %s: %w", t.Type, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reconcile required documents: %w", err)
	}
	return nil
}

// Attach inserts the uploaded document and links it to the checklist slot in
// one transaction. A document previously linked to the slot is deleted and
// returned so its stored object can be removed after commit.
func (r *RequiredDocumentRepository) Attach(ctx context.Context, doc *models.Document, required bool) (result *models.AttachResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin attach required document: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var previous *string
	lockSlot := `SELECT document_id FROM required_documents WHERE client_id = $1 AND document_type = $2 FOR UPDATE`
	if err = tx.GetContext(ctx, &previous, lockSlot, doc.ClientID, doc.DocumentType); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lock required document slot: %w", err)
	}
	err = nil

	var replaced *models.Document
	if previous != nil && *previous != "" {
		var old models.Document
		getOld := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
		switch getErr := tx.GetContext(ctx, &old, getOld, *previous); {
		case getErr == nil:
			replaced = &old
		case errors.Is(getErr, sql.ErrNoRows):
		default:
			err = fmt.Errorf("load replaced document: %w", getErr)
			return nil, err
		}
	}

	prepareDocument(doc)
	if _, err = tx.NamedExecContext(ctx, insertDocumentQuery, doc); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	const upsertSlot = `INSERT INTO required_documents (id, client_id, document_type, is_required, status, document_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, 'uploaded', $5, $6, $6)
	ON CONFLICT (client_id, document_type) DO UPDATE SET status = 'uploaded', document_id = EXCLUDED.document_id, updated_at = EXCLUDED.updated_at
	RETURNING ` + requiredDocumentColumns
	var slot models.RequiredDocument
	if err = tx.GetContext(ctx, &slot, upsertSlot, uuid.NewString(), doc.ClientID, doc.DocumentType, required, doc.ID, doc.CreatedAt); err != nil {
		return nil, fmt.Errorf("link required document slot: %w", err)
	}

	if replaced != nil {
		if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, replaced.ID); err != nil {
			return nil, fmt.Errorf("delete replaced document: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attach required document: %w", err)
	}
	return &models.AttachResult{Slot: slot, Replaced: replaced}, nil
}

// SetStatusForDocument moves the slot linked to a document to status.
func (r *RequiredDocumentRepository) SetStatusForDocument(ctx context.Context, documentID string, status models.RequiredDocumentStatus) error {
	const query = `UPDATE required_documents SET status = $2, updated_at = NOW() WHERE document_id = $1`
	if _, err := r.db.ExecContext(ctx, query, documentID, status); err != nil {
		return fmt.Errorf("update required document status: %w", err)
	}
	return nil
}

// Gate counts required slots and how many hold an uploaded or verified document.
func (r *RequiredDocumentRepository) Gate(ctx context.Context, clientID string) (models.DocumentGate, error) {
	const query = `SELECT
		COUNT(*) FILTER (WHERE is_required) AS required,
		COUNT(*) FILTER (WHERE is_required AND status IN ('uploaded', 'verified') AND document_id IS NOT NULL) AS fulfilled
	FROM required_documents WHERE client_id = $1`
	var row struct {
		Required  int `db:"required"`
		Fulfilled int `db:"fulfilled"`
	}
	if err := r.db.GetContext(ctx, &row, query, clientID); err != nil {
		return models.DocumentGate{}, fmt.Errorf("count required documents: %w", err)
	}
	gate := models.DocumentGate{Required: row.Required, Fulfilled: row.Fulfilled}
	gate.Missing = gate.Required - gate.Fulfilled
	if gate.Missing < 0 {
		gate.Missing = 0
	}
	gate.Satisfied = gate.Missing == 0
	return gate, nil
}
