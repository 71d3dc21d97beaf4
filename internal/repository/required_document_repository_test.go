package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/internal/models"
)

var documentRowColumns = []string{"id", "client_id", "name", "storage_path", "mime_type", "size_bytes", "document_type", "category",
	"status", "uploaded_by", "reviewed_by", "reviewed_at", "created_at", "updated_at"}

var slotRowColumns = []string{"id", "client_id", "document_type", "is_required", "status", "document_id", "created_at", "updated_at"}

func TestReconcileRemovesStaleAndInsertsMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequiredDocumentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM required_documents WHERE client_id = $1 AND NOT (document_type = ANY($2))")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (client_id, document_type) DO UPDATE SET is_required")).
		WithArgs(sqlmock.AnyArg(), "client-1", "bank_statement", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (client_id, document_type) DO UPDATE SET is_required")).
		WithArgs(sqlmock.AnyArg(), "client-1", "tax_return", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Reconcile(context.Background(), "client-1", []RequiredType{
		{Type: "bank_statement", Required: true},
		{Type: "tax_return", Required: false},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachReplacesPreviousDocument(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequiredDocumentRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document_id FROM required_documents WHERE client_id = $1 AND document_type = $2 FOR UPDATE")).
		WithArgs("client-1", "bank_statement").
		WillReturnRows(sqlmock.NewRows([]string{"document_id"}).AddRow("old-doc"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE id = $1")).
		WithArgs("old-doc").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).AddRow(
			"old-doc", "client-1", "old.pdf", "client-1/onboarding/bank_statement/1.pdf", "application/pdf", 10,
			"bank_statement", "onboarding", "pending", "user-1", nil, nil, now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO required_documents")).
		WillReturnRows(sqlmock.NewRows(slotRowColumns).AddRow("slot-1", "client-1", "bank_statement", true, "uploaded", "new-doc", now, now))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE id = $1")).
		WithArgs("old-doc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	doc := &models.Document{
		ID:           "new-doc",
		ClientID:     "client-1",
		Name:         "new.pdf",
		StoragePath:  "client-1/onboarding/bank_statement/2.pdf",
		MimeType:     "application/pdf",
		DocumentType: "bank_statement",
		Category:     models.DocumentCategoryOnboarding,
		UploadedBy:   "user-1",
	}
	result, err := repo.Attach(context.Background(), doc, true)
	require.NoError(t, err)
	require.NotNil(t, result.Replaced)
	assert.Equal(t, "old-doc", result.Replaced.ID)
	assert.Equal(t, models.RequiredUploaded, result.Slot.Status)
	assert.Equal(t, models.DocumentPending, doc.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachRollsBackOnInsertFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequiredDocumentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"document_id"}).AddRow(nil))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.Attach(context.Background(), &models.Document{ClientID: "client-1", DocumentType: "id"}, true)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGateCountsMissingSlots(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequiredDocumentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM required_documents WHERE client_id = $1")).
		WithArgs("client-1").
		WillReturnRows(sqlmock.NewRows([]string{"required", "fulfilled"}).AddRow(3, 1))

	gate, err := repo.Gate(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentGate{Required: 3, Fulfilled: 1, Missing: 2, Satisfied: false}, gate)
}

func TestDeleteDocumentResetsSlot(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE required_documents SET status = 'pending', document_id = NULL")).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE id = $1")).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "doc-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDocumentsFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE client_id = $1 AND category = $2 ORDER BY created_at DESC LIMIT 50 OFFSET 0")).
		WithArgs("client-1", "ad_hoc").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).AddRow(
			"doc-1", "client-1", "invoice.pdf", "client-1/ad_hoc/general/1.pdf", "application/pdf", 10,
			"general", "ad_hoc", "processed", "user-1", "staff-1", now, now, now))

	docs, err := repo.List(context.Background(), models.DocumentFilter{ClientID: "client-1", Category: models.DocumentCategoryAdHoc})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.DocumentProcessed, docs[0].Status)
}
