package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/internal/repository"
	"github.com/noah-isme/client-portal-api/pkg/config"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/storage"
)

type documentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
	UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, reviewer string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type requiredDocumentRepository interface {
	ListByClient(ctx context.Context, clientID string) ([]models.RequiredDocument, error)
	GetSlot(ctx context.Context, clientID, docType string) (*models.RequiredDocument, error)
	Reconcile(ctx context.Context, clientID string, types []repository.RequiredType) error
	Attach(ctx context.Context, doc *models.Document, required bool) (*models.AttachResult, error)
	SetStatusForDocument(ctx context.Context, documentID string, status models.RequiredDocumentStatus) error
	Gate(ctx context.Context, clientID string) (models.DocumentGate, error)
}

// DocumentService stores client files and tracks the onboarding checklist.
//
// Methods taking a clientID scope every lookup to that client; staff callers
// pass an empty clientID.
type DocumentService struct {
	docs     documentRepository
	required requiredDocumentRepository
	store    storage.ObjectStore
	types    []config.DocumentTypeConfig
	cfg      config.StorageConfig
	audit    auditWriter
	logger   *zap.Logger
	now      func() time.Time
}

// NewDocumentService constructs the document service.
func NewDocumentService(docs documentRepository, required requiredDocumentRepository, store storage.ObjectStore, types []config.DocumentTypeConfig, cfg config.StorageConfig, audit auditWriter, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	return &DocumentService{
		docs:     docs,
		required: required,
		store:    store,
		types:    types,
		cfg:      cfg,
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EnsureChecklist makes the client's checklist match the configured document
// types exactly. It is a no-op when they already match.
func (s *DocumentService) EnsureChecklist(ctx context.Context, clientID string) error {
	slots, err := s.required.ListByClient(ctx, clientID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load required documents")
	}
	if checklistMatches(slots, s.types) {
		return nil
	}
	wanted := make([]repository.RequiredType, 0, len(s.types))
	for _, t := range s.types {
		wanted = append(wanted, repository.RequiredType{Type: t.Type, Required: t.Required})
	}
	if err := s.required.Reconcile(ctx, clientID, wanted); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reconcile required documents")
	}
	s.logger.Info("required document checklist reconciled", zap.String("client_id", clientID), zap.Int("types", len(wanted)))
	return nil
}

func checklistMatches(slots []models.RequiredDocument, types []config.DocumentTypeConfig) bool {
	if len(slots) != len(types) {
		return false
	}
	have := make(map[string]bool, len(slots))
	for _, slot := range slots {
		have[slot.DocumentType] = slot.IsRequired
	}
	for _, t := range types {
		required, ok := have[t.Type]
		if !ok || required != t.Required {
			return false
		}
	}
	return true
}

// Checklist returns the client's slots and the gate over them.
func (s *DocumentService) Checklist(ctx context.Context, clientID string) ([]models.RequiredDocument, models.DocumentGate, error) {
	if err := s.EnsureChecklist(ctx, clientID); err != nil {
		return nil, models.DocumentGate{}, err
	}
	slots, err := s.required.ListByClient(ctx, clientID)
	if err != nil {
		return nil, models.DocumentGate{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load required documents")
	}
	gate, err := s.required.Gate(ctx, clientID)
	if err != nil {
		return nil, models.DocumentGate{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate required documents")
	}
	return slots, gate, nil
}

// Gate reports how many required documents are still missing.
func (s *DocumentService) Gate(ctx context.Context, clientID string) (models.DocumentGate, error) {
	if err := s.EnsureChecklist(ctx, clientID); err != nil {
		return models.DocumentGate{}, err
	}
	gate, err := s.required.Gate(ctx, clientID)
	if err != nil {
		return models.DocumentGate{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate required documents")
	}
	return gate, nil
}

func (s *DocumentService) documentType(docType string) (config.DocumentTypeConfig, bool) {
	docType = strings.ToLower(strings.TrimSpace(docType))
	for _, t := range s.types {
		if t.Type == docType {
			return t, true
		}
	}
	return config.DocumentTypeConfig{}, false
}

// UploadRequired stores a file for a checklist slot, replacing any previous
// upload for the same type.
func (s *DocumentService) UploadRequired(ctx context.Context, clientID, docType string, upload *FileUpload, uploaderID string) (*models.RequiredDocument, error) {
	typ, ok := s.documentType(docType)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown document type")
	}
	if err := s.EnsureChecklist(ctx, clientID); err != nil {
		return nil, err
	}
	doc, err := s.storeUpload(ctx, clientID, models.DocumentCategoryOnboarding, typ.Type, upload, uploaderID)
	if err != nil {
		return nil, err
	}

	result, err := s.required.Attach(ctx, doc, typ.Required)
	if err != nil {
		s.deleteObject(ctx, doc.StoragePath)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save document")
	}
	if result.Replaced != nil {
		s.deleteObject(ctx, result.Replaced.StoragePath)
	}
	return &result.Slot, nil
}

// RemoveRequired deletes the document linked to a checklist slot and resets it to pending.
func (s *DocumentService) RemoveRequired(ctx context.Context, clientID, docType string) error {
	typ, ok := s.documentType(docType)
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, "unknown document type")
	}
	slot, err := s.required.GetSlot(ctx, clientID, typ.Type)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no document uploaded for this type")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load required document")
	}
	if slot.DocumentID == nil || *slot.DocumentID == "" {
		return appErrors.Clone(appErrors.ErrNotFound, "no document uploaded for this type")
	}
	return s.Delete(ctx, clientID, *slot.DocumentID)
}

// Upload stores an ad hoc document.
func (s *DocumentService) Upload(ctx context.Context, clientID, docType string, upload *FileUpload, uploaderID string) (*models.Document, error) {
	if strings.TrimSpace(docType) == "" {
		docType = "general"
	}
	doc, err := s.storeUpload(ctx, clientID, models.DocumentCategoryAdHoc, docType, upload, uploaderID)
	if err != nil {
		return nil, err
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.deleteObject(ctx, doc.StoragePath)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save document")
	}
	return doc, nil
}

func (s *DocumentService) storeUpload(ctx context.Context, clientID, category, docType string, upload *FileUpload, uploaderID string) (*models.Document, error) {
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

	now := s.now()
	key, err := storage.ObjectKey(clientID, category, docType, upload.Name, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid upload target")
	}
	if err := s.store.Put(ctx, key, upload.Body, upload.Size, upload.ContentType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	name := strings.TrimSpace(upload.Name)
	if name == "" {
		name = docType
	}
	return &models.Document{
		ClientID:     clientID,
		Name:         name,
		StoragePath:  key,
		MimeType:     upload.ContentType,
		SizeBytes:    upload.Size,
		DocumentType: strings.ToLower(strings.TrimSpace(docType)),
		Category:     category,
		Status:       models.DocumentPending,
		UploadedBy:   uploaderID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// List returns documents matching the filter.
func (s *DocumentService) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	docs, err := s.docs.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	return docs, nil
}

// Get loads a document, hiding documents outside the caller's client.
func (s *DocumentService) Get(ctx context.Context, clientID, id string) (*models.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if err := storage.EnsureOwned(doc.StoragePath, doc.ClientID); err != nil {
		s.logger.Warn("document storage path outside client namespace", zap.String("document_id", doc.ID))
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	if clientID != "" && doc.ClientID != clientID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	return doc, nil
}

// ViewURL returns a time-limited link to the stored file.
func (s *DocumentService) ViewURL(ctx context.Context, clientID, id string) (string, time.Time, error) {
	doc, err := s.Get(ctx, clientID, id)
	if err != nil {
		return "", time.Time{}, err
	}
	url, expires, err := s.store.SignedURL(ctx, doc.StoragePath, s.cfg.SignedURLTTL)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign document url")
	}
	return url, expires, nil
}

// Download opens the stored file. The caller closes the reader.
func (s *DocumentService) Download(ctx context.Context, clientID, id string) (*models.Document, io.ReadCloser, error) {
	doc, err := s.Get(ctx, clientID, id)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.store.Get(ctx, doc.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "document file not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read document")
	}
	return doc, body, nil
}

// Delete removes the row, then the stored object. A linked checklist slot is reset.
func (s *DocumentService) Delete(ctx context.Context, clientID, id string) error {
	doc, err := s.Get(ctx, clientID, id)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, doc.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete document")
	}
	s.deleteObject(ctx, doc.StoragePath)
	return nil
}

// Review records a staff decision. Processing an onboarding document verifies
// its checklist slot; rejecting deletes the document and reopens the slot.
func (s *DocumentService) Review(ctx context.Context, id string, status models.DocumentStatus, reviewerID string) (*models.Document, error) {
	if status != models.DocumentProcessed && status != models.DocumentRejected {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be processed or rejected")
	}
	doc, err := s.Get(ctx, "", id)
	if err != nil {
		return nil, err
	}
	if !doc.Status.CanTransitionTo(status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "document has already been reviewed")
	}

	now := s.now()
	if status == models.DocumentRejected {
		if err := s.Delete(ctx, "", doc.ID); err != nil {
			return nil, err
		}
	} else {
		if err := s.docs.UpdateStatus(ctx, doc.ID, status, reviewerID, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update document")
		}
		if doc.Category == models.DocumentCategoryOnboarding {
			if err := s.required.SetStatusForDocument(ctx, doc.ID, models.RequiredVerified); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify required document")
			}
		}
	}
	doc.Status = status
	doc.ReviewedBy = &reviewerID
	doc.ReviewedAt = &now

	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     optionalString(reviewerID),
			Action:     models.AuditActionDocumentReview,
			Resource:   "document",
			ResourceID: &doc.ID,
			NewValues:  []byte(`{"status":"` + string(status) + `"}`),
		}); err != nil {
			s.logger.Warn("failed to record document review audit log", zap.Error(err))
		}
	}
	return doc, nil
}

func (s *DocumentService) deleteObject(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.Warn("failed to delete stored object", zap.String("key", key), zap.Error(err))
	}
}
