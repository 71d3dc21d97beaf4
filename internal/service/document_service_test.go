package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/internal/repository"
	"github.com/noah-isme/client-portal-api/pkg/config"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

// memDocuments emulates the documents and required_documents tables together.
type memDocuments struct {
	mu         sync.Mutex
	docs       map[string]*models.Document
	slots      map[string]*models.RequiredDocument
	reconciles int
	attachErr  error
}

func newMemDocuments() *memDocuments {
	return &memDocuments{docs: map[string]*models.Document{}, slots: map[string]*models.RequiredDocument{}}
}

func slotKey(clientID, docType string) string { return clientID + "/" + docType }

func (m *memDocuments) Create(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *memDocuments) GetByID(ctx context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *doc
	return &cp, nil
}

func (m *memDocuments) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, d := range m.docs {
		if filter.ClientID != "" && d.ClientID != filter.ClientID {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (m *memDocuments) UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, reviewer string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.Status = status
	doc.ReviewedBy = &reviewer
	return nil
}

func (m *memDocuments) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return sql.ErrNoRows
	}
	for _, slot := range m.slots {
		if slot.DocumentID != nil && *slot.DocumentID == id {
			slot.DocumentID = nil
			slot.Status = models.RequiredPending
		}
	}
	delete(m.docs, id)
	return nil
}

func (m *memDocuments) ListByClient(ctx context.Context, clientID string) ([]models.RequiredDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RequiredDocument
	for _, slot := range m.slots {
		if slot.ClientID == clientID {
			out = append(out, *slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentType < out[j].DocumentType })
	return out, nil
}

func (m *memDocuments) GetSlot(ctx context.Context, clientID, docType string) (*models.RequiredDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[slotKey(clientID, docType)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *slot
	return &cp, nil
}

func (m *memDocuments) Reconcile(ctx context.Context, clientID string, types []repository.RequiredType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciles++
	wanted := map[string]bool{}
	for _, t := range types {
		wanted[t.Type] = true
	}
	for key, slot := range m.slots {
		if slot.ClientID == clientID && !wanted[slot.DocumentType] {
			delete(m.slots, key)
		}
	}
	for _, t := range types {
		key := slotKey(clientID, t.Type)
		if slot, ok := m.slots[key]; ok {
			slot.IsRequired = t.Required
			continue
		}
		m.slots[key] = &models.RequiredDocument{ID: uuid.NewString(), ClientID: clientID, DocumentType: t.Type, IsRequired: t.Required, Status: models.RequiredPending}
	}
	return nil
}

func (m *memDocuments) Attach(ctx context.Context, doc *models.Document, required bool) (*models.AttachResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attachErr != nil {
		return nil, m.attachErr
	}
	key := slotKey(doc.ClientID, doc.DocumentType)
	slot, ok := m.slots[key]
	if !ok {
		slot = &models.RequiredDocument{ID: uuid.NewString(), ClientID: doc.ClientID, DocumentType: doc.DocumentType, IsRequired: required}
		m.slots[key] = slot
	}
	var replaced *models.Document
	if slot.DocumentID != nil {
		if old, ok := m.docs[*slot.DocumentID]; ok {
			cp := *old
			replaced = &cp
			delete(m.docs, old.ID)
		}
	}
	doc.ID = uuid.NewString()
	cp := *doc
	m.docs[doc.ID] = &cp
	id := doc.ID
	slot.DocumentID = &id
	slot.Status = models.RequiredUploaded
	return &models.AttachResult{Slot: *slot, Replaced: replaced}, nil
}

func (m *memDocuments) SetStatusForDocument(ctx context.Context, documentID string, status models.RequiredDocumentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, slot := range m.slots {
		if slot.DocumentID != nil && *slot.DocumentID == documentID {
			slot.Status = status
		}
	}
	return nil
}

func (m *memDocuments) Gate(ctx context.Context, clientID string) (models.DocumentGate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var gate models.DocumentGate
	for _, slot := range m.slots {
		if slot.ClientID != clientID || !slot.IsRequired {
			continue
		}
		gate.Required++
		if slot.DocumentID != nil && slot.Status.Fulfilled() {
			gate.Fulfilled++
		}
	}
	gate.Missing = gate.Required - gate.Fulfilled
	gate.Satisfied = gate.Missing == 0
	return gate, nil
}

var testDocumentTypes = []config.DocumentTypeConfig{
	{Type: "bank_statement", Required: true},
	{Type: "tax_return", Required: true},
	{Type: "id_document", Required: false},
}

func newDocumentFixture() (*DocumentService, *memDocuments, *memObjectStore) {
	mem := newMemDocuments()
	store := newMemObjectStore()
	svc := NewDocumentService(mem, mem, store, testDocumentTypes, config.StorageConfig{
		MaxFileSizeBytes: 1024,
		AllowedMIMEs:     []string{"application/pdf", "image/png", "text/plain"},
	}, nil, nil)
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, mem, store
}

func pdfUpload(name, body string) *FileUpload {
	return &FileUpload{Name: name, ContentType: "application/pdf", Size: int64(len(body)), Body: strings.NewReader(body)}
}

func TestEnsureChecklistMatchesConfiguredTypes(t *testing.T) {
	svc, mem, _ := newDocumentFixture()
	ctx := context.Background()
	mem.slots[slotKey("c1", "old_type")] = &models.RequiredDocument{ClientID: "c1", DocumentType: "old_type", IsRequired: true}
	docID := "d-keep"
	mem.slots[slotKey("c1", "bank_statement")] = &models.RequiredDocument{ClientID: "c1", DocumentType: "bank_statement", IsRequired: true, Status: models.RequiredUploaded, DocumentID: &docID}

	require.NoError(t, svc.EnsureChecklist(ctx, "c1"))
	slots, _ := mem.ListByClient(ctx, "c1")
	var types []string
	for _, s := range slots {
		types = append(types, s.DocumentType)
	}
	assert.Equal(t, []string{"bank_statement", "id_document", "tax_return"}, types)
	assert.Equal(t, models.RequiredUploaded, slots[0].Status)

	require.NoError(t, svc.EnsureChecklist(ctx, "c1"))
	assert.Equal(t, 1, mem.reconciles)
}

func TestUploadRequiredReplacementLeavesOneDocument(t *testing.T) {
	svc, mem, store := newDocumentFixture()
	ctx := context.Background()

	first, err := svc.UploadRequired(ctx, "c1", "bank_statement", pdfUpload("jan.pdf", "first"), "u1")
	require.NoError(t, err)
	firstDoc, err := mem.GetByID(ctx, *first.DocumentID)
	require.NoError(t, err)

	second, err := svc.UploadRequired(ctx, "c1", "Bank_Statement", pdfUpload("jan-v2.pdf", "second"), "u1")
	require.NoError(t, err)

	assert.NotEqual(t, *first.DocumentID, *second.DocumentID)
	docs, _ := mem.List(ctx, models.DocumentFilter{ClientID: "c1"})
	require.Len(t, docs, 1)
	assert.Equal(t, *second.DocumentID, docs[0].ID)
	assert.Equal(t, models.RequiredUploaded, second.Status)

	keys := store.keys()
	require.Len(t, keys, 1)
	assert.Equal(t, docs[0].StoragePath, keys[0])
	exists, _ := store.Exists(ctx, firstDoc.StoragePath)
	assert.False(t, exists)
	assert.True(t, strings.HasPrefix(keys[0], "c1/onboarding/bank_statement/"))
}

func TestUploadRequiredCleansUpOnFailure(t *testing.T) {
	svc, mem, store := newDocumentFixture()
	mem.attachErr = errors.New("db down")

	_, err := svc.UploadRequired(context.Background(), "c1", "tax_return", pdfUpload("t.pdf", "x"), "u1")
	require.Error(t, err)
	assert.Empty(t, store.keys())
}

func TestUploadValidatesFile(t *testing.T) {
	svc, _, _ := newDocumentFixture()
	ctx := context.Background()

	_, err := svc.UploadRequired(ctx, "c1", "passport_scan", pdfUpload("p.pdf", "x"), "u1")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Upload(ctx, "c1", "", pdfUpload("big.pdf", strings.Repeat("x", 2048)), "u1")
	require.Error(t, err)
	assert.Equal(t, int64(1024), appErrors.FromError(err).Details["max_bytes"])

	_, err = svc.Upload(ctx, "c1", "", &FileUpload{Name: "a.exe", ContentType: "application/x-msdownload", Size: 3, Body: strings.NewReader("MZx")}, "u1")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	doc, err := svc.Upload(ctx, "c1", "", &FileUpload{Name: "notes.txt", Size: 5, Body: strings.NewReader("hello")}, "u1")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", doc.MimeType)
	assert.Equal(t, models.DocumentCategoryAdHoc, doc.Category)
}

func TestGateReportsMissing(t *testing.T) {
	svc, _, _ := newDocumentFixture()
	ctx := context.Background()

	_, err := svc.UploadRequired(ctx, "c1", "bank_statement", pdfUpload("b.pdf", "b"), "u1")
	require.NoError(t, err)
	_, err = svc.UploadRequired(ctx, "c1", "id_document", pdfUpload("i.pdf", "i"), "u1")
	require.NoError(t, err)

	gate, err := svc.Gate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, gate.Required)
	assert.Equal(t, 1, gate.Fulfilled)
	assert.Equal(t, 1, gate.Missing)
	assert.False(t, gate.Satisfied)
}

func TestDocumentAccessIsScopedToClient(t *testing.T) {
	svc, _, _ := newDocumentFixture()
	ctx := context.Background()
	doc, err := svc.Upload(ctx, "c1", "receipt", pdfUpload("r.pdf", "r"), "u1")
	require.NoError(t, err)

	_, _, err = svc.ViewURL(ctx, "c2", doc.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	url, _, err := svc.ViewURL(ctx, "c1", doc.ID)
	require.NoError(t, err)
	assert.Contains(t, url, doc.StoragePath)

	_, body, err := svc.Download(ctx, "c1", doc.ID)
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	_ = body.Close()
	assert.Equal(t, "r", string(data))

	assert.True(t, errors.Is(svc.Delete(ctx, "c2", doc.ID), appErrors.ErrNotFound))
	require.NoError(t, svc.Delete(ctx, "c1", doc.ID))
}

func TestReviewDocument(t *testing.T) {
	svc, mem, store := newDocumentFixture()
	ctx := context.Background()

	slot, err := svc.UploadRequired(ctx, "c1", "bank_statement", pdfUpload("b.pdf", "b"), "u1")
	require.NoError(t, err)
	reviewed, err := svc.Review(ctx, *slot.DocumentID, models.DocumentProcessed, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentProcessed, reviewed.Status)
	verified, _ := mem.GetSlot(ctx, "c1", "bank_statement")
	assert.Equal(t, models.RequiredVerified, verified.Status)

	_, err = svc.Review(ctx, *slot.DocumentID, models.DocumentRejected, "staff-1")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	other, err := svc.UploadRequired(ctx, "c1", "tax_return", pdfUpload("t.pdf", "t"), "u1")
	require.NoError(t, err)
	_, err = svc.Review(ctx, *other.DocumentID, models.DocumentRejected, "staff-1")
	require.NoError(t, err)
	reset, _ := mem.GetSlot(ctx, "c1", "tax_return")
	assert.Equal(t, models.RequiredPending, reset.Status)
	assert.Nil(t, reset.DocumentID)
	assert.Len(t, store.keys(), 1)
}

func TestRemoveRequired(t *testing.T) {
	svc, mem, store := newDocumentFixture()
	ctx := context.Background()

	assert.True(t, errors.Is(svc.RemoveRequired(ctx, "c1", "bank_statement"), appErrors.ErrNotFound))

	_, err := svc.UploadRequired(ctx, "c1", "bank_statement", pdfUpload("b.pdf", "b"), "u1")
	require.NoError(t, err)
	require.NoError(t, svc.RemoveRequired(ctx, "c1", "bank_statement"))

	slot, _ := mem.GetSlot(ctx, "c1", "bank_statement")
	assert.Equal(t, models.RequiredPending, slot.Status)
	assert.Empty(t, store.keys())
}
