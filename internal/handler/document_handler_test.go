package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/internal/dto"
	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/internal/service"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

type documentStub struct {
	filter       models.DocumentFilter
	scope        string
	uploadedType string
	reviewed     models.DocumentStatus
	reviewer     string
}

func (s *documentStub) List(_ context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	s.filter = filter
	return []models.Document{{ID: "d1", ClientID: filter.ClientID}}, nil
}

func (s *documentStub) Upload(_ context.Context, clientID, docType string, _ *service.FileUpload, _ string) (*models.Document, error) {
	s.scope, s.uploadedType = clientID, docType
	return &models.Document{ID: "d2", ClientID: clientID, DocumentType: docType}, nil
}

func (s *documentStub) ViewURL(_ context.Context, clientID, id string) (string, time.Time, error) {
	s.scope = clientID
	return "https://files.test/" + id, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), nil
}

func (s *documentStub) Download(_ context.Context, clientID, id string) (*models.Document, io.ReadCloser, error) {
	s.scope = clientID
	if id == "other" {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	body := "%PDF-1.4 ledger"
	return &models.Document{ID: id, Name: "ledger.pdf", MimeType: "application/pdf", SizeBytes: int64(len(body))},
		io.NopCloser(strings.NewReader(body)), nil
}

func (s *documentStub) Delete(_ context.Context, clientID, _ string) error {
	s.scope = clientID
	return nil
}

func (s *documentStub) Checklist(_ context.Context, clientID string) ([]models.RequiredDocument, models.DocumentGate, error) {
	s.scope = clientID
	return []models.RequiredDocument{{DocumentType: "bank_statement"}}, models.DocumentGate{Required: 1, Missing: 1}, nil
}

func (s *documentStub) Review(_ context.Context, id string, status models.DocumentStatus, reviewerID string) (*models.Document, error) {
	s.reviewed, s.reviewer = status, reviewerID
	return &models.Document{ID: id, Status: status}, nil
}

func TestDocumentListScopesToTokenClient(t *testing.T) {
	stub := &documentStub{}
	h := NewDocumentHandler(stub)

	c, w := newGinContext(http.MethodGet, "/documents?category=onboarding&limit=5", nil)
	withClaims(c, clientClaims)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", stub.filter.ClientID)
	assert.Equal(t, "onboarding", stub.filter.Category)
	assert.Equal(t, 5, stub.filter.Limit)
}

func TestDocumentUploadReadsTypeField(t *testing.T) {
	stub := &documentStub{}
	h := NewDocumentHandler(stub)

	c, w := newMultipartContext(t, http.MethodPost, "/documents", map[string]string{"document_type": "receipt"}, "file", "r.png", []byte("png"))
	withClaims(c, clientClaims)
	h.Upload(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "c1", stub.scope)
	assert.Equal(t, "receipt", stub.uploadedType)
}

func TestDocumentDownloadStreamsFile(t *testing.T) {
	h := NewDocumentHandler(&documentStub{})

	c, w := newGinContext(http.MethodGet, "/documents/d1/download", nil)
	c.AddParam("id", "d1")
	withClaims(c, clientClaims)
	h.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4 ledger", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="ledger.pdf"`)
}

func TestDocumentDownloadOfForeignDocumentIsNotFound(t *testing.T) {
	h := NewDocumentHandler(&documentStub{})

	c, w := newGinContext(http.MethodGet, "/documents/other/download", nil)
	c.AddParam("id", "other")
	withClaims(c, clientClaims)
	h.Download(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentURLAndStaffScope(t *testing.T) {
	stub := &documentStub{}
	h := NewDocumentHandler(stub)

	c, w := newGinContext(http.MethodGet, "/documents/d1/url", nil)
	c.AddParam("id", "d1")
	withClaims(c, clientClaims)
	h.URL(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", stub.scope)

	c, w = newGinContext(http.MethodGet, "/staff/documents/d1/url", nil)
	c.AddParam("id", "d1")
	withClaims(c, staffClaims)
	h.StaffURL(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", stub.scope)
}

func TestDocumentReview(t *testing.T) {
	stub := &documentStub{}
	h := NewDocumentHandler(stub)

	c, w := newGinContext(http.MethodPatch, "/staff/documents/d1/review", mustJSON(t, dto.ReviewDocumentRequest{Status: models.DocumentProcessed}))
	c.AddParam("id", "d1")
	withClaims(c, staffClaims)
	h.Review(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DocumentProcessed, stub.reviewed)
	assert.Equal(t, "u-staff", stub.reviewer)
}

func TestDocumentChecklistCarriesGate(t *testing.T) {
	h := NewDocumentHandler(&documentStub{})

	c, w := newGinContext(http.MethodGet, "/staff/clients/c1/required-documents", nil)
	c.AddParam("id", "c1")
	withClaims(c, staffClaims)
	h.Checklist(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	gate, ok := env.Meta["gate"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, gate["missing"])
}
