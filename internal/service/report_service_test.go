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
	"github.com/noah-isme/client-portal-api/pkg/config"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

type memReports struct {
	mu        sync.Mutex
	rows      map[string]*models.Report
	createErr error
}

func (m *memReports) Create(ctx context.Context, report *models.Report) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	report.ID = uuid.NewString()
	cp := *report
	m.rows[report.ID] = &cp
	return nil
}

func (m *memReports) GetByID(ctx context.Context, id string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (m *memReports) ListByClient(ctx context.Context, clientID string, reportType models.ReportType) ([]models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Report
	for _, r := range m.rows {
		if r.ClientID == clientID && (reportType == "" || r.ReportType == reportType) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memReports) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.rows, id)
	return nil
}

type reportFixture struct {
	svc      *ReportService
	repo     *memReports
	store    *memObjectStore
	notifier *recordingNotifier
	audit    *recordingAudit
}

func newReportFixture() reportFixture {
	f := reportFixture{
		repo:     &memReports{rows: map[string]*models.Report{}},
		store:    newMemObjectStore(),
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
	}
	clients := newStubClientStore(&models.Client{ID: "c1", Name: "Acme", ContactEmail: "owner@acme.test"})
	f.svc = NewReportService(f.repo, clients, f.store, f.notifier, f.audit, nil, config.StorageConfig{
		MaxFileSizeBytes: 1 << 20,
		AllowedMIMEs:     []string{"application/pdf"},
	}, nil)
	clock := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}
	return f
}

func reportRequest(typ models.ReportType) models.UploadReportRequest {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	return models.UploadReportRequest{ReportType: typ, Name: "Q1 " + string(typ), PeriodStart: &start, PeriodEnd: &end}
}

func TestReportUploadAndClientAccess(t *testing.T) {
	f := newReportFixture()
	ctx := context.Background()

	report, err := f.svc.Upload(ctx, "c1", reportRequest(models.ReportProfitLoss), pdfUpload("pl.pdf", "%PDF-1.4"), "staff-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(report.StoragePath, "c1/reports/profit_loss/"))
	assert.Equal(t, []string{report.ID}, f.notifier.reports)
	assert.Equal(t, []string{models.AuditActionReportUpload}, f.audit.actions)

	_, err = f.svc.Upload(ctx, "c1", reportRequest(models.ReportBalanceSheet), pdfUpload("bs.pdf", "%PDF-1.4"), "staff-1")
	require.NoError(t, err)

	all, err := f.svc.List(ctx, "c1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.ReportBalanceSheet, all[0].ReportType)

	onlyPL, err := f.svc.List(ctx, "c1", models.ReportProfitLoss)
	require.NoError(t, err)
	assert.Len(t, onlyPL, 1)

	url, _, err := f.svc.ViewURL(ctx, "c1", report.ID)
	require.NoError(t, err)
	assert.Contains(t, url, report.StoragePath)

	_, body, err := f.svc.Download(ctx, "c1", report.ID)
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	assert.Equal(t, "%PDF-1.4", string(data))

	_, _, err = f.svc.Download(ctx, "c2", report.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestReportUploadValidation(t *testing.T) {
	f := newReportFixture()
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, "c1", reportRequest("cash_flow"), pdfUpload("x.pdf", "x"), "staff-1")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	req := reportRequest(models.ReportReconciliation)
	req.PeriodStart, req.PeriodEnd = req.PeriodEnd, req.PeriodStart
	_, err = f.svc.Upload(ctx, "c1", req, pdfUpload("x.pdf", "x"), "staff-1")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Upload(ctx, "c1", reportRequest(models.ReportReconciliation), &FileUpload{Name: "x.png", ContentType: "image/png", Size: 1, Body: strings.NewReader("x")}, "staff-1")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Upload(ctx, "missing", reportRequest(models.ReportReconciliation), pdfUpload("x.pdf", "x"), "staff-1")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	assert.Empty(t, f.store.keys())
	assert.Empty(t, f.notifier.reports)
}

func TestReportUploadRemovesObjectWhenRowFails(t *testing.T) {
	f := newReportFixture()
	f.repo.createErr = errors.New("insert failed")

	_, err := f.svc.Upload(context.Background(), "c1", reportRequest(models.ReportProfitLoss), pdfUpload("pl.pdf", "x"), "staff-1")
	require.Error(t, err)
	assert.Empty(t, f.store.keys())
	assert.Empty(t, f.notifier.reports)
}

func TestReportDelete(t *testing.T) {
	f := newReportFixture()
	ctx := context.Background()

	report, err := f.svc.Upload(ctx, "c1", reportRequest(models.ReportProfitLoss), pdfUpload("pl.pdf", "x"), "staff-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, report.ID, "staff-1"))
	assert.Empty(t, f.store.keys())
	assert.Equal(t, []string{models.AuditActionReportUpload, models.AuditActionReportDelete}, f.audit.actions)

	err = f.svc.Delete(ctx, report.ID, "staff-1")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
