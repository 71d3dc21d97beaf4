package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/internal/models"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

type auditSink struct {
	logs []*models.AuditLog
}

func (a *auditSink) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type requestCounter struct {
	paths []string
}

func (r *requestCounter) ObserveHTTPRequest(_ string, path string, _ int, _ time.Duration) {
	r.paths = append(r.paths, path)
}

func serve(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTSetsClaimsAndClientScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(stubValidator{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleClient, ClientID: "c1"}}))
	router.GET("/me", RequireClient(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextClientKey))
	})

	w := serve(router, http.MethodGet, "/me", "good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/me", "bad").Code)
}

func TestRequireClientRejectsStaffTokens(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(stubValidator{claims: &models.JWTClaims{UserID: "s1", Role: models.RoleStaff}}))
	router.GET("/me", RequireClient(), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, "/me", "good").Code)
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(stubValidator{claims: &models.JWTClaims{UserID: "s1", Role: models.RoleStaff}}))
	router.GET("/staff", RequireRoles(models.RoleStaff, models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/admin", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/staff", "good").Code)
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, "/admin", "good").Code)
}

func TestAuditRecordsSuccessfulRequestsOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &auditSink{}
	router := gin.New()
	router.Use(JWT(stubValidator{claims: &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}}))
	router.POST("/clients/:id/archive", Audit(sink, models.AuditActionClientArchive, "client", "id", nil), func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusAccepted)
	})

	serve(router, http.MethodPost, "/clients/c1/archive", "good")
	serve(router, http.MethodPost, "/clients/missing/archive", "good")

	require.Len(t, sink.logs, 1)
	assert.Equal(t, "a1", *sink.logs[0].UserID)
	assert.Equal(t, "c1", *sink.logs[0].ResourceID)
	assert.Equal(t, models.AuditActionClientArchive, sink.logs[0].Action)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	counter := &requestCounter{}
	router := gin.New()
	router.Use(Metrics(counter))
	router.GET("/documents/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, http.MethodGet, "/documents/abc", "")
	serve(router, http.MethodGet, "/nope", "")

	assert.Equal(t, []string{"/documents/:id", "unmatched"}, counter.paths)
}
