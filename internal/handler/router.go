package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/middleware"
	"github.com/noah-isme/client-portal-api/internal/models"
)

// Handlers groups every HTTP handler mounted under the API prefix.
type Handlers struct {
	Auth       *AuthHandler
	Webhook    *WebhookHandler
	Client     *ClientHandler
	Onboarding *OnboardingHandler
	Document   *DocumentHandler
	Message    *MessageHandler
	Report     *ReportHandler
	Billing    *BillingHandler
	Invite     *InviteHandler
	Archive    *ArchiveHandler
	File       *FileHandler
}

// RouteDeps carries the cross-cutting collaborators of the route table.
type RouteDeps struct {
	Tokens middleware.TokenValidator
	Audit  middleware.AuditLogger
	Logger *zap.Logger
}

// RegisterRoutes mounts the API on api.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, deps RouteDeps) {
	auth := middleware.JWT(deps.Tokens)

	api.POST("/auth/signup", h.Auth.Signup)
	api.POST("/auth/login", h.Auth.Login)
	api.POST("/auth/refresh", h.Auth.Refresh)
	api.POST("/auth/logout", auth, h.Auth.Logout)
	api.GET("/auth/session", auth, h.Auth.Session)

	api.POST("/invites/validate", h.Invite.Validate)
	api.GET("/invites/:code/engagement-letter", h.Invite.EngagementLetter)
	api.POST("/webhooks/stripe", h.Webhook.Stripe)
	api.GET("/plans", h.Billing.Plans)
	api.GET("/files/download", h.File.Download)

	client := api.Group("", auth, middleware.RequireRoles(models.RoleClient), middleware.RequireClient())
	{
		client.GET("/me", h.Client.Me)
		client.PUT("/me", h.Client.UpdateMe)
		client.DELETE("/me", h.Client.DeleteMe)

		client.GET("/onboarding", h.Onboarding.State)
		client.POST("/onboarding/advance", h.Onboarding.Advance)
		client.POST("/onboarding/documents/:type", h.Onboarding.UploadDocument)
		client.DELETE("/onboarding/documents/:type", h.Onboarding.RemoveDocument)
		client.PUT("/onboarding/accounting", h.Onboarding.UpdateAccounting)
		client.POST("/onboarding/plan", h.Onboarding.SelectPlan)
		client.POST("/onboarding/checkout-return", h.Onboarding.CheckoutReturn)
		client.POST("/onboarding/complete", h.Onboarding.Complete)

		client.GET("/documents", h.Document.List)
		client.POST("/documents", h.Document.Upload)
		client.GET("/documents/:id/url", h.Document.URL)
		client.GET("/documents/:id/download", h.Document.Download)
		client.DELETE("/documents/:id", h.Document.Delete)

		client.GET("/messages/threads", h.Message.ListThreads)
		client.POST("/messages/threads", h.Message.StartThread)
		client.GET("/messages/threads/:threadId", h.Message.GetThread)
		client.POST("/messages/threads/:threadId/replies", h.Message.Reply)
		client.POST("/messages/threads/:threadId/read", h.Message.MarkRead)

		client.GET("/reports", h.Report.List)
		client.GET("/reports/:id/url", h.Report.URL)
		client.GET("/reports/:id/download", h.Report.Download)

		client.POST("/billing/checkout", h.Billing.Checkout)
		client.POST("/billing/portal", h.Billing.Portal)
		client.POST("/billing/sync", h.Billing.Sync)
	}

	staff := api.Group("/staff", auth, middleware.RequireRoles(models.RoleStaff, models.RoleAdmin))
	{
		staff.GET("/clients", h.Client.List)
		staff.GET("/clients/:id", h.Client.Get)
		staff.GET("/clients/:id/documents", h.Document.ListForClient)
		staff.GET("/clients/:id/required-documents", h.Document.Checklist)
		staff.GET("/documents/:id/url", h.Document.StaffURL)
		staff.GET("/documents/:id/download", h.Document.StaffDownload)
		staff.PATCH("/documents/:id/review", h.Document.Review)

		staff.GET("/clients/:id/threads", h.Message.ListThreads)
		staff.POST("/clients/:id/threads", h.Message.StartThread)
		staff.GET("/clients/:id/threads/:threadId", h.Message.GetThread)
		staff.POST("/clients/:id/threads/:threadId/replies", h.Message.Reply)
		staff.POST("/clients/:id/threads/:threadId/read", h.Message.MarkRead)
		staff.PATCH("/threads/:id", h.Message.UpdateThread)

		staff.GET("/clients/:id/reports", h.Report.ListForClient)
		staff.POST("/clients/:id/reports", h.Report.Upload)
		staff.DELETE("/reports/:id", h.Report.Delete)

		staff.POST("/invites", h.Invite.Issue)
		staff.GET("/invites", h.Invite.List)
		staff.DELETE("/invites/:code", h.Invite.Revoke)

		staff.POST("/clients/:id/billing/sync", h.Billing.StaffSync)
	}

	admin := api.Group("/admin", auth, middleware.RequireRoles(models.RoleAdmin))
	{
		admin.POST("/clients/:id/archive", h.Archive.Archive)
		admin.GET("/clients/:id/archive", h.Archive.Status)
		admin.GET("/archives", h.Archive.List)
		admin.GET("/archives/export.csv", middleware.Audit(deps.Audit, models.AuditActionArchiveExport, "archived_clients", "", deps.Logger), h.Archive.Export)
	}
}
