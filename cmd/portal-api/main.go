package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/client-portal-api/api/swagger"
	"github.com/noah-isme/client-portal-api/internal/handler"
	"github.com/noah-isme/client-portal-api/internal/middleware"
	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/internal/repository"
	"github.com/noah-isme/client-portal-api/internal/service"
	"github.com/noah-isme/client-portal-api/pkg/cache"
	"github.com/noah-isme/client-portal-api/pkg/config"
	"github.com/noah-isme/client-portal-api/pkg/database"
	"github.com/noah-isme/client-portal-api/pkg/events"
	"github.com/noah-isme/client-portal-api/pkg/export"
	"github.com/noah-isme/client-portal-api/pkg/jobs"
	"github.com/noah-isme/client-portal-api/pkg/logger"
	"github.com/noah-isme/client-portal-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/client-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/client-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/client-portal-api/pkg/payments"
	"github.com/noah-isme/client-portal-api/pkg/storage"
)

// @title Client Portal API
// @version 1.0.0
// @description Bookkeeping client portal: onboarding, documents, messaging, reports and billing
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, falling back to in-process locks", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	var (
		store      storage.ObjectStore
		localStore *storage.LocalStorage
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverS3:
		s3Store, err := storage.NewS3Storage(ctx, cfg.Storage, logr)
		if err != nil {
			logr.Fatal("failed to init s3 storage", zap.Error(err))
		}
		store = s3Store
	default:
		localStore, err = storage.NewLocalStorage(cfg.Storage.LocalDir, cfg.APIPrefix+"/files/download", signer)
		if err != nil {
			logr.Fatal("failed to init local storage", zap.Error(err))
		}
		store = localStore
	}

	publisher, err := events.Connect(cfg.NATS, logr)
	if err != nil {
		logr.Warn("nats unavailable, domain events disabled", zap.Error(err))
		publisher = events.NopPublisher{}
	}
	defer publisher.Close()

	validate := validator.New()
	catalog := models.NewPlanCatalog(cfg.Stripe.PriceIDs)
	metrics := service.NewMetricsService()
	gateway := payments.NewStripeGateway(cfg.Stripe, logr)
	sender := mailer.New(cfg.Email, logr)

	queue := jobs.NewQueue("side-effects", jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr.Named("jobs"),
	})
	notifications := service.NewNotificationService(queue, sender, publisher, gateway, metrics, cfg.Email, logr)
	notifications.Register(queue)
	queue.Start(ctx)
	defer queue.Stop()

	userRepo := repository.NewUserRepository(db)
	clientRepo := repository.NewClientRepository(db)
	inviteRepo := repository.NewInviteRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	requiredRepo := repository.NewRequiredDocumentRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	reportRepo := repository.NewReportRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db, cfg.Webhooks.ClaimLease)
	archiveRepo := repository.NewArchiveRepository(db)
	locker := repository.NewKeyLocker(redisClient, "portal:lock:", cfg.Webhooks.LockTTL, cfg.Webhooks.LockWait, logr)

	authService := service.NewAuthService(userRepo, clientRepo, inviteRepo, notifications, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "client-portal-api",
	})
	clientService := service.NewClientService(clientRepo, catalog, validate, logr)
	documentService := service.NewDocumentService(documentRepo, requiredRepo, store, cfg.Onboarding.DocumentTypes, cfg.Storage, userRepo, logr)
	reconciler := service.NewSubscriptionReconciler(clientRepo, webhookRepo, locker, gateway, catalog, notifications, metrics, userRepo, logr)
	billingService := service.NewBillingService(clientRepo, gateway, reconciler, catalog, cfg.Stripe, logr)
	onboardingService := service.NewOnboardingService(clientRepo, documentService, billingService, catalog, notifications, validate, logr)
	messageService := service.NewMessageService(messageRepo, clientRepo, notifications, userRepo, validate, logr)
	reportService := service.NewReportService(reportRepo, clientRepo, store, notifications, userRepo, validate, cfg.Storage, logr)
	inviteService := service.NewInviteService(inviteRepo, store, catalog, notifications, userRepo, validate, cfg.Invites.DefaultTTL, cfg.Storage.SignedURLTTL, logr)
	archiveService := service.NewArchiveService(archiveRepo, clientRepo, userRepo, store, locker,
		export.NewPDFExporter(), export.NewCSVExporter(), notifications, userRepo, cfg.Archival, logr)
	archiveService.UseMetrics(metrics)

	sweeper := service.NewArchiveSweeper(archiveService, cfg.Archival.SweepSchedule, logr)
	if err := sweeper.Start(); err != nil {
		logr.Warn("archive sweep disabled", zap.Error(err))
	}
	defer sweeper.Stop()

	// Download tokens are only issued by the local driver.
	var fileHandler *handler.FileHandler
	if localStore != nil {
		fileHandler = handler.NewFileHandler(localStore)
	} else {
		fileHandler = handler.NewFileHandler(nil)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics.Handler(), db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Auth:       handler.NewAuthHandler(authService),
		Webhook:    handler.NewWebhookHandler(reconciler, logr),
		Client:     handler.NewClientHandler(clientService, archiveService),
		Onboarding: handler.NewOnboardingHandler(onboardingService),
		Document:   handler.NewDocumentHandler(documentService),
		Message:    handler.NewMessageHandler(messageService),
		Report:     handler.NewReportHandler(reportService),
		Billing:    handler.NewBillingHandler(billingService),
		Invite:     handler.NewInviteHandler(inviteService),
		Archive:    handler.NewArchiveHandler(archiveService),
		File:       fileHandler,
	}, handler.RouteDeps{
		Tokens: authService,
		Audit:  userRepo,
		Logger: logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
