package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage drivers supported by the document store.
const (
	StorageDriverS3    = "s3"
	StorageDriverLocal = "local"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Stripe     StripeConfig
	Storage    StorageConfig
	Email      EmailConfig
	NATS       NATSConfig
	Onboarding OnboardingConfig
	Invites    InviteConfig
	Webhooks   WebhookConfig
	Archival   ArchivalConfig
	Jobs       JobsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StripeConfig carries payment processor credentials and redirect targets.
type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	PriceIDs        map[string]string
}

// StorageConfig selects and tunes the object store holding client files.
type StorageConfig struct {
	Driver           string
	Bucket           string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	ForcePathStyle   bool
	LocalDir         string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// EmailConfig configures transactional mail delivery.
type EmailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
	AdminAddress   string
	PortalBaseURL  string
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// OnboardingConfig lists the document types every client must provide.
type OnboardingConfig struct {
	DocumentTypes []DocumentTypeConfig
}

// DocumentTypeConfig is one configured onboarding checklist slot.
type DocumentTypeConfig struct {
	Type     string
	Required bool
}

type InviteConfig struct {
	DefaultTTL time.Duration
}

// WebhookConfig bounds the per-customer serialization lock and the event
// claim lease.
type WebhookConfig struct {
	LockTTL    time.Duration
	LockWait   time.Duration
	ClaimLease time.Duration
}

// ArchivalConfig controls retention and the resume sweep.
type ArchivalConfig struct {
	RetentionYears int
	SweepSchedule  string
}

type JobsConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Stripe = StripeConfig{
		SecretKey:       v.GetString("STRIPE_SECRET_KEY"),
		WebhookSecret:   v.GetString("STRIPE_WEBHOOK_SECRET"),
		SuccessURL:      v.GetString("STRIPE_SUCCESS_URL"),
		CancelURL:       v.GetString("STRIPE_CANCEL_URL"),
		PortalReturnURL: v.GetString("STRIPE_PORTAL_RETURN_URL"),
		PriceIDs: map[string]string{
			"starter":      v.GetString("STRIPE_PRICE_STARTER"),
			"growth":       v.GetString("STRIPE_PRICE_GROWTH"),
			"professional": v.GetString("STRIPE_PRICE_PROFESSIONAL"),
		},
	}

	maxFileSize := v.GetInt64("STORAGE_MAX_FILE_SIZE")
	if maxFileSize <= 0 {
		maxFileSize = 25 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		Driver:           strings.ToLower(v.GetString("STORAGE_DRIVER")),
		Bucket:           v.GetString("STORAGE_BUCKET"),
		Region:           v.GetString("STORAGE_REGION"),
		Endpoint:         v.GetString("STORAGE_ENDPOINT"),
		AccessKeyID:      v.GetString("STORAGE_ACCESS_KEY_ID"),
		SecretAccessKey:  v.GetString("STORAGE_SECRET_ACCESS_KEY"),
		ForcePathStyle:   v.GetBool("STORAGE_FORCE_PATH_STYLE"),
		LocalDir:         v.GetString("STORAGE_LOCAL_DIR"),
		SignedURLSecret:  v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 15*time.Minute),
		MaxFileSizeBytes: maxFileSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("STORAGE_ALLOWED_MIME_TYPES")),
	}

	cfg.Email = EmailConfig{
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromAddress:    v.GetString("EMAIL_FROM_ADDRESS"),
		FromName:       v.GetString("EMAIL_FROM_NAME"),
		AdminAddress:   v.GetString("EMAIL_ADMIN_ADDRESS"),
		PortalBaseURL:  v.GetString("PORTAL_BASE_URL"),
	}

	cfg.NATS = NATSConfig{
		URL:           v.GetString("NATS_URL"),
		SubjectPrefix: v.GetString("NATS_SUBJECT_PREFIX"),
	}

	cfg.Onboarding = OnboardingConfig{
		DocumentTypes: parseDocumentTypes(v.GetString("ONBOARDING_DOCUMENT_TYPES")),
	}

	cfg.Invites = InviteConfig{
		DefaultTTL: parseDuration(v.GetString("INVITE_DEFAULT_TTL"), 7*24*time.Hour),
	}

	cfg.Webhooks = WebhookConfig{
		LockTTL:    parseDuration(v.GetString("WEBHOOK_LOCK_TTL"), 30*time.Second),
		LockWait:   parseDuration(v.GetString("WEBHOOK_LOCK_WAIT"), 10*time.Second),
		ClaimLease: parseDuration(v.GetString("WEBHOOK_CLAIM_LEASE"), 2*time.Minute),
	}

	cfg.Archival = ArchivalConfig{
		RetentionYears: v.GetInt("ARCHIVE_RETENTION_YEARS"),
		SweepSchedule:  v.GetString("ARCHIVE_SWEEP_SCHEDULE"),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		MaxRetries: v.GetInt("JOBS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), 2*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "client_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("STRIPE_SUCCESS_URL", "http://localhost:3000/onboarding?checkout=success")
	v.SetDefault("STRIPE_CANCEL_URL", "http://localhost:3000/onboarding?checkout=cancel")
	v.SetDefault("STRIPE_PORTAL_RETURN_URL", "http://localhost:3000/settings")
	v.SetDefault("STRIPE_PRICE_STARTER", "")
	v.SetDefault("STRIPE_PRICE_GROWTH", "")
	v.SetDefault("STRIPE_PRICE_PROFESSIONAL", "")

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("STORAGE_BUCKET", "client-documents")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_ENDPOINT", "")
	v.SetDefault("STORAGE_FORCE_PATH_STYLE", false)
	v.SetDefault("STORAGE_LOCAL_DIR", "./storage")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "15m")
	v.SetDefault("STORAGE_MAX_FILE_SIZE", 25*1024*1024)
	v.SetDefault("STORAGE_ALLOWED_MIME_TYPES", "application/pdf,image/png,image/jpeg,text/csv,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet,application/vnd.ms-excel,application/vnd.openxmlformats-officedocument.wordprocessingml.document")

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("EMAIL_FROM_ADDRESS", "no-reply@example.com")
	v.SetDefault("EMAIL_FROM_NAME", "Client Portal")
	v.SetDefault("EMAIL_ADMIN_ADDRESS", "")
	v.SetDefault("PORTAL_BASE_URL", "http://localhost:3000")

	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_SUBJECT_PREFIX", "portal")

	v.SetDefault("ONBOARDING_DOCUMENT_TYPES", "bank_statements,credit_card_statements,prior_tax_return,financial_statements,payroll_reports:optional")
	v.SetDefault("INVITE_DEFAULT_TTL", "168h")

	v.SetDefault("WEBHOOK_LOCK_TTL", "30s")
	v.SetDefault("WEBHOOK_LOCK_WAIT", "10s")
	v.SetDefault("WEBHOOK_CLAIM_LEASE", "2m")

	v.SetDefault("ARCHIVE_RETENTION_YEARS", 7)
	v.SetDefault("ARCHIVE_SWEEP_SCHEDULE", "@every 15m")

	v.SetDefault("JOBS_WORKERS", 2)
	v.SetDefault("JOBS_MAX_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "2s")
}

func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parseDocumentTypes reads "type[:optional]" entries; duplicates keep the first occurrence.
func parseDocumentTypes(raw string) []DocumentTypeConfig {
	entries := splitAndTrim(raw)
	seen := make(map[string]struct{}, len(entries))
	result := make([]DocumentTypeConfig, 0, len(entries))
	for _, entry := range entries {
		name, flag, _ := strings.Cut(entry, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		result = append(result, DocumentTypeConfig{
			Type:     name,
			Required: !strings.EqualFold(strings.TrimSpace(flag), "optional"),
		})
	}
	return result
}
