package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/internal/repository"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
	"github.com/noah-isme/client-portal-api/pkg/storage"
)

// inviteAlphabet omits characters that are easy to confuse when read aloud.
const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const inviteCodeAttempts = 5

type inviteRepository interface {
	Create(ctx context.Context, invite *models.InviteCode) error
	Get(ctx context.Context, code string) (*models.InviteCode, error)
	List(ctx context.Context, filter models.InviteFilter, now time.Time) ([]models.InviteCode, error)
	DeleteUnused(ctx context.Context, code string) error
}

type inviteNotifier interface {
	NotifyInvite(ctx context.Context, invite *models.InviteCode)
}

// InviteService issues and checks signup invite codes.
type InviteService struct {
	repo       inviteRepository
	store      storage.ObjectStore
	catalog    *models.PlanCatalog
	notifier   inviteNotifier
	audit      auditWriter
	validator  *validator.Validate
	defaultTTL time.Duration
	urlTTL     time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewInviteService constructs the invite service.
func NewInviteService(repo inviteRepository, store storage.ObjectStore, catalog *models.PlanCatalog, notifier inviteNotifier, audit auditWriter, validate *validator.Validate, defaultTTL, urlTTL time.Duration, logger *zap.Logger) *InviteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if defaultTTL <= 0 {
		defaultTTL = 14 * 24 * time.Hour
	}
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	if catalog == nil {
		catalog = models.NewPlanCatalog(nil)
	}
	return &InviteService{
		repo:       repo,
		store:      store,
		catalog:    catalog,
		notifier:   notifier,
		audit:      audit,
		validator:  validate,
		defaultTTL: defaultTTL,
		urlTTL:     urlTTL,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeInviteCode uppercases and trims a user-entered code.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenerateInviteCode returns a random XXXX-XXXX code.
func GenerateInviteCode() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(inviteAlphabet)))
	for i := 0; i < 8; i++ {
		if i == 4 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(inviteAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Issue creates an invite code. The engagement letter is optional.
func (s *InviteService) Issue(ctx context.Context, req models.CreateInviteRequest, letter *FileUpload, createdBy string) (*models.InviteCode, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid invite payload")
	}
	now := s.now()
	invite := &models.InviteCode{
		BypassPayment: req.BypassPayment,
		CreatedBy:     createdBy,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.defaultTTL),
	}
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "expires_at must be in the future")
		}
		invite.ExpiresAt = req.ExpiresAt.UTC()
	}
	if email := models.NormalizeEmail(req.Email); email != "" {
		invite.Email = &email
	}
	if plan := strings.TrimSpace(req.RecommendedPlan); plan != "" {
		if _, ok := s.catalog.Lookup(plan); !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown recommended plan")
		}
		invite.RecommendedPlan = &plan
	}
	invite.ClientName = optionalString(strings.TrimSpace(req.ClientName))
	invite.Notes = optionalString(strings.TrimSpace(req.Notes))
	if req.TrialDays != nil {
		if !req.BypassPayment {
			return nil, appErrors.Clone(appErrors.ErrValidation, "trial_days requires bypass_payment")
		}
		days := *req.TrialDays
		invite.TrialDays = &days
	}

	var err error
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		if invite.Code, err = GenerateInviteCode(); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate invite code")
		}
		if letter != nil {
			key, putErr := s.storeLetter(ctx, invite.Code, letter)
			if putErr != nil {
				return nil, putErr
			}
			invite.EngagementLetterPath = &key
		}
		err = s.repo.Create(ctx, invite)
		if err == nil {
			break
		}
		if invite.EngagementLetterPath != nil {
			s.deleteObject(ctx, *invite.EngagementLetterPath)
			invite.EngagementLetterPath = nil
		}
		if !errors.Is(err, repository.ErrDuplicateInvite) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invite code")
		}
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "could not allocate a unique invite code")
	}

	if s.audit != nil {
		if auditErr := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     optionalString(createdBy),
			Action:     models.AuditActionInviteCreate,
			Resource:   "invite_code",
			ResourceID: &invite.Code,
		}); auditErr != nil {
			s.logger.Warn("failed to record invite audit log", zap.Error(auditErr))
		}
	}
	if req.SendEmail && invite.Email != nil && s.notifier != nil {
		s.notifier.NotifyInvite(ctx, invite)
	}
	return invite, nil
}

func (s *InviteService) storeLetter(ctx context.Context, code string, letter *FileUpload) (string, error) {
	if s.store == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "file storage is not configured")
	}
	letter.sniffContentType()
	ext := strings.ToLower(path.Ext(letter.Name))
	if ext == "" {
		ext = ".pdf"
	}
	key := fmt.Sprintf("invites/%s/engagement-letter%s", code, ext)
	if err := s.store.Put(ctx, key, letter.Body, letter.Size, letter.ContentType); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store engagement letter")
	}
	return key, nil
}

// Validate checks a code without consuming it. An empty email skips the e-mail
// lock; signup enforces it.
func (s *InviteService) Validate(ctx context.Context, code, email string) (*models.InviteValidation, error) {
	code = NormalizeInviteCode(code)
	if code == "" {
		return &models.InviteValidation{Error: "invite code is required"}, nil
	}
	invite, err := s.repo.Get(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.InviteValidation{Error: "invite code not found"}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invite code")
	}
	if reason := invite.Redeemable(email, s.now()); reason != "" {
		return &models.InviteValidation{Error: reason}, nil
	}
	return &models.InviteValidation{Valid: true, InviteCode: invite}, nil
}

// EngagementLetterURL returns a signed link to the letter attached to a valid code.
func (s *InviteService) EngagementLetterURL(ctx context.Context, code string) (string, time.Time, error) {
	invite, err := s.repo.Get(ctx, NormalizeInviteCode(code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "invite code not found")
		}
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invite code")
	}
	if reason := invite.Redeemable("", s.now()); reason != "" {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrInviteInvalid, reason)
	}
	if !invite.HasEngagementLetter() || s.store == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "no engagement letter attached")
	}
	url, expires, err := s.store.SignedURL(ctx, *invite.EngagementLetterPath, s.urlTTL)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign engagement letter url")
	}
	return url, expires, nil
}

// List returns invites for staff.
func (s *InviteService) List(ctx context.Context, filter models.InviteFilter) ([]models.InviteCode, error) {
	invites, err := s.repo.List(ctx, filter, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list invite codes")
	}
	return invites, nil
}

// Revoke deletes an unused invite and its engagement letter.
func (s *InviteService) Revoke(ctx context.Context, code, actorID string) error {
	code = NormalizeInviteCode(code)
	invite, err := s.repo.Get(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "invite code not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invite code")
	}
	if invite.Used {
		return appErrors.Clone(appErrors.ErrConflict, "invite code has already been used")
	}
	if err := s.repo.DeleteUnused(ctx, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "invite code has already been used")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke invite code")
	}
	if invite.HasEngagementLetter() {
		s.deleteObject(ctx, *invite.EngagementLetterPath)
	}
	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     optionalString(actorID),
			Action:     models.AuditActionInviteRevoke,
			Resource:   "invite_code",
			ResourceID: &code,
		}); err != nil {
			s.logger.Warn("failed to record invite revoke audit log", zap.Error(err))
		}
	}
	return nil
}

func (s *InviteService) deleteObject(ctx context.Context, key string) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.Warn("failed to delete stored object", zap.String("key", key), zap.Error(err))
	}
}
