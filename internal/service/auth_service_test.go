package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/internal/repository"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail      *models.User
	userByID         *models.User
	findByEmailErr   error
	refreshTokens    map[string]*models.RefreshToken
	createAccountErr error
	createdUser      *models.User
	createdClient    *models.Client
	consumedCode     string
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.userByEmail == nil {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByID != nil {
		return m.userByID, nil
	}
	if m.userByEmail != nil {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) CreateClientAccount(ctx context.Context, inviteCode string, user *models.User, client *models.Client, now time.Time) error {
	if m.createAccountErr != nil {
		return m.createAccountErr
	}
	user.ID = "u-new"
	client.ID = "c-new"
	client.UserID = user.ID
	client.CreatedAt = now
	m.consumedCode = inviteCode
	m.createdUser = user
	m.createdClient = client
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			if token.Revoked {
				return sql.ErrNoRows
			}
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type stubAuthClients struct {
	byUser map[string]*models.Client
}

func (s stubAuthClients) GetByUserID(ctx context.Context, userID string) (*models.Client, error) {
	c, ok := s.byUser[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return c, nil
}

type stubInviteStore struct {
	invites map[string]*models.InviteCode
	created []*models.InviteCode
	deleted []string
}

func (s *stubInviteStore) Get(ctx context.Context, code string) (*models.InviteCode, error) {
	inv, ok := s.invites[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return inv, nil
}

type recordingNotifier struct {
	welcomed  []string
	published []string
	invites   []string
	messages  []string
	reports   []string
}

func (n *recordingNotifier) NotifyWelcome(ctx context.Context, client *models.Client) {
	n.welcomed = append(n.welcomed, client.ID)
}

func (n *recordingNotifier) PublishEvent(ctx context.Context, eventType, clientID string, data interface{}) {
	n.published = append(n.published, eventType+":"+clientID)
}

func (n *recordingNotifier) NotifyInvite(ctx context.Context, invite *models.InviteCode) {
	n.invites = append(n.invites, invite.Code)
}

func (n *recordingNotifier) NotifyNewMessage(ctx context.Context, client *models.Client, msg *models.Message) {
	n.messages = append(n.messages, msg.SenderSide+":"+msg.Subject)
}

func (n *recordingNotifier) NotifyReport(ctx context.Context, client *models.Client, report *models.Report) {
	n.reports = append(n.reports, report.ID)
}

func testAuthConfig() AuthConfig {
	return AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, RefreshTokenExpiry: 24 * time.Hour}
}

func newAuthFixture(repo *mockAuthRepo, invites map[string]*models.InviteCode) (*AuthService, *recordingNotifier) {
	notifier := &recordingNotifier{}
	clients := stubAuthClients{byUser: map[string]*models.Client{"client-user": {ID: "c1", UserID: "client-user"}}}
	svc := NewAuthService(repo, clients, &stubInviteStore{invites: invites}, notifier, validator.New(), zap.NewNop(), testAuthConfig())
	return svc, notifier
}

func TestAuthServiceSignupWithBypassTrial(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	days := 30
	invite := &models.InviteCode{
		Code:            "ABCD-EFGH",
		RecommendedPlan: strPtr("growth"),
		BypassPayment:   true,
		TrialDays:       &days,
		ExpiresAt:       now.Add(72 * time.Hour),
	}
	repo := &mockAuthRepo{}
	svc, notifier := newAuthFixture(repo, map[string]*models.InviteCode{"ABCD-EFGH": invite})
	svc.now = func() time.Time { return now }

	pair, err := svc.Signup(context.Background(), models.SignupRequest{
		Name:       "Owner",
		Email:      "Owner@Acme.test",
		Password:   "correct-horse",
		InviteCode: "abcd-efgh",
	})
	require.NoError(t, err)

	assert.Equal(t, "ABCD-EFGH", repo.consumedCode)
	client := repo.createdClient
	assert.Equal(t, "growth", client.Plan())
	assert.Equal(t, models.SubscriptionTrialing, client.SubscriptionStatus)
	require.NotNil(t, client.TrialEnd)
	assert.Equal(t, now.AddDate(0, 0, 30), *client.TrialEnd)
	assert.Equal(t, "owner@acme.test", repo.createdUser.Email)
	assert.Equal(t, models.RoleClient, repo.createdUser.Role)
	assert.Equal(t, "c-new", pair.User.ClientID)
	assert.Equal(t, []string{"c-new"}, notifier.welcomed)

	claims, err := svc.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "c-new", claims.ClientID)
}

func TestNewClientFromInvite(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	paid := NewClientFromInvite(&models.InviteCode{RecommendedPlan: strPtr("starter")}, now)
	assert.Equal(t, models.SubscriptionNone, paid.SubscriptionStatus)
	assert.Equal(t, "starter", paid.Plan())
	assert.Nil(t, paid.TrialEnd)

	comped := NewClientFromInvite(&models.InviteCode{BypassPayment: true}, now)
	assert.Equal(t, models.SubscriptionActive, comped.SubscriptionStatus)
	assert.Nil(t, comped.TrialEnd)
	assert.Equal(t, 1, comped.OnboardingStep)
}

func TestAuthServiceSignupRejectsInvalidInvite(t *testing.T) {
	now := time.Now().UTC()
	invites := map[string]*models.InviteCode{
		"USED-CODE": {Code: "USED-CODE", Used: true, ExpiresAt: now.Add(time.Hour)},
		"LOCK-CODE": {Code: "LOCK-CODE", Email: strPtr("someone@else.test"), ExpiresAt: now.Add(time.Hour)},
		"OLD0-CODE": {Code: "OLD0-CODE", ExpiresAt: now.Add(-time.Hour)},
	}
	svc, _ := newAuthFixture(&mockAuthRepo{}, invites)

	for _, code := range []string{"USED-CODE", "LOCK-CODE", "OLD0-CODE", "NONE-CODE"} {
		_, err := svc.Signup(context.Background(), models.SignupRequest{Name: "A", Email: "a@b.test", Password: "password1", InviteCode: code})
		require.Error(t, err, code)
		assert.Equal(t, appErrors.ErrInviteInvalid.Code, appErrors.FromError(err).Code, code)
	}
}

func TestAuthServiceSignupLosesRace(t *testing.T) {
	now := time.Now().UTC()
	repo := &mockAuthRepo{createAccountErr: repository.ErrInviteUnavailable}
	svc, notifier := newAuthFixture(repo, map[string]*models.InviteCode{"ABCD-EFGH": {Code: "ABCD-EFGH", ExpiresAt: now.Add(time.Hour)}})

	_, err := svc.Signup(context.Background(), models.SignupRequest{Name: "A", Email: "a@b.test", Password: "password1", InviteCode: "ABCD-EFGH"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInviteInvalid))
	assert.Empty(t, notifier.welcomed)

	repo.createAccountErr = repository.ErrEmailTaken
	_, err = svc.Signup(context.Background(), models.SignupRequest{Name: "A", Email: "a@b.test", Password: "password1", InviteCode: "ABCD-EFGH"})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "client-user", Email: "user@example.com", PasswordHash: string(password), Active: true, Role: models.RoleClient}}
	svc, _ := newAuthFixture(repo, nil)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "c1", res.User.ClientID)
	assert.True(t, repo.lastLoginUpdated)
	assert.NotEmpty(t, repo.refreshTokens)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", PasswordHash: string(password), Active: false}}
	svc, _ := newAuthFixture(repo, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestAuthServiceRefreshTokenRotates(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: make(map[string]*models.RefreshToken)}
	user := &models.User{ID: "u1", Email: "staff@example.com", PasswordHash: "hash", Active: true, Role: models.RoleStaff}
	repo.userByID = user
	token := &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "token", ExpiresAt: time.Now().Add(time.Hour)}
	repo.refreshTokens[token.Token] = token
	svc, _ := newAuthFixture(repo, nil)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["token"].Revoked)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestValidateTokenRequiresClientScope(t *testing.T) {
	svc, _ := newAuthFixture(&mockAuthRepo{}, nil)

	staff, _, err := svc.generateAccessToken(&models.User{ID: "u1", Role: models.RoleStaff}, "")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(staff)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	unscoped, _, err := svc.generateAccessToken(&models.User{ID: "u2", Role: models.RoleClient}, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(unscoped)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}
