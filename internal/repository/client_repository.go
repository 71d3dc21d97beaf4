package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/client-portal-api/internal/models"
)

// ClientRepository persists client rows and their subscription/onboarding state.
type ClientRepository struct {
	db *sqlx.DB
}

// NewClientRepository constructs the repository.
func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

var clientColumnNames = []string{
	"id", "user_id", "name", "contact_email", "phone", "company_name", "accounting_info",
	"subscription_plan", "subscription_status", "stripe_customer_id", "stripe_subscription_id",
	"trial_end", "subscription_started_at", "subscription_cancelled_at", "subscription_event_at",
	"bypass_payment", "onboarding_status", "onboarding_step", "onboarding_completed_at",
	"created_at", "updated_at",
}

func clientColumns(alias string) string {
	if alias == "" {
		return strings.Join(clientColumnNames, ", ")
	}
	prefixed := make([]string, len(clientColumnNames))
	for i, col := range clientColumnNames {
		prefixed[i] = alias + "." + col
	}
	return strings.Join(prefixed, ", ")
}

// GetByID returns a client by id.
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*models.Client, error) {
	return r.getOne(ctx, "get client", `SELECT `+clientColumns("")+` FROM clients WHERE id = $1`, id)
}

// GetByUserID returns the client linked to an auth identity.
func (r *ClientRepository) GetByUserID(ctx context.Context, userID string) (*models.Client, error) {
	return r.getOne(ctx, "get client by user", `SELECT `+clientColumns("")+` FROM clients WHERE user_id = $1`, userID)
}

// GetByCustomerID returns the client bound to a processor customer id.
func (r *ClientRepository) GetByCustomerID(ctx context.Context, customerID string) (*models.Client, error) {
	return r.getOne(ctx, "get client by customer", `SELECT `+clientColumns("")+` FROM clients WHERE stripe_customer_id = $1`, customerID)
}

// FindByBillingEmail matches the contact e-mail or the login e-mail, oldest client first.
func (r *ClientRepository) FindByBillingEmail(ctx context.Context, email string) (*models.Client, error) {
	query := `SELECT ` + clientColumns("c") + ` FROM clients c JOIN users u ON u.id = c.user_id
	WHERE LOWER(c.contact_email) = $1 OR LOWER(u.email) = $1
	ORDER BY c.created_at ASC LIMIT 1`
	return r.getOne(ctx, "find client by billing email", query, strings.ToLower(strings.TrimSpace(email)))
}

func (r *ClientRepository) getOne(ctx context.Context, op, query string, args ...interface{}) (*models.Client, error) {
	var client models.Client
	if err := r.db.GetContext(ctx, &client, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &client, nil
}

// List returns clients for the staff directory with the total count.
func (r *ClientRepository) List(ctx context.Context, filter models.ClientFilter) ([]models.Client, int, error) {
	base := ` FROM clients WHERE 1=1`
	var args []interface{}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		base += fmt.Sprintf(" AND (LOWER(name) LIKE $%d OR LOWER(contact_email) LIKE $%d OR LOWER(COALESCE(company_name, '')) LIKE $%d)", len(args), len(args), len(args))
	}
	if filter.SubscriptionStatus != "" {
		args = append(args, filter.SubscriptionStatus)
		base += fmt.Sprintf(" AND subscription_status = $%d", len(args))
	}
	if filter.OnboardingStatus != "" {
		args = append(args, filter.OnboardingStatus)
		base += fmt.Sprintf(" AND onboarding_status = $%d", len(args))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	listQuery := fmt.Sprintf("SELECT %s%s ORDER BY created_at DESC LIMIT %d OFFSET %d", clientColumns(""), base, pageSize, (page-1)*pageSize)
	var clients []models.Client
	if err := r.db.SelectContext(ctx, &clients, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list clients: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count clients: %w", err)
	}
	return clients, total, nil
}

// UpdateProfile writes the self-service profile fields.
func (r *ClientRepository) UpdateProfile(ctx context.Context, client *models.Client) error {
	client.UpdatedAt = time.Now().UTC()
	const query = `UPDATE clients SET name = :name, contact_email = :contact_email, phone = :phone,
		company_name = :company_name, accounting_info = :accounting_info, updated_at = :updated_at
	WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, client)
	if err != nil {
		return fmt.Errorf("update client profile: %w", err)
	}
	return expectOne(res, "update client profile")
}

// UpdateAccountingInfo stores the encoded accounting info.
func (r *ClientRepository) UpdateAccountingInfo(ctx context.Context, id, encoded string) error {
	const query = `UPDATE clients SET accounting_info = $2, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, encoded)
	if err != nil {
		return fmt.Errorf("update accounting info: %w", err)
	}
	return expectOne(res, "update accounting info")
}

// SetOnboardingStep moves the wizard cursor.
func (r *ClientRepository) SetOnboardingStep(ctx context.Context, id string, step int) error {
	const query = `UPDATE clients SET onboarding_step = $2, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, step)
	if err != nil {
		return fmt.Errorf("set onboarding step: %w", err)
	}
	return expectOne(res, "set onboarding step")
}

// SelectPlan records a plan chosen without checkout and moves the wizard to step.
func (r *ClientRepository) SelectPlan(ctx context.Context, id, plan string, step int) error {
	const query = `UPDATE clients SET subscription_plan = $2, onboarding_step = $3, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, plan, step)
	if err != nil {
		return fmt.Errorf("select plan: %w", err)
	}
	return expectOne(res, "select plan")
}

// CompleteOnboarding marks onboarding completed. Already completed clients keep their timestamp.
func (r *ClientRepository) CompleteOnboarding(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE clients SET onboarding_status = 'completed',
		onboarding_completed_at = COALESCE(onboarding_completed_at, $2), onboarding_step = 4, updated_at = $2
	WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("complete onboarding: %w", err)
	}
	return expectOne(res, "complete onboarding")
}

// ApplySubscription writes subscription fields only if no newer processor
// event has been applied. It reports false when the update was stale.
func (r *ClientRepository) ApplySubscription(ctx context.Context, upd models.SubscriptionUpdate) (bool, error) {
	args := []interface{}{upd.ClientID, upd.EventAt}
	sets := make([]string, 0, 10)
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Plan != nil {
		add("subscription_plan", *upd.Plan)
	}
	if upd.Status != nil {
		add("subscription_status", string(*upd.Status))
	}
	if upd.CustomerID != nil {
		add("stripe_customer_id", *upd.CustomerID)
	}
	if upd.SubscriptionID != nil {
		add("stripe_subscription_id", *upd.SubscriptionID)
	}
	switch {
	case upd.ClearTrialEnd:
		sets = append(sets, "trial_end = NULL")
	case upd.TrialEnd != nil:
		add("trial_end", *upd.TrialEnd)
	}
	if upd.StartedAt != nil {
		add("subscription_started_at", *upd.StartedAt)
	}
	if upd.CancelledAt != nil {
		add("subscription_cancelled_at", *upd.CancelledAt)
	}
	sets = append(sets, "subscription_event_at = $2", "updated_at = NOW()")

	query := "UPDATE clients SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 AND (subscription_event_at IS NULL OR subscription_event_at <= $2)"
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("apply subscription update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check subscription update rows: %w", err)
	}
	return affected > 0, nil
}

func expectOne(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
