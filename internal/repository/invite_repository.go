package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/client-portal-api/internal/models"
)

const inviteColumns = `code, email, client_name, notes, recommended_plan, engagement_letter_path, bypass_payment,
       trial_days, expires_at, used, used_at, created_by, created_at`

// ErrDuplicateInvite signals a code collision on insert.
var ErrDuplicateInvite = errors.New("invite code already exists")

// InviteRepository persists signup invite codes.
type InviteRepository struct {
	db *sqlx.DB
}

// NewInviteRepository constructs the repository.
func NewInviteRepository(db *sqlx.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

// Create inserts an invite. A primary key collision returns ErrDuplicateInvite.
func (r *InviteRepository) Create(ctx context.Context, invite *models.InviteCode) error {
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO invite_codes (` + inviteColumns + `)
	VALUES (:code, :email, :client_name, :notes, :recommended_plan, :engagement_letter_path, :bypass_payment,
	        :trial_days, :expires_at, :used, :used_at, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, invite); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateInvite
		}
		return fmt.Errorf("create invite: %w", err)
	}
	return nil
}

// Get returns one invite by code.
func (r *InviteRepository) Get(ctx context.Context, code string) (*models.InviteCode, error) {
	const query = `SELECT ` + inviteColumns + ` FROM invite_codes WHERE code = $1`
	var invite models.InviteCode
	if err := r.db.GetContext(ctx, &invite, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get invite: %w", err)
	}
	return &invite, nil
}

// List returns invites for staff, newest first.
func (r *InviteRepository) List(ctx context.Context, filter models.InviteFilter, now time.Time) ([]models.InviteCode, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + inviteColumns + ` FROM invite_codes`)
	args := make([]interface{}, 0, 2)
	conditions := make([]string, 0, 2)

	if filter.Used != nil {
		args = append(args, *filter.Used)
		conditions = append(conditions, fmt.Sprintf("used = $%d", len(args)))
	}
	if filter.Expired != nil {
		args = append(args, now)
		if *filter.Expired {
			conditions = append(conditions, fmt.Sprintf("expires_at <= $%d", len(args)))
		} else {
			conditions = append(conditions, fmt.Sprintf("expires_at > $%d", len(args)))
		}
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var invites []models.InviteCode
	if err := r.db.SelectContext(ctx, &invites, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	return invites, nil
}

// DeleteUnused revokes an invite that has not been consumed.
func (r *InviteRepository) DeleteUnused(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM invite_codes WHERE code = $1 AND NOT used`, code)
	if err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	return expectOne(res, "delete invite")
}
