package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/client-portal-api/internal/models"
)

const defaultClaimLease = 2 * time.Minute

// WebhookEventRepository records processor event ids for idempotent delivery.
type WebhookEventRepository struct {
	db    *sqlx.DB
	lease time.Duration
}

// NewWebhookEventRepository constructs the repository. lease bounds how long
// an in-flight claim blocks redeliveries of the same event.
func NewWebhookEventRepository(db *sqlx.DB, lease time.Duration) *WebhookEventRepository {
	if lease <= 0 {
		lease = defaultClaimLease
	}
	return &WebhookEventRepository{db: db, lease: lease}
}

// Claim registers an event for processing. It returns false when the event
// has been handled or is still being handled under an unexpired claim.
// Failed events and abandoned claims are reclaimed for retry.
func (r *WebhookEventRepository) Claim(ctx context.Context, id, eventType string, createdAt time.Time) (bool, error) {
	const query = `INSERT INTO webhook_events (id, type, status, attempts, event_created_at, received_at, claimed_at)
	VALUES ($1, $2, 'processing', 1, $3, NOW(), NOW())
	ON CONFLICT (id) DO UPDATE SET attempts = webhook_events.attempts + 1, status = 'processing', last_error = NULL, claimed_at = NOW()
	WHERE webhook_events.processed_at IS NULL
	AND (webhook_events.status = 'failed' OR webhook_events.claimed_at < NOW() - make_interval(secs => $4))
	RETURNING id`
	var claimed string
	if err := r.db.GetContext(ctx, &claimed, query, id, eventType, createdAt, r.lease.Seconds()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return true, nil
}

// MarkProcessed finalises an event as handled.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id string) error {
	return r.finish(ctx, id, models.WebhookProcessed)
}

// MarkIgnored finalises an event the portal does not act on.
func (r *WebhookEventRepository) MarkIgnored(ctx context.Context, id string) error {
	return r.finish(ctx, id, models.WebhookIgnored)
}

func (r *WebhookEventRepository) finish(ctx context.Context, id, status string) error {
	const query = `UPDATE webhook_events SET status = $2, processed_at = NOW(), last_error = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("mark webhook event %s: %w", status, err)
	}
	return nil
}

// MarkFailed records a failure and leaves the event claimable for redelivery.
func (r *WebhookEventRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	const query = `UPDATE webhook_events SET status = 'failed', last_error = $2 WHERE id = $1 AND processed_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, msg); err != nil {
		return fmt.Errorf("mark webhook event failed: %w", err)
	}
	return nil
}

// Get returns the stored record of an event.
func (r *WebhookEventRepository) Get(ctx context.Context, id string) (*models.WebhookEvent, error) {
	const query = `SELECT id, type, status, attempts, last_error, event_created_at, received_at, claimed_at, processed_at FROM webhook_events WHERE id = $1`
	var evt models.WebhookEvent
	if err := r.db.GetContext(ctx, &evt, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return &evt, nil
}
