package models

import "time"

// Webhook event processing states.
const (
	WebhookProcessing = "processing"
	WebhookProcessed  = "processed"
	WebhookIgnored    = "ignored"
	WebhookFailed     = "failed"
)

// WebhookEvent records one processor event id for idempotent handling.
type WebhookEvent struct {
	ID             string     `db:"id" json:"id"`
	Type           string     `db:"type" json:"type"`
	Status         string     `db:"status" json:"status"`
	Attempts       int        `db:"attempts" json:"attempts"`
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	EventCreatedAt time.Time  `db:"event_created_at" json:"event_created_at"`
	ReceivedAt     time.Time  `db:"received_at" json:"received_at"`
	ClaimedAt      time.Time  `db:"claimed_at" json:"claimed_at"`
	ProcessedAt    *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// Subscription change classifications used for admin notifications.
const (
	ChangeUpgrade    = "upgrade"
	ChangeDowngrade  = "downgrade"
	ChangeCancel     = "cancel"
	ChangeReactivate = "reactivate"
)
