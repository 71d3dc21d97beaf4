package dto

import (
	"time"

	"github.com/noah-isme/client-portal-api/internal/models"
)

// RedirectResponse carries a hosted page URL.
type RedirectResponse struct {
	URL string `json:"url"`
}

// SignedURLResponse is a time-limited link to a stored object.
type SignedURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// WebhookAck acknowledges a processor delivery.
type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// ThreadListResponse wraps thread summaries with the viewer's unread total.
type ThreadListResponse struct {
	Threads []models.ThreadSummary `json:"threads"`
	Unread  int                    `json:"unread"`
}

// MarkReadResponse reports how many messages were marked read.
type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

// ArchivalResponse reports the state of a client's archival job.
type ArchivalResponse struct {
	Job *models.ArchivalJob `json:"job"`
}
