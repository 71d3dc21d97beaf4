package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/client-portal-api/internal/models"
)

const messageColumns = `id, client_id, sender_id, sender_side, subject, body, read, parent_message_id, thread_id, status, urgent, created_at`

const threadSummarySelect = `SELECT root.id AS thread_id, root.client_id, root.subject, root.status, root.urgent,
       COUNT(m.id) AS message_count,
       COUNT(m.id) FILTER (WHERE NOT m.read AND m.sender_side <> $1) AS unread_count,
       MAX(m.created_at) AS last_message_at
	FROM messages root
	JOIN messages m ON COALESCE(m.thread_id, m.id) = root.id
	WHERE root.thread_id IS NULL`

// MessageRepository persists conversation messages.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository constructs the repository.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a message row.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = models.MessageOpen
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO messages (` + messageColumns + `)
	VALUES (:id, :client_id, :sender_id, :sender_side, :subject, :body, :read, :parent_message_id, :thread_id, :status, :urgent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// GetByID returns one message.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	var msg models.Message
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// ListThreads returns thread summaries ordered by latest activity.
func (r *MessageRepository) ListThreads(ctx context.Context, filter models.ThreadFilter) ([]models.ThreadSummary, error) {
	builder := strings.Builder{}
	builder.WriteString(threadSummarySelect)
	args := []interface{}{filter.ViewerSide}

	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		builder.WriteString(fmt.Sprintf(" AND root.client_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		builder.WriteString(fmt.Sprintf(" AND root.status = $%d", len(args)))
	}
	builder.WriteString(" GROUP BY root.id ORDER BY last_message_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var threads []models.ThreadSummary
	if err := r.db.SelectContext(ctx, &threads, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list message threads: %w", err)
	}
	return threads, nil
}

// GetThreadSummary returns the summary of one thread for a viewer side.
func (r *MessageRepository) GetThreadSummary(ctx context.Context, threadID, viewerSide string) (*models.ThreadSummary, error) {
	query := threadSummarySelect + ` AND root.id = $2 GROUP BY root.id`
	var summary models.ThreadSummary
	if err := r.db.GetContext(ctx, &summary, query, viewerSide, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get thread summary: %w", err)
	}
	return &summary, nil
}

// ListThreadMessages returns the root and its replies in chronological order.
func (r *MessageRepository) ListThreadMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 OR thread_id = $1 ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, threadID); err != nil {
		return nil, fmt.Errorf("list thread messages: %w", err)
	}
	return msgs, nil
}

// MarkThreadRead flags every message sent by the other side as read.
func (r *MessageRepository) MarkThreadRead(ctx context.Context, threadID, viewerSide string) (int64, error) {
	const query = `UPDATE messages SET read = TRUE WHERE (id = $1 OR thread_id = $1) AND sender_side <> $2 AND NOT read`
	res, err := r.db.ExecContext(ctx, query, threadID, viewerSide)
	if err != nil {
		return 0, fmt.Errorf("mark thread read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check mark read rows: %w", err)
	}
	return affected, nil
}

// UpdateThreadStatus sets the status held on the root message.
func (r *MessageRepository) UpdateThreadStatus(ctx context.Context, threadID string, status models.MessageStatus) error {
	const query = `UPDATE messages SET status = $2 WHERE id = $1 AND thread_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, threadID, status)
	if err != nil {
		return fmt.Errorf("update thread status: %w", err)
	}
	return expectOne(res, "update thread status")
}

// SetThreadUrgent sets the urgency flag held on the root message.
func (r *MessageRepository) SetThreadUrgent(ctx context.Context, threadID string, urgent bool) error {
	const query = `UPDATE messages SET urgent = $2 WHERE id = $1 AND thread_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, threadID, urgent)
	if err != nil {
		return fmt.Errorf("update thread urgency: %w", err)
	}
	return expectOne(res, "update thread urgency")
}

// CountUnread counts unread messages addressed to the viewer side.
func (r *MessageRepository) CountUnread(ctx context.Context, clientID, viewerSide string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE NOT read AND sender_side <> $1`
	args := []interface{}{viewerSide}
	if clientID != "" {
		args = append(args, clientID)
		query += " AND client_id = $2"
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}
