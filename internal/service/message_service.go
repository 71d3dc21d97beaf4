package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/models"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

type messageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListThreads(ctx context.Context, filter models.ThreadFilter) ([]models.ThreadSummary, error)
	GetThreadSummary(ctx context.Context, threadID, viewerSide string) (*models.ThreadSummary, error)
	ListThreadMessages(ctx context.Context, threadID string) ([]models.Message, error)
	MarkThreadRead(ctx context.Context, threadID, viewerSide string) (int64, error)
	UpdateThreadStatus(ctx context.Context, threadID string, status models.MessageStatus) error
	SetThreadUrgent(ctx context.Context, threadID string, urgent bool) error
	CountUnread(ctx context.Context, clientID, viewerSide string) (int, error)
}

type clientReader interface {
	GetByID(ctx context.Context, id string) (*models.Client, error)
}

type messageNotifier interface {
	NotifyNewMessage(ctx context.Context, client *models.Client, msg *models.Message)
}

// MessageService manages client and staff conversation threads.
type MessageService struct {
	repo     messageRepository
	clients  clientReader
	notifier messageNotifier
	audit    auditWriter
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewMessageService constructs the messaging service.
func NewMessageService(repo messageRepository, clients clientReader, notifier messageNotifier, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &MessageService{
		repo:     repo,
		clients:  clients,
		notifier: notifier,
		audit:    audit,
		validate: validate,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// StartThread opens a thread for clientID on behalf of the actor.
func (s *MessageService) StartThread(ctx context.Context, clientID string, req models.StartThreadRequest, actor *models.JWTClaims) (*models.Thread, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid message")
	}
	client, err := s.loadClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		ClientID:   client.ID,
		SenderID:   actor.UserID,
		SenderSide: models.SideFor(actor.Role),
		Subject:    strings.TrimSpace(req.Subject),
		Body:       strings.TrimSpace(req.Body),
		Status:     models.MessageOpen,
		Urgent:     req.Urgent,
		CreatedAt:  s.now(),
	}
	if msg.Subject == "" || msg.Body == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject and body are required")
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create message")
	}
	s.notify(ctx, client, msg)
	return s.thread(ctx, msg.ID, msg.SenderSide)
}

// Reply appends a message to a thread. clientID scopes the lookup for client callers.
func (s *MessageService) Reply(ctx context.Context, clientID, threadID string, req models.ReplyRequest, actor *models.JWTClaims) (*models.Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid message")
	}
	root, err := s.loadRoot(ctx, clientID, threadID)
	if err != nil {
		return nil, err
	}
	if root.Status == models.MessageClosed && !actor.Role.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "thread is closed")
	}

	parentID := root.ID
	if req.ParentMessageID != nil && *req.ParentMessageID != "" && *req.ParentMessageID != root.ID {
		parent, err := s.repo.GetByID(ctx, *req.ParentMessageID)
		if err != nil || parent.ThreadKey() != root.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "parent message is not part of this thread")
		}
		parentID = parent.ID
	}

	threadKey := root.ID
	msg := &models.Message{
		ClientID:        root.ClientID,
		SenderID:        actor.UserID,
		SenderSide:      models.SideFor(actor.Role),
		Subject:         root.Subject,
		Body:            strings.TrimSpace(req.Body),
		ParentMessageID: &parentID,
		ThreadID:        &threadKey,
		Status:          root.Status,
		CreatedAt:       s.now(),
	}
	if msg.Body == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "body is required")
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create message")
	}

	// A client reply reopens a resolved thread.
	if msg.SenderSide == models.SenderClient && root.Status == models.MessageResolved {
		if err := s.repo.UpdateThreadStatus(ctx, root.ID, models.MessageOpen); err != nil {
			s.logger.Warn("failed to reopen thread", zap.String("thread_id", root.ID), zap.Error(err))
		}
	}

	if client, err := s.loadClient(ctx, root.ClientID); err == nil {
		s.notify(ctx, client, msg)
	}
	return msg, nil
}

// ListThreads returns thread summaries for the viewer side.
func (s *MessageService) ListThreads(ctx context.Context, filter models.ThreadFilter) ([]models.ThreadSummary, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid thread status")
	}
	threads, err := s.repo.ListThreads(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list threads")
	}
	if threads == nil {
		threads = []models.ThreadSummary{}
	}
	return threads, nil
}

// GetThread returns the root message and replies of a thread.
func (s *MessageService) GetThread(ctx context.Context, clientID, threadID, viewerSide string) (*models.Thread, error) {
	root, err := s.loadRoot(ctx, clientID, threadID)
	if err != nil {
		return nil, err
	}
	return s.thread(ctx, root.ID, viewerSide)
}

// MarkRead flags the other side's messages in a thread as read.
func (s *MessageService) MarkRead(ctx context.Context, clientID, threadID, viewerSide string) (int64, error) {
	root, err := s.loadRoot(ctx, clientID, threadID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.MarkThreadRead(ctx, root.ID, viewerSide)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark thread read")
	}
	return n, nil
}

// UnreadCount counts messages waiting for the viewer side.
func (s *MessageService) UnreadCount(ctx context.Context, clientID, viewerSide string) (int, error) {
	n, err := s.repo.CountUnread(ctx, clientID, viewerSide)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread messages")
	}
	return n, nil
}

// UpdateThread changes the status or urgency of a thread. Both live on the root message.
func (s *MessageService) UpdateThread(ctx context.Context, threadID string, req models.UpdateThreadRequest, actor *models.JWTClaims) (*models.ThreadSummary, error) {
	if req.Status == nil && req.Urgent == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status or urgent is required")
	}
	root, err := s.loadRoot(ctx, "", threadID)
	if err != nil {
		return nil, err
	}
	if req.Status != nil {
		next := *req.Status
		if !next.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid thread status")
		}
		if !root.Status.CanTransitionTo(next) {
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidTransition, "thread status change not allowed"),
				map[string]interface{}{"from": root.Status, "to": next})
		}
		if next != root.Status {
			if err := s.repo.UpdateThreadStatus(ctx, root.ID, next); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update thread status")
			}
		}
	}
	if req.Urgent != nil && *req.Urgent != root.Urgent {
		if err := s.repo.SetThreadUrgent(ctx, root.ID, *req.Urgent); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update thread urgency")
		}
	}

	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     optionalString(actor.UserID),
			Action:     models.AuditActionThreadUpdate,
			Resource:   "message_thread",
			ResourceID: &root.ID,
		}); err != nil {
			s.logger.Warn("failed to record thread audit log", zap.Error(err))
		}
	}

	summary, err := s.repo.GetThreadSummary(ctx, root.ID, models.SideFor(actor.Role))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thread")
	}
	return summary, nil
}

func (s *MessageService) thread(ctx context.Context, threadID, viewerSide string) (*models.Thread, error) {
	summary, err := s.repo.GetThreadSummary(ctx, threadID, viewerSide)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thread not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thread")
	}
	msgs, err := s.repo.ListThreadMessages(ctx, threadID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thread messages")
	}
	return &models.Thread{Summary: *summary, Messages: msgs}, nil
}

// loadRoot resolves threadID to its root message. A reply id resolves to its thread.
func (s *MessageService) loadRoot(ctx context.Context, clientID, threadID string) (*models.Message, error) {
	msg, err := s.repo.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thread not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thread")
	}
	if !msg.IsRoot() {
		msg, err = s.repo.GetByID(ctx, msg.ThreadKey())
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thread not found")
		}
	}
	if clientID != "" && msg.ClientID != clientID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "thread not found")
	}
	return msg, nil
}

func (s *MessageService) loadClient(ctx context.Context, clientID string) (*models.Client, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
	}
	return client, nil
}

func (s *MessageService) notify(ctx context.Context, client *models.Client, msg *models.Message) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyNewMessage(ctx, client, msg)
}
