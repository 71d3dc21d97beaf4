package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/config"
	"github.com/noah-isme/client-portal-api/pkg/events"
	"github.com/noah-isme/client-portal-api/pkg/jobs"
	"github.com/noah-isme/client-portal-api/pkg/mailer"
)

// Job types handled by the notification worker pool.
const (
	JobSendEmail        = "email.send"
	JobPublishEvent     = "event.publish"
	JobBackfillMetadata = "billing.backfill_metadata"
)

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type jobRegistrar interface {
	Handle(jobType string, handler jobs.Handler)
}

type metadataWriter interface {
	UpdateSubscriptionMetadata(ctx context.Context, subscriptionID string, metadata map[string]string) error
}

type sideEffectRecorder interface {
	RecordSideEffect(kind string, err error)
}

// SubscriptionChange describes a reconciled plan or lifecycle change.
type SubscriptionChange struct {
	Type       string                    `json:"type"`
	FromPlan   string                    `json:"from_plan,omitempty"`
	ToPlan     string                    `json:"to_plan,omitempty"`
	FromStatus models.SubscriptionStatus `json:"from_status"`
	ToStatus   models.SubscriptionStatus `json:"to_status"`
	EventID    string                    `json:"event_id,omitempty"`
}

type publishPayload struct {
	EventType string
	ClientID  string
	Data      interface{}
}

type backfillPayload struct {
	SubscriptionID string
	Metadata       map[string]string
}

// NotificationService turns domain moments into queued e-mails, events and
// processor metadata writes. Every method is best-effort.
type NotificationService struct {
	queue     jobEnqueuer
	sender    mailer.Sender
	publisher events.Publisher
	gateway   metadataWriter
	metrics   sideEffectRecorder
	cfg       config.EmailConfig
	logger    *zap.Logger
}

// NewNotificationService wires the notifier. A nil queue runs jobs inline.
func NewNotificationService(queue jobEnqueuer, sender mailer.Sender, publisher events.Publisher, gateway metadataWriter, metrics sideEffectRecorder, cfg config.EmailConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &NotificationService{queue: queue, sender: sender, publisher: publisher, gateway: gateway, metrics: metrics, cfg: cfg, logger: logger}
}

// Register binds the job handlers to the queue.
func (s *NotificationService) Register(q jobRegistrar) {
	q.Handle(JobSendEmail, s.handleEmail)
	q.Handle(JobPublishEvent, s.handlePublish)
	q.Handle(JobBackfillMetadata, s.handleBackfill)
}

func (s *NotificationService) handleEmail(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		return fmt.Errorf("unexpected email payload %T", job.Payload)
	}
	if s.sender == nil {
		return nil
	}
	err := s.sender.Send(ctx, msg)
	s.record("email", err)
	return err
}

func (s *NotificationService) handlePublish(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(publishPayload)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", job.Payload)
	}
	err := s.publisher.Publish(ctx, payload.EventType, payload.ClientID, payload.Data)
	s.record("event", err)
	return err
}

func (s *NotificationService) handleBackfill(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(backfillPayload)
	if !ok {
		return fmt.Errorf("unexpected backfill payload %T", job.Payload)
	}
	if s.gateway == nil {
		return nil
	}
	err := s.gateway.UpdateSubscriptionMetadata(ctx, payload.SubscriptionID, payload.Metadata)
	s.record("metadata_backfill", err)
	return err
}

func (s *NotificationService) record(kind string, err error) {
	if s.metrics != nil {
		s.metrics.RecordSideEffect(kind, err)
	}
}

func (s *NotificationService) dispatch(jobType string, payload interface{}, handler jobs.Handler) {
	job := jobs.Job{Type: jobType, Payload: payload, Enqueued: time.Now().UTC()}
	if s.queue == nil {
		if err := handler(context.Background(), job); err != nil {
			s.logger.Warn("side effect failed", zap.String("type", jobType), zap.Error(err))
		}
		return
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("enqueue side effect failed", zap.String("type", jobType), zap.Error(err))
	}
}

func (s *NotificationService) email(to, toName, subject string, content mailer.Content, tags ...string) {
	if strings.TrimSpace(to) == "" {
		return
	}
	msg, err := mailer.Compose(to, toName, subject, content, tags...)
	if err != nil {
		s.logger.Warn("compose email failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	s.dispatch(JobSendEmail, msg, s.handleEmail)
}

func (s *NotificationService) portalLink(path string) string {
	base := strings.TrimRight(s.cfg.PortalBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + path
}

// PublishEvent queues a domain event.
func (s *NotificationService) PublishEvent(_ context.Context, eventType, clientID string, data interface{}) {
	s.dispatch(JobPublishEvent, publishPayload{EventType: eventType, ClientID: clientID, Data: data}, s.handlePublish)
}

// BackfillSubscriptionMetadata queues a metadata write to the processor subscription.
func (s *NotificationService) BackfillSubscriptionMetadata(_ context.Context, subscriptionID string, metadata map[string]string) {
	if subscriptionID == "" || len(metadata) == 0 {
		return
	}
	s.dispatch(JobBackfillMetadata, backfillPayload{SubscriptionID: subscriptionID, Metadata: metadata}, s.handleBackfill)
}

// NotifyWelcome greets a freshly signed up client.
func (s *NotificationService) NotifyWelcome(_ context.Context, client *models.Client) {
	s.email(client.ContactEmail, client.Name, "Welcome to your client portal", mailer.Content{
		Heading: fmt.Sprintf("Welcome, %s", client.Name),
		Paragraphs: []string{
			"Your portal account is ready.",
			"Start onboarding by uploading the requested documents.",
		},
		ActionURL:   s.portalLink("/onboarding"),
		ActionLabel: "Start onboarding",
	}, "welcome")
}

// NotifyInvite sends an e-mail-locked invite its code.
func (s *NotificationService) NotifyInvite(_ context.Context, invite *models.InviteCode) {
	if invite.Email == nil {
		return
	}
	name := ""
	if invite.ClientName != nil {
		name = *invite.ClientName
	}
	s.email(*invite.Email, name, "Your invitation to the client portal", mailer.Content{
		Heading: "You have been invited",
		Paragraphs: []string{
			fmt.Sprintf("Use invite code %s to create your account.", invite.Code),
			fmt.Sprintf("The code expires on %s.", invite.ExpiresAt.Format("January 2, 2006")),
		},
		ActionURL:   s.portalLink("/signup?code=" + invite.Code),
		ActionLabel: "Create account",
	}, "invite")
}

// NotifyNewMessage tells the other side of a thread about a new message.
func (s *NotificationService) NotifyNewMessage(_ context.Context, client *models.Client, msg *models.Message) {
	content := mailer.Content{
		Heading:    "New message: " + msg.Subject,
		Paragraphs: []string{"You have a new message in the client portal."},
	}
	if msg.SenderSide == models.SenderStaff {
		content.ActionURL = s.portalLink("/messages/" + msg.ThreadKey())
		content.ActionLabel = "Read message"
		s.email(client.ContactEmail, client.Name, "New message from your accountant", content, "message")
		return
	}
	content.Paragraphs = []string{fmt.Sprintf("%s sent a new message.", client.Name)}
	s.email(s.cfg.AdminAddress, "", "New client message: "+client.Name, content, "message", "staff")
}

// NotifyReport tells a client a report is available.
func (s *NotificationService) NotifyReport(_ context.Context, client *models.Client, report *models.Report) {
	s.email(client.ContactEmail, client.Name, "A new report is available", mailer.Content{
		Heading:     report.Name,
		Paragraphs:  []string{"Your accountant uploaded a new financial report."},
		ActionURL:   s.portalLink("/reports"),
		ActionLabel: "View reports",
	}, "report")
}

// NotifySubscriptionChange alerts staff and publishes the change.
func (s *NotificationService) NotifySubscriptionChange(ctx context.Context, client *models.Client, change SubscriptionChange) {
	s.email(s.cfg.AdminAddress, "", fmt.Sprintf("Subscription %s: %s", change.Type, client.Name), mailer.Content{
		Heading: fmt.Sprintf("Subscription %s", change.Type),
		Paragraphs: []string{
			fmt.Sprintf("Client: %s (%s)", client.Name, client.ContactEmail),
			fmt.Sprintf("Plan: %s -> %s", orDash(change.FromPlan), orDash(change.ToPlan)),
			fmt.Sprintf("Status: %s -> %s", change.FromStatus, change.ToStatus),
		},
	}, "billing", "staff")
	s.PublishEvent(ctx, events.SubscriptionChanged, client.ID, change)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
