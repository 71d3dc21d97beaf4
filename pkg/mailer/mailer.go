package mailer

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/pkg/breaker"
	"github.com/noah-isme/client-portal-api/pkg/config"
)

// Message is one outbound transactional e-mail.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
	Tags    []string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New returns a SendGrid sender when an API key is configured and a logging
// no-op sender otherwise.
func New(cfg config.EmailConfig, logger *zap.Logger) Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendGridAPIKey == "" {
		logger.Info("sendgrid api key missing, e-mail delivery disabled")
		return &LogSender{logger: logger}
	}
	return &SendGridSender{
		client:   sendgrid.NewSendClient(cfg.SendGridAPIKey),
		from:     cfg.FromAddress,
		fromName: cfg.FromName,
		breaker:  breaker.New("sendgrid", logger),
		logger:   logger,
	}
}

// SendGridSender delivers mail through the SendGrid v3 API.
type SendGridSender struct {
	client   *sendgrid.Client
	from     string
	fromName string
	breaker  *breaker.Breaker
	logger   *zap.Logger
}

// Send delivers msg. Non-2xx responses are returned as errors so the job queue retries.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("recipient required")
	}
	from := mail.NewEmail(s.fromName, s.from)
	to := mail.NewEmail(msg.ToName, msg.To)
	m := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	if len(msg.Tags) > 0 {
		m.AddCategories(msg.Tags...)
	}

	tracking := mail.NewTrackingSettings()
	click := mail.NewClickTrackingSetting()
	click.SetEnable(false)
	click.SetEnableText(false)
	tracking.SetClickTracking(click)
	m.SetTrackingSettings(tracking)

	return s.breaker.Do(func() error {
		resp, err := s.client.SendWithContext(ctx, m)
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("send email: sendgrid status %d", resp.StatusCode)
		}
		s.logger.Debug("email sent", zap.String("subject", msg.Subject), zap.Int("status", resp.StatusCode))
		return nil
	})
}

// LogSender records messages instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

// Send logs the message envelope.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("email suppressed", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}
