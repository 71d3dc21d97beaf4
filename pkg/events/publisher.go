package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/noah-isme/client-portal-api/pkg/config"
)

// Domain event types published by the portal.
const (
	SubscriptionChanged = "subscription.changed"
	OnboardingCompleted = "onboarding.completed"
	ClientArchived      = "client.archived"
	ClientSignedUp      = "client.signed_up"
)

// Envelope is the JSON body of every published event.
type Envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	ClientID   string      `json:"client_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data,omitempty"`
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, eventType, clientID string, data interface{}) error
	Close()
}

// Connect dials NATS. An empty URL yields a publisher that drops events.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		return NopPublisher{}, nil
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("client-portal-api"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: strings.Trim(cfg.SubjectPrefix, "."), logger: logger}, nil
}

// NATSPublisher publishes envelopes on {prefix}.{event type}.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// Publish encodes and sends one event. A disconnected client skips the event.
func (p *NATSPublisher) Publish(ctx context.Context, eventType, clientID string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.conn.IsConnected() {
		p.logger.Warn("nats not connected, event skipped", zap.String("type", eventType))
		return nil
	}
	body, err := json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		ClientID:   clientID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(Subject(p.prefix, eventType), body); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Subject joins prefix and event type.
func Subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, string, string, interface{}) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() {}
