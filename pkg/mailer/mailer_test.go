package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/pkg/config"
)

func TestNewWithoutKeyReturnsLogSender(t *testing.T) {
	sender := New(config.EmailConfig{}, nil)
	_, ok := sender.(*LogSender)
	require.True(t, ok)
	require.NoError(t, sender.Send(context.Background(), Message{To: "a@b.test", Subject: "hi"}))
}

func TestNewWithKeyReturnsSendGrid(t *testing.T) {
	sender := New(config.EmailConfig{SendGridAPIKey: "SG.x", FromAddress: "no-reply@example.com"}, nil)
	_, ok := sender.(*SendGridSender)
	assert.True(t, ok)
}

func TestComposeEscapesHTML(t *testing.T) {
	msg, err := Compose("client@acme.test", "Acme", "New report", Content{
		Heading:     "A new report is ready",
		Paragraphs:  []string{"<b>Q1</b> balance sheet"},
		ActionURL:   "https://portal.test/reports",
		ActionLabel: "View reports",
	}, "report")
	require.NoError(t, err)

	assert.Equal(t, "New report", msg.Subject)
	assert.Contains(t, msg.HTML, "&lt;b&gt;Q1&lt;/b&gt;")
	assert.Contains(t, msg.Text, "View reports: https://portal.test/reports")
	assert.Equal(t, []string{"report"}, msg.Tags)
}
