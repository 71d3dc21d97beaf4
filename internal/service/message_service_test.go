package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/internal/models"
	appErrors "github.com/noah-isme/client-portal-api/pkg/errors"
)

type memMessages struct {
	mu   sync.Mutex
	rows []*models.Message
}

func (m *memMessages) Create(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	cp := *msg
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memMessages) GetByID(ctx context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id {
			cp := *row
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memMessages) summary(root *models.Message, viewerSide string) models.ThreadSummary {
	s := models.ThreadSummary{ThreadID: root.ID, ClientID: root.ClientID, Subject: root.Subject, Status: root.Status, Urgent: root.Urgent}
	for _, row := range m.rows {
		if row.ThreadKey() != root.ID {
			continue
		}
		s.MessageCount++
		if !row.Read && row.SenderSide != viewerSide {
			s.UnreadCount++
		}
		if row.CreatedAt.After(s.LastMessageAt) {
			s.LastMessageAt = row.CreatedAt
		}
	}
	return s
}

func (m *memMessages) ListThreads(ctx context.Context, filter models.ThreadFilter) ([]models.ThreadSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ThreadSummary
	for _, row := range m.rows {
		if !row.IsRoot() || (filter.ClientID != "" && row.ClientID != filter.ClientID) {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		out = append(out, m.summary(row, filter.ViewerSide))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (m *memMessages) GetThreadSummary(ctx context.Context, threadID, viewerSide string) (*models.ThreadSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == threadID && row.IsRoot() {
			s := m.summary(row, viewerSide)
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memMessages) ListThreadMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, row := range m.rows {
		if row.ThreadKey() == threadID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memMessages) MarkThreadRead(ctx context.Context, threadID, viewerSide string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.ThreadKey() == threadID && row.SenderSide != viewerSide && !row.Read {
			row.Read = true
			n++
		}
	}
	return n, nil
}

func (m *memMessages) root(threadID string) *models.Message {
	for _, row := range m.rows {
		if row.ID == threadID && row.IsRoot() {
			return row
		}
	}
	return nil
}

func (m *memMessages) UpdateThreadStatus(ctx context.Context, threadID string, status models.MessageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	root := m.root(threadID)
	if root == nil {
		return sql.ErrNoRows
	}
	root.Status = status
	return nil
}

func (m *memMessages) SetThreadUrgent(ctx context.Context, threadID string, urgent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	root := m.root(threadID)
	if root == nil {
		return sql.ErrNoRows
	}
	root.Urgent = urgent
	return nil
}

func (m *memMessages) CountUnread(ctx context.Context, clientID, viewerSide string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.rows {
		if !row.Read && row.SenderSide != viewerSide && (clientID == "" || row.ClientID == clientID) {
			n++
		}
	}
	return n, nil
}

var (
	clientActor = &models.JWTClaims{UserID: "u-client", Role: models.RoleClient, ClientID: "c1"}
	staffActor  = &models.JWTClaims{UserID: "u-staff", Role: models.RoleStaff}
)

func newMessageFixture() (*MessageService, *memMessages, *recordingNotifier) {
	repo := &memMessages{}
	notifier := &recordingNotifier{}
	clients := newStubClientStore(
		&models.Client{ID: "c1", Name: "Acme", ContactEmail: "owner@acme.test"},
		&models.Client{ID: "c2", Name: "Other", ContactEmail: "other@acme.test"},
	)
	svc := NewMessageService(repo, clients, notifier, nil, nil, nil)
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return svc, repo, notifier
}

func TestMessageThreadConversation(t *testing.T) {
	svc, _, notifier := newMessageFixture()
	ctx := context.Background()

	thread, err := svc.StartThread(ctx, "c1", models.StartThreadRequest{Subject: "Q1 taxes", Body: "When is the deadline?"}, clientActor)
	require.NoError(t, err)
	rootID := thread.Summary.ThreadID
	assert.Equal(t, models.MessageOpen, thread.Summary.Status)
	require.Len(t, thread.Messages, 1)
	assert.Nil(t, thread.Messages[0].ThreadID)

	reply, err := svc.Reply(ctx, "", rootID, models.ReplyRequest{Body: "April 15th."}, staffActor)
	require.NoError(t, err)
	require.NotNil(t, reply.ThreadID)
	assert.Equal(t, rootID, *reply.ThreadID)
	assert.Equal(t, rootID, *reply.ParentMessageID)
	assert.Equal(t, "Q1 taxes", reply.Subject)

	nested, err := svc.Reply(ctx, "c1", rootID, models.ReplyRequest{Body: "Thanks", ParentMessageID: &reply.ID}, clientActor)
	require.NoError(t, err)
	assert.Equal(t, rootID, *nested.ThreadID)
	assert.Equal(t, reply.ID, *nested.ParentMessageID)

	got, err := svc.GetThread(ctx, "c1", rootID, models.SenderClient)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 3)
	assert.Equal(t, 1, got.Summary.UnreadCount)

	n, err := svc.MarkRead(ctx, "c1", rootID, models.SenderClient)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	unread, err := svc.UnreadCount(ctx, "", models.SenderStaff)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	assert.Equal(t, []string{"client:Q1 taxes", "staff:Q1 taxes", "client:Q1 taxes"}, notifier.messages)
}

func TestMessageThreadsAreClientScoped(t *testing.T) {
	svc, _, _ := newMessageFixture()
	ctx := context.Background()

	thread, err := svc.StartThread(ctx, "c1", models.StartThreadRequest{Subject: "Payroll", Body: "Question"}, clientActor)
	require.NoError(t, err)

	_, err = svc.GetThread(ctx, "c2", thread.Summary.ThreadID, models.SenderClient)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.Reply(ctx, "c2", thread.Summary.ThreadID, models.ReplyRequest{Body: "hi"}, clientActor)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.StartThread(ctx, "missing", models.StartThreadRequest{Subject: "x", Body: "y"}, staffActor)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestMessageListThreadsNewestFirst(t *testing.T) {
	svc, _, _ := newMessageFixture()
	ctx := context.Background()

	first, err := svc.StartThread(ctx, "c1", models.StartThreadRequest{Subject: "First", Body: "a"}, clientActor)
	require.NoError(t, err)
	_, err = svc.StartThread(ctx, "c1", models.StartThreadRequest{Subject: "Second", Body: "b"}, clientActor)
	require.NoError(t, err)
	_, err = svc.Reply(ctx, "", first.Summary.ThreadID, models.ReplyRequest{Body: "bump"}, staffActor)
	require.NoError(t, err)

	threads, err := svc.ListThreads(ctx, models.ThreadFilter{ClientID: "c1", ViewerSide: models.SenderClient})
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "First", threads[0].Subject)
	assert.Equal(t, 2, threads[0].MessageCount)
	assert.Equal(t, 1, threads[0].UnreadCount)

	_, err = svc.ListThreads(ctx, models.ThreadFilter{Status: "archived"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestMessageUpdateThread(t *testing.T) {
	svc, repo, _ := newMessageFixture()
	ctx := context.Background()

	thread, err := svc.StartThread(ctx, "c1", models.StartThreadRequest{Subject: "Invoice", Body: "?"}, clientActor)
	require.NoError(t, err)
	reply, err := svc.Reply(ctx, "", thread.Summary.ThreadID, models.ReplyRequest{Body: "Looking"}, staffActor)
	require.NoError(t, err)

	resolved := models.MessageResolved
	urgent := true
	summary, err := svc.UpdateThread(ctx, reply.ID, models.UpdateThreadRequest{Status: &resolved, Urgent: &urgent}, staffActor)
	require.NoError(t, err)
	assert.Equal(t, models.MessageResolved, summary.Status)
	assert.True(t, summary.Urgent)
	assert.Equal(t, thread.Summary.ThreadID, summary.ThreadID)

	inProgress := models.MessageInProgress
	_, err = svc.UpdateThread(ctx, thread.Summary.ThreadID, models.UpdateThreadRequest{Status: &inProgress}, staffActor)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	_, err = svc.Reply(ctx, "c1", thread.Summary.ThreadID, models.ReplyRequest{Body: "One more thing"}, clientActor)
	require.NoError(t, err)
	assert.Equal(t, models.MessageOpen, repo.root(thread.Summary.ThreadID).Status)

	_, err = svc.UpdateThread(ctx, thread.Summary.ThreadID, models.UpdateThreadRequest{}, staffActor)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestMessageClosedThreadRejectsClientReply(t *testing.T) {
	svc, _, _ := newMessageFixture()
	ctx := context.Background()

	thread, err := svc.StartThread(ctx, "c1", models.StartThreadRequest{Subject: "Done", Body: "ok"}, clientActor)
	require.NoError(t, err)
	closed := models.MessageClosed
	_, err = svc.UpdateThread(ctx, thread.Summary.ThreadID, models.UpdateThreadRequest{Status: &closed}, staffActor)
	require.NoError(t, err)

	_, err = svc.Reply(ctx, "c1", thread.Summary.ThreadID, models.ReplyRequest{Body: "reopen?"}, clientActor)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	_, err = svc.Reply(ctx, "c1", thread.Summary.ThreadID, models.ReplyRequest{Body: "x", ParentMessageID: strPtr("nope")}, staffActor)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
