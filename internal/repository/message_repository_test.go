package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/client-portal-api/internal/models"
)

func TestListThreadsCountsUnreadForViewer(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FILTER (WHERE NOT m.read AND m.sender_side <> $1)")).
		WithArgs(models.SenderClient, "client-1").
		WillReturnRows(sqlmock.NewRows([]string{"thread_id", "client_id", "subject", "status", "urgent", "message_count", "unread_count", "last_message_at"}).
			AddRow("root-1", "client-1", "Q1 taxes", "in_progress", true, 3, 1, now))

	threads, err := repo.ListThreads(context.Background(), models.ThreadFilter{ClientID: "client-1", ViewerSide: models.SenderClient})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, 1, threads[0].UnreadCount)
	assert.Equal(t, models.MessageInProgress, threads[0].Status)
	assert.True(t, threads[0].Urgent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkThreadReadOnlyTouchesOtherSide(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET read = TRUE WHERE (id = $1 OR thread_id = $1) AND sender_side <> $2")).
		WithArgs("root-1", models.SenderStaff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.MarkThreadRead(context.Background(), "root-1", models.SenderStaff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUpdateThreadStatusTargetsRoot(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET status = $2 WHERE id = $1 AND thread_id IS NULL")).
		WithArgs("root-1", "resolved").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateThreadStatus(context.Background(), "root-1", models.MessageResolved))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMessageDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMessageRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg := &models.Message{ClientID: "client-1", SenderID: "user-1", SenderSide: models.SenderClient, Subject: "Hi", Body: "Hello"}
	require.NoError(t, repo.Create(context.Background(), msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, models.MessageOpen, msg.Status)
	assert.False(t, msg.CreatedAt.IsZero())
}
