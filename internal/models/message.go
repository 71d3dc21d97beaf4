package models

import "time"

// Sender sides of a conversation.
const (
	SenderClient = "client"
	SenderStaff  = "staff"
)

// Message is one flat row of a conversation. A root message has a nil ThreadID.
type Message struct {
	ID              string        `db:"id" json:"id"`
	ClientID        string        `db:"client_id" json:"client_id"`
	SenderID        string        `db:"sender_id" json:"sender_id"`
	SenderSide      string        `db:"sender_side" json:"sender_side"`
	Subject         string        `db:"subject" json:"subject"`
	Body            string        `db:"body" json:"body"`
	Read            bool          `db:"read" json:"read"`
	ParentMessageID *string       `db:"parent_message_id" json:"parent_message_id,omitempty"`
	ThreadID        *string       `db:"thread_id" json:"thread_id,omitempty"`
	Status          MessageStatus `db:"status" json:"status"`
	Urgent          bool          `db:"urgent" json:"urgent"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// ThreadKey returns the thread identity: the shared thread id, or the message's own id for a root.
func (m Message) ThreadKey() string {
	if m.ThreadID != nil && *m.ThreadID != "" {
		return *m.ThreadID
	}
	return m.ID
}

// IsRoot reports whether the message starts a thread.
func (m Message) IsRoot() bool {
	return m.ThreadID == nil || *m.ThreadID == ""
}

// ThreadSummary is a derived view over the messages of one thread. Status and
// urgency come from the root message.
type ThreadSummary struct {
	ThreadID      string        `db:"thread_id" json:"thread_id"`
	ClientID      string        `db:"client_id" json:"client_id"`
	Subject       string        `db:"subject" json:"subject"`
	Status        MessageStatus `db:"status" json:"status"`
	Urgent        bool          `db:"urgent" json:"urgent"`
	MessageCount  int           `db:"message_count" json:"message_count"`
	UnreadCount   int           `db:"unread_count" json:"unread_count"`
	LastMessageAt time.Time     `db:"last_message_at" json:"last_message_at"`
}

// Thread is a root message with its replies in chronological order.
type Thread struct {
	Summary  ThreadSummary `json:"summary"`
	Messages []Message     `json:"messages"`
}

// OtherSide returns the counterpart of a sender side.
func OtherSide(side string) string {
	if side == SenderStaff {
		return SenderClient
	}
	return SenderStaff
}

// ThreadFilter narrows thread listings. ViewerSide drives unread counting.
type ThreadFilter struct {
	ClientID   string
	ViewerSide string
	Status     MessageStatus
	Limit      int
	Offset     int
}

// SideFor maps a role to its sender side.
func SideFor(role UserRole) string {
	if role.IsStaff() {
		return SenderStaff
	}
	return SenderClient
}

// StartThreadRequest opens a conversation.
type StartThreadRequest struct {
	Subject string `json:"subject" validate:"required,max=255"`
	Body    string `json:"body" validate:"required,max=10000"`
	Urgent  bool   `json:"urgent"`
}

// ReplyRequest adds a message to a thread. ParentMessageID defaults to the root.
type ReplyRequest struct {
	Body            string  `json:"body" validate:"required,max=10000"`
	ParentMessageID *string `json:"parent_message_id"`
}

// UpdateThreadRequest changes the status or urgency of a thread.
type UpdateThreadRequest struct {
	Status *MessageStatus `json:"status"`
	Urgent *bool          `json:"urgent"`
}
