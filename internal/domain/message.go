package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageID string

// Message is a persisted chat line. Immutable once written.
type Message struct {
	ID        MessageID
	RoomID    RoomID
	UserID    UserID
	Content   string
	CreatedAt time.Time
}

func NewMessage(room RoomID, user UserID, content string, at time.Time) Message {
	return Message{
		ID:        MessageID(uuid.NewString()),
		RoomID:    room,
		UserID:    user,
		Content:   content,
		CreatedAt: at.UTC(),
	}
}

// HistoryMessage is the projection of a Message sent to a joining client.
type HistoryMessage struct {
	UserID    UserID    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
