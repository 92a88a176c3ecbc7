package core

import (
	"context"
	"time"

	"github.com/dkeye/ChatRelay/internal/domain"
)

// Authenticator resolves a session token to the identity it was issued for.
type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (domain.User, error)
}

// UserLookup is the part of the store the auth adapter needs.
type UserLookup interface {
	UserByToken(ctx context.Context, token string) (domain.User, error)
}

// RoomReader is the read side used when a connection joins.
type RoomReader interface {
	UsersInRoom(ctx context.Context, room domain.RoomID) ([]domain.User, error)
	History(ctx context.Context, room domain.RoomID) ([]domain.HistoryMessage, error)
}

// RoomWriter is the write side. Only the room controller may call it.
type RoomWriter interface {
	AddMembership(ctx context.Context, room domain.RoomID, user domain.UserID) error
	// RemoveMembership reports whether a row was actually deleted.
	RemoveMembership(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error)
	AppendMessage(ctx context.Context, room domain.RoomID, user domain.UserID, content string, at time.Time) (domain.Message, error)
}

// Store is the durable store as the relay consumes it.
type Store interface {
	UserLookup
	RoomReader
	RoomWriter
}

// CredentialStore backs the login endpoint.
type CredentialStore interface {
	UserByCredentials(ctx context.Context, username, password string) (domain.Account, error)
}

// Publisher is the producer side of the room broadcaster.
type Publisher interface {
	Publish(ev OutboundEvent) (int, error)
}

// Reader is the read half of a client connection.
type Reader interface {
	Next(ctx context.Context) (InboundEvent, error)
}

// Writer is the write half of a client connection.
type Writer interface {
	Send(ctx context.Context, ev OutboundEvent) error
	Ping(ctx context.Context) error
	// Close sends a close frame derived from cause and releases the socket.
	Close(cause error) error
}

// Conn pairs the two halves of one client connection.
type Conn interface {
	Reader
	Writer
	RemoteAddr() string
}
