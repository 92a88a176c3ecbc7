// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrInvalidUserID   = errors.New("invalid user id")
)

type UserID string

// User is the public identity of a chat participant. The session token that
// resolves to it never leaves the store or the auth adapter.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, username string) (User, error) {
	if _, err := uuid.Parse(string(id)); err != nil || len(id) > MaxUserIDLen {
		return User{}, ErrInvalidUserID
	}
	if len(username) == 0 {
		return User{}, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return User{}, ErrUsernameTooLong
	}
	return User{ID: id, Username: username}, nil
}

// NewUserID returns a fresh random id.
func NewUserID() UserID {
	return UserID(uuid.NewString())
}

// Account is a stored user row, including its credentials.
type Account struct {
	User
	PasswordHash string
	Token        string
}
