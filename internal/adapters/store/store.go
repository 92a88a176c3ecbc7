// Package store holds what every store backend shares: seed fixtures and
// password hashing.
package store

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/dkeye/ChatRelay/internal/domain"
)

var ErrRoomNotFound = errors.New("room not found")

// Fixture is a seed account with its plaintext password.
type Fixture struct {
	ID       domain.UserID
	Username string
	Password string
	Token    string
}

// Fixtures are the development accounts created by `chatdb seed` and by the
// memory store.
var Fixtures = []Fixture{
	{
		ID:       "cc36a1f5-eb49-4552-b159-ce3040c519e0",
		Username: "Test1",
		Password: "pass",
		Token:    "ab36a1f5-eb49-4552-b159-ce3040c519e1",
	},
	{
		ID:       "ac36a1f5-eb49-4552-b159-ce3040c519e0",
		Username: "Test2",
		Password: "pass",
		Token:    "cb36a1f5-eb49-4552-b159-ce3040c519e1",
	},
}

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Account builds the stored form of a fixture.
func (f Fixture) Account() (domain.Account, error) {
	user, err := domain.NewUser(f.ID, f.Username)
	if err != nil {
		return domain.Account{}, err
	}
	hash, err := HashPassword(f.Password)
	if err != nil {
		return domain.Account{}, err
	}
	return domain.Account{
		User:         user,
		PasswordHash: hash,
		Token:        f.Token,
	}, nil
}
