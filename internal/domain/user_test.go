package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	id := NewUserID()

	u, err := NewUser(id, "alice")
	require.NoError(t, err)
	assert.Equal(t, User{ID: id, Username: "alice"}, u)

	_, err = NewUser("not-a-uuid", "alice")
	assert.ErrorIs(t, err, ErrInvalidUserID)
	_, err = NewUser(id, "")
	assert.ErrorIs(t, err, ErrUsernameEmpty)
	_, err = NewUser(id, strings.Repeat("a", MaxUsernameLen+1))
	assert.ErrorIs(t, err, ErrUsernameTooLong)
}

func TestNewMessage_UsesUTC(t *testing.T) {
	at := time.Date(2024, 2, 2, 10, 0, 0, 0, time.FixedZone("X", 3600))
	m := NewMessage(DefaultRoomID, NewUserID(), "hi", at)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, time.UTC, m.CreatedAt.Location())
	assert.True(t, m.CreatedAt.Equal(at))
	assert.True(t, DefaultRoomID.Valid())
	assert.False(t, RoomID("lobby").Valid())
}
