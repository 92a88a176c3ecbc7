package domain

import "github.com/google/uuid"

type RoomID string

// DefaultRoomID is the single well-known chat every connection joins.
const DefaultRoomID RoomID = "d58535ec-fe54-4d30-9808-94af7d6dc1bf"

func (id RoomID) Valid() bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}
