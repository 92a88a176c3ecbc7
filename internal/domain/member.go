package domain

import "time"

// Membership is a (room, user) pair. It exists while the user has a live
// connection in the room.
type Membership struct {
	RoomID   RoomID
	UserID   UserID
	JoinedAt time.Time
}

func NewMembership(room RoomID, user UserID, at time.Time) Membership {
	return Membership{RoomID: room, UserID: user, JoinedAt: at.UTC()}
}
