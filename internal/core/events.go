package core

import "github.com/dkeye/ChatRelay/internal/domain"

// InboundEvent is a client → server event. The set of implementations is
// closed: JoinRequest and MessageRequest.
type InboundEvent interface {
	inbound()
}

// JoinRequest must be the first event on a connection.
type JoinRequest struct {
	Token string
}

// MessageRequest carries a chat line typed by the client.
type MessageRequest struct {
	Content string
}

func (JoinRequest) inbound()    {}
func (MessageRequest) inbound() {}

// OutboundEvent is a server → client event. The set of implementations is
// closed: UserJoined, UserLeft, ChatMessage and History.
type OutboundEvent interface {
	outbound()
}

type UserJoined struct {
	User domain.User
}

type UserLeft struct {
	User domain.User
}

type ChatMessage struct {
	Username string
	Content  string
}

// History is sent once, right after a successful join.
type History struct {
	Messages []domain.HistoryMessage
	Users    []domain.User
}

func (UserJoined) outbound()  {}
func (UserLeft) outbound()    {}
func (ChatMessage) outbound() {}
func (History) outbound()     {}

// EventName is the wire discriminator of an outbound event.
func EventName(ev OutboundEvent) string {
	switch ev.(type) {
	case UserJoined:
		return "Join"
	case UserLeft:
		return "Leave"
	case ChatMessage:
		return "Message"
	case History:
		return "History"
	default:
		return "Unknown"
	}
}
