// Package ws is the WebSocket transport: the JSON session codec, the
// connection halves over gorilla/websocket and the upgrade handler.
package ws

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

const (
	typeJoin    = "Join"
	typeLeave   = "Leave"
	typeMessage = "Message"
	typeHistory = "History"
)

type inboundEnvelope struct {
	Type    string  `json:"type"`
	Token   *string `json:"token,omitempty"`
	Content *string `json:"content,omitempty"`
}

type userEvent struct {
	Type string      `json:"type"`
	User domain.User `json:"user"`
}

type messageEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

type historyEvent struct {
	Type     string                  `json:"type"`
	Messages []domain.HistoryMessage `json:"messages"`
	Users    []domain.User           `json:"users"`
}

// Decode turns one text frame into an inbound event. Binary frames are
// refused like any other non-text frame.
func Decode(frameKind int, data []byte) (core.InboundEvent, error) {
	if frameKind != websocket.TextMessage {
		return nil, fmt.Errorf("%w: %d", core.ErrUnexpectedFrameKind, frameKind)
	}
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedPayload, err)
	}
	switch env.Type {
	case typeJoin:
		if env.Token == nil {
			return nil, fmt.Errorf("%w: Join without token", core.ErrMalformedPayload)
		}
		return core.JoinRequest{Token: *env.Token}, nil
	case typeMessage:
		if env.Content == nil {
			return nil, fmt.Errorf("%w: Message without content", core.ErrMalformedPayload)
		}
		return core.MessageRequest{Content: *env.Content}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", core.ErrMalformedPayload, env.Type)
	}
}

// Encode serializes an outbound event into one text frame.
func Encode(ev core.OutboundEvent) ([]byte, error) {
	switch ev := ev.(type) {
	case core.UserJoined:
		return json.Marshal(userEvent{Type: typeJoin, User: ev.User})
	case core.UserLeft:
		return json.Marshal(userEvent{Type: typeLeave, User: ev.User})
	case core.ChatMessage:
		return json.Marshal(messageEvent{Type: typeMessage, Username: ev.Username, Content: ev.Content})
	case core.History:
		out := historyEvent{Type: typeHistory, Messages: ev.Messages, Users: ev.Users}
		if out.Messages == nil {
			out.Messages = []domain.HistoryMessage{}
		}
		if out.Users == nil {
			out.Users = []domain.User{}
		}
		return json.Marshal(out)
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", ev)
	}
}

// EncodeInbound is the client side of the protocol.
func EncodeInbound(ev core.InboundEvent) ([]byte, error) {
	switch ev := ev.(type) {
	case core.JoinRequest:
		return json.Marshal(inboundEnvelope{Type: typeJoin, Token: &ev.Token})
	case core.MessageRequest:
		return json.Marshal(inboundEnvelope{Type: typeMessage, Content: &ev.Content})
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", ev)
	}
}

type outboundEnvelope struct {
	Type     string                  `json:"type"`
	User     *domain.User            `json:"user"`
	Username string                  `json:"username"`
	Content  string                  `json:"content"`
	Messages []domain.HistoryMessage `json:"messages"`
	Users    []domain.User           `json:"users"`
}

// DecodeOutbound is the client side of the protocol.
func DecodeOutbound(data []byte) (core.OutboundEvent, error) {
	var env outboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedPayload, err)
	}
	switch env.Type {
	case typeJoin, typeLeave:
		if env.User == nil {
			return nil, fmt.Errorf("%w: %s without user", core.ErrMalformedPayload, env.Type)
		}
		if env.Type == typeJoin {
			return core.UserJoined{User: *env.User}, nil
		}
		return core.UserLeft{User: *env.User}, nil
	case typeMessage:
		return core.ChatMessage{Username: env.Username, Content: env.Content}, nil
	case typeHistory:
		for i := range env.Messages {
			env.Messages[i].Timestamp = env.Messages[i].Timestamp.In(time.UTC)
		}
		return core.History{Messages: env.Messages, Users: env.Users}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", core.ErrMalformedPayload, env.Type)
	}
}
