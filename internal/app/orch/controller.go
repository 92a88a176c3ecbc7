package orch

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultMaxMessageLength = 4096

// RoomController is the only path that changes persisted room state and the
// only publisher of chat events.
type RoomController struct {
	Store core.RoomWriter
	Bus   core.Publisher
	Now   func() time.Time
	// MaxMessageLength is counted in runes; zero means DefaultMaxMessageLength.
	MaxMessageLength int

	mu      sync.Mutex
	present map[memberKey]*presence
}

type memberKey struct {
	room domain.RoomID
	user domain.UserID
}

// presence counts the live connections of one member. mu serialises Join and
// Leave for that member across the store call.
type presence struct {
	mu    sync.Mutex
	conns int
	refs  int
}

func NewRoomController(store core.RoomWriter, bus core.Publisher) *RoomController {
	return &RoomController{Store: store, Bus: bus, Now: time.Now}
}

// Join records membership and then announces it. Nothing is published when
// the store write fails. A user already joined on another connection only
// gains a connection: the row exists and nobody needs a second Join event.
func (c *RoomController) Join(ctx context.Context, room domain.RoomID, user domain.User) error {
	p := c.acquire(memberKey{room, user.ID})
	defer c.release(memberKey{room, user.ID}, p)

	if p.conns > 0 {
		p.conns++
		log.Debug().Str("module", "orch.controller").Str("room", string(room)).Str("user", string(user.ID)).Int("conns", p.conns).Msg("extra connection")
		return nil
	}
	if err := c.Store.AddMembership(ctx, room, user.ID); err != nil {
		return &core.ControllerError{Op: "join", Err: err}
	}
	log.Info().Str("module", "orch.controller").Str("room", string(room)).Str("user", string(user.ID)).Msg("membership added")
	if err := c.publish("join", core.UserJoined{User: user}); err != nil {
		return err
	}
	p.conns = 1
	return nil
}

// Leave deletes membership and announces it once the user's last connection
// is gone. A Leave that finds no row publishes nothing.
func (c *RoomController) Leave(ctx context.Context, room domain.RoomID, user domain.User) error {
	p := c.acquire(memberKey{room, user.ID})
	defer c.release(memberKey{room, user.ID}, p)

	if p.conns > 0 {
		p.conns--
		if p.conns > 0 {
			log.Debug().Str("module", "orch.controller").Str("room", string(room)).Str("user", string(user.ID)).Int("conns", p.conns).Msg("connection left, membership kept")
			return nil
		}
	}
	removed, err := c.Store.RemoveMembership(ctx, room, user.ID)
	if err != nil {
		return &core.ControllerError{Op: "leave", Err: err}
	}
	if !removed {
		log.Debug().Str("module", "orch.controller").Str("room", string(room)).Str("user", string(user.ID)).Msg("leave: no membership")
		return nil
	}
	log.Info().Str("module", "orch.controller").Str("room", string(room)).Str("user", string(user.ID)).Msg("membership removed")
	return c.publish("leave", core.UserLeft{User: user})
}

// SendMessage persists the message with a server timestamp, then broadcasts
// it, so the live feed never shows a message missing from history.
func (c *RoomController) SendMessage(ctx context.Context, room domain.RoomID, userID domain.UserID, username, content string) error {
	if err := c.validate(content); err != nil {
		return err
	}
	msg, err := c.Store.AppendMessage(ctx, room, userID, content, c.now())
	if err != nil {
		return &core.ControllerError{Op: "send_message", Err: err}
	}
	log.Debug().Str("module", "orch.controller").Str("room", string(room)).Str("user", string(userID)).Str("message", string(msg.ID)).Msg("message stored")
	return c.publish("send_message", core.ChatMessage{Username: username, Content: content})
}

func (c *RoomController) validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return core.NewError(core.KindProtocol, "send_message", core.ErrInvalidContent)
	}
	limit := c.MaxMessageLength
	if limit <= 0 {
		limit = DefaultMaxMessageLength
	}
	if utf8.RuneCountInString(content) > limit {
		return core.NewError(core.KindProtocol, "send_message", core.ErrInvalidContent)
	}
	return nil
}

// Connections reports how many live connections hold the user's membership.
func (c *RoomController) Connections(room domain.RoomID, user domain.UserID) int {
	p := c.acquire(memberKey{room, user})
	defer c.release(memberKey{room, user}, p)
	return p.conns
}

func (c *RoomController) acquire(k memberKey) *presence {
	c.mu.Lock()
	if c.present == nil {
		c.present = make(map[memberKey]*presence)
	}
	p, ok := c.present[k]
	if !ok {
		p = &presence{}
		c.present[k] = p
	}
	p.refs++
	c.mu.Unlock()

	p.mu.Lock()
	return p
}

func (c *RoomController) release(k memberKey, p *presence) {
	p.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	p.refs--
	// With no refs left nobody can be holding p.mu, so conns is stable.
	if p.refs == 0 && p.conns == 0 {
		delete(c.present, k)
	}
}

func (c *RoomController) publish(op string, ev core.OutboundEvent) error {
	if _, err := c.Bus.Publish(ev); err != nil {
		// The calling connection is always subscribed, so this means the
		// subscription bookkeeping is broken.
		log.Error().Err(err).Str("module", "orch.controller").Str("op", op).Str("event", core.EventName(ev)).Msg("publish failed")
		return &core.ControllerError{Op: op, Err: err}
	}
	return nil
}

func (c *RoomController) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}
