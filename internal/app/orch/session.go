package orch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/ChatRelay/internal/app"
	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

const defaultLeaveTimeout = 5 * time.Second

type SessionOptions struct {
	// PingPeriod is the keepalive interval; zero disables pings.
	PingPeriod time.Duration
	// LeaveTimeout bounds the teardown store call.
	LeaveTimeout time.Duration
}

// Supervisor drives one client connection through
// AwaitingJoin → Active → Closing → Closed.
type Supervisor struct {
	Auth       core.Authenticator
	Rooms      core.RoomReader
	Controller *RoomController
	Bus        *app.Broadcaster
	Registry   *app.Registry
	Policy     app.LagPolicy
	Limiter    *app.RateLimiter
	Room       domain.RoomID
	Options    SessionOptions

	sid    core.SessionID
	state  atomic.Int32
	logger zerolog.Logger
}

func (s *Supervisor) State() core.SessionState {
	return core.SessionState(s.state.Load())
}

func (s *Supervisor) SessionID() core.SessionID { return s.sid }

func (s *Supervisor) setState(st core.SessionState) {
	s.state.Store(int32(st))
	if s.Registry != nil {
		s.Registry.SetState(s.sid, st)
	}
	s.logger.Debug().Str("state", st.String()).Msg("state changed")
}

// Serve runs the connection until either relay loop stops, the handshake
// fails, or ctx is cancelled. It always returns a non-nil error describing
// why the connection ended; a clean client close is core.ErrStreamClosed.
func (s *Supervisor) Serve(ctx context.Context, conn core.Conn) (err error) {
	s.sid = core.SessionID(uuid.NewString())
	s.logger = log.With().Str("module", "orch.session").Str("sid", string(s.sid)).Logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.Registry != nil {
		s.Registry.Bind(s.sid, conn.RemoteAddr(), cancel)
		defer s.Registry.Unbind(s.sid)
	}
	s.setState(core.StateAwaitingJoin)
	defer func() {
		s.setState(core.StateClosed)
		if cerr := conn.Close(err); cerr != nil {
			s.logger.Debug().Err(cerr).Msg("close connection")
		}
		s.logger.Info().Err(err).Str("kind", core.KindOf(err).String()).Msg("connection closed")
	}()

	user, err := s.handshake(ctx, conn)
	if err != nil {
		return err
	}
	logger := s.logger.With().Str("user", string(user.ID)).Str("username", user.Username).Logger()
	s.logger = logger

	// Subscribe before joining so the live feed has no gap relative to the
	// history snapshot taken below.
	sub := s.Bus.Subscribe()
	defer sub.Close()

	if err := s.Controller.Join(ctx, s.Room, user); err != nil {
		return core.NewError(core.KindStore, "join", err)
	}
	// From here on membership exists: leave runs on every exit path,
	// while this connection is still subscribed.
	defer s.leave(ctx, user)
	if s.Registry != nil {
		s.Registry.Promote(s.sid, user)
	}

	if err := s.sendHistory(ctx, conn, user); err != nil {
		return err
	}
	s.setState(core.StateActive)
	s.logger.Info().Msg("joined")

	return s.relay(ctx, conn, sub, user)
}

// handshake reads the first event. Anything but a Join with a valid token ends
// the connection before the controller is touched.
func (s *Supervisor) handshake(ctx context.Context, conn core.Conn) (domain.User, error) {
	ev, err := conn.Next(ctx)
	if err != nil {
		return domain.User{}, err
	}
	join, ok := ev.(core.JoinRequest)
	if !ok {
		return domain.User{}, core.NewError(core.KindProtocol, "handshake", core.ErrExpectedJoin)
	}
	user, err := s.Auth.VerifyToken(ctx, join.Token)
	if err != nil {
		if errors.Is(err, core.ErrUnauthorized) {
			return domain.User{}, core.NewError(core.KindAuth, "handshake", err)
		}
		return domain.User{}, core.NewError(core.KindStore, "handshake", err)
	}
	return user, nil
}

func (s *Supervisor) sendHistory(ctx context.Context, conn core.Conn, self domain.User) error {
	members, err := s.Rooms.UsersInRoom(ctx, s.Room)
	if err != nil {
		return core.NewError(core.KindStore, "history", err)
	}
	messages, err := s.Rooms.History(ctx, s.Room)
	if err != nil {
		return core.NewError(core.KindStore, "history", err)
	}
	users := make([]domain.User, 0, len(members))
	for _, u := range members {
		if u.ID != self.ID {
			users = append(users, u)
		}
	}
	if messages == nil {
		messages = []domain.HistoryMessage{}
	}
	return conn.Send(ctx, core.History{Messages: messages, Users: users})
}

// relay runs the outbound, inbound and keepalive loops. The first one to
// return cancels the rest.
func (s *Supervisor) relay(ctx context.Context, conn core.Conn, sub *app.Subscription, user domain.User) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return guard("outbound", func() error { return s.outbound(gctx, conn, sub, user) })
	})
	g.Go(func() error {
		return guard("inbound", func() error { return s.inbound(gctx, conn, user) })
	})
	if s.Options.PingPeriod > 0 {
		g.Go(func() error {
			return guard("keepalive", func() error { return s.keepalive(gctx, conn) })
		})
	}
	err := g.Wait()
	s.setState(core.StateClosing)
	return err
}

func (s *Supervisor) outbound(ctx context.Context, conn core.Conn, sub *app.Subscription, user domain.User) error {
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			var lag *core.LagError
			if !errors.As(err, &lag) {
				return err
			}
			action := s.lagAction(user, lag.Missed)
			s.logger.Warn().Uint64("missed", lag.Missed).Str("action", action.String()).Msg("subscriber lagged")
			if action != app.LagResync {
				return lag
			}
			// The snapshot supersedes the backlog, so drop it before taking
			// the snapshot. Events published after this point are relayed.
			stale := sub.Drain()
			s.logger.Debug().Int("stale", stale).Msg("backlog dropped for resync")
			if err := s.sendHistory(ctx, conn, user); err != nil {
				return err
			}
			continue
		}
		if err := conn.Send(ctx, ev); err != nil {
			return err
		}
	}
}

func (s *Supervisor) inbound(ctx context.Context, conn core.Conn, user domain.User) error {
	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		switch ev := ev.(type) {
		case core.MessageRequest:
			if !s.Limiter.Allow(user.ID) {
				s.logger.Warn().Msg("message rate exceeded, dropped")
				continue
			}
			if err := s.Controller.SendMessage(ctx, s.Room, user.ID, user.Username, ev.Content); err != nil {
				if errors.Is(err, core.ErrInvalidContent) {
					s.logger.Warn().Int("len", len(ev.Content)).Msg("invalid message content, dropped")
					continue
				}
				return err
			}
		case core.JoinRequest:
			return core.NewError(core.KindProtocol, "inbound", core.ErrDuplicateJoin)
		default:
			return core.NewError(core.KindProtocol, "inbound", core.ErrMalformedPayload)
		}
	}
}

func (s *Supervisor) keepalive(ctx context.Context, conn core.Conn) error {
	t := time.NewTicker(s.Options.PingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := conn.Ping(ctx); err != nil {
				return err
			}
		}
	}
}

// leave discharges the membership obligation. It uses its own deadline since
// the connection context is usually cancelled by now.
func (s *Supervisor) leave(ctx context.Context, user domain.User) {
	s.setState(core.StateClosing)
	timeout := s.Options.LeaveTimeout
	if timeout <= 0 {
		timeout = defaultLeaveTimeout
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.Controller.Leave(lctx, s.Room, user); err != nil {
		s.logger.Error().Err(err).Msg("leave failed")
	}
	if s.Controller.Connections(s.Room, user.ID) == 0 {
		s.Limiter.Forget(user.ID)
	}
	s.logger.Info().Msg("left")
}

func (s *Supervisor) lagAction(user domain.User, missed uint64) app.LagAction {
	if s.Policy == nil {
		return app.LagDisconnect
	}
	return s.Policy.OnLag(user, missed)
}

// guard turns a panic inside a relay loop into an error so the teardown
// sequence still runs.
func guard(op string, fn func() error) (err error) {
	if r := panics.Try(func() { err = fn() }); r != nil {
		return core.NewError(core.KindInternal, op, r.AsError())
	}
	return err
}
