package orch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/ChatRelay/internal/app"
	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

const testRoom domain.RoomID = "d58535ec-fe54-4d30-9808-94af7d6dc1bf"

var (
	alice = domain.User{ID: "cc36a1f5-eb49-4552-b159-ce3040c519e0", Username: "alice"}
	bob   = domain.User{ID: "ac36a1f5-eb49-4552-b159-ce3040c519e0", Username: "bob"}
)

// fakeStore keeps one room in memory and records calls.
type fakeStore struct {
	mu       sync.Mutex
	users    map[domain.UserID]domain.User
	members  []domain.UserID
	messages []domain.HistoryMessage
	journal  *[]string

	addErr    error
	removeErr error
	appendErr error
	// removeDelay slows RemoveMembership down to model a remote store.
	removeDelay time.Duration

	addCalls    int
	removeCalls int
}

var (
	_ core.RoomWriter = (*fakeStore)(nil)
	_ core.RoomReader = (*fakeStore)(nil)
)

func newFakeStore(users ...domain.User) *fakeStore {
	s := &fakeStore{users: make(map[domain.UserID]domain.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) note(entry string) {
	if s.journal != nil {
		*s.journal = append(*s.journal, entry)
	}
}

func (s *fakeStore) AddMembership(_ context.Context, _ domain.RoomID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCalls++
	if s.addErr != nil {
		return s.addErr
	}
	s.note("store:add")
	for _, id := range s.members {
		if id == user {
			return nil
		}
	}
	s.members = append(s.members, user)
	return nil
}

func (s *fakeStore) RemoveMembership(_ context.Context, _ domain.RoomID, user domain.UserID) (bool, error) {
	s.mu.Lock()
	delay := s.removeDelay
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeCalls++
	if s.removeErr != nil {
		return false, s.removeErr
	}
	s.note("store:remove")
	for i, id := range s.members {
		if id == user {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) AppendMessage(_ context.Context, room domain.RoomID, user domain.UserID, content string, at time.Time) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return domain.Message{}, s.appendErr
	}
	s.note("store:append")
	msg := domain.NewMessage(room, user, content, at)
	s.messages = append(s.messages, domain.HistoryMessage{
		UserID:    user,
		Username:  s.users[user].Username,
		Content:   content,
		Timestamp: msg.CreatedAt,
	})
	return msg, nil
}

func (s *fakeStore) UsersInRoom(context.Context, domain.RoomID) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.members))
	for _, id := range s.members {
		out = append(out, s.users[id])
	}
	return out, nil
}

func (s *fakeStore) History(context.Context, domain.RoomID) ([]domain.HistoryMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.HistoryMessage(nil), s.messages...), nil
}

func (s *fakeStore) memberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

func (s *fakeStore) removes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeCalls
}

type recordingPublisher struct {
	journal *[]string
	events  []core.OutboundEvent
	err     error
}

func (p *recordingPublisher) Publish(ev core.OutboundEvent) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	*p.journal = append(*p.journal, "publish:"+core.EventName(ev))
	p.events = append(p.events, ev)
	return 1, nil
}

type fakeAuth map[string]domain.User

func (a fakeAuth) VerifyToken(_ context.Context, token string) (domain.User, error) {
	u, ok := a[token]
	if !ok {
		return domain.User{}, core.ErrUnauthorized
	}
	return u, nil
}

type inbound struct {
	ev  core.InboundEvent
	err error
}

// fakeConn is a scripted client. Closing in ends the stream cleanly.
type fakeConn struct {
	in     chan inbound
	out    chan core.OutboundEvent
	closed chan struct{}

	// gate, when set, holds every non-History Send until it is closed.
	gate    chan struct{}
	blocked chan struct{}
	onSend  func(core.OutboundEvent)

	once  sync.Once
	cause error
	pings atomic.Int32
}

var _ core.Conn = (*fakeConn)(nil)

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan inbound, 16),
		out:    make(chan core.OutboundEvent, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Next(ctx context.Context) (core.InboundEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-c.in:
		if !ok {
			return nil, core.ErrStreamClosed
		}
		return m.ev, m.err
	}
}

func (c *fakeConn) Send(ctx context.Context, ev core.OutboundEvent) error {
	if c.onSend != nil {
		c.onSend(ev)
	}
	if _, isHistory := ev.(core.History); c.gate != nil && !isHistory {
		select {
		case c.blocked <- struct{}{}:
		default:
		}
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.out <- ev
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.pings.Add(1)
	return nil
}

func (c *fakeConn) Close(cause error) error {
	c.once.Do(func() {
		c.cause = cause
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:5555" }

func (c *fakeConn) join(token string) { c.in <- inbound{ev: core.JoinRequest{Token: token}} }

func (c *fakeConn) say(content string) { c.in <- inbound{ev: core.MessageRequest{Content: content}} }

func (c *fakeConn) expect(t *testing.T) core.OutboundEvent {
	t.Helper()
	select {
	case ev := <-c.out:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound event")
		return nil
	}
}

func (c *fakeConn) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.out:
		t.Fatalf("unexpected outbound event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestOrchestrator(store *fakeStore) *Orchestrator {
	bus := app.NewBroadcaster(16)
	return &Orchestrator{
		Registry:   app.NewRegistry(),
		Bus:        bus,
		Controller: NewRoomController(store, bus),
		Auth:       fakeAuth{"alice-token": alice, "bob-token": bob},
		Rooms:      store,
		Policy:     app.SimplePolicy{Action: app.LagDisconnect},
		Room:       testRoom,
	}
}

func serve(ctx context.Context, o *Orchestrator, conn core.Conn) <-chan error {
	done := make(chan error, 1)
	go func() { done <- o.NewSupervisor().Serve(ctx, conn) }()
	return done
}

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		require.Error(t, err)
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}
