package app

import (
	"context"
	"sync"

	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/rs/zerolog/log"
)

// DefaultBroadcastCapacity is the per-subscriber backlog used when none is
// configured.
const DefaultBroadcastCapacity = 100

// Broadcaster fans every published event out to all live subscriptions.
// Publishing never blocks: a subscription whose backlog is full drops its
// oldest event and reports the loss on its next Recv.
type Broadcaster struct {
	capacity int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultBroadcastCapacity
	}
	return &Broadcaster{
		capacity: capacity,
		subs:     make(map[uint64]*Subscription),
	}
}

var _ core.Publisher = (*Broadcaster)(nil)

// Subscribe returns a new consumer handle. Its backlog starts empty.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{
		id:     b.nextID,
		owner:  b,
		buf:    make([]core.OutboundEvent, b.capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.subs[s.id] = s
	log.Debug().Str("module", "app.broadcaster").Uint64("sub", s.id).Int("subscribers", len(b.subs)).Msg("subscribed")
	return s
}

// Publish delivers ev to every live subscription and returns how many were
// reached.
func (b *Broadcaster) Publish(ev core.OutboundEvent) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.subs) == 0 {
		return 0, core.ErrNoSubscribers
	}
	sent := 0
	for _, s := range b.subs {
		if s.push(ev) {
			sent++
		}
	}
	log.Debug().Str("module", "app.broadcaster").Str("event", core.EventName(ev)).Int("sent_to", sent).Msg("published")
	return sent, nil
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscription is one consumer's bounded ring of pending events.
type Subscription struct {
	id    uint64
	owner *Broadcaster

	mu     sync.Mutex
	buf    []core.OutboundEvent
	head   int
	size   int
	missed uint64
	closed bool

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) push(ev core.OutboundEvent) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.size == len(s.buf) {
		s.buf[s.head] = nil
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		s.missed++
	}
	s.buf[(s.head+s.size)%len(s.buf)] = ev
	s.size++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Recv returns the next event in publish order. If events were dropped since
// the previous call it returns a *core.LagError first and resumes with the
// oldest retained event on the following call.
func (s *Subscription) Recv(ctx context.Context) (core.OutboundEvent, error) {
	for {
		s.mu.Lock()
		if s.missed > 0 {
			n := s.missed
			s.missed = 0
			s.mu.Unlock()
			return nil, &core.LagError{Missed: n}
		}
		if s.size > 0 {
			ev := s.buf[s.head]
			s.buf[s.head] = nil
			s.head = (s.head + 1) % len(s.buf)
			s.size--
			s.mu.Unlock()
			return ev, nil
		}
		if s.closed {
			s.mu.Unlock()
			return nil, core.ErrSubscriptionClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
		case <-s.notify:
		}
	}
}

// Pending is the number of events waiting in the backlog.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Drain discards every buffered event and any pending lag notice. It returns
// how many events were discarded.
func (s *Subscription) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.size
	for i := range s.buf {
		s.buf[i] = nil
	}
	s.head, s.size, s.missed = 0, 0, 0
	return n
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.owner.remove(s.id)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		log.Debug().Str("module", "app.broadcaster").Uint64("sub", s.id).Msg("unsubscribed")
	})
}
