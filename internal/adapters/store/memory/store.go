// Package memory is an in-process implementation of every store port. It
// backs `store: memory` runs and the tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dkeye/ChatRelay/internal/adapters/store"
	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

type member struct {
	domain.Membership
	seq uint64
}

type Store struct {
	mu       sync.RWMutex
	accounts map[domain.UserID]domain.Account
	byToken  map[string]domain.UserID
	byName   map[string]domain.UserID
	members  map[domain.RoomID]map[domain.UserID]member
	messages map[domain.RoomID][]domain.Message
	seq      uint64
}

var (
	_ core.Store           = (*Store)(nil)
	_ core.CredentialStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		accounts: make(map[domain.UserID]domain.Account),
		byToken:  make(map[string]domain.UserID),
		byName:   make(map[string]domain.UserID),
		members:  make(map[domain.RoomID]map[domain.UserID]member),
		messages: make(map[domain.RoomID][]domain.Message),
	}
}

// Seeded returns a store holding the fixture accounts and the given room.
func Seeded(room domain.RoomID) (*Store, error) {
	s := New()
	s.AddRoom(room)
	for _, f := range store.Fixtures {
		acc, err := f.Account()
		if err != nil {
			return nil, err
		}
		s.AddAccount(acc)
	}
	return s, nil
}

func (s *Store) AddAccount(acc domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID] = acc
	s.byToken[acc.Token] = acc.ID
	s.byName[acc.Username] = acc.ID
}

func (s *Store) AddRoom(room domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[room]; !ok {
		s.members[room] = make(map[domain.UserID]member)
	}
}

func (s *Store) UserByToken(_ context.Context, token string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return domain.User{}, core.ErrUserNotFound
	}
	return s.accounts[id].User, nil
}

func (s *Store) UserByCredentials(_ context.Context, username, password string) (domain.Account, error) {
	s.mu.RLock()
	id, ok := s.byName[username]
	acc := s.accounts[id]
	s.mu.RUnlock()
	if !ok || !store.CheckPassword(acc.PasswordHash, password) {
		return domain.Account{}, core.ErrInvalidCredentials
	}
	return acc, nil
}

func (s *Store) UsersInRoom(_ context.Context, room domain.RoomID) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.members[room]
	if !ok {
		return nil, errors.Wrapf(store.ErrRoomNotFound, "users in room %s", room)
	}
	list := make([]member, 0, len(ms))
	for _, m := range ms {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	users := make([]domain.User, 0, len(list))
	for _, m := range list {
		users = append(users, s.accounts[m.UserID].User)
	}
	return users, nil
}

func (s *Store) AddMembership(_ context.Context, room domain.RoomID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.members[room]
	if !ok {
		return errors.Wrapf(store.ErrRoomNotFound, "add membership %s", room)
	}
	if _, ok := s.accounts[user]; !ok {
		return errors.Wrapf(core.ErrUserNotFound, "add membership %s", user)
	}
	if _, ok := ms[user]; ok {
		return nil
	}
	s.seq++
	ms[user] = member{Membership: domain.NewMembership(room, user, time.Now()), seq: s.seq}
	return nil
}

func (s *Store) RemoveMembership(_ context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.members[room]
	if !ok {
		return false, nil
	}
	if _, ok := ms[user]; !ok {
		return false, nil
	}
	delete(ms, user)
	return true, nil
}

func (s *Store) AppendMessage(_ context.Context, room domain.RoomID, user domain.UserID, content string, at time.Time) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[room]; !ok {
		return domain.Message{}, errors.Wrapf(store.ErrRoomNotFound, "append message %s", room)
	}
	if _, ok := s.accounts[user]; !ok {
		return domain.Message{}, errors.Wrapf(core.ErrUserNotFound, "append message %s", user)
	}
	msg := domain.NewMessage(room, user, content, at)
	s.messages[room] = append(s.messages[room], msg)
	return msg, nil
}

// History returns the room's messages ordered by creation time; messages
// with equal timestamps keep insertion order.
func (s *Store) History(_ context.Context, room domain.RoomID) ([]domain.HistoryMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := append([]domain.Message(nil), s.messages[room]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	out := make([]domain.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.HistoryMessage{
			UserID:    m.UserID,
			Username:  s.accounts[m.UserID].Username,
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		})
	}
	return out, nil
}

// Purge deletes messages and memberships, keeping accounts and rooms.
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for room := range s.members {
		s.members[room] = make(map[domain.UserID]member)
	}
	s.messages = make(map[domain.RoomID][]domain.Message)
}
