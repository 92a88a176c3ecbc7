package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	User       *domain.User
	State      core.SessionState
	RemoteAddr string
	Since      time.Time
	Cancel     context.CancelFunc
}

// Registry tracks the live connections of this process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	// empty is closed when the last session unbinds; nil while nobody waits.
	empty chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(sid core.SessionID, remoteAddr string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{
		State:      core.StateAwaitingJoin,
		RemoteAddr: remoteAddr,
		Since:      time.Now(),
		Cancel:     cancel,
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("remote", remoteAddr).Msg("bound session")
}

// Promote attaches the authenticated user to a session.
func (r *Registry) Promote(sid core.SessionID, user domain.User) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	u := user
	e.User = &u
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("session authenticated")
	return true
}

func (r *Registry) SetState(sid core.SessionID, state core.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.State = state
	}
}

func (r *Registry) State(sid core.SessionID) (core.SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.State, true
	}
	return core.StateClosed, false
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	if len(r.sessions) == 0 && r.empty != nil {
		close(r.empty)
		r.empty = nil
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

// Wait blocks until every bound session has unbound or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	r.mu.Lock()
	if len(r.sessions) == 0 {
		r.mu.Unlock()
		return nil
	}
	if r.empty == nil {
		r.empty = make(chan struct{})
	}
	empty := r.empty
	r.mu.Unlock()

	select {
	case <-empty:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

// CancelAll tears every live connection down. Used on shutdown.
func (r *Registry) CancelAll() int {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.Cancel != nil {
			cancels = append(cancels, e.Cancel)
		}
	}
	r.mu.RUnlock()
	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SessionInfo is a read-only view for APIs.
type SessionInfo struct {
	SID        core.SessionID `json:"sid"`
	State      string         `json:"state"`
	User       *domain.User   `json:"user,omitempty"`
	RemoteAddr string         `json:"remote_addr"`
	Since      time.Time      `json:"since"`
}

func (r *Registry) Online() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, SessionInfo{
			SID:        sid,
			State:      e.State.String(),
			User:       e.User,
			RemoteAddr: e.RemoteAddr,
			Since:      e.Since,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}
