// Package orch couples client connections to the room: the controller owns
// every write to room state, the supervisor drives one connection.
package orch

import (
	"context"

	"github.com/dkeye/ChatRelay/internal/app"
	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

// Orchestrator holds the process-wide collaborators shared by all connections.
// It is built once at startup and handed to the transport.
type Orchestrator struct {
	Registry   *app.Registry
	Bus        *app.Broadcaster
	Controller *RoomController
	Auth       core.Authenticator
	Rooms      core.RoomReader
	Policy     app.LagPolicy
	Limiter    *app.RateLimiter
	Room       domain.RoomID
	Options    SessionOptions
}

// NewSupervisor returns the per-connection state machine bound to the shared
// collaborators.
func (o *Orchestrator) NewSupervisor() *Supervisor {
	return &Supervisor{
		Auth:       o.Auth,
		Rooms:      o.Rooms,
		Controller: o.Controller,
		Bus:        o.Bus,
		Registry:   o.Registry,
		Policy:     o.Policy,
		Limiter:    o.Limiter,
		Room:       o.Room,
		Options:    o.Options,
	}
}

// Shutdown cancels every live connection and waits, bounded by ctx, until
// their supervisors have finished the leave sequence.
func (o *Orchestrator) Shutdown(ctx context.Context) (int, error) {
	n := o.Registry.CancelAll()
	return n, o.Registry.Wait(ctx)
}
