package app

import (
	"fmt"

	"github.com/dkeye/ChatRelay/internal/domain"
)

// LagAction tells a connection what to do after its subscription dropped events.
type LagAction int

const (
	LagDisconnect LagAction = iota
	LagResync
)

func (a LagAction) String() string {
	switch a {
	case LagResync:
		return "resync"
	default:
		return "disconnect"
	}
}

type LagPolicy interface {
	OnLag(user domain.User, missed uint64) LagAction
}

// SimplePolicy applies the same action to every lagging subscriber.
type SimplePolicy struct {
	Action LagAction
}

func (p SimplePolicy) OnLag(domain.User, uint64) LagAction {
	return p.Action
}

// ParseLagPolicy maps the config value to a policy.
func ParseLagPolicy(name string) (LagPolicy, error) {
	switch name {
	case "", "disconnect":
		return SimplePolicy{Action: LagDisconnect}, nil
	case "resync":
		return SimplePolicy{Action: LagResync}, nil
	default:
		return nil, fmt.Errorf("unknown lag policy %q", name)
	}
}
