// Package permission gates capabilities behind an asynchronous permission
// request. Only the camera is gated.
package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Brownie44l1/snapclass/internal/completion"
	"github.com/Brownie44l1/snapclass/internal/logging"
)

// State is the permission state of a capability.
type State int

const (
	Unknown State = iota
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "granted":
		*s = Granted
	case "denied":
		*s = Denied
	case "unknown", "":
		*s = Unknown
	default:
		return fmt.Errorf("unknown permission state %q", text)
	}
	return nil
}

// Capability names a gated facility.
type Capability string

const Camera Capability = "camera"

// Requester asks the permission subsystem for a capability. The returned
// completion resolves once with Granted or Denied, or is cancelled when the
// prompt was dismissed without an answer.
type Requester interface {
	Request(ctx context.Context, c Capability) *completion.Completion[State]
}

// Observer is told about every request result.
type Observer func(c Capability, s State)

// Gate tracks the permission state of one capability for one session.
type Gate struct {
	capability Capability
	requester  Requester
	observe    Observer
	log        *slog.Logger

	mu    sync.Mutex
	state State
}

func NewGate(c Capability, r Requester, observe Observer, log *slog.Logger) *Gate {
	return &Gate{
		capability: c,
		requester:  r,
		observe:    observe,
		log:        logging.OrModule(log, "permission"),
	}
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Ensure returns Granted or Denied straight away once decided. From Unknown
// it issues a single request and blocks for the result. A dismissed prompt
// leaves the state Unknown. Denied is terminal until Reset.
func (g *Gate) Ensure(ctx context.Context) (State, error) {
	if s := g.State(); s != Unknown {
		return s, nil
	}

	g.log.Debug("requesting permission", "capability", g.capability)
	req := g.requester.Request(ctx, g.capability)
	res, err := req.Wait(ctx)
	if err != nil {
		req.Cancel()
		return Unknown, err
	}
	if res.Err != nil {
		return Unknown, fmt.Errorf("permission request for %s: %w", g.capability, res.Err)
	}
	if res.Cancelled {
		return Unknown, nil
	}
	return g.onResult(res.Value), nil
}

// onResult is the only place state is decided.
func (g *Gate) onResult(s State) State {
	if s != Granted {
		s = Denied
	}
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()

	g.log.Info("permission decided", "capability", g.capability, "state", s)
	if g.observe != nil {
		g.observe(g.capability, s)
	}
	return s
}

// Reset forgets the decision so the next Ensure prompts again.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.state = Unknown
	g.mu.Unlock()
}
