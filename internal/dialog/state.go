package dialog

import (
	"context"
	"sync"
	"time"
)

// Phase is the position of one operator conversation inside the
// task-composition flow.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingDevice
	PhaseAwaitingSession
	PhaseAwaitingTaskKind
	PhaseAwaitingDeviceForHeartbeat
	PhaseAwaitingSessionForHeartbeat
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingDevice:
		return "awaiting_device"
	case PhaseAwaitingSession:
		return "awaiting_session"
	case PhaseAwaitingTaskKind:
		return "awaiting_task_kind"
	case PhaseAwaitingDeviceForHeartbeat:
		return "awaiting_device_for_heartbeat"
	case PhaseAwaitingSessionForHeartbeat:
		return "awaiting_session_for_heartbeat"
	default:
		return "unknown"
	}
}

// State is the ephemeral dialogue state of one conversation. DeviceID and
// SessionID are only meaningful for the phases that carry them.
type State struct {
	Phase      Phase
	DeviceID   string
	SessionID  string
	LastTurnAt time.Time
}

// Conversations maps conversation identity to dialogue state, created on
// demand in the Idle phase. An abandoned conversation stays parked in its
// last state unless an idle timeout is configured.
type Conversations struct {
	mu          sync.RWMutex
	states      map[string]*State
	idleTimeout time.Duration
}

// NewConversations creates the conversation map. idleTimeout <= 0 disables
// expiry, matching the original park-forever behavior.
func NewConversations(idleTimeout time.Duration) *Conversations {
	return &Conversations{
		states:      make(map[string]*State),
		idleTimeout: idleTimeout,
	}
}

// Get returns the current state for an identity, defaulting to Idle.
func (c *Conversations) Get(identity string) State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.states[identity]; ok {
		return *s
	}
	return State{Phase: PhaseIdle}
}

// Set replaces the state for an identity and stamps the turn time.
func (c *Conversations) Set(identity string, s State) {
	s.LastTurnAt = time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[identity] = &s
}

// Reset parks the conversation back in Idle.
func (c *Conversations) Reset(identity string) {
	c.Set(identity, State{Phase: PhaseIdle})
}

// StartJanitor expires conversations back to Idle after the configured
// idle timeout. A no-op when expiry is disabled.
func (c *Conversations) StartJanitor(ctx context.Context, interval time.Duration) {
	if c.idleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.expireIdle()
			}
		}
	}()
}

func (c *Conversations) expireIdle() {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.states {
		if s.Phase == PhaseIdle {
			continue
		}
		if now.Sub(s.LastTurnAt) < c.idleTimeout {
			continue
		}
		c.states[id] = &State{Phase: PhaseIdle, LastTurnAt: now}
	}
}
