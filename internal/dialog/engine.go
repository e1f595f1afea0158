// Package dialog implements the operator-facing task-composition flow: a
// per-conversation state machine that walks device, session, and task-kind
// selection, then enqueues into the fleet registry.
package dialog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/taskwire/internal/fleet"
	"github.com/antoniostano/taskwire/internal/logging"
)

// Selection tokens carry a two-character category prefix so a stale reply
// from an earlier step is caught instead of misapplied.
const (
	prefixDevice  = "d:"
	prefixSession = "u:"
	prefixKind    = "t:"
)

var (
	ErrInvalidSelection = errors.New("invalid selection")
	ErrInvalidState     = errors.New("invalid state")
)

// Choice is one selectable option presented to the operator. The transport
// renders Label and returns Token verbatim on the next turn.
type Choice struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// Reply is the single response produced for an accepted operator turn.
type Reply struct {
	Text    string   `json:"text"`
	Choices []Choice `json:"choices,omitempty"`
}

// Engine drives the composition state machine. Turns from any identity
// other than the configured operator are dropped without a reply.
type Engine struct {
	registry   *fleet.Registry
	convs      *Conversations
	operatorID string
	log        *logging.Logger
}

func NewEngine(registry *fleet.Registry, convs *Conversations, operatorID string, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.L()
	}
	return &Engine{
		registry:   registry,
		convs:      convs,
		operatorID: operatorID,
		log:        log.WithComponent("dialog"),
	}
}

// HandleTurn processes one operator turn and returns the reply, or nil when
// the turn was dropped by the access gate.
func (e *Engine) HandleTurn(identity, text string) *Reply {
	if identity != e.operatorID {
		e.log.Debug().Str("identity", identity).Msg("turn dropped: not the configured operator")
		return nil
	}
	if e.registry == nil {
		e.log.Err(fleet.ErrStateUnavailable).Msg("dialog engine has no registry")
		return &Reply{Text: "Internal error."}
	}

	text = strings.TrimSpace(text)
	if isSelectionToken(text) {
		return e.handleSelection(identity, text)
	}
	return e.handleCommand(identity, text)
}

func isSelectionToken(text string) bool {
	return strings.HasPrefix(text, prefixDevice) ||
		strings.HasPrefix(text, prefixSession) ||
		strings.HasPrefix(text, prefixKind)
}

func (e *Engine) handleCommand(identity, text string) *Reply {
	cmd := strings.ToLower(strings.TrimPrefix(text, "/"))
	cmd = strings.ReplaceAll(cmd, "_", "")

	switch {
	case cmd == "appendtask":
		return e.startAppendTask(identity)
	case cmd == "getcurrenttask":
		return e.startHeartbeat(identity)
	case cmd == "screenshotall":
		return e.broadcastScreenshot()
	case strings.HasPrefix(strings.ToLower(text), "rename "):
		return e.renameDevice(strings.TrimPrefix(text, "/"))
	}

	if e.convs.Get(identity).Phase != PhaseIdle {
		// Mid-flow free text that is neither a command nor a token.
		return &Reply{Text: "Invalid selection."}
	}
	return &Reply{Text: "Unknown command."}
}

func (e *Engine) startAppendTask(identity string) *Reply {
	// With a single known device and session there is nothing to ask;
	// jump straight to the task picker.
	if e.registry.IsSingleSession() {
		if ref, sessionID, ok := e.registry.SingleDeviceAndSession(); ok {
			e.convs.Set(identity, State{
				Phase:     PhaseAwaitingTaskKind,
				DeviceID:  ref.ID,
				SessionID: sessionID,
			})
			return &Reply{
				Text:    fmt.Sprintf("Select task for device %s, user %s", ref.Name, sessionID),
				Choices: kindChoices(),
			}
		}
	}

	e.convs.Set(identity, State{Phase: PhaseAwaitingDevice})
	return &Reply{Text: "Select device:", Choices: e.deviceChoices()}
}

func (e *Engine) startHeartbeat(identity string) *Reply {
	if e.registry.IsSingleSession() {
		if ref, sessionID, ok := e.registry.SingleDeviceAndSession(); ok {
			e.convs.Reset(identity)
			if reply := e.enqueueReply(ref.ID, sessionID, fleet.KindHeartBeat); reply != nil {
				return reply
			}
			return &Reply{Text: "HeartBeat task queued."}
		}
	}

	e.convs.Set(identity, State{Phase: PhaseAwaitingDeviceForHeartbeat})
	return &Reply{Text: "Select device:", Choices: e.deviceChoices()}
}

// broadcastScreenshot fans a CaptureImageNow out to every known session.
// Not a dialogue: conversation state is untouched.
func (e *Engine) broadcastScreenshot() *Reply {
	for _, ref := range e.registry.AllSessions() {
		if _, err := e.registry.Enqueue(ref.DeviceID, ref.SessionID, fleet.KindCaptureImageNow); err != nil {
			e.log.Err(err).
				Str("device", ref.DeviceID).
				Str("session", ref.SessionID).
				Msg("broadcast screenshot enqueue failed")
			return &Reply{Text: "Internal error."}
		}
	}
	return &Reply{Text: "Tasks sent."}
}

func (e *Engine) renameDevice(text string) *Reply {
	parts := strings.Fields(text)
	if len(parts) < 3 {
		return &Reply{Text: "Usage: rename <device_id> <new name>"}
	}
	deviceID := parts[1]
	newName := strings.Join(parts[2:], " ")
	if err := e.registry.RenameDevice(deviceID, newName); err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) {
			return &Reply{Text: "Invalid selection."}
		}
		e.log.Err(err).Str("device", deviceID).Msg("rename failed")
		return &Reply{Text: "Internal error."}
	}
	return &Reply{Text: fmt.Sprintf("Device %s renamed to %s.", deviceID, newName)}
}

func (e *Engine) handleSelection(identity, token string) *Reply {
	state := e.convs.Get(identity)
	prefix := token[:2]
	value := token[2:]

	expected, ok := expectedPrefix(state.Phase)
	if !ok || prefix != expected {
		// A well-formed token the current state does not expect. State is
		// left as-is; the operator restarts the flow explicitly.
		return &Reply{Text: "Invalid state."}
	}
	if value == "" {
		return &Reply{Text: "Invalid selection."}
	}

	switch state.Phase {
	case PhaseAwaitingDevice:
		return e.receiveDevice(identity, value, PhaseAwaitingSession)
	case PhaseAwaitingDeviceForHeartbeat:
		return e.receiveDevice(identity, value, PhaseAwaitingSessionForHeartbeat)
	case PhaseAwaitingSession:
		return e.receiveSession(identity, state, value)
	case PhaseAwaitingSessionForHeartbeat:
		return e.receiveHeartbeatSession(identity, state, value)
	case PhaseAwaitingTaskKind:
		return e.receiveTaskKind(identity, state, value)
	default:
		return &Reply{Text: "Invalid state."}
	}
}

func expectedPrefix(p Phase) (string, bool) {
	switch p {
	case PhaseAwaitingDevice, PhaseAwaitingDeviceForHeartbeat:
		return prefixDevice, true
	case PhaseAwaitingSession, PhaseAwaitingSessionForHeartbeat:
		return prefixSession, true
	case PhaseAwaitingTaskKind:
		return prefixKind, true
	default:
		return "", false
	}
}

func (e *Engine) receiveDevice(identity, deviceID string, next Phase) *Reply {
	sessions, err := e.registry.ListSessionIDs(deviceID)
	if err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) {
			return &Reply{Text: "Invalid selection."}
		}
		e.log.Err(err).Str("device", deviceID).Msg("listing sessions failed")
		return &Reply{Text: "Internal error."}
	}

	e.convs.Set(identity, State{Phase: next, DeviceID: deviceID})
	return &Reply{Text: "Select user", Choices: sessionChoices(sessions)}
}

func (e *Engine) receiveSession(identity string, state State, sessionID string) *Reply {
	if reply := e.checkSessionExists(state.DeviceID, sessionID); reply != nil {
		return reply
	}
	e.convs.Set(identity, State{
		Phase:     PhaseAwaitingTaskKind,
		DeviceID:  state.DeviceID,
		SessionID: sessionID,
	})
	return &Reply{Text: "Select task", Choices: kindChoices()}
}

func (e *Engine) receiveHeartbeatSession(identity string, state State, sessionID string) *Reply {
	if reply := e.checkSessionExists(state.DeviceID, sessionID); reply != nil {
		return reply
	}
	if reply := e.enqueueReply(state.DeviceID, sessionID, fleet.KindHeartBeat); reply != nil {
		return reply
	}
	e.convs.Reset(identity)
	return &Reply{Text: "HeartBeat task queued."}
}

func (e *Engine) receiveTaskKind(identity string, state State, raw string) *Reply {
	kind, err := fleet.ParseTaskKind(raw)
	if err != nil {
		return &Reply{Text: "Invalid selection."}
	}
	if reply := e.enqueueReply(state.DeviceID, state.SessionID, kind); reply != nil {
		return reply
	}
	e.convs.Reset(identity)
	return &Reply{Text: "Task added."}
}

// checkSessionExists returns a non-nil error reply when the session is not
// part of the device; conversation state is left untouched.
func (e *Engine) checkSessionExists(deviceID, sessionID string) *Reply {
	sessions, err := e.registry.ListSessionIDs(deviceID)
	if err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) {
			return &Reply{Text: "Invalid selection."}
		}
		e.log.Err(err).Str("device", deviceID).Msg("listing sessions failed")
		return &Reply{Text: "Internal error."}
	}
	for _, id := range sessions {
		if id == sessionID {
			return nil
		}
	}
	return &Reply{Text: "Invalid selection."}
}

// enqueueReply performs the enqueue and converts failures into the
// operator-visible reply; nil means success.
func (e *Engine) enqueueReply(deviceID, sessionID string, kind fleet.TaskKind) *Reply {
	if _, err := e.registry.Enqueue(deviceID, sessionID, kind); err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) || errors.Is(err, fleet.ErrSessionNotFound) {
			return &Reply{Text: "Invalid selection."}
		}
		e.log.Err(err).
			Str("device", deviceID).
			Str("session", sessionID).
			Str("kind", kind.String()).
			Msg("enqueue failed")
		return &Reply{Text: "Internal error."}
	}
	return nil
}

func (e *Engine) deviceChoices() []Choice {
	refs := e.registry.Devices()
	out := make([]Choice, 0, len(refs))
	for _, ref := range refs {
		out = append(out, Choice{Label: ref.Name, Token: prefixDevice + ref.ID})
	}
	return out
}

func sessionChoices(sessions []string) []Choice {
	out := make([]Choice, 0, len(sessions))
	for _, id := range sessions {
		out = append(out, Choice{Label: id, Token: prefixSession + id})
	}
	return out
}

func kindChoices() []Choice {
	kinds := fleet.SelectableKinds()
	out := make([]Choice, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, Choice{Label: k.String(), Token: prefixKind + k.String()})
	}
	return out
}
