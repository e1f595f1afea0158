package fleet

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskKind identifies the kind of remote operation a client executes.
// The set is closed: parsing an unknown wire string is an error, not a
// new variant.
type TaskKind string

const (
	KindCaptureImage    TaskKind = "CaptureImage"
	KindCaptureImageNow TaskKind = "CaptureImageNow"
	KindHeartBeat       TaskKind = "HeartBeat"

	KindLinkStartBase                 TaskKind = "LinkStart-Base"
	KindLinkStartWakeUp               TaskKind = "LinkStart-WakeUp"
	KindLinkStartCombat               TaskKind = "LinkStart-Combat"
	KindLinkStartRecruiting           TaskKind = "LinkStart-Recruiting"
	KindLinkStartMall                 TaskKind = "LinkStart-Mall"
	KindLinkStartMission              TaskKind = "LinkStart-Mission"
	KindLinkStartAutoRoguelike        TaskKind = "LinkStart-AutoRoguelike"
	KindLinkStartReclamationAlgorithm TaskKind = "LinkStart-ReclamationAlgorithm"
)

// kinds holds every variant in presentation order.
var kinds = []TaskKind{
	KindCaptureImage,
	KindCaptureImageNow,
	KindHeartBeat,
	KindLinkStartBase,
	KindLinkStartWakeUp,
	KindLinkStartCombat,
	KindLinkStartRecruiting,
	KindLinkStartMall,
	KindLinkStartMission,
	KindLinkStartAutoRoguelike,
	KindLinkStartReclamationAlgorithm,
}

var kindSet = func() map[TaskKind]struct{} {
	m := make(map[TaskKind]struct{}, len(kinds))
	for _, k := range kinds {
		m[k] = struct{}{}
	}
	return m
}()

// Kinds returns every task kind in presentation order.
func Kinds() []TaskKind {
	out := make([]TaskKind, len(kinds))
	copy(out, kinds)
	return out
}

// SelectableKinds returns the kinds offered in the operator's task picker.
// HeartBeat is excluded: it is driven by its own command, not the picker.
func SelectableKinds() []TaskKind {
	out := make([]TaskKind, 0, len(kinds)-1)
	for _, k := range kinds {
		if k == KindHeartBeat {
			continue
		}
		out = append(out, k)
	}
	return out
}

// ParseTaskKind maps a wire string back to its TaskKind.
func ParseTaskKind(s string) (TaskKind, error) {
	k := TaskKind(s)
	if _, ok := kindSet[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTaskKind, s)
	}
	return k, nil
}

func (k TaskKind) String() string { return string(k) }

// Task is a single enqueued unit of work. Immutable once created.
type Task struct {
	ID   string   `json:"id"`
	Kind TaskKind `json:"type"`
}

// NewTask mints a task with a fresh globally unique id.
func NewTask(kind TaskKind) Task {
	return Task{ID: uuid.NewString(), Kind: kind}
}

// Session is one independent user session on a device. The task list is
// appended to by the operator side and drained by the device side; the
// Registry owns it.
type Session struct {
	ID    string
	Tasks []Task
}

// Device groups the sessions of one polling client. Name defaults to the
// id until an allow-list mapping or an operator rename overrides it.
type Device struct {
	ID       string
	Name     string
	Sessions map[string]*Session
}

func newDevice(id, name string) *Device {
	if name == "" {
		name = id
	}
	return &Device{ID: id, Name: name, Sessions: make(map[string]*Session)}
}

// DeviceRef is a read-only projection used when presenting choices.
type DeviceRef struct {
	ID   string
	Name string
}

// SessionRef names one device/session pair.
type SessionRef struct {
	DeviceID  string
	SessionID string
}
