// Package fleet holds the shared registry of polling devices, their user
// sessions, and the pending task queues the operator feeds through the
// dialog engine.
package fleet

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry is the process-wide store of Device -> Session -> task queue,
// plus the append-only task id -> kind correlation table that lets late
// status reports resolve without re-threading device identity.
//
// All state is volatile; a restart forgets every queue. Entries are never
// removed from the correlation table, so a stale report after a
// long-completed task still resolves.
type Registry struct {
	mu          sync.RWMutex
	devices     map[string]*Device
	correlation map[string]TaskKind

	// allowed is nil for open enrollment; otherwise only listed device ids
	// may materialize, with the mapped value as display name.
	allowed map[string]string

	// single caches "exactly one device with exactly one session" so the
	// dialog engine can skip selection steps without re-scanning the map.
	// Recomputed under the write lock on every membership change; a read
	// may be one generation stale, which only affects how many questions
	// the operator is asked.
	single atomic.Bool

	onAppend func(deviceID, sessionID string, t Task)
}

// NewRegistry creates an empty registry. A non-nil allowed map closes the
// fleet to the listed device ids.
func NewRegistry(allowed map[string]string) *Registry {
	return &Registry{
		devices:     make(map[string]*Device),
		correlation: make(map[string]TaskKind),
		allowed:     allowed,
	}
}

// SetAppendHook registers a callback invoked (outside the registry lock)
// for every task appended to a queue, companions included.
func (r *Registry) SetAppendHook(hook func(deviceID, sessionID string, t Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAppend = hook
}

// locked runs fn under the write lock. A panic inside the critical section
// fails the enclosing request instead of the process.
func (r *Registry) locked(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrConcurrentAccess, p)
		}
	}()
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

func (r *Registry) rlocked(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrConcurrentAccess, p)
		}
	}()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn()
}

// RegisterOrGetDevice admits a device on first contact. It reports
// admitted=false when a configured allow-list refuses the id; the device
// is never materialized in that case.
func (r *Registry) RegisterOrGetDevice(deviceID string) (admitted bool, err error) {
	admitted = true
	err = r.locked(func() error {
		if _, ok := r.devices[deviceID]; ok {
			return nil
		}
		name := deviceID
		if r.allowed != nil {
			mapped, ok := r.allowed[deviceID]
			if !ok {
				admitted = false
				return nil
			}
			if mapped != "" {
				name = mapped
			}
		}
		r.devices[deviceID] = newDevice(deviceID, name)
		r.recomputeSingle()
		return nil
	})
	return admitted, err
}

// GetOrCreateSession lazily creates an empty session within a device.
func (r *Registry) GetOrCreateSession(deviceID, sessionID string) error {
	return r.locked(func() error {
		dev, ok := r.devices[deviceID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		if _, ok := dev.Sessions[sessionID]; !ok {
			dev.Sessions[sessionID] = &Session{ID: sessionID}
			r.recomputeSingle()
		}
		return nil
	})
}

// Enqueue appends a task of the given kind to the session's queue and
// records its id in the correlation table. Every kind except CaptureImage
// gets a companion CaptureImage task appended in the same critical
// section, so each automation action produces a visual confirmation.
// Returns the primary task, not the companion.
func (r *Registry) Enqueue(deviceID, sessionID string, kind TaskKind) (Task, error) {
	var primary Task
	var appended []Task
	err := r.locked(func() error {
		dev, ok := r.devices[deviceID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		sess, ok := dev.Sessions[sessionID]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrSessionNotFound, deviceID, sessionID)
		}
		primary = NewTask(kind)
		sess.Tasks = append(sess.Tasks, primary)
		r.correlation[primary.ID] = kind
		appended = append(appended, primary)

		if kind != KindCaptureImage {
			companion := NewTask(KindCaptureImage)
			sess.Tasks = append(sess.Tasks, companion)
			r.correlation[companion.ID] = KindCaptureImage
			appended = append(appended, companion)
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}

	r.mu.RLock()
	hook := r.onAppend
	r.mu.RUnlock()
	if hook != nil {
		for _, t := range appended {
			hook(deviceID, sessionID, t)
		}
	}
	return primary, nil
}

// Drain returns the session's pending tasks and clears the queue. Tasks
// enqueued after the snapshot stay behind for the next poll.
func (r *Registry) Drain(deviceID, sessionID string) ([]Task, error) {
	var out []Task
	err := r.locked(func() error {
		dev, ok := r.devices[deviceID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		sess, ok := dev.Sessions[sessionID]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrSessionNotFound, deviceID, sessionID)
		}
		out = sess.Tasks
		sess.Tasks = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveKind looks a task id up in the correlation table.
func (r *Registry) ResolveKind(taskID string) (TaskKind, error) {
	var kind TaskKind
	err := r.rlocked(func() error {
		k, ok := r.correlation[taskID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		kind = k
		return nil
	})
	if err != nil {
		return "", err
	}
	return kind, nil
}

// Devices returns id/name pairs for every known device, sorted by id.
func (r *Registry) Devices() []DeviceRef {
	var out []DeviceRef
	_ = r.rlocked(func() error {
		for _, d := range r.devices {
			out = append(out, DeviceRef{ID: d.ID, Name: d.Name})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListDeviceIDs projects the device ids, or their display names when
// useDisplayName is set.
func (r *Registry) ListDeviceIDs(useDisplayName bool) []string {
	refs := r.Devices()
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if useDisplayName {
			out = append(out, ref.Name)
		} else {
			out = append(out, ref.ID)
		}
	}
	return out
}

// ListSessionIDs projects the session ids of one device, sorted.
func (r *Registry) ListSessionIDs(deviceID string) ([]string, error) {
	var out []string
	err := r.rlocked(func() error {
		dev, ok := r.devices[deviceID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		for id := range dev.Sessions {
			out = append(out, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// AllSessions snapshots every device/session pair, sorted, for fan-out
// operations such as the broadcast screenshot.
func (r *Registry) AllSessions() []SessionRef {
	var out []SessionRef
	_ = r.rlocked(func() error {
		for _, d := range r.devices {
			for id := range d.Sessions {
				out = append(out, SessionRef{DeviceID: d.ID, SessionID: id})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// IsSingleSession reports whether the registry holds exactly one device
// with exactly one session.
func (r *Registry) IsSingleSession() bool {
	return r.single.Load()
}

// SingleDeviceAndSession returns "the" device and session when the
// single-session heuristic holds.
func (r *Registry) SingleDeviceAndSession() (DeviceRef, string, bool) {
	var (
		ref       DeviceRef
		sessionID string
		ok        bool
	)
	_ = r.rlocked(func() error {
		if len(r.devices) != 1 {
			return nil
		}
		for _, d := range r.devices {
			if len(d.Sessions) != 1 {
				return nil
			}
			ref = DeviceRef{ID: d.ID, Name: d.Name}
			for id := range d.Sessions {
				sessionID = id
			}
			ok = true
		}
		return nil
	})
	return ref, sessionID, ok
}

// RenameDevice overrides a device's display name. In-memory only.
func (r *Registry) RenameDevice(deviceID, newName string) error {
	return r.locked(func() error {
		dev, ok := r.devices[deviceID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		dev.Name = newName
		return nil
	})
}

// Counts reports the number of known devices and sessions, for gauges.
func (r *Registry) Counts() (devices, sessions int) {
	_ = r.rlocked(func() error {
		devices = len(r.devices)
		for _, d := range r.devices {
			sessions += len(d.Sessions)
		}
		return nil
	})
	return devices, sessions
}

func (r *Registry) recomputeSingle() {
	if len(r.devices) == 1 {
		for _, d := range r.devices {
			r.single.Store(len(d.Sessions) == 1)
			return
		}
	}
	r.single.Store(false)
}
