package dialog

import (
	"strings"
	"testing"

	"github.com/antoniostano/taskwire/internal/fleet"
)

const operator = "op-1"

func newTestEngine(t *testing.T, r *fleet.Registry) *Engine {
	t.Helper()
	return NewEngine(r, NewConversations(0), operator, nil)
}

func poll(t *testing.T, r *fleet.Registry, deviceID, sessionID string) {
	t.Helper()
	if _, err := r.RegisterOrGetDevice(deviceID); err != nil {
		t.Fatalf("RegisterOrGetDevice() error = %v", err)
	}
	if err := r.GetOrCreateSession(deviceID, sessionID); err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
}

func TestGateDropsUnknownIdentity(t *testing.T) {
	r := fleet.NewRegistry(nil)
	e := newTestEngine(t, r)

	if reply := e.HandleTurn("intruder", "append_task"); reply != nil {
		t.Fatalf("reply = %+v, want nil (dropped)", reply)
	}
	if e.convs.Get("intruder").Phase != PhaseIdle {
		t.Fatalf("dropped turn mutated state")
	}
}

func TestAppendTaskFullFlow(t *testing.T) {
	r := fleet.NewRegistry(nil)
	poll(t, r, "dev1", "u1")
	poll(t, r, "dev2", "u2")
	e := newTestEngine(t, r)

	reply := e.HandleTurn(operator, "append_task")
	if reply == nil || reply.Text != "Select device:" {
		t.Fatalf("reply = %+v, want device prompt", reply)
	}
	if len(reply.Choices) != 2 || reply.Choices[0].Token != "d:dev1" {
		t.Fatalf("device choices = %+v", reply.Choices)
	}

	reply = e.HandleTurn(operator, "d:dev1")
	if reply == nil || reply.Text != "Select user" {
		t.Fatalf("reply = %+v, want user prompt", reply)
	}
	if len(reply.Choices) != 1 || reply.Choices[0].Token != "u:u1" {
		t.Fatalf("session choices = %+v", reply.Choices)
	}

	reply = e.HandleTurn(operator, "u:u1")
	if reply == nil || reply.Text != "Select task" {
		t.Fatalf("reply = %+v, want task prompt", reply)
	}
	for _, c := range reply.Choices {
		if c.Token == "t:HeartBeat" {
			t.Fatalf("HeartBeat offered in task picker")
		}
	}

	reply = e.HandleTurn(operator, "t:LinkStart-Combat")
	if reply == nil || reply.Text != "Task added." {
		t.Fatalf("reply = %+v, want confirmation", reply)
	}
	if e.convs.Get(operator).Phase != PhaseIdle {
		t.Fatalf("phase = %v, want idle after enqueue", e.convs.Get(operator).Phase)
	}

	tasks, err := r.Drain("dev1", "u1")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(tasks) != 2 || tasks[0].Kind != fleet.KindLinkStartCombat || tasks[1].Kind != fleet.KindCaptureImage {
		t.Fatalf("drained = %+v, want combat + companion capture", tasks)
	}
}

func TestSingleSessionSkipsSelection(t *testing.T) {
	r := fleet.NewRegistry(nil)
	poll(t, r, "dev1", "u1")
	e := newTestEngine(t, r)

	reply := e.HandleTurn(operator, "append_task")
	if reply == nil || !strings.HasPrefix(reply.Text, "Select task for device") {
		t.Fatalf("reply = %+v, want direct task prompt", reply)
	}
	if e.convs.Get(operator).Phase != PhaseAwaitingTaskKind {
		t.Fatalf("phase = %v, want awaiting_task_kind", e.convs.Get(operator).Phase)
	}

	// Adding a second session flips the next flow start back to explicit
	// device selection.
	poll(t, r, "dev1", "u2")
	e.convs.Reset(operator)
	reply = e.HandleTurn(operator, "append_task")
	if reply == nil || reply.Text != "Select device:" {
		t.Fatalf("reply = %+v, want device prompt after second session", reply)
	}
}

func TestHeartbeatSingleSessionEnqueuesDirectly(t *testing.T) {
	r := fleet.NewRegistry(nil)
	poll(t, r, "dev1", "u1")
	e := newTestEngine(t, r)

	reply := e.HandleTurn(operator, "get_current_task")
	if reply == nil || reply.Text != "HeartBeat task queued." {
		t.Fatalf("reply = %+v", reply)
	}
	if e.convs.Get(operator).Phase != PhaseIdle {
		t.Fatalf("phase = %v, want idle", e.convs.Get(operator).Phase)
	}

	tasks, err := r.Drain("dev1", "u1")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(tasks) != 2 || tasks[0].Kind != fleet.KindHeartBeat {
		t.Fatalf("drained = %+v, want heartbeat + companion", tasks)
	}
}

func TestHeartbeatMultiSessionFlow(t *testing.T) {
	r := fleet.NewRegistry(nil)
	poll(t, r, "dev1", "u1")
	poll(t, r, "dev2", "u2")
	e := newTestEngine(t, r)

	reply := e.HandleTurn(operator, "get_current_task")
	if reply == nil || reply.Text != "Select device:" {
		t.Fatalf("reply = %+v", reply)
	}
	reply = e.HandleTurn(operator, "d:dev2")
	if reply == nil || reply.Text != "Select user" {
		t.Fatalf("reply = %+v", reply)
	}
	reply = e.HandleTurn(operator, "u:u2")
	if reply == nil || reply.Text != "HeartBeat task queued." {
		t.Fatalf("reply = %+v", reply)
	}

	tasks, err := r.Drain("dev2", "u2")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(tasks) == 0 || tasks[0].Kind != fleet.KindHeartBeat {
		t.Fatalf("drained = %+v, want heartbeat first", tasks)
	}
}

func TestBroadcastScreenshotFansOut(t *testing.T) {
	r := fleet.NewRegistry(nil)
	poll(t, r, "dev1", "u1")
	poll(t, r, "dev1", "u2")
	poll(t, r, "dev2", "u1")
	e := newTestEngine(t, r)

	reply := e.HandleTurn(operator, "screenshot_all")
	if reply == nil || reply.Text != "Tasks sent." {
		t.Fatalf("reply = %+v", reply)
	}

	for _, ref := range []struct{ d, s string }{{"dev1", "u1"}, {"dev1", "u2"}, {"dev2", "u1"}} {
		tasks, err := r.Drain(ref.d, ref.s)
		if err != nil {
			t.Fatalf("Drain(%s/%s) error = %v", ref.d, ref.s, err)
		}
		if len(tasks) != 2 || tasks[0].Kind != fleet.KindCaptureImageNow {
			t.Fatalf("session %s/%s drained %+v", ref.d, ref.s, tasks)
		}
	}
}

func TestWrongPrefixIsInvalidState(t *testing.T) {
	r := fleet.NewRegistry(nil)
	poll(t, r, "dev1", "u1")
	poll(t, r, "dev2", "u2")
	e := newTestEngine(t, r)

	if reply := e.HandleTurn(operator, "append_task"); reply == nil {
		t.Fatalf("flow start dropped")
	}
	reply := e.HandleTurn(operator, "t:LinkStart-Base")
	if reply == nil || reply.Text != "Invalid state." {
		t.Fatalf("reply = %+v, want invalid state", reply)
	}
	if e.convs.Get(operator).Phase != PhaseAwaitingDevice {
		t.Fatalf("phase = %v, want unchanged awaiting_device", e.convs.Get(operator).Phase)
	}

	// The expected prefix still works after the rejection.
	reply = e.HandleTurn(operator, "d:dev1")
	if reply == nil || reply.Text != "Select user" {
		t.Fatalf("reply = %+v, want user prompt", reply)
	}
}

func TestSelectionTokenWhileIdleIsInvalidState(t *testing.T) {
	r := fleet.NewRegistry(nil)
	poll(t, r, "dev1", "u1")
	e := newTestEngine(t, r)

	reply := e.HandleTurn(operator, "d:dev1")
	if reply == nil || reply.Text != "Invalid state." {
		t.Fatalf("reply = %+v, want invalid state", reply)
	}
}

func TestUnknownDeviceSelection(t *testing.T) {
	r := fleet.NewRegistry(nil)
	poll(t, r, "dev1", "u1")
	poll(t, r, "dev2", "u2")
	e := newTestEngine(t, r)

	e.HandleTurn(operator, "append_task")
	reply := e.HandleTurn(operator, "d:ghost")
	if reply == nil || reply.Text != "Invalid selection." {
		t.Fatalf("reply = %+v, want invalid selection", reply)
	}
	if e.convs.Get(operator).Phase != PhaseAwaitingDevice {
		t.Fatalf("phase = %v, want unchanged", e.convs.Get(operator).Phase)
	}
}

func TestUnknownKindSelection(t *testing.T) {
	r := fleet.NewRegistry(nil)
	poll(t, r, "dev1", "u1")
	e := newTestEngine(t, r)

	e.HandleTurn(operator, "append_task")
	reply := e.HandleTurn(operator, "t:LinkStart-Nonsense")
	if reply == nil || reply.Text != "Invalid selection." {
		t.Fatalf("reply = %+v, want invalid selection", reply)
	}
	if e.convs.Get(operator).Phase != PhaseAwaitingTaskKind {
		t.Fatalf("phase = %v, want unchanged", e.convs.Get(operator).Phase)
	}
}

func TestRenameCommand(t *testing.T) {
	r := fleet.NewRegistry(nil)
	poll(t, r, "dev1", "u1")
	e := newTestEngine(t, r)

	reply := e.HandleTurn(operator, "rename dev1 living room")
	if reply == nil || !strings.Contains(reply.Text, "renamed") {
		t.Fatalf("reply = %+v", reply)
	}
	if names := r.ListDeviceIDs(true); names[0] != "living room" {
		t.Fatalf("display names = %v", names)
	}

	reply = e.HandleTurn(operator, "rename ghost x")
	if reply == nil || reply.Text != "Invalid selection." {
		t.Fatalf("reply = %+v, want invalid selection", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	r := fleet.NewRegistry(nil)
	e := newTestEngine(t, r)

	reply := e.HandleTurn(operator, "make me a sandwich")
	if reply == nil || reply.Text != "Unknown command." {
		t.Fatalf("reply = %+v", reply)
	}
}
