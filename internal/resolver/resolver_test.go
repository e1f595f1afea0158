package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/antoniostano/taskwire/internal/fleet"
)

type fakeNotifier struct {
	texts  []string
	images [][]byte
}

func (f *fakeNotifier) NotifyText(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeNotifier) NotifyImage(_ context.Context, _ string, image []byte) error {
	f.images = append(f.images, image)
	return nil
}

func setup(t *testing.T) (*fleet.Registry, *fakeNotifier, *Resolver) {
	t.Helper()
	r := fleet.NewRegistry(nil)
	if _, err := r.RegisterOrGetDevice("dev1"); err != nil {
		t.Fatalf("RegisterOrGetDevice() error = %v", err)
	}
	if err := r.GetOrCreateSession("dev1", "u1"); err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	n := &fakeNotifier{}
	return r, n, New(r, n, nil)
}

func TestHeartbeatIndirection(t *testing.T) {
	r, n, res := setup(t)

	combat, err := r.Enqueue("dev1", "u1", fleet.KindLinkStartCombat)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	heartbeat, err := r.Enqueue("dev1", "u1", fleet.KindHeartBeat)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	kind, err := res.HandleReport(context.Background(), Report{
		DeviceID: "dev1", SessionID: "u1",
		TaskID: heartbeat.ID, Status: "done", Payload: combat.ID,
	})
	if err != nil {
		t.Fatalf("HandleReport() error = %v", err)
	}
	if kind != fleet.KindHeartBeat {
		t.Fatalf("kind = %q, want HeartBeat", kind)
	}
	if len(n.texts) != 2 {
		t.Fatalf("notifications = %v, want status + running task", n.texts)
	}
	want := "LinkStart-Combat is running, id " + combat.ID
	if n.texts[1] != want {
		t.Fatalf("running-task text = %q, want %q", n.texts[1], want)
	}
}

func TestHeartbeatEmptyPayload(t *testing.T) {
	r, n, res := setup(t)

	heartbeat, err := r.Enqueue("dev1", "u1", fleet.KindHeartBeat)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	_, err = res.HandleReport(context.Background(), Report{
		DeviceID: "dev1", SessionID: "u1",
		TaskID: heartbeat.ID, Status: "done", Payload: "",
	})
	if err != nil {
		t.Fatalf("HandleReport() error = %v", err)
	}
	if n.texts[len(n.texts)-1] != "No task is currently running." {
		t.Fatalf("texts = %v, want no-task notice last", n.texts)
	}
}

func TestCaptureImageForwardsDecodedPayload(t *testing.T) {
	r, n, res := setup(t)

	capture, err := r.Enqueue("dev1", "u1", fleet.KindCaptureImage)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	raw := []byte{0x89, 'P', 'N', 'G'}
	_, err = res.HandleReport(context.Background(), Report{
		DeviceID: "dev1", SessionID: "u1",
		TaskID:  capture.ID,
		Status:  "success",
		Payload: base64.StdEncoding.EncodeToString(raw),
	})
	if err != nil {
		t.Fatalf("HandleReport() error = %v", err)
	}
	if len(n.images) != 1 || string(n.images[0]) != string(raw) {
		t.Fatalf("images = %v, want decoded payload", n.images)
	}
	if len(n.texts) != 1 || !strings.Contains(n.texts[0], "CaptureImage") {
		t.Fatalf("texts = %v", n.texts)
	}
}

func TestCaptureImageBadPayloadIsHardError(t *testing.T) {
	r, _, res := setup(t)

	capture, err := r.Enqueue("dev1", "u1", fleet.KindCaptureImage)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	_, err = res.HandleReport(context.Background(), Report{
		DeviceID: "dev1", SessionID: "u1",
		TaskID: capture.ID, Status: "success", Payload: "not-base64!!",
	})
	if err == nil {
		t.Fatalf("HandleReport() = nil, want decode error")
	}
}

func TestUnknownTaskIDIsHardError(t *testing.T) {
	_, _, res := setup(t)

	_, err := res.HandleReport(context.Background(), Report{
		DeviceID: "dev1", SessionID: "u1",
		TaskID: "forged", Status: "done",
	})
	if !errors.Is(err, fleet.ErrTaskNotFound) {
		t.Fatalf("error = %v, want ErrTaskNotFound", err)
	}
}

func TestAutomationKindIgnoresPayload(t *testing.T) {
	r, n, res := setup(t)

	task, err := r.Enqueue("dev1", "u1", fleet.KindLinkStartMall)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	kind, err := res.HandleReport(context.Background(), Report{
		DeviceID: "dev1", SessionID: "u1",
		TaskID: task.ID, Status: "done", Payload: "whatever",
	})
	if err != nil {
		t.Fatalf("HandleReport() error = %v", err)
	}
	if kind != fleet.KindLinkStartMall {
		t.Fatalf("kind = %q, want LinkStart-Mall", kind)
	}
	if len(n.texts) != 1 || len(n.images) != 0 {
		t.Fatalf("texts = %v images = %v, want single status notice", n.texts, n.images)
	}
}
