// Package resolver correlates asynchronous device status reports back to
// the task kind they complete and fans the result out to the operator.
package resolver

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/antoniostano/taskwire/internal/fleet"
	"github.com/antoniostano/taskwire/internal/logging"
)

// Notifier delivers human-facing notifications to the operator. The chat
// gateway implements it; a logging fallback is used when no operator
// transport is connected.
type Notifier interface {
	NotifyText(ctx context.Context, text string) error
	NotifyImage(ctx context.Context, caption string, image []byte) error
}

// Report is one completion report from a device.
type Report struct {
	DeviceID  string
	SessionID string
	TaskID    string
	Status    string
	Payload   string
}

type Resolver struct {
	registry *fleet.Registry
	notifier Notifier
	log      *logging.Logger
}

func New(registry *fleet.Registry, notifier Notifier, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.L()
	}
	return &Resolver{
		registry: registry,
		notifier: notifier,
		log:      log.WithComponent("resolver"),
	}
}

// HandleReport resolves the reported task id, performs the kind-specific
// follow-up, and returns the resolved kind. An unknown task id is a hard
// error: it means either registry loss or a forged report.
func (r *Resolver) HandleReport(ctx context.Context, rep Report) (fleet.TaskKind, error) {
	if r.registry == nil {
		return "", fleet.ErrStateUnavailable
	}

	kind, err := r.registry.ResolveKind(rep.TaskID)
	if err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Task %s finished. Status: %s", kind, rep.Status)
	if err := r.notifier.NotifyText(ctx, msg); err != nil {
		return kind, fmt.Errorf("notify status: %w", err)
	}

	switch kind {
	case fleet.KindCaptureImage, fleet.KindCaptureImageNow:
		image, err := base64.StdEncoding.DecodeString(rep.Payload)
		if err != nil {
			return kind, fmt.Errorf("decode screenshot payload for task %s: %w", rep.TaskID, err)
		}
		if err := r.notifier.NotifyImage(ctx, "", image); err != nil {
			return kind, fmt.Errorf("notify screenshot: %w", err)
		}
	case fleet.KindHeartBeat:
		return kind, r.reportRunningTask(ctx, rep.Payload)
	default:
		// Named automation routines carry no payload beyond the status.
	}
	return kind, nil
}

// reportRunningTask handles the heartbeat indirection: an empty payload
// means nothing is executing, otherwise the payload is itself a task id
// identifying the task presently running on the device.
func (r *Resolver) reportRunningTask(ctx context.Context, payload string) error {
	if payload == "" {
		return r.notifier.NotifyText(ctx, "No task is currently running.")
	}

	kind, err := r.registry.ResolveKind(payload)
	if err != nil {
		return fmt.Errorf("resolve running task: %w", err)
	}
	return r.notifier.NotifyText(ctx, fmt.Sprintf("%s is running, id %s", kind, payload))
}
