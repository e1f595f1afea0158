// Package journal keeps an audit trail of issued tasks and received
// reports. It is best-effort: the registry stays the source of truth and
// remains fully volatile; the journal exists for after-the-fact inspection.
package journal

import (
	"context"
	"time"
)

// TaskRecord is one task handed to a device queue.
type TaskRecord struct {
	TaskID    string
	DeviceID  string
	SessionID string
	Kind      string
	CreatedAt time.Time
}

// ReportRecord is one completion report received from a device.
type ReportRecord struct {
	TaskID     string
	DeviceID   string
	SessionID  string
	Kind       string
	Status     string
	ReportedAt time.Time
}

type Store interface {
	RecordTask(ctx context.Context, rec TaskRecord) error
	RecordReport(ctx context.Context, rec ReportRecord) error
	RecentTasks(ctx context.Context, deviceID string, limit int) ([]TaskRecord, error)
	Close() error
}
