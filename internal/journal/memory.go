package journal

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a simple in-process journal for local/dev use.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   []TaskRecord
	reports []ReportRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) RecordTask(_ context.Context, rec TaskRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, rec)
	return nil
}

func (s *MemoryStore) RecordReport(_ context.Context, rec ReportRecord) error {
	if rec.ReportedAt.IsZero() {
		rec.ReportedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rec)
	return nil
}

func (s *MemoryStore) RecentTasks(_ context.Context, deviceID string, limit int) ([]TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []TaskRecord
	for _, rec := range s.tasks {
		if rec.DeviceID == deviceID {
			matched = append(matched, rec)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	out := make([]TaskRecord, 0, limit)
	for i := len(matched) - limit; i < len(matched); i++ {
		out = append(out, matched[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
