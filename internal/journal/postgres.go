package journal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initJournalSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initJournalSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS issued_tasks (
			task_id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_issued_tasks_device_created ON issued_tasks (device_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS task_reports (
			id BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			reported_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_reports_task ON task_reports (task_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init journal schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) RecordTask(ctx context.Context, rec TaskRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO issued_tasks (task_id, device_id, session_id, kind, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (task_id) DO NOTHING`,
		rec.TaskID,
		rec.DeviceID,
		rec.SessionID,
		rec.Kind,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert issued task: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordReport(ctx context.Context, rec ReportRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_reports (task_id, device_id, session_id, kind, status, reported_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.TaskID,
		rec.DeviceID,
		rec.SessionID,
		rec.Kind,
		rec.Status,
		rec.ReportedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task report: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTasks(ctx context.Context, deviceID string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, device_id, session_id, kind, created_at
		FROM issued_tasks
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query issued tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		if err := rows.Scan(&rec.TaskID, &rec.DeviceID, &rec.SessionID, &rec.Kind, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issued task: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
