package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
)

// UpsertWorker inserts a worker row, or replaces it in place if worker_id
// already exists (used by the Supervisor when re-registering a respawned process).
func (s *Store) UpsertWorker(ctx context.Context, w *model.Worker) (*model.Worker, error) {
	now := time.Now()
	if w.StartedAt.IsZero() {
		w.StartedAt = now
	}
	w.LastActivity = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (worker_id, project_id, worker_type, status, pid, queue_name, started_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET
			status = excluded.status, pid = excluded.pid, queue_name = excluded.queue_name, last_activity = excluded.last_activity`,
		w.WorkerID, w.ProjectID, w.WorkerType, w.Status, w.PID, w.QueueName, w.StartedAt, w.LastActivity,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert worker: %w: %v", store.ErrBackend, err)
	}
	return s.GetWorker(ctx, w.WorkerID)
}

// UpdateWorkerStatus sets a worker's status and bumps last_activity.
func (s *Store) UpdateWorkerStatus(ctx context.Context, workerID string, status model.WorkerStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workers SET status = ?, last_activity = ? WHERE worker_id = ?`, status, time.Now(), workerID)
	if err != nil {
		return fmt.Errorf("update worker status: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("worker %q: %w", workerID, store.ErrNotFound)
	}
	return nil
}

// UpdateWorkerPID records the OS pid once the Supervisor's exec.Cmd.Start
// call returns, closing the spawning-to-active gap.
func (s *Store) UpdateWorkerPID(ctx context.Context, workerID string, pid int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workers SET pid = ?, last_activity = ? WHERE worker_id = ?`, pid, time.Now(), workerID)
	if err != nil {
		return fmt.Errorf("update worker pid: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("worker %q: %w", workerID, store.ErrNotFound)
	}
	return nil
}

// GetWorker fetches a worker by id.
func (s *Store) GetWorker(ctx context.Context, workerID string) (*model.Worker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT worker_id, project_id, worker_type, status, pid, queue_name, started_at, last_activity
		FROM workers WHERE worker_id = ?`, workerID)
	var w model.Worker
	err := row.Scan(&w.WorkerID, &w.ProjectID, &w.WorkerType, &w.Status, &w.PID, &w.QueueName, &w.StartedAt, &w.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker %q: %w", workerID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w: %v", store.ErrBackend, err)
	}
	return &w, nil
}

// ListWorkersForQueue returns all workers ever spawned for a (project, worker_type)
// queue, most recent first — used by the Supervisor's liveness sweep.
func (s *Store) ListWorkersForQueue(ctx context.Context, projectID, workerType string) ([]model.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, project_id, worker_type, status, pid, queue_name, started_at, last_activity
		FROM workers WHERE project_id = ? AND worker_type = ? ORDER BY started_at DESC`, projectID, workerType)
	if err != nil {
		return nil, fmt.Errorf("list workers for queue: %w: %v", store.ErrBackend, err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

// ListWorkersByStatus returns all workers in any of the given statuses,
// across all queues — the reconciler's startup sweep entry point.
func (s *Store) ListWorkersByStatus(ctx context.Context, statuses []model.WorkerStatus) ([]model.Worker, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = st
	}
	q := fmt.Sprintf(`
		SELECT worker_id, project_id, worker_type, status, pid, queue_name, started_at, last_activity
		FROM workers WHERE status IN (%s) ORDER BY started_at ASC`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list workers by status: %w: %v", store.ErrBackend, err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

func scanWorkers(rows *sql.Rows) ([]model.Worker, error) {
	var out []model.Worker
	for rows.Next() {
		var w model.Worker
		if err := rows.Scan(&w.WorkerID, &w.ProjectID, &w.WorkerType, &w.Status, &w.PID, &w.QueueName, &w.StartedAt, &w.LastActivity); err != nil {
			return nil, fmt.Errorf("scan worker: %w: %v", store.ErrBackend, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
