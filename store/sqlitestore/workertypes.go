package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
)

// CreateWorkerType inserts a new worker type scoped to a project.
func (s *Store) CreateWorkerType(ctx context.Context, wt *model.WorkerType) (*model.WorkerType, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_types (project_id, worker_type, short_description, system_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		wt.ProjectID, wt.WorkerType, wt.ShortDescription, wt.SystemPrompt, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("worker type %q/%q: %w", wt.ProjectID, wt.WorkerType, store.ErrConflict)
		}
		return nil, fmt.Errorf("create worker type: %w: %v", store.ErrBackend, err)
	}
	return s.getWorkerType(ctx, wt.ProjectID, wt.WorkerType)
}

// UpdateWorkerType overwrites the mutable fields of an existing worker type.
func (s *Store) UpdateWorkerType(ctx context.Context, wt *model.WorkerType) (*model.WorkerType, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE worker_types SET short_description = ?, system_prompt = ?, updated_at = ?
		WHERE project_id = ? AND worker_type = ?`,
		wt.ShortDescription, wt.SystemPrompt, time.Now(), wt.ProjectID, wt.WorkerType,
	)
	if err != nil {
		return nil, fmt.Errorf("update worker type: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("worker type %q/%q: %w", wt.ProjectID, wt.WorkerType, store.ErrNotFound)
	}
	return s.getWorkerType(ctx, wt.ProjectID, wt.WorkerType)
}

// DeleteWorkerType removes a worker type from a project's catalog.
func (s *Store) DeleteWorkerType(ctx context.Context, projectID, workerType string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM worker_types WHERE project_id = ? AND worker_type = ?`, projectID, workerType)
	if err != nil {
		return fmt.Errorf("delete worker type: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("worker type %q/%q: %w", projectID, workerType, store.ErrNotFound)
	}
	return nil
}

// ListWorkerTypes returns all worker types for a project.
func (s *Store) ListWorkerTypes(ctx context.Context, projectID string) ([]model.WorkerType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, worker_type, short_description, system_prompt, created_at, updated_at
		FROM worker_types WHERE project_id = ? ORDER BY worker_type`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list worker types: %w: %v", store.ErrBackend, err)
	}
	defer rows.Close()

	var out []model.WorkerType
	for rows.Next() {
		var wt model.WorkerType
		if err := rows.Scan(&wt.ProjectID, &wt.WorkerType, &wt.ShortDescription, &wt.SystemPrompt, &wt.CreatedAt, &wt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan worker type: %w: %v", store.ErrBackend, err)
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

// WorkerTypeExists reports whether a worker type exists for a project. The
// reserved model.PlanningStage sentinel always reports true without a query,
// per the Stage Engine's ownership of that exemption (see stage.Planning).
func (s *Store) WorkerTypeExists(ctx context.Context, projectID, workerType string) (bool, error) {
	if workerType == model.PlanningStage {
		return true, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM worker_types WHERE project_id = ? AND worker_type = ?`, projectID, workerType).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check worker type: %w: %v", store.ErrBackend, err)
	}
	return n > 0, nil
}

// GetWorkerType fetches a single worker type by its (project, type) key, used
// by the Supervisor's store-backed WorkerTypeResolver to look up a worker's
// system prompt before spawning.
func (s *Store) GetWorkerType(ctx context.Context, projectID, workerType string) (*model.WorkerType, error) {
	return s.getWorkerType(ctx, projectID, workerType)
}

func (s *Store) getWorkerType(ctx context.Context, projectID, workerType string) (*model.WorkerType, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, worker_type, short_description, system_prompt, created_at, updated_at
		FROM worker_types WHERE project_id = ? AND worker_type = ?`, projectID, workerType)

	var wt model.WorkerType
	err := row.Scan(&wt.ProjectID, &wt.WorkerType, &wt.ShortDescription, &wt.SystemPrompt, &wt.CreatedAt, &wt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker type %q/%q: %w", projectID, workerType, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get worker type: %w: %v", store.ErrBackend, err)
	}
	return &wt, nil
}
