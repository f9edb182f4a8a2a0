package sqlitestore

import (
	"context"
	"fmt"
	"time"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
)

// RecordEvent appends a durable event row and returns its assigned id.
func (s *Store) RecordEvent(ctx context.Context, e *model.Event) (int64, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_type, ticket_id, worker_id, stage, reason, created_at, processed)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		e.EventType, nullableString(e.TicketID), nullableString(e.WorkerID), nullableString(e.Stage), nullableString(e.Reason), now,
	)
	if err != nil {
		return 0, fmt.Errorf("record event: %w: %v", store.ErrBackend, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record event id: %w: %v", store.ErrBackend, err)
	}
	e.ID = id
	e.CreatedAt = now
	return id, nil
}

// ListUnprocessedEvents returns every event not yet resolved, oldest first.
func (s *Store) ListUnprocessedEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, COALESCE(ticket_id, ''), COALESCE(worker_id, ''), COALESCE(stage, ''), COALESCE(reason, ''),
			created_at, processed, COALESCE(resolution_summary, '')
		FROM events WHERE processed = 0 ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w: %v", store.ErrBackend, err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.EventType, &e.TicketID, &e.WorkerID, &e.Stage, &e.Reason, &e.CreatedAt, &e.Processed, &e.ResolutionSummary); err != nil {
			return nil, fmt.Errorf("scan event: %w: %v", store.ErrBackend, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolveEvent marks an event processed with a resolution summary.
func (s *Store) ResolveEvent(ctx context.Context, id int64, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET processed = 1, resolution_summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("resolve event: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("event %d: %w", id, store.ErrNotFound)
	}
	return nil
}
