package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
)

// CreateTicket inserts a ticket and, when a description is given, its
// synthesised opening comment in a single transaction, so a reader never
// observes the ticket without that comment.
func (s *Store) CreateTicket(ctx context.Context, req store.CreateTicketRequest) (*model.Ticket, error) {
	plan, err := json.Marshal([]string{req.InitialStage})
	if err != nil {
		return nil, fmt.Errorf("encode execution plan: %w: %v", store.ErrBackend, err)
	}
	deps, err := json.Marshal(req.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("encode dependencies: %w: %v", store.ErrBackend, err)
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create ticket: %w: %v", store.ErrBackend, err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (ticket_id, project_id, title, execution_plan, current_stage, state, priority, dependencies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'open', ?, ?, ?, ?)`,
		req.TicketID, req.ProjectID, req.Title, string(plan), req.InitialStage, priority, string(deps), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("ticket %q: %w", req.TicketID, store.ErrConflict)
		}
		return nil, fmt.Errorf("create ticket: %w: %v", store.ErrBackend, err)
	}

	if req.Description != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO comments (ticket_id, worker_type, worker_id, stage_number, content, created_at)
			VALUES (?, ?, ?, 0, ?, ?)`,
			req.TicketID, model.CoordinatorActor, model.CoordinatorActor, req.Description, now,
		)
		if err != nil {
			return nil, fmt.Errorf("create ticket opening comment: %w: %v", store.ErrBackend, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create ticket: %w: %v", store.ErrBackend, err)
	}
	return s.GetTicket(ctx, req.TicketID)
}

// GetTicket fetches a ticket by id.
func (s *Store) GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ticket_id, project_id, title, execution_plan, current_stage, state, priority,
			COALESCE(processing_worker_id, ''), COALESCE(dependencies, '[]'), created_at, updated_at, closed_at
		FROM tickets WHERE ticket_id = ?`, ticketID)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w: %v", store.ErrBackend, err)
	}
	return t, nil
}

// ListTickets returns all tickets for a project, newest first.
func (s *Store) ListTickets(ctx context.Context, projectID string) ([]model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, project_id, title, execution_plan, current_stage, state, priority,
			COALESCE(processing_worker_id, ''), COALESCE(dependencies, '[]'), created_at, updated_at, closed_at
		FROM tickets WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w: %v", store.ErrBackend, err)
	}
	defer rows.Close()

	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w: %v", store.ErrBackend, err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListTicketsClaimedBy returns every ticket currently claimed by workerID —
// in the steady state this is at most one, but the reconciler and
// Supervisor both treat it as a set to stay correct under races.
func (s *Store) ListTicketsClaimedBy(ctx context.Context, workerID string) ([]model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, project_id, title, execution_plan, current_stage, state, priority,
			COALESCE(processing_worker_id, ''), COALESCE(dependencies, '[]'), created_at, updated_at, closed_at
		FROM tickets WHERE processing_worker_id = ?`, workerID)
	if err != nil {
		return nil, fmt.Errorf("list tickets claimed by worker: %w: %v", store.ErrBackend, err)
	}
	defer rows.Close()

	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w: %v", store.ErrBackend, err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTicketStage moves a ticket to a new current_stage. Stage-transition
// legality (forward-one-or-any-backward, planning exemption) is checked by
// callers with stage.ValidateTargetStage (the dispatcher and the manual stage
// move; a resume checks only the worker-type catalog); the store performs the
// write unconditionally.
func (s *Store) UpdateTicketStage(ctx context.Context, ticketID, stage string) (*model.Ticket, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET current_stage = ?, updated_at = ? WHERE ticket_id = ?`, stage, time.Now(), ticketID)
	if err != nil {
		return nil, fmt.Errorf("update ticket stage: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	return s.GetTicket(ctx, ticketID)
}

// UpdateTicketState transitions open/closed/on_hold, setting or clearing
// closed_at so it is set iff the state is closed.
func (s *Store) UpdateTicketState(ctx context.Context, ticketID string, state model.TicketState) (*model.Ticket, error) {
	now := time.Now()
	var res sql.Result
	var err error
	if state == model.TicketClosed {
		res, err = s.db.ExecContext(ctx, `UPDATE tickets SET state = ?, closed_at = ?, updated_at = ? WHERE ticket_id = ?`, state, now, now, ticketID)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE tickets SET state = ?, closed_at = NULL, updated_at = ? WHERE ticket_id = ?`, state, now, ticketID)
	}
	if err != nil {
		return nil, fmt.Errorf("update ticket state: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	return s.GetTicket(ctx, ticketID)
}

// UpdatePipeline overwrites a ticket's execution plan. Callers must have
// already validated every stage name against WorkerTypeExists (or the
// planning sentinel); the store does not re-validate here.
func (s *Store) UpdatePipeline(ctx context.Context, ticketID string, stages []string) (*model.Ticket, error) {
	plan, err := json.Marshal(stages)
	if err != nil {
		return nil, fmt.Errorf("encode execution plan: %w: %v", store.ErrBackend, err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET execution_plan = ?, updated_at = ? WHERE ticket_id = ?`, string(plan), time.Now(), ticketID)
	if err != nil {
		return nil, fmt.Errorf("update pipeline: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	return s.GetTicket(ctx, ticketID)
}

// ClaimTicketIfFree atomically claims a ticket for workerID only if it is
// currently unclaimed. This, not a row lock, is what makes the claim
// exclusive — the UPDATE's WHERE clause is the compare-and-set.
func (s *Store) ClaimTicketIfFree(ctx context.Context, ticketID, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET processing_worker_id = ?, updated_at = ?
		WHERE ticket_id = ? AND (processing_worker_id IS NULL OR processing_worker_id = '')`,
		workerID, time.Now(), ticketID,
	)
	if err != nil {
		return false, fmt.Errorf("claim ticket: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ReleaseTicketIfHeldBy atomically releases a claim only if workerID
// currently holds it, preventing a stale release from clobbering a
// subsequent, legitimate claim by a different worker.
func (s *Store) ReleaseTicketIfHeldBy(ctx context.Context, ticketID, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET processing_worker_id = NULL, updated_at = ?
		WHERE ticket_id = ? AND processing_worker_id = ?`,
		time.Now(), ticketID, workerID,
	)
	if err != nil {
		return false, fmt.Errorf("release ticket: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ForceRelease clears a ticket's claim unconditionally, used by the
// reconciler when the claiming worker is confirmed dead.
func (s *Store) ForceRelease(ctx context.Context, ticketID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET processing_worker_id = NULL, updated_at = ? WHERE ticket_id = ?`, time.Now(), ticketID)
	if err != nil {
		return fmt.Errorf("force release ticket: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (*model.Ticket, error) {
	var t model.Ticket
	var plan, deps string
	var closedAt sql.NullTime

	err := row.Scan(&t.TicketID, &t.ProjectID, &t.Title, &plan, &t.CurrentStage, &t.State, &t.Priority,
		&t.ProcessingWorkerID, &deps, &t.CreatedAt, &t.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(plan), &t.ExecutionPlan); err != nil {
		return nil, fmt.Errorf("decode execution plan: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	if closedAt.Valid {
		t.ClosedAt = &closedAt.Time
	}
	return &t, nil
}
