package sqlitestore

import (
	"context"
	"fmt"
	"time"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
)

// AppendComment inserts a new comment. Comments are append-only; there is no
// update or delete path, matching the data model's Comment invariant.
func (s *Store) AppendComment(ctx context.Context, c *model.Comment) (*model.Comment, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (ticket_id, worker_type, worker_id, stage_number, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.TicketID, nullableString(c.WorkerType), nullableString(c.WorkerID), c.StageNumber, c.Content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("append comment: %w: %v", store.ErrBackend, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("append comment id: %w: %v", store.ErrBackend, err)
	}
	c.ID = id
	c.CreatedAt = now
	return c, nil
}

// ListComments returns every comment for a ticket in chronological order.
func (s *Store) ListComments(ctx context.Context, ticketID string) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, COALESCE(worker_type, ''), COALESCE(worker_id, ''), stage_number, content, created_at
		FROM comments WHERE ticket_id = ? ORDER BY created_at ASC, id ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w: %v", store.ErrBackend, err)
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.WorkerType, &c.WorkerID, &c.StageNumber, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w: %v", store.ErrBackend, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
