package sqlitestore

import (
	"context"
	"fmt"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
)

// CreateTag inserts a new N:M categorization label scoped to a project.
func (s *Store) CreateTag(ctx context.Context, t *model.Tag) error {
	if t.Type == "" {
		t.Type = model.TagGeneric
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, project_id, name, type, color, description)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Name, t.Type, nullableString(t.Color), nullableString(t.Description),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tag %q/%q: %w", t.ProjectID, t.Name, store.ErrConflict)
		}
		return fmt.Errorf("create tag: %w: %v", store.ErrBackend, err)
	}
	return nil
}

// ListTags returns all tags defined for a project.
func (s *Store) ListTags(ctx context.Context, projectID string) ([]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, type, COALESCE(color, ''), COALESCE(description, '')
		FROM tags WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w: %v", store.ErrBackend, err)
	}
	defer rows.Close()

	var out []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Type, &t.Color, &t.Description); err != nil {
			return nil, fmt.Errorf("scan tag: %w: %v", store.ErrBackend, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
