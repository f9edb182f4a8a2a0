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

// CreateProject inserts a new project row. Unique-key collisions map to
// store.ErrConflict per the Store's failure semantics.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (repository_name, path, short_description, rules, patterns, rules_version, patterns_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RepositoryName, p.Path, p.ShortDescription, p.Rules, p.Patterns, p.RulesVersion, p.PatternsVersion, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("project %q: %w", p.RepositoryName, store.ErrConflict)
		}
		return nil, fmt.Errorf("create project: %w: %v", store.ErrBackend, err)
	}
	return s.GetProject(ctx, p.RepositoryName)
}

// GetProject fetches a project by its repository name.
func (s *Store) GetProject(ctx context.Context, repositoryName string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT repository_name, path, short_description, rules, patterns, rules_version, patterns_version, created_at, updated_at
		FROM projects WHERE repository_name = ?`, repositoryName)

	var p model.Project
	err := row.Scan(&p.RepositoryName, &p.Path, &p.ShortDescription, &p.Rules, &p.Patterns, &p.RulesVersion, &p.PatternsVersion, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", repositoryName, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w: %v", store.ErrBackend, err)
	}
	return &p, nil
}

// ListProjects returns all projects.
func (s *Store) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repository_name, path, short_description, rules, patterns, rules_version, patterns_version, created_at, updated_at
		FROM projects ORDER BY repository_name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w: %v", store.ErrBackend, err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.RepositoryName, &p.Path, &p.ShortDescription, &p.Rules, &p.Patterns, &p.RulesVersion, &p.PatternsVersion, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w: %v", store.ErrBackend, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject removes a project; cascade deletes owned worker_types,
// tickets and workers per the foreign key ON DELETE CASCADE constraints.
func (s *Store) DeleteProject(ctx context.Context, repositoryName string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE repository_name = ?`, repositoryName)
	if err != nil {
		return fmt.Errorf("delete project: %w: %v", store.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %q: %w", repositoryName, store.ErrNotFound)
	}
	return nil
}
