package sqlitestore

import (
	"database/sql"
	"fmt"
)

// migration is one versioned, all-or-nothing schema change. Every migration
// runs inside a single transaction: it either fully applies or leaves the
// schema untouched.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{1, "core_tables", []string{
		`CREATE TABLE IF NOT EXISTS projects (
			repository_name TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			short_description TEXT,
			rules TEXT,
			patterns TEXT,
			rules_version INTEGER NOT NULL DEFAULT 0,
			patterns_version INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS worker_types (
			project_id TEXT NOT NULL REFERENCES projects(repository_name) ON DELETE CASCADE,
			worker_type TEXT NOT NULL,
			short_description TEXT,
			system_prompt TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (project_id, worker_type)
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			ticket_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(repository_name) ON DELETE CASCADE,
			title TEXT NOT NULL,
			execution_plan TEXT NOT NULL,
			current_stage TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'open',
			priority TEXT NOT NULL DEFAULT 'medium',
			processing_worker_id TEXT,
			dependencies TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			closed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_project ON tickets(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_state ON tickets(state)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_id TEXT NOT NULL REFERENCES tickets(ticket_id) ON DELETE CASCADE,
			worker_type TEXT,
			worker_id TEXT,
			stage_number INTEGER,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_ticket ON comments(ticket_id)`,
		`CREATE TABLE IF NOT EXISTS workers (
			worker_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(repository_name) ON DELETE CASCADE,
			worker_type TEXT NOT NULL,
			status TEXT NOT NULL,
			pid INTEGER NOT NULL DEFAULT 0,
			queue_name TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_activity DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workers_queue ON workers(queue_name)`,
		`CREATE INDEX IF NOT EXISTS idx_workers_status ON workers(status)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			ticket_id TEXT,
			worker_id TEXT,
			stage TEXT,
			reason TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			processed INTEGER NOT NULL DEFAULT 0,
			resolution_summary TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed)`,
	}},
	{2, "conversations_and_tags", []string{
		`CREATE TABLE IF NOT EXISTS ticket_conversations (
			id TEXT PRIMARY KEY,
			ticket_id TEXT NOT NULL REFERENCES tickets(ticket_id) ON DELETE CASCADE,
			thread_type TEXT NOT NULL,
			title TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_ticket ON ticket_conversations(ticket_id)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES ticket_conversations(id) ON DELETE CASCADE,
			agent TEXT NOT NULL,
			message_type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id)`,
		`CREATE TABLE IF NOT EXISTS tags (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(repository_name) ON DELETE CASCADE,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'tag',
			color TEXT,
			description TEXT,
			UNIQUE(project_id, name)
		)`,
	}},
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d (%s): %w", m.version, m.name, err)
		}

		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
			}
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d (%s): %w", m.version, m.name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d (%s): %w", m.version, m.name, err)
		}
	}

	return nil
}
