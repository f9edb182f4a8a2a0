package sqlitestore

import (
	"context"
	"fmt"
	"time"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
)

// CreateConversation inserts a new threaded side-channel discussion attached
// to a ticket, distinct from the append-only comment stream.
func (s *Store) CreateConversation(ctx context.Context, c *model.TicketConversation) error {
	if c.Status == "" {
		c.Status = model.ThreadOpen
	}
	c.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_conversations (id, ticket_id, thread_type, title, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.TicketID, c.ThreadType, nullableString(c.Title), c.Status, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("conversation %q: %w", c.ID, store.ErrConflict)
		}
		return fmt.Errorf("create conversation: %w: %v", store.ErrBackend, err)
	}
	return nil
}

// AddConversationMessage appends a message to an existing conversation
// thread, e.g. a worker's SignoffReport carried alongside its WorkerCommand.
func (s *Store) AddConversationMessage(ctx context.Context, m *model.ConversationMessage) error {
	m.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, agent, message_type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Agent, m.MessageType, m.Content, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("conversation message %q: %w", m.ID, store.ErrConflict)
		}
		return fmt.Errorf("add conversation message: %w: %v", store.ErrBackend, err)
	}
	return nil
}
