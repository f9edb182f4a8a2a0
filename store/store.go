// Package store defines the transactional persistence contract the rest of
// the server is built against. The concrete implementation lives in
// store/sqlitestore; callers should depend only on this interface.
package store

import (
	"context"
	"errors"

	"github.com/stagehand-run/stagehand/model"
)

// Sentinel errors for the store's failure taxonomy. Use errors.Is to test
// for them; concrete implementations wrap these with context via %w.
var (
	ErrNotFound   = errors.New("store: not found")
	ErrConflict   = errors.New("store: conflict")
	ErrValidation = errors.New("store: validation")
	ErrBackend    = errors.New("store: backend failure")
)

// CreateTicketRequest is the input to Store.CreateTicket.
type CreateTicketRequest struct {
	TicketID      string
	ProjectID     string
	Title         string
	Description   string
	InitialStage  string
	Priority      model.Priority
	Dependencies  []string
}

// Store is the persistence contract: transactional storage of projects,
// worker types, tickets, comments, workers and events.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *model.Project) (*model.Project, error)
	GetProject(ctx context.Context, repositoryName string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	DeleteProject(ctx context.Context, repositoryName string) error

	// Worker types
	CreateWorkerType(ctx context.Context, wt *model.WorkerType) (*model.WorkerType, error)
	UpdateWorkerType(ctx context.Context, wt *model.WorkerType) (*model.WorkerType, error)
	DeleteWorkerType(ctx context.Context, projectID, workerType string) error
	ListWorkerTypes(ctx context.Context, projectID string) ([]model.WorkerType, error)
	WorkerTypeExists(ctx context.Context, projectID, workerType string) (bool, error)
	GetWorkerType(ctx context.Context, projectID, workerType string) (*model.WorkerType, error)

	// Tickets
	CreateTicket(ctx context.Context, req CreateTicketRequest) (*model.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error)
	ListTickets(ctx context.Context, projectID string) ([]model.Ticket, error)
	ListTicketsClaimedBy(ctx context.Context, workerID string) ([]model.Ticket, error)
	UpdateTicketStage(ctx context.Context, ticketID, stage string) (*model.Ticket, error)
	UpdateTicketState(ctx context.Context, ticketID string, state model.TicketState) (*model.Ticket, error)
	UpdatePipeline(ctx context.Context, ticketID string, stages []string) (*model.Ticket, error)

	// Claims — conditional updates, the only mutation path for ProcessingWorkerID.
	ClaimTicketIfFree(ctx context.Context, ticketID, workerID string) (bool, error)
	ReleaseTicketIfHeldBy(ctx context.Context, ticketID, workerID string) (bool, error)
	ForceRelease(ctx context.Context, ticketID string) error

	// Comments
	AppendComment(ctx context.Context, c *model.Comment) (*model.Comment, error)
	ListComments(ctx context.Context, ticketID string) ([]model.Comment, error)

	// Workers
	UpsertWorker(ctx context.Context, w *model.Worker) (*model.Worker, error)
	UpdateWorkerStatus(ctx context.Context, workerID string, status model.WorkerStatus) error
	UpdateWorkerPID(ctx context.Context, workerID string, pid int) error
	GetWorker(ctx context.Context, workerID string) (*model.Worker, error)
	ListWorkersForQueue(ctx context.Context, projectID, workerType string) ([]model.Worker, error)
	ListWorkersByStatus(ctx context.Context, statuses []model.WorkerStatus) ([]model.Worker, error)

	// Events (durable)
	RecordEvent(ctx context.Context, e *model.Event) (int64, error)
	ListUnprocessedEvents(ctx context.Context) ([]model.Event, error)
	ResolveEvent(ctx context.Context, id int64, summary string) error

	// Conversations
	CreateConversation(ctx context.Context, c *model.TicketConversation) error
	AddConversationMessage(ctx context.Context, m *model.ConversationMessage) error

	// Tags
	CreateTag(ctx context.Context, t *model.Tag) error
	ListTags(ctx context.Context, projectID string) ([]model.Tag, error)

	Close() error
}
