// Package model defines the shared domain entities persisted by the store and
// passed between the stage engine, dispatcher, supervisor and tool surface.
package model

import "time"

// TicketState is the lifecycle state of a ticket, independent of its pipeline stage.
type TicketState string

const (
	TicketOpen   TicketState = "open"
	TicketClosed TicketState = "closed"
	TicketOnHold TicketState = "on_hold"
)

// Priority orders tickets for display; dispatch order is FIFO regardless (see queue.Manager).
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PlanningStage is the reserved bootstrap stage name that bypasses WorkerType
// existence checks everywhere it is referenced. Declared once here per the
// stage engine's ownership of this sentinel (see stage.Planning).
const PlanningStage = "planning"

// Project is the top-level scope tickets and worker types belong to.
type Project struct {
	RepositoryName   string `json:"repositoryName"`
	Path             string `json:"path"`
	ShortDescription string `json:"shortDescription,omitempty"`
	Rules            string `json:"rules,omitempty"`
	Patterns         string `json:"patterns,omitempty"`
	RulesVersion     int    `json:"rulesVersion"`
	PatternsVersion  int    `json:"patternsVersion"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WorkerType is a named role with an associated system prompt, scoped to a project.
type WorkerType struct {
	ProjectID        string `json:"projectId"`
	WorkerType       string `json:"workerType"`
	ShortDescription string `json:"shortDescription,omitempty"`
	SystemPrompt     string `json:"systemPrompt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ticket is a unit of work tracked through the stage pipeline.
type Ticket struct {
	TicketID      string      `json:"ticketId"`
	ProjectID     string      `json:"projectId"`
	Title         string      `json:"title"`
	ExecutionPlan []string    `json:"executionPlan"`
	CurrentStage  string      `json:"currentStage"`
	State         TicketState `json:"state"`
	Priority      Priority    `json:"priority"`

	ProcessingWorkerID string `json:"processingWorkerId,omitempty"`

	// Dependency edges, advisory only — never enforced as a hard invariant,
	// only surfaced to the tool surface for visibility.
	Dependencies []string `json:"dependencies,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// HasClaim reports whether the ticket is currently claimed by any worker.
func (t *Ticket) HasClaim() bool {
	return t.ProcessingWorkerID != ""
}

// Comment is an append-only annotation on a ticket.
type Comment struct {
	ID            int64  `json:"id"`
	TicketID      string `json:"ticketId"`
	WorkerType    string `json:"workerType,omitempty"`
	WorkerID      string `json:"workerId,omitempty"`
	StageNumber   *int   `json:"stageNumber,omitempty"`
	Content       string `json:"content"`

	CreatedAt time.Time `json:"createdAt"`
}

// CloseOrHoldStageNumber is the sentinel stage_number recorded on comments
// synthesised at ticket close/hold, per the data model's Comment lifecycle.
const CloseOrHoldStageNumber = 999

// CoordinatorActor is the worker_type and worker_id recorded on comments
// the coordinator (not a spawned worker) authors, such as a ticket's
// opening description comment.
const CoordinatorActor = "coordinator"

// WorkerStatus is the lifecycle status of a spawned worker process.
type WorkerStatus string

const (
	WorkerSpawning WorkerStatus = "spawning"
	WorkerActive   WorkerStatus = "active"
	WorkerIdle     WorkerStatus = "idle"
	WorkerFinished WorkerStatus = "finished"
	WorkerFailed   WorkerStatus = "failed"
)

// LiveStatuses are the statuses that count toward the one-live-worker-per-queue
// invariant when the OS process backing the row is actually alive.
var LiveStatuses = map[WorkerStatus]bool{
	WorkerSpawning: true,
	WorkerActive:   true,
	WorkerIdle:     true,
}

// Worker is one instance of a spawned child worker process.
type Worker struct {
	WorkerID   string       `json:"workerId"`
	ProjectID  string       `json:"projectId"`
	WorkerType string       `json:"workerType"`
	Status     WorkerStatus `json:"status"`
	PID        int          `json:"pid,omitempty"`
	QueueName  string       `json:"queueName"`

	StartedAt    time.Time `json:"startedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// EventType enumerates the durable Event table's fixed event_type values.
type EventType string

const (
	EventStageCompleted  EventType = "stage_completed"
	EventWorkerStopped   EventType = "worker_stopped"
	EventWorkerSpawned   EventType = "worker_spawned"
	EventTaskAssigned    EventType = "task_assigned"
	EventProjectCreated  EventType = "project_created"
	EventWorkerTypeAdded EventType = "worker_type_created"
	EventTicketCreated   EventType = "ticket_created"
	EventTicketClosed    EventType = "ticket_closed"
	EventValidationError EventType = "validation_error"
)

// Event is an append-only row in the durable coordinator-visible work list.
type Event struct {
	ID                int64     `json:"id"`
	EventType         EventType `json:"eventType"`
	TicketID          string    `json:"ticketId,omitempty"`
	WorkerID          string    `json:"workerId,omitempty"`
	Stage             string    `json:"stage,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	Processed         bool      `json:"processed"`
	ResolutionSummary string    `json:"resolutionSummary,omitempty"`
}

// ThreadType categorizes a TicketConversation's purpose.
type ThreadType string

const (
	ThreadDevSignoff      ThreadType = "dev_signoff"
	ThreadQASignoff       ThreadType = "qa_signoff"
	ThreadGenericSignoff  ThreadType = "signoff"
	ThreadUserQuestion    ThreadType = "user_question"
)

// ThreadStatus is the lifecycle of a TicketConversation.
type ThreadStatus string

const (
	ThreadOpen      ThreadStatus = "open"
	ThreadResolved  ThreadStatus = "resolved"
	ThreadEscalated ThreadStatus = "escalated"
)

// TicketConversation is a threaded side-channel discussion attached to a ticket,
// distinct from the append-only Comment stream.
type TicketConversation struct {
	ID         string       `json:"id"`
	TicketID   string       `json:"ticketId"`
	ThreadType ThreadType   `json:"threadType"`
	Title      string       `json:"title,omitempty"`
	Status     ThreadStatus `json:"status"`

	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// MessageType categorizes a ConversationMessage.
type MessageType string

const (
	MessageStatusUpdate   MessageType = "status_update"
	MessageSignoffReport  MessageType = "signoff_report"
)

// ConversationMessage is a single message within a TicketConversation.
type ConversationMessage struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Agent          string      `json:"agent"`
	MessageType    MessageType `json:"messageType"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// TagType categorizes a Tag.
type TagType string

const (
	TagEpic      TagType = "epic"
	TagComponent TagType = "component"
	TagGeneric   TagType = "tag"
)

// Tag is a flexible N:M categorization label for tickets.
type Tag struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"projectId"`
	Name        string  `json:"name"`
	Type        TagType `json:"type"`
	Color       string  `json:"color,omitempty"`
	Description string  `json:"description,omitempty"`
}

// TestRunResult holds structured test-execution stats from a worker sign-off.
type TestRunResult struct {
	Framework string `json:"framework,omitempty"`
	Passed    int    `json:"passed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped,omitempty"`
}

// SignoffFinding is a single issue reported in a SignoffReport.
type SignoffFinding struct {
	Severity       string `json:"severity"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description"`
	File           string `json:"file,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// SignoffReport is the optional structured review payload a worker may emit
// alongside its WorkerCommand.
type SignoffReport struct {
	Status          string           `json:"status"`
	Agent           string           `json:"agent,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	ChecksPerformed []string         `json:"checks_performed,omitempty"`
	TestsRun        *TestRunResult   `json:"tests_run,omitempty"`
	Findings        []SignoffFinding `json:"findings,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}
