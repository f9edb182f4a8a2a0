// Package toolsurface implements the operations exposed to
// coordinator/worker callers that mutate server state.
// The external transport (internal/web) is a thin adapter over this
// package; request structs here carry go-playground/validator/v10 tags, and
// each method validates its request struct in one call before touching the
// Store.
package toolsurface

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagehand-run/stagehand/claims"
	"github.com/stagehand-run/stagehand/eventbus"
	"github.com/stagehand-run/stagehand/internal/display"
	"github.com/stagehand-run/stagehand/metrics"
	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/queue"
	"github.com/stagehand-run/stagehand/stage"
	"github.com/stagehand-run/stagehand/store"
	"github.com/stagehand-run/stagehand/supervisor"
)

var validate = validator.New()

// Surface wires together the components the core tool operations touch.
type Surface struct {
	st      store.Store
	bus     *eventbus.Bus
	q       *queue.Manager
	claimer *claims.Manager
	sup     *supervisor.Supervisor
	met     *metrics.Registry
	log     *zap.Logger
}

// New constructs a Surface. met may be nil, in which case ticket creation
// is not counted.
func New(st store.Store, bus *eventbus.Bus, q *queue.Manager, claimer *claims.Manager, sup *supervisor.Supervisor, met *metrics.Registry, log *zap.Logger) *Surface {
	return &Surface{st: st, bus: bus, q: q, claimer: claimer, sup: sup, met: met, log: log}
}

// CreateProjectRequest is the input to CreateProject.
type CreateProjectRequest struct {
	RepositoryName   string `json:"repositoryName" validate:"required"`
	Path             string `json:"path" validate:"required"`
	ShortDescription string `json:"shortDescription"`
	Rules            string `json:"rules"`
	Patterns         string `json:"patterns"`
}

// CreateProject creates a project and publishes project_created.
func (s *Surface) CreateProject(ctx context.Context, req CreateProjectRequest) (*model.Project, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	p, err := s.st.CreateProject(ctx, &model.Project{
		RepositoryName:   req.RepositoryName,
		Path:             req.Path,
		ShortDescription: req.ShortDescription,
		Rules:            req.Rules,
		Patterns:         req.Patterns,
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(model.Event{EventType: model.EventProjectCreated})
	return p, nil
}

// CreateWorkerTypeRequest is the input to CreateWorkerType.
type CreateWorkerTypeRequest struct {
	ProjectID        string `json:"projectId" validate:"required"`
	WorkerType       string `json:"workerType" validate:"required"`
	ShortDescription string `json:"shortDescription"`
	SystemPrompt     string `json:"systemPrompt" validate:"required"`
}

// CreateWorkerType creates a worker type and publishes worker_type_created.
func (s *Surface) CreateWorkerType(ctx context.Context, req CreateWorkerTypeRequest) (*model.WorkerType, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	wt, err := s.st.CreateWorkerType(ctx, &model.WorkerType{
		ProjectID:        req.ProjectID,
		WorkerType:       req.WorkerType,
		ShortDescription: req.ShortDescription,
		SystemPrompt:     req.SystemPrompt,
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(model.Event{EventType: model.EventWorkerTypeAdded})
	s.log.Info("toolsurface: worker type registered",
		zap.String("project_id", req.ProjectID),
		zap.String("worker_type", display.Label(req.WorkerType)),
	)
	return wt, nil
}

// CreateTicketRequest is the input to CreateTicket.
type CreateTicketRequest struct {
	ProjectID    string         `json:"projectId" validate:"required"`
	Title        string         `json:"title" validate:"required"`
	Description  string         `json:"description"`
	InitialStage string         `json:"initialStage"`
	Priority     model.Priority `json:"priority"`
	Dependencies []string       `json:"dependencies"`
}

// CreateTicket creates a ticket and its initial comment, submits it to its
// initial stage's queue, and publishes ticket_created. It deliberately does
// not spawn a worker itself — the caller is expected to follow up with
// SpawnWorkerForStage (or rely on a background sweep loop that does).
func (s *Surface) CreateTicket(ctx context.Context, req CreateTicketRequest) (*model.Ticket, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	initialStage := req.InitialStage
	if initialStage == "" {
		initialStage = stage.Planning
	}
	if initialStage != stage.Planning {
		ok, err := s.st.WorkerTypeExists(ctx, req.ProjectID, initialStage)
		if err != nil {
			return nil, fmt.Errorf("check worker type: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("initial stage %q has no worker type in project %q: %w", initialStage, req.ProjectID, store.ErrValidation)
		}
	}

	t, err := s.st.CreateTicket(ctx, store.CreateTicketRequest{
		TicketID:     uuid.NewString(),
		ProjectID:    req.ProjectID,
		Title:        req.Title,
		Description:  req.Description,
		InitialStage: initialStage,
		Priority:     req.Priority,
		Dependencies: req.Dependencies,
	})
	if err != nil {
		return nil, err
	}

	qName := queue.Name(req.ProjectID, initialStage)
	s.q.Submit(qName, t.TicketID)

	s.bus.Publish(model.Event{EventType: model.EventTicketCreated, TicketID: t.TicketID})
	if _, err := s.st.RecordEvent(ctx, &model.Event{EventType: model.EventTicketCreated, TicketID: t.TicketID}); err != nil {
		s.log.Error("toolsurface: record ticket_created failed", zap.Error(err))
	}
	s.bus.Publish(model.Event{EventType: model.EventTaskAssigned, TicketID: t.TicketID, Stage: initialStage})
	if _, err := s.st.RecordEvent(ctx, &model.Event{EventType: model.EventTaskAssigned, TicketID: t.TicketID, Stage: initialStage}); err != nil {
		s.log.Error("toolsurface: record task_assigned failed", zap.Error(err))
	}
	if s.met != nil {
		s.met.TicketsCreated.Inc()
	}

	return t, nil
}

// ClaimTicket delegates to the Claim Registry and publishes a task_assigned
// event on success.
func (s *Surface) ClaimTicket(ctx context.Context, ticketID, workerID string) (bool, error) {
	ok, err := s.claimer.Claim(ctx, ticketID, workerID)
	if err != nil {
		return false, err
	}
	if ok {
		s.bus.Publish(model.Event{EventType: model.EventTaskAssigned, TicketID: ticketID, WorkerID: workerID})
	}
	return ok, nil
}

// ReleaseTicket delegates to the Claim Registry.
func (s *Surface) ReleaseTicket(ctx context.Context, ticketID, workerID string) (bool, error) {
	return s.claimer.Release(ctx, ticketID, workerID)
}

// AddTicketCommentRequest is the input to AddTicketComment.
type AddTicketCommentRequest struct {
	TicketID    string `json:"ticketId" validate:"required"`
	WorkerType  string `json:"workerType"`
	WorkerID    string `json:"workerId"`
	StageNumber *int   `json:"stageNumber"`
	Content     string `json:"content" validate:"required"`
}

// AddTicketComment appends a comment. Pure append, no side effects beyond the write.
func (s *Surface) AddTicketComment(ctx context.Context, req AddTicketCommentRequest) (*model.Comment, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return s.st.AppendComment(ctx, &model.Comment{
		TicketID:    req.TicketID,
		WorkerType:  req.WorkerType,
		WorkerID:    req.WorkerID,
		StageNumber: req.StageNumber,
		Content:     req.Content,
	})
}

// UpdateTicketStage is the coordinator-only manual stage move: validated via
// the Stage Engine and the worker-type catalog before the write, publishing
// a stage_completed event on the bus on success. There is no separate
// ticket_stage_changed event type, and no durable event row is recorded.
func (s *Surface) UpdateTicketStage(ctx context.Context, ticketID, target string) (*model.Ticket, error) {
	t, err := s.st.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !stage.ValidateTargetStage(t, target) {
		return nil, fmt.Errorf("illegal transition from %q to %q: %w", t.CurrentStage, target, store.ErrValidation)
	}
	if target != stage.Planning {
		ok, err := s.st.WorkerTypeExists(ctx, t.ProjectID, target)
		if err != nil {
			return nil, fmt.Errorf("check worker type: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("stage %q has no worker type in project %q: %w", target, t.ProjectID, store.ErrValidation)
		}
	}

	updated, err := s.st.UpdateTicketStage(ctx, ticketID, target)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(model.Event{EventType: model.EventStageCompleted, TicketID: ticketID, Stage: target})
	return updated, nil
}

// closeResolutionText maps a resolution tag to the synthesised closing
// comment body.
var closeResolutionText = map[string]string{
	"completed": "Ticket closed: work completed.",
	"wontfix":   "Ticket closed: will not fix.",
	"duplicate": "Ticket closed: duplicate.",
	"invalid":   "Ticket closed: invalid.",
}

// CloseTicket sets state=closed, closed_at=now, appends a synthesised
// closing comment, and publishes ticket_closed.
func (s *Surface) CloseTicket(ctx context.Context, ticketID, resolution string) (*model.Ticket, error) {
	t, err := s.st.UpdateTicketState(ctx, ticketID, model.TicketClosed)
	if err != nil {
		return nil, err
	}

	text, ok := closeResolutionText[resolution]
	if !ok {
		text = fmt.Sprintf("Ticket closed: %s.", resolution)
	}
	if _, err := s.st.AppendComment(ctx, &model.Comment{
		TicketID:    ticketID,
		StageNumber: intPtr(model.CloseOrHoldStageNumber),
		Content:     text,
	}); err != nil {
		s.log.Error("toolsurface: append close comment failed", zap.Error(err))
	}

	s.bus.Publish(model.Event{EventType: model.EventTicketClosed, TicketID: ticketID})
	if _, err := s.st.RecordEvent(ctx, &model.Event{EventType: model.EventTicketClosed, TicketID: ticketID}); err != nil {
		s.log.Error("toolsurface: record ticket_closed failed", zap.Error(err))
	}
	return t, nil
}

// FinishWorker marks a worker finished regardless of its current status,
// records worker_stopped, and releases any ticket it still holds.
func (s *Surface) FinishWorker(ctx context.Context, workerID, reason string) error {
	if err := s.st.UpdateWorkerStatus(ctx, workerID, model.WorkerFinished); err != nil {
		return err
	}
	if _, err := s.st.RecordEvent(ctx, &model.Event{EventType: model.EventWorkerStopped, WorkerID: workerID, Reason: reason}); err != nil {
		s.log.Error("toolsurface: record worker_stopped failed", zap.Error(err))
	}
	s.bus.Publish(model.Event{EventType: model.EventWorkerStopped, WorkerID: workerID, Reason: reason})

	tickets, err := s.st.ListTicketsClaimedBy(ctx, workerID)
	if err != nil {
		return fmt.Errorf("list tickets claimed by finished worker: %w", err)
	}
	for _, t := range tickets {
		if err := s.st.ForceRelease(ctx, t.TicketID); err != nil {
			s.log.Error("toolsurface: force release on finish failed", zap.Error(err))
		}
	}
	return nil
}

// SpawnWorkerForStage is an idempotent request to the Supervisor: if a live
// worker already exists for the (project, stage) queue, EnsureWorker is a no-op.
func (s *Surface) SpawnWorkerForStage(ctx context.Context, projectID, stageName string) error {
	return s.sup.EnsureWorker(ctx, projectID, stageName)
}

// ResumeTicketProcessingRequest is the input to ResumeTicketProcessing.
type ResumeTicketProcessingRequest struct {
	TicketID string            `json:"ticketId" validate:"required"`
	Stage    string            `json:"stage"`
	State    model.TicketState `json:"state"`
}

// ResumeTicketProcessing validates any explicit target stage, unconditionally
// resets the ticket's claim, and re-enqueues it when the new state is open.
// Idempotent: calling it again on an already-open, unclaimed ticket is a no-op
// beyond a redundant re-enqueue.
func (s *Surface) ResumeTicketProcessing(ctx context.Context, req ResumeTicketProcessingRequest) (*model.Ticket, error) {
	t, err := s.st.GetTicket(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}

	// A resume may retarget any stage backed by a worker type of the
	// project, or the planning sentinel — unlike a worker-driven stage
	// transition, it is not bound by the ticket's current plan.
	if req.Stage != "" && req.Stage != stage.Planning {
		ok, err := s.st.WorkerTypeExists(ctx, t.ProjectID, req.Stage)
		if err != nil {
			return nil, fmt.Errorf("check worker type: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("resume target %q has no worker type in project %q: %w", req.Stage, t.ProjectID, store.ErrValidation)
		}
	}

	if req.Stage != "" && req.Stage != t.CurrentStage {
		updated, err := s.st.UpdateTicketStage(ctx, req.TicketID, req.Stage)
		if err != nil {
			return nil, err
		}
		t = updated
	}

	if err := s.st.ForceRelease(ctx, req.TicketID); err != nil {
		return nil, err
	}

	newState := req.State
	if newState == "" {
		newState = model.TicketOpen
	}
	updated, err := s.st.UpdateTicketState(ctx, req.TicketID, newState)
	if err != nil {
		return nil, err
	}

	if newState == model.TicketOpen {
		s.q.Submit(queue.Name(updated.ProjectID, updated.CurrentStage), updated.TicketID)
	}

	return updated, nil
}

// ListPendingEvents returns the durable coordinator work list: every event
// row not yet marked processed, oldest first.
func (s *Surface) ListPendingEvents(ctx context.Context) ([]model.Event, error) {
	return s.st.ListUnprocessedEvents(ctx)
}

// ResolveEvent marks a durable event processed, recording the coordinator's
// resolution summary.
func (s *Surface) ResolveEvent(ctx context.Context, id int64, summary string) error {
	return s.st.ResolveEvent(ctx, id, summary)
}

func intPtr(i int) *int { return &i }
