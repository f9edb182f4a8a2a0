// Package dispatcher is the single-consumer actor that serialises every
// post-worker mutation, so subscribers observe a fixed order — comment
// append, optional pipeline change, stage change, durable event, queue
// submission — for any one worker outcome.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagehand-run/stagehand/eventbus"
	"github.com/stagehand-run/stagehand/metrics"
	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/queue"
	"github.com/stagehand-run/stagehand/stage"
	"github.com/stagehand-run/stagehand/store"
	"github.com/stagehand-run/stagehand/wireformat"
)

// WorkerCompletionEvent is one worker run's result, handed to the Dispatcher
// once the Output Parser has produced a WorkerCommand (or its fallback).
// Signoff carries the worker's optional structured review report; it is
// enrichment only and never affects which dispatch branch runs.
type WorkerCompletionEvent struct {
	TicketID   string
	WorkerID   string
	WorkerType string
	StageAtRun int
	Command    wireformat.WorkerCommand
	ParsedOK   bool
	Signoff    *model.SignoffReport
}

// Dispatcher drains a channel of WorkerCompletionEvent values one at a time.
type Dispatcher struct {
	st   store.Store
	bus  *eventbus.Bus
	q    *queue.Manager
	met  *metrics.Registry
	log  *zap.Logger
	in   chan WorkerCompletionEvent
	done chan struct{}
}

// New constructs a Dispatcher. Run must be called to start its consume loop.
// met may be nil, in which case dispatch outcomes are not counted.
func New(st store.Store, bus *eventbus.Bus, q *queue.Manager, met *metrics.Registry, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		st:   st,
		bus:  bus,
		q:    q,
		met:  met,
		log:  log,
		in:   make(chan WorkerCompletionEvent, 256),
		done: make(chan struct{}),
	}
}

// Submit enqueues a completion for processing. Never blocks the caller
// beyond the channel's buffer capacity.
func (d *Dispatcher) Submit(e WorkerCompletionEvent) {
	d.in <- e
}

// Run drains completions until ctx is cancelled. Intended to run in its own
// goroutine for the lifetime of the process.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.in:
			d.process(ctx, e)
		}
	}
}

// Wait blocks until Run has returned, for graceful shutdown sequencing.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) process(ctx context.Context, e WorkerCompletionEvent) {
	log := d.log.With(zap.String("ticket_id", e.TicketID), zap.String("worker_id", e.WorkerID))

	ticket, err := d.st.GetTicket(ctx, e.TicketID)
	if err != nil {
		log.Error("dispatcher: load ticket failed", zap.Error(err))
		d.recordFailure(ctx, e, fmt.Sprintf("load ticket failed: %v", err))
		return
	}

	cmd := e.Command
	if !e.ParsedOK {
		log.Warn("dispatcher: no valid worker command, escalating")
	}

	// The worker's comment is appended before any other mutation, so
	// subscribers always observe comment -> pipeline -> stage for one
	// outcome, and the comment survives even if a later step is rejected —
	// comments are append-only and never rolled back.
	if cmd.Comment != "" {
		if _, err := d.st.AppendComment(ctx, &model.Comment{
			TicketID:    ticket.TicketID,
			WorkerType:  e.WorkerType,
			WorkerID:    e.WorkerID,
			StageNumber: intPtr(e.StageAtRun),
			Content:     cmd.Comment,
		}); err != nil {
			log.Error("dispatcher: append comment failed", zap.Error(err))
		}
	}

	if e.Signoff != nil {
		d.persistSignoff(ctx, log, ticket, e)
	}

	switch cmd.Outcome {
	case wireformat.OutcomeNextStage, wireformat.OutcomePrevStage:
		d.applyStageTransition(ctx, log, ticket, e, cmd)
	case wireformat.OutcomeCoordinatorAttention:
		d.applyCoordinatorAttention(ctx, log, ticket, e, cmd)
	default:
		d.applyCoordinatorAttention(ctx, log, ticket, e, wireformat.WorkerCommand{
			Outcome: wireformat.OutcomeCoordinatorAttention,
			Reason:  wireformat.NoCommandReason,
		})
	}
}

// persistSignoff records a worker's optional structured review report as a
// conversation thread plus one signoff message. Failures are logged, never
// fatal: the report is a side channel, not part of the dispatch outcome.
func (d *Dispatcher) persistSignoff(ctx context.Context, log *zap.Logger, ticket *model.Ticket, e WorkerCompletionEvent) {
	convID := uuid.NewString()
	if err := d.st.CreateConversation(ctx, &model.TicketConversation{
		ID:         convID,
		TicketID:   ticket.TicketID,
		ThreadType: signoffThreadType(e.WorkerType),
		Title:      fmt.Sprintf("%s signoff for %s", e.WorkerType, ticket.TicketID),
	}); err != nil {
		log.Error("dispatcher: create signoff conversation failed", zap.Error(err))
		return
	}

	body, err := json.Marshal(e.Signoff)
	if err != nil {
		log.Error("dispatcher: encode signoff report failed", zap.Error(err))
		return
	}
	if err := d.st.AddConversationMessage(ctx, &model.ConversationMessage{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Agent:          e.WorkerType,
		MessageType:    model.MessageSignoffReport,
		Content:        string(body),
	}); err != nil {
		log.Error("dispatcher: record signoff message failed", zap.Error(err))
	}
}

// signoffThreadType maps the reporting worker's type onto the conversation
// taxonomy, falling back to the generic signoff thread for custom stages.
func signoffThreadType(workerType string) model.ThreadType {
	switch workerType {
	case "dev":
		return model.ThreadDevSignoff
	case "qa":
		return model.ThreadQASignoff
	default:
		return model.ThreadGenericSignoff
	}
}

func (d *Dispatcher) applyStageTransition(ctx context.Context, log *zap.Logger, ticket *model.Ticket, e WorkerCompletionEvent, cmd wireformat.WorkerCommand) {
	// (a) optional pipeline update, applied before validating the target so a
	// newly introduced stage can itself be the target.
	if len(cmd.PipelineUpdate) > 0 {
		if err := d.validatePipeline(ctx, ticket.ProjectID, cmd.PipelineUpdate); err != nil {
			log.Warn("dispatcher: pipeline update rejected", zap.Error(err))
			d.recordFailure(ctx, e, fmt.Sprintf("pipeline update rejected: %v", err))
			return
		}
		updated, err := d.st.UpdatePipeline(ctx, ticket.TicketID, cmd.PipelineUpdate)
		if err != nil {
			log.Error("dispatcher: update pipeline failed", zap.Error(err))
			d.recordFailure(ctx, e, fmt.Sprintf("update pipeline failed: %v", err))
			return
		}
		ticket = updated
	}

	target := ""
	if cmd.TargetStage != nil {
		target = *cmd.TargetStage
	}

	// (b) stage-transition legality.
	if !stage.ValidateTargetStage(ticket, target) {
		log.Warn("dispatcher: illegal stage transition", zap.String("target", target), zap.String("current", ticket.CurrentStage))
		d.recordFailure(ctx, e, fmt.Sprintf("illegal transition from %q to %q", ticket.CurrentStage, target))
		return
	}

	// (c) force_release before the stage write, so the next stage's worker
	// can claim immediately once the new queue submission lands.
	if err := d.st.ForceRelease(ctx, ticket.TicketID); err != nil {
		log.Error("dispatcher: force release failed", zap.Error(err))
	}

	// (d) stage write.
	updated, err := d.st.UpdateTicketStage(ctx, ticket.TicketID, target)
	if err != nil {
		log.Error("dispatcher: update ticket stage failed", zap.Error(err))
		d.recordFailure(ctx, e, fmt.Sprintf("update ticket stage failed: %v", err))
		return
	}

	// (e) durable event.
	if _, err := d.st.RecordEvent(ctx, &model.Event{
		EventType: model.EventStageCompleted,
		TicketID:  ticket.TicketID,
		WorkerID:  e.WorkerID,
		Stage:     target,
	}); err != nil {
		log.Error("dispatcher: record stage_completed failed", zap.Error(err))
	}

	// (f) publish.
	d.bus.Publish(model.Event{
		EventType: model.EventStageCompleted,
		TicketID:  ticket.TicketID,
		WorkerID:  e.WorkerID,
		Stage:     target,
	})

	// (g) submit to the new stage's queue.
	qName := queue.Name(updated.ProjectID, target)
	d.q.Submit(qName, updated.TicketID)

	if d.met != nil {
		d.met.StageTransitions.WithLabelValues(string(cmd.Outcome)).Inc()
	}
	log.Info("dispatcher: stage transition applied", zap.String("target", target))
}

func (d *Dispatcher) applyCoordinatorAttention(ctx context.Context, log *zap.Logger, ticket *model.Ticket, e WorkerCompletionEvent, cmd wireformat.WorkerCommand) {
	if _, err := d.st.UpdateTicketState(ctx, ticket.TicketID, model.TicketOnHold); err != nil {
		log.Error("dispatcher: set on_hold failed", zap.Error(err))
	}

	if _, err := d.st.AppendComment(ctx, &model.Comment{
		TicketID:    ticket.TicketID,
		WorkerType:  e.WorkerType,
		WorkerID:    e.WorkerID,
		StageNumber: intPtr(model.CloseOrHoldStageNumber),
		Content:     wireformat.EscalationPrefix + cmd.Reason,
	}); err != nil {
		log.Error("dispatcher: append escalation comment failed", zap.Error(err))
	}

	if _, err := d.st.RecordEvent(ctx, &model.Event{
		EventType: model.EventStageCompleted,
		TicketID:  ticket.TicketID,
		WorkerID:  e.WorkerID,
		Stage:     string(wireformat.OutcomeCoordinatorAttention),
		Reason:    cmd.Reason,
	}); err != nil {
		log.Error("dispatcher: record attention event failed", zap.Error(err))
	}

	d.bus.Publish(model.Event{
		EventType: model.EventStageCompleted,
		TicketID:  ticket.TicketID,
		WorkerID:  e.WorkerID,
		Stage:     string(wireformat.OutcomeCoordinatorAttention),
		Reason:    cmd.Reason,
	})

	if d.met != nil {
		d.met.StageTransitions.WithLabelValues(string(wireformat.OutcomeCoordinatorAttention)).Inc()
	}
	log.Info("dispatcher: coordinator attention raised", zap.String("reason", cmd.Reason))
}

func (d *Dispatcher) recordFailure(ctx context.Context, e WorkerCompletionEvent, reason string) {
	if _, err := d.st.RecordEvent(ctx, &model.Event{
		EventType: model.EventValidationError,
		TicketID:  e.TicketID,
		WorkerID:  e.WorkerID,
		Reason:    reason,
	}); err != nil {
		d.log.Error("dispatcher: record failure event failed", zap.Error(err))
	}
	if d.met != nil {
		d.met.DispatcherErrors.WithLabelValues("outcome").Inc()
	}
}

func (d *Dispatcher) validatePipeline(ctx context.Context, projectID string, stages []string) error {
	for _, s := range stages {
		if s == stage.Planning {
			continue
		}
		ok, err := d.st.WorkerTypeExists(ctx, projectID, s)
		if err != nil {
			return fmt.Errorf("check worker type %q: %w", s, err)
		}
		if !ok {
			return fmt.Errorf("stage %q has no worker type in project %q", s, projectID)
		}
	}
	return nil
}

func intPtr(i int) *int { return &i }
