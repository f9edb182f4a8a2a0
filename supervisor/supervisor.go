// Package supervisor owns the worker lifecycle: at most one live worker
// process exists per (project, worker_type) queue, enforced by probing
// existing worker rows before ever spawning a new process. Liveness probing
// lives here (see liveness.go) and nowhere else.
//
// Spawn attempts are wrapped in a per-queue circuit breaker so a worker
// type whose process keeps failing to start stops being retried on every
// cycle and instead trips open for a cooldown window.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/stagehand-run/stagehand/agentproc"
	"github.com/stagehand-run/stagehand/dispatcher"
	"github.com/stagehand-run/stagehand/eventbus"
	"github.com/stagehand-run/stagehand/internal/display"
	"github.com/stagehand-run/stagehand/metrics"
	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/queue"
	"github.com/stagehand-run/stagehand/store"
	"github.com/stagehand-run/stagehand/wireformat"
)

// WorkerTypeResolver supplies the project-relative config the Supervisor
// needs to spawn a worker of a given type: its system prompt, the project's
// working directory, and the host agent binary to invoke.
type WorkerTypeResolver interface {
	SystemPrompt(ctx context.Context, projectID, workerType string) (string, error)
	ProjectWorkDir(ctx context.Context, projectID string) (string, error)
	AgentBinary() string
	ConfigDir() string
}

// Supervisor owns worker lifecycle for every queue.
type Supervisor struct {
	st       store.Store
	q        *queue.Manager
	bus      *eventbus.Bus
	disp     *dispatcher.Dispatcher
	spawner  agentproc.Launcher
	resolver WorkerTypeResolver
	met      *metrics.Registry
	log      *zap.Logger
	timeout  time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// New constructs a Supervisor. met may be nil, in which case spawn/failure
// counts are not published. timeout bounds a single worker turn; it is
// applied to a context detached from the caller's request context, so a
// spawned worker outlives the HTTP/SSE request that triggered ensure_worker.
func New(st store.Store, q *queue.Manager, bus *eventbus.Bus, disp *dispatcher.Dispatcher, spawner agentproc.Launcher, resolver WorkerTypeResolver, met *metrics.Registry, timeout time.Duration, log *zap.Logger) *Supervisor {
	return &Supervisor{
		st:       st,
		q:        q,
		bus:      bus,
		disp:     disp,
		spawner:  spawner,
		resolver: resolver,
		met:      met,
		log:      log,
		timeout:  timeout,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (s *Supervisor) breakerFor(queueName string) *gobreaker.CircuitBreaker[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[queueName]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        queueName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.log.Warn("supervisor: spawn circuit breaker state change", zap.String("queue", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	s.breakers[queueName] = cb
	return cb
}

// EnsureWorker lists the queue's workers, probes each for liveness, and
// only spawns a fresh process if none are alive. A brief duplicate spawn
// during a race is tolerable; re-probing immediately before spawning
// narrows that window.
func (s *Supervisor) EnsureWorker(ctx context.Context, projectID, workerType string) error {
	qName := queue.Name(projectID, workerType)

	workers, err := s.st.ListWorkersForQueue(ctx, projectID, workerType)
	if err != nil {
		return fmt.Errorf("list workers for queue %q: %w", qName, err)
	}

	for _, w := range workers {
		if !model.LiveStatuses[w.Status] {
			continue
		}
		if w.PID == 0 {
			// Still in the spawning window with no pid yet — another
			// ensure call is mid-spawn; don't race it.
			return nil
		}
		if IsAlive(w.PID) {
			return nil
		}
		s.markDead(ctx, &w, "process died unexpectedly")
	}

	cb := s.breakerFor(qName)
	_, err = cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.spawn(ctx, projectID, workerType, qName)
	})
	return err
}

func (s *Supervisor) spawn(ctx context.Context, projectID, workerType, qName string) error {
	workerID := uuid.NewString()

	worker, err := s.st.UpsertWorker(ctx, &model.Worker{
		WorkerID:   workerID,
		ProjectID:  projectID,
		WorkerType: workerType,
		Status:     model.WorkerSpawning,
		QueueName:  qName,
	})
	if err != nil {
		return fmt.Errorf("create spawning worker row: %w", err)
	}

	prompt, err := s.resolver.SystemPrompt(ctx, projectID, workerType)
	if err != nil {
		s.st.UpdateWorkerStatus(ctx, workerID, model.WorkerFailed)
		return fmt.Errorf("resolve system prompt: %w", err)
	}
	workDir, err := s.resolver.ProjectWorkDir(ctx, projectID)
	if err != nil {
		s.st.UpdateWorkerStatus(ctx, workerID, model.WorkerFailed)
		return fmt.Errorf("resolve project work dir: %w", err)
	}

	ticketID, hasWork := s.q.Pop(qName)

	req := agentproc.SpawnRequest{
		WorkerID:     workerID,
		TicketID:     ticketID,
		WorkDir:      workDir,
		AgentBinary:  s.resolver.AgentBinary(),
		SystemPrompt: prompt,
		ConfigDir:    s.resolver.ConfigDir(),
	}

	// The worker's lifetime is bounded by s.timeout, not by the caller's
	// request context: ensure_worker is often invoked from a short-lived
	// HTTP handler or reconcile tick, and the worker must outlive that call.
	workerCtx, workerCancel := context.WithTimeout(context.Background(), s.timeout)

	err = s.spawner.Spawn(workerCtx, req,
		func(pid int) {
			if err := s.st.UpdateWorkerPID(workerCtx, workerID, pid); err != nil {
				s.log.Error("supervisor: record pid failed", zap.Error(err))
			}
			if err := s.st.UpdateWorkerStatus(workerCtx, workerID, model.WorkerActive); err != nil {
				s.log.Error("supervisor: activate worker failed", zap.Error(err))
			}
			s.bus.Publish(model.Event{EventType: model.EventWorkerSpawned, WorkerID: workerID})
			if _, err := s.st.RecordEvent(workerCtx, &model.Event{EventType: model.EventWorkerSpawned, WorkerID: workerID, Stage: workerType}); err != nil {
				s.log.Error("supervisor: record worker_spawned failed", zap.Error(err))
			}
			s.log.Info("supervisor: worker live",
				zap.String("worker_id", workerID),
				zap.String("worker_type", display.Label(workerType)),
				zap.Int("pid", pid),
			)
			if s.met != nil {
				s.met.WorkersSpawned.Inc()
			}
		},
		func(res agentproc.Result) {
			defer workerCancel()
			// Finalization must still land even if the worker ran right up
			// to its timeout and workerCtx is already expired.
			s.onWorkerDone(context.Background(), worker, ticketID, res)
		},
	)
	if err != nil {
		workerCancel()
		s.st.UpdateWorkerStatus(ctx, workerID, model.WorkerFailed)
		if !hasWork {
			return err
		}
		// Re-queue the ticket we popped but never handed to a process.
		s.q.Submit(qName, ticketID)
		return err
	}

	return nil
}

func (s *Supervisor) onWorkerDone(ctx context.Context, worker *model.Worker, ticketID string, res agentproc.Result) {
	status := model.WorkerFinished
	if res.ExitCode != 0 || res.Err != nil {
		status = model.WorkerFailed
	}
	if err := s.st.UpdateWorkerStatus(ctx, worker.WorkerID, status); err != nil {
		s.log.Error("supervisor: finalize worker status failed", zap.Error(err))
	}

	if ticketID == "" {
		return
	}

	cmd, ok := wireformat.Parse(res.Stdout)
	signoff, _ := wireformat.ParseSignoff(res.Stdout)
	s.disp.Submit(dispatcher.WorkerCompletionEvent{
		TicketID:   ticketID,
		WorkerID:   worker.WorkerID,
		WorkerType: worker.WorkerType,
		StageAtRun: 0,
		Command:    cmd,
		ParsedOK:   ok,
		Signoff:    signoff,
	})
}

func (s *Supervisor) markDead(ctx context.Context, w *model.Worker, reason string) {
	if err := s.st.UpdateWorkerStatus(ctx, w.WorkerID, model.WorkerFailed); err != nil {
		s.log.Error("supervisor: mark dead failed", zap.Error(err))
	}
	if _, err := s.st.RecordEvent(ctx, &model.Event{EventType: model.EventWorkerStopped, WorkerID: w.WorkerID, Reason: reason}); err != nil {
		s.log.Error("supervisor: record worker_stopped failed", zap.Error(err))
	}
	s.bus.Publish(model.Event{EventType: model.EventWorkerStopped, WorkerID: w.WorkerID, Reason: reason})
	if s.met != nil {
		s.met.WorkersFailed.WithLabelValues(reason).Inc()
	}

	tickets, err := s.st.ListTicketsClaimedBy(ctx, w.WorkerID)
	if err != nil {
		s.log.Error("supervisor: find claimed tickets failed", zap.Error(err))
		return
	}
	for _, t := range tickets {
		if err := s.st.ForceRelease(ctx, t.TicketID); err != nil {
			s.log.Error("supervisor: force release on dead worker failed", zap.Error(err))
		}
	}
}
