// Package reconcile restores steady state after a restart: a one-shot sweep
// that probes every worker row left in spawning/active status, marks the
// dead ones failed, and spawns a fresh replacement only where the
// corresponding queue still has open work.
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/queue"
	"github.com/stagehand-run/stagehand/store"
	"github.com/stagehand-run/stagehand/supervisor"
)

// Reconciler runs the startup sweep.
type Reconciler struct {
	st  store.Store
	q   *queue.Manager
	sup *supervisor.Supervisor
	log *zap.Logger
}

// New constructs a Reconciler.
func New(st store.Store, q *queue.Manager, sup *supervisor.Supervisor, log *zap.Logger) *Reconciler {
	return &Reconciler{st: st, q: q, sup: sup, log: log}
}

// Run performs the one-shot startup sweep: list every worker with status in
// {spawning, active}, probe each, mark the dead ones failed and record
// worker_stopped, then spawn a fresh replacement only if the corresponding
// queue still has open work. It never touches finished/failed rows and
// never rewinds a ticket's stage.
func (r *Reconciler) Run(ctx context.Context) error {
	workers, err := r.st.ListWorkersByStatus(ctx, []model.WorkerStatus{model.WorkerSpawning, model.WorkerActive})
	if err != nil {
		return fmt.Errorf("list spawning/active workers: %w", err)
	}

	needsEnsure := make(map[string][2]string) // queueName -> [projectID, workerType]

	for _, w := range workers {
		if w.PID != 0 && supervisor.IsAlive(w.PID) {
			continue
		}

		if err := r.st.UpdateWorkerStatus(ctx, w.WorkerID, model.WorkerFailed); err != nil {
			r.log.Error("reconcile: mark failed worker failed", zap.String("worker_id", w.WorkerID), zap.Error(err))
			continue
		}
		if _, err := r.st.RecordEvent(ctx, &model.Event{
			EventType: model.EventWorkerStopped,
			WorkerID:  w.WorkerID,
			Reason:    "process died unexpectedly",
		}); err != nil {
			r.log.Error("reconcile: record worker_stopped failed", zap.Error(err))
		}

		tickets, err := r.st.ListTicketsClaimedBy(ctx, w.WorkerID)
		if err != nil {
			r.log.Error("reconcile: list claimed tickets failed", zap.Error(err))
		}
		for _, t := range tickets {
			if err := r.st.ForceRelease(ctx, t.TicketID); err != nil {
				r.log.Error("reconcile: force release failed", zap.Error(err))
			}
		}

		qName := queue.Name(w.ProjectID, w.WorkerType)
		needsEnsure[qName] = [2]string{w.ProjectID, w.WorkerType}

		r.log.Warn("reconcile: worker found dead at startup", zap.String("worker_id", w.WorkerID), zap.String("queue", qName))
	}

	// The in-memory queues start empty on every boot; the Store's open
	// ticket rows are the durable source of truth, so re-seed from them
	// before deciding which queues still need a worker. This runs after
	// the dead sweep so tickets force-released above are re-enqueued.
	open, err := r.seedQueues(ctx)
	if err != nil {
		return err
	}

	for qName, pair := range needsEnsure {
		if open[qName] == 0 {
			continue
		}
		if err := r.sup.EnsureWorker(ctx, pair[0], pair[1]); err != nil {
			r.log.Error("reconcile: ensure replacement worker failed", zap.String("queue", qName), zap.Error(err))
		}
	}

	return nil
}

// seedQueues re-populates the in-memory queues from the Store's open
// tickets, oldest first, and returns the number of open tickets per queue.
// Tickets still claimed by a worker are counted but not re-enqueued — their
// holder is either alive and processing them, or the next liveness sweep
// will release them for the sweep after to pick up.
func (r *Reconciler) seedQueues(ctx context.Context) (map[string]int, error) {
	projects, err := r.st.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	open := make(map[string]int)
	for _, p := range projects {
		tickets, err := r.st.ListTickets(ctx, p.RepositoryName)
		if err != nil {
			return nil, fmt.Errorf("list tickets for %q: %w", p.RepositoryName, err)
		}
		sort.Slice(tickets, func(i, j int) bool { return tickets[i].CreatedAt.Before(tickets[j].CreatedAt) })
		for _, t := range tickets {
			if t.State != model.TicketOpen {
				continue
			}
			qName := queue.Name(t.ProjectID, t.CurrentStage)
			open[qName]++
			if t.HasClaim() {
				continue
			}
			r.q.SubmitIfAbsent(qName, t.TicketID)
		}
	}
	return open, nil
}
