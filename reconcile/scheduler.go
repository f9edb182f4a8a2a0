package reconcile

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/queue"
	"github.com/stagehand-run/stagehand/store"
	"github.com/stagehand-run/stagehand/supervisor"
)

// Scheduler periodically re-ensures a worker exists for every queue that
// still has open work, on a configurable cron expression. This is a
// steady-state keep-alive, distinct from the one-shot startup
// Reconciler.Run: a worker can legitimately finish and leave a queue
// briefly unattended between ticket submissions, and this loop is what
// notices and re-spawns.
type Scheduler struct {
	st  store.Store
	q   *queue.Manager
	sup *supervisor.Supervisor
	log *zap.Logger
	cr  *cron.Cron
}

// NewScheduler constructs a Scheduler.
func NewScheduler(st store.Store, q *queue.Manager, sup *supervisor.Supervisor, log *zap.Logger) *Scheduler {
	return &Scheduler{st: st, q: q, sup: sup, log: log, cr: cron.New()}
}

// Start schedules the sweep under spec and begins running it in the
// background. spec is a standard cron expression (robfig/cron/v3 syntax,
// including "@every 30s"-style descriptors). Call Stop to end it.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	_, err := s.cr.AddFunc(spec, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cr.Start()
	return nil
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cr.Stop().Done()
}

// sweep reads open work from the Store, not the in-memory queue: a queue
// entry is popped the moment a worker starts, so a queue can be empty while
// its ticket is still open because that worker died mid-run. Unclaimed open
// tickets are re-enqueued (deduplicated) and every queue with open work
// gets its worker re-ensured.
func (s *Scheduler) sweep(ctx context.Context) {
	projects, err := s.st.ListProjects(ctx)
	if err != nil {
		s.log.Error("reconcile: sweep list projects failed", zap.Error(err))
		return
	}

	needs := make(map[string][2]string) // queueName -> [projectID, workerType]
	for _, p := range projects {
		tickets, err := s.st.ListTickets(ctx, p.RepositoryName)
		if err != nil {
			s.log.Error("reconcile: sweep list tickets failed", zap.String("project_id", p.RepositoryName), zap.Error(err))
			continue
		}
		for _, t := range tickets {
			if t.State != model.TicketOpen {
				continue
			}
			qName := queue.Name(t.ProjectID, t.CurrentStage)
			if !t.HasClaim() {
				s.q.SubmitIfAbsent(qName, t.TicketID)
			}
			needs[qName] = [2]string{t.ProjectID, t.CurrentStage}
		}
	}

	for qName, pair := range needs {
		if err := s.sup.EnsureWorker(ctx, pair[0], pair[1]); err != nil {
			s.log.Error("reconcile: scheduled ensure_worker failed", zap.String("queue", qName), zap.Error(err))
		}
	}
}
