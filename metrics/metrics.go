// Package metrics exposes the Prometheus counters and gauges the server
// emits: ticket and stage throughput, claim contention, worker lifecycle,
// queue depth and event-bus lag.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the core components increment.
type Registry struct {
	TicketsCreated   prometheus.Counter
	StageTransitions *prometheus.CounterVec
	ClaimAttempts    *prometheus.CounterVec
	WorkersSpawned   prometheus.Counter
	WorkersFailed    *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	EventBusLag      prometheus.Counter
	DispatcherErrors *prometheus.CounterVec
}

// New constructs and registers a Registry against reg. Pass
// prometheus.NewRegistry() for tests, or prometheus.DefaultRegisterer in
// production.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		TicketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "tickets_created_total",
			Help:      "Total tickets created via the tool surface.",
		}),
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "stage_transitions_total",
			Help:      "Stage transitions applied by the outcome dispatcher, by outcome.",
		}, []string{"outcome"}),
		ClaimAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "claim_attempts_total",
			Help:      "Ticket claim attempts, by result (claimed, contended).",
		}, []string{"result"}),
		WorkersSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "workers_spawned_total",
			Help:      "Worker processes successfully started by the supervisor.",
		}),
		WorkersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "workers_failed_total",
			Help:      "Workers marked failed, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stagehand",
			Name:      "queue_depth",
			Help:      "Current number of pending tickets per queue.",
		}, []string{"queue"}),
		EventBusLag: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "eventbus_lag_total",
			Help:      "Total events dropped across all subscribers due to lag.",
		}),
		DispatcherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "dispatcher_errors_total",
			Help:      "Outcome dispatcher failures recorded as validation_error events, by step.",
		}, []string{"step"}),
	}

	reg.MustRegister(
		r.TicketsCreated,
		r.StageTransitions,
		r.ClaimAttempts,
		r.WorkersSpawned,
		r.WorkersFailed,
		r.QueueDepth,
		r.EventBusLag,
		r.DispatcherErrors,
	)
	return r
}
