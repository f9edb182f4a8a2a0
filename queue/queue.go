// Package queue implements the in-memory per-(project, worker_type) FIFO
// ticket queue. Queues are intentionally volatile: on restart the
// reconciler rebuilds queue state from the Store's ticket rows, which is
// the durable source of truth.
package queue

import (
	"fmt"
	"strings"
	"sync"

	"github.com/stagehand-run/stagehand/metrics"
)

// Manager owns one FIFO per queue name ("<projectID>/<workerType>").
type Manager struct {
	mu     sync.Mutex
	queues map[string]*fifo
	met    *metrics.Registry
}

type fifo struct {
	mu    sync.Mutex
	items []string
}

// New constructs an empty Manager. met may be nil, in which case queue
// depth is not published as a gauge.
func New(met *metrics.Registry) *Manager {
	return &Manager{queues: make(map[string]*fifo), met: met}
}

// Name returns the canonical queue name for a (project, worker type) pair.
func Name(projectID, workerType string) string {
	return fmt.Sprintf("%s/%s", projectID, workerType)
}

// Split reverses Name, splitting on the last '/' so a project id containing
// slashes (unlikely, but not explicitly disallowed by the data model) does
// not corrupt the worker type half.
func Split(queueName string) (projectID, workerType string, ok bool) {
	i := strings.LastIndex(queueName, "/")
	if i < 0 {
		return "", "", false
	}
	return queueName[:i], queueName[i+1:], true
}

// Ensure creates the named queue if it does not already exist. Idempotent.
func (m *Manager) Ensure(queueName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[queueName]; !ok {
		m.queues[queueName] = &fifo{}
	}
}

// Submit appends a ticket id to the named queue's tail, creating the queue
// if necessary.
func (m *Manager) Submit(queueName, ticketID string) {
	m.Ensure(queueName)
	m.mu.Lock()
	q := m.queues[queueName]
	m.mu.Unlock()

	q.mu.Lock()
	q.items = append(q.items, ticketID)
	depth := len(q.items)
	q.mu.Unlock()

	if m.met != nil {
		m.met.QueueDepth.WithLabelValues(queueName).Set(float64(depth))
	}
}

// SubmitIfAbsent appends a ticket id only if it is not already queued, so
// the reconciler's boot-time seeding and the periodic sweep cannot
// duplicate an entry. Reports whether the ticket was appended.
func (m *Manager) SubmitIfAbsent(queueName, ticketID string) bool {
	m.Ensure(queueName)
	m.mu.Lock()
	q := m.queues[queueName]
	m.mu.Unlock()

	q.mu.Lock()
	for _, id := range q.items {
		if id == ticketID {
			q.mu.Unlock()
			return false
		}
	}
	q.items = append(q.items, ticketID)
	depth := len(q.items)
	q.mu.Unlock()

	if m.met != nil {
		m.met.QueueDepth.WithLabelValues(queueName).Set(float64(depth))
	}
	return true
}

// Pop removes and returns the ticket id at the named queue's head. The
// second return is false if the queue is empty or unknown.
func (m *Manager) Pop(queueName string) (string, bool) {
	m.mu.Lock()
	q, ok := m.queues[queueName]
	m.mu.Unlock()
	if !ok {
		return "", false
	}

	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return "", false
	}
	ticketID := q.items[0]
	q.items = q.items[1:]
	depth := len(q.items)
	q.mu.Unlock()

	if m.met != nil {
		m.met.QueueDepth.WithLabelValues(queueName).Set(float64(depth))
	}
	return ticketID, true
}

// Depth reports the number of tickets currently queued under queueName.
func (m *Manager) Depth(queueName string) int {
	m.mu.Lock()
	q, ok := m.queues[queueName]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Names returns every queue name currently known to the manager.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.queues))
	for name := range m.queues {
		out = append(out, name)
	}
	return out
}
