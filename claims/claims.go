// Package claims wraps the Store's conditional claim updates, giving
// the rest of the core a narrow, intention-revealing API instead of calling
// the compare-and-set Store methods directly.
package claims

import (
	"context"
	"fmt"

	"github.com/stagehand-run/stagehand/metrics"
	"github.com/stagehand-run/stagehand/store"
)

// Manager claims and releases tickets against a Store.
type Manager struct {
	st  store.Store
	met *metrics.Registry
}

// New constructs a claims Manager over st. met may be nil, in which case
// claim/release attempts are not counted.
func New(st store.Store, met *metrics.Registry) *Manager {
	return &Manager{st: st, met: met}
}

// Claim attempts to claim ticketID for workerID. It returns ok=false,
// nil error when the ticket is already claimed by someone else — that is
// the expected contention outcome, not a failure.
func (m *Manager) Claim(ctx context.Context, ticketID, workerID string) (ok bool, err error) {
	ok, err = m.st.ClaimTicketIfFree(ctx, ticketID, workerID)
	if err != nil {
		return false, fmt.Errorf("claim ticket %q for worker %q: %w", ticketID, workerID, err)
	}
	if m.met != nil {
		if ok {
			m.met.ClaimAttempts.WithLabelValues("claimed").Inc()
		} else {
			m.met.ClaimAttempts.WithLabelValues("contended").Inc()
		}
	}
	return ok, nil
}

// Release releases ticketID only if workerID currently holds the claim.
func (m *Manager) Release(ctx context.Context, ticketID, workerID string) (ok bool, err error) {
	ok, err = m.st.ReleaseTicketIfHeldBy(ctx, ticketID, workerID)
	if err != nil {
		return false, fmt.Errorf("release ticket %q by worker %q: %w", ticketID, workerID, err)
	}
	return ok, nil
}

// ForceRelease clears a ticket's claim unconditionally, whichever worker
// holds it.
func (m *Manager) ForceRelease(ctx context.Context, ticketID string) error {
	if err := m.st.ForceRelease(ctx, ticketID); err != nil {
		return fmt.Errorf("force release ticket %q: %w", ticketID, err)
	}
	return nil
}
