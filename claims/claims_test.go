package claims

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-run/stagehand/metrics"
	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
	"github.com/stagehand-run/stagehand/store/storetest"
)

func newTicket(t *testing.T, st *storetest.Store, ticketID string) {
	t.Helper()
	_, err := st.CreateProject(context.Background(), &model.Project{RepositoryName: "proj-1"})
	require.NoError(t, err)
	_, err = st.CreateTicket(context.Background(), store.CreateTicketRequest{
		TicketID:     ticketID,
		ProjectID:    "proj-1",
		Title:        "fix the thing",
		InitialStage: model.PlanningStage,
		Priority:     model.PriorityMedium,
	})
	require.NoError(t, err)
}

func TestClaimSucceedsWhenFree(t *testing.T) {
	st := storetest.New()
	newTicket(t, st, "t1")
	met := metrics.New(prometheus.NewRegistry())
	m := New(st, met)

	ok, err := m.Claim(context.Background(), "t1", "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	tk, err := st.GetTicket(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", tk.ProcessingWorkerID)
}

func TestClaimFailsWhenAlreadyHeld(t *testing.T) {
	st := storetest.New()
	newTicket(t, st, "t1")
	m := New(st, nil)

	ok, err := m.Claim(context.Background(), "t1", "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Claim(context.Background(), "t1", "worker-b")
	require.NoError(t, err, "contention is not an error")
	assert.False(t, ok)

	tk, err := st.GetTicket(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", tk.ProcessingWorkerID, "the first claimant keeps the ticket")
}

func TestClaimOnMissingTicketReturnsError(t *testing.T) {
	st := storetest.New()
	m := New(st, nil)

	_, err := m.Claim(context.Background(), "ghost", "worker-a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReleaseByHolderSucceeds(t *testing.T) {
	st := storetest.New()
	newTicket(t, st, "t1")
	m := New(st, nil)

	_, err := m.Claim(context.Background(), "t1", "worker-a")
	require.NoError(t, err)

	ok, err := m.Release(context.Background(), "t1", "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	tk, err := st.GetTicket(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, tk.HasClaim())
}

func TestReleaseByNonHolderIsNoop(t *testing.T) {
	st := storetest.New()
	newTicket(t, st, "t1")
	m := New(st, nil)

	_, err := m.Claim(context.Background(), "t1", "worker-a")
	require.NoError(t, err)

	ok, err := m.Release(context.Background(), "t1", "worker-b")
	require.NoError(t, err)
	assert.False(t, ok, "a non-holder cannot release another worker's claim")

	tk, err := st.GetTicket(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", tk.ProcessingWorkerID)
}

func TestForceReleaseClearsClaimRegardlessOfHolder(t *testing.T) {
	st := storetest.New()
	newTicket(t, st, "t1")
	m := New(st, nil)

	_, err := m.Claim(context.Background(), "t1", "worker-a")
	require.NoError(t, err)

	require.NoError(t, m.ForceRelease(context.Background(), "t1"))

	tk, err := st.GetTicket(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, tk.HasClaim())
}

func TestClaimMetricsRecordOutcome(t *testing.T) {
	st := storetest.New()
	newTicket(t, st, "t1")
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	m := New(st, met)

	_, err := m.Claim(context.Background(), "t1", "worker-a")
	require.NoError(t, err)
	_, err = m.Claim(context.Background(), "t1", "worker-b")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(met.ClaimAttempts.WithLabelValues("claimed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(met.ClaimAttempts.WithLabelValues("contended")))
}
