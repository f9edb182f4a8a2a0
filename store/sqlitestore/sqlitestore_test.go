package sqlitestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store, repo string) {
	t.Helper()
	_, err := s.CreateProject(context.Background(), &model.Project{RepositoryName: repo, Path: "/tmp/" + repo})
	require.NoError(t, err)
}

func seedTicket(t *testing.T, s *Store, ticketID, projectID, initialStage string) {
	t.Helper()
	_, err := s.CreateTicket(context.Background(), store.CreateTicketRequest{
		TicketID:     ticketID,
		ProjectID:    projectID,
		Title:        "ticket " + ticketID,
		InitialStage: initialStage,
		Priority:     model.PriorityMedium,
	})
	require.NoError(t, err)
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.db")

	s1, err := Open(path)
	require.NoError(t, err)
	seedProject(t, s1, "proj-1")
	require.NoError(t, s1.Close())

	// Re-opening re-runs the migration check against an already-migrated
	// schema and must not fail or lose data.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	p, err := s2.GetProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/proj-1", p.Path)
}

func TestProjectLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedProject(t, s, "proj-1")

	_, err := s.CreateProject(ctx, &model.Project{RepositoryName: "proj-1", Path: "/elsewhere"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.GetProject(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)

	seedProject(t, s, "proj-2")
	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 2)

	require.NoError(t, s.DeleteProject(ctx, "proj-2"))
	assert.ErrorIs(t, s.DeleteProject(ctx, "proj-2"), store.ErrNotFound)
}

func TestDeleteProjectCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedProject(t, s, "proj-1")
	_, err := s.CreateWorkerType(ctx, &model.WorkerType{ProjectID: "proj-1", WorkerType: "dev", SystemPrompt: "write code"})
	require.NoError(t, err)
	seedTicket(t, s, "t1", "proj-1", "dev")
	_, err = s.UpsertWorker(ctx, &model.Worker{WorkerID: "w1", ProjectID: "proj-1", WorkerType: "dev", Status: model.WorkerActive, QueueName: "proj-1/dev"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, "proj-1"))

	_, err = s.GetTicket(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetWorker(ctx, "w1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	wts, err := s.ListWorkerTypes(ctx, "proj-1")
	require.NoError(t, err)
	assert.Empty(t, wts)
}

func TestWorkerTypeCatalog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj-1")

	wt, err := s.CreateWorkerType(ctx, &model.WorkerType{ProjectID: "proj-1", WorkerType: "qa", SystemPrompt: "verify the work"})
	require.NoError(t, err)
	assert.Equal(t, "verify the work", wt.SystemPrompt)

	_, err = s.CreateWorkerType(ctx, &model.WorkerType{ProjectID: "proj-1", WorkerType: "qa", SystemPrompt: "again"})
	assert.ErrorIs(t, err, store.ErrConflict)

	ok, err := s.WorkerTypeExists(ctx, "proj-1", "qa")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.WorkerTypeExists(ctx, "proj-1", "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.WorkerTypeExists(ctx, "proj-1", model.PlanningStage)
	require.NoError(t, err)
	assert.True(t, ok, "the planning sentinel needs no worker_types row")

	updated, err := s.UpdateWorkerType(ctx, &model.WorkerType{ProjectID: "proj-1", WorkerType: "qa", SystemPrompt: "verify harder"})
	require.NoError(t, err)
	assert.Equal(t, "verify harder", updated.SystemPrompt)

	require.NoError(t, s.DeleteWorkerType(ctx, "proj-1", "qa"))
	_, err = s.GetWorkerType(ctx, "proj-1", "qa")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateTicketWritesPlanAndOpeningComment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj-1")

	tk, err := s.CreateTicket(ctx, store.CreateTicketRequest{
		TicketID:     "t1",
		ProjectID:    "proj-1",
		Title:        "X",
		Description:  "d",
		InitialStage: model.PlanningStage,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TicketOpen, tk.State)
	assert.Equal(t, model.PlanningStage, tk.CurrentStage)
	assert.Equal(t, []string{model.PlanningStage}, tk.ExecutionPlan)
	assert.Equal(t, model.PriorityMedium, tk.Priority, "priority defaults to medium")
	assert.False(t, tk.HasClaim())
	assert.Nil(t, tk.ClosedAt)

	comments, err := s.ListComments(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, model.CoordinatorActor, comments[0].WorkerType)
	assert.Equal(t, model.CoordinatorActor, comments[0].WorkerID)
	require.NotNil(t, comments[0].StageNumber)
	assert.Equal(t, 0, *comments[0].StageNumber)
	assert.Equal(t, "d", comments[0].Content)
}

func TestCreateTicketDuplicateIDIsConflict(t *testing.T) {
	s := openTestStore(t)
	seedProject(t, s, "proj-1")
	seedTicket(t, s, "t1", "proj-1", model.PlanningStage)

	_, err := s.CreateTicket(context.Background(), store.CreateTicketRequest{
		TicketID:     "t1",
		ProjectID:    "proj-1",
		Title:        "again",
		InitialStage: model.PlanningStage,
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj-1")
	seedTicket(t, s, "t1", "proj-1", model.PlanningStage)

	const workers = 8
	results := make([]bool, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.ClaimTicketIfFree(ctx, "t1", fmt.Sprintf("w%d", i))
		}(i)
	}
	wg.Wait()

	won := 0
	for i, ok := range results {
		require.NoError(t, errs[i])
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent claimant wins")

	tk, err := s.GetTicket(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, tk.HasClaim())
}

func TestReleaseOnlyByHolder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj-1")
	seedTicket(t, s, "t1", "proj-1", model.PlanningStage)

	ok, err := s.ClaimTicketIfFree(ctx, "t1", "w1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ReleaseTicketIfHeldBy(ctx, "t1", "w2")
	require.NoError(t, err)
	assert.False(t, ok, "a non-holder must not release the claim")

	ok, err = s.ReleaseTicketIfHeldBy(ctx, "t1", "w1")
	require.NoError(t, err)
	assert.True(t, ok)

	tk, err := s.GetTicket(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, tk.HasClaim())
}

func TestForceReleaseClearsAnyHolder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj-1")
	seedTicket(t, s, "t1", "proj-1", model.PlanningStage)

	ok, err := s.ClaimTicketIfFree(ctx, "t1", "w1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ForceRelease(ctx, "t1"))

	// After the force-release, a different worker can claim.
	ok, err = s.ClaimTicketIfFree(ctx, "t1", "w2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTicketStateClosedSetsClosedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj-1")
	seedTicket(t, s, "t1", "proj-1", model.PlanningStage)

	closed, err := s.UpdateTicketState(ctx, "t1", model.TicketClosed)
	require.NoError(t, err)
	assert.Equal(t, model.TicketClosed, closed.State)
	require.NotNil(t, closed.ClosedAt)

	reopened, err := s.UpdateTicketState(ctx, "t1", model.TicketOpen)
	require.NoError(t, err)
	assert.Equal(t, model.TicketOpen, reopened.State)
	assert.Nil(t, reopened.ClosedAt, "reopening clears closed_at")
}

func TestUpdatePipelineAndStageRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj-1")
	seedTicket(t, s, "t1", "proj-1", model.PlanningStage)

	tk, err := s.UpdatePipeline(ctx, "t1", []string{model.PlanningStage, "dev", "qa"})
	require.NoError(t, err)
	assert.Equal(t, []string{model.PlanningStage, "dev", "qa"}, tk.ExecutionPlan)

	tk, err = s.UpdateTicketStage(ctx, "t1", "dev")
	require.NoError(t, err)
	assert.Equal(t, "dev", tk.CurrentStage)

	_, err = s.UpdateTicketStage(ctx, "ghost", "dev")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListTicketsClaimedBy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj-1")
	seedTicket(t, s, "t1", "proj-1", model.PlanningStage)
	seedTicket(t, s, "t2", "proj-1", model.PlanningStage)

	ok, err := s.ClaimTicketIfFree(ctx, "t2", "w1")
	require.NoError(t, err)
	require.True(t, ok)

	claimed, err := s.ListTicketsClaimedBy(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "t2", claimed[0].TicketID)
}

func TestWorkerRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj-1")

	w, err := s.UpsertWorker(ctx, &model.Worker{
		WorkerID:   "w1",
		ProjectID:  "proj-1",
		WorkerType: "dev",
		Status:     model.WorkerSpawning,
		QueueName:  "proj-1/dev",
	})
	require.NoError(t, err)
	assert.Equal(t, model.WorkerSpawning, w.Status)
	assert.Zero(t, w.PID)

	require.NoError(t, s.UpdateWorkerPID(ctx, "w1", 4242))
	require.NoError(t, s.UpdateWorkerStatus(ctx, "w1", model.WorkerActive))

	w, err = s.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 4242, w.PID)
	assert.Equal(t, model.WorkerActive, w.Status)

	// Upsert with the same id replaces in place, not a second row.
	_, err = s.UpsertWorker(ctx, &model.Worker{
		WorkerID:   "w1",
		ProjectID:  "proj-1",
		WorkerType: "dev",
		Status:     model.WorkerFailed,
		QueueName:  "proj-1/dev",
	})
	require.NoError(t, err)

	forQueue, err := s.ListWorkersForQueue(ctx, "proj-1", "dev")
	require.NoError(t, err)
	require.Len(t, forQueue, 1)
	assert.Equal(t, model.WorkerFailed, forQueue[0].Status)

	byStatus, err := s.ListWorkersByStatus(ctx, []model.WorkerStatus{model.WorkerSpawning, model.WorkerActive})
	require.NoError(t, err)
	assert.Empty(t, byStatus)

	byStatus, err = s.ListWorkersByStatus(ctx, []model.WorkerStatus{model.WorkerFailed})
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)
}

func TestEventLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.RecordEvent(ctx, &model.Event{EventType: model.EventStageCompleted, TicketID: "t1", Stage: "dev"})
	require.NoError(t, err)
	id2, err := s.RecordEvent(ctx, &model.Event{EventType: model.EventWorkerStopped, WorkerID: "w1", Reason: "process died unexpectedly"})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	pending, err := s.ListUnprocessedEvents(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, model.EventStageCompleted, pending[0].EventType)

	require.NoError(t, s.ResolveEvent(ctx, id1, "handled"))

	pending, err = s.ListUnprocessedEvents(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id2, pending[0].ID)

	assert.ErrorIs(t, s.ResolveEvent(ctx, 99999, "x"), store.ErrNotFound)
}

func TestConversationsAndTags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj-1")
	seedTicket(t, s, "t1", "proj-1", model.PlanningStage)

	conv := &model.TicketConversation{ID: "c1", TicketID: "t1", ThreadType: model.ThreadQASignoff}
	require.NoError(t, s.CreateConversation(ctx, conv))
	assert.Equal(t, model.ThreadOpen, conv.Status, "status defaults to open")

	require.NoError(t, s.AddConversationMessage(ctx, &model.ConversationMessage{
		ID:             "m1",
		ConversationID: "c1",
		Agent:          "qa",
		MessageType:    model.MessageSignoffReport,
		Content:        `{"status":"pass"}`,
	}))

	require.NoError(t, s.CreateTag(ctx, &model.Tag{ID: "tag1", ProjectID: "proj-1", Name: "backend"}))
	err := s.CreateTag(ctx, &model.Tag{ID: "tag2", ProjectID: "proj-1", Name: "backend"})
	assert.ErrorIs(t, err, store.ErrConflict, "tag names are unique per project")

	tags, err := s.ListTags(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, model.TagGeneric, tags[0].Type)
}
