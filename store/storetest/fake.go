// Package storetest provides an in-memory store.Store implementation shared
// by tests across packages, instead of a mock generated or duplicated per
// package under test.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stagehand-run/stagehand/model"
	"github.com/stagehand-run/stagehand/store"
)

// Store is a mutex-guarded in-memory store.Store, sufficient for exercising
// claim/release semantics, stage transitions and event recording without a
// real SQLite connection.
type Store struct {
	mu sync.Mutex

	projects    map[string]*model.Project
	workerTypes map[string]*model.WorkerType // key: projectID + "/" + workerType
	tickets     map[string]*model.Ticket
	comments    map[string][]model.Comment
	workers     map[string]*model.Worker
	events      []model.Event
	convos      map[string]*model.TicketConversation
	convoMsgs   map[string][]model.ConversationMessage
	tags        map[string][]model.Tag

	nextCommentID int64
	nextEventID   int64
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		projects:    make(map[string]*model.Project),
		workerTypes: make(map[string]*model.WorkerType),
		tickets:     make(map[string]*model.Ticket),
		comments:    make(map[string][]model.Comment),
		workers:     make(map[string]*model.Worker),
		convos:      make(map[string]*model.TicketConversation),
		convoMsgs:   make(map[string][]model.ConversationMessage),
		tags:        make(map[string][]model.Tag),
	}
}

var _ store.Store = (*Store)(nil)

func wtKey(projectID, workerType string) string { return projectID + "/" + workerType }

func (s *Store) CreateProject(ctx context.Context, p *model.Project) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.RepositoryName]; exists {
		return nil, fmt.Errorf("project %q: %w", p.RepositoryName, store.ErrConflict)
	}
	now := time.Now()
	cp := *p
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.projects[p.RepositoryName] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetProject(ctx context.Context, repositoryName string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[repositoryName]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", repositoryName, store.ErrNotFound)
	}
	out := *p
	return &out, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (s *Store) DeleteProject(ctx context.Context, repositoryName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[repositoryName]; !ok {
		return fmt.Errorf("project %q: %w", repositoryName, store.ErrNotFound)
	}
	delete(s.projects, repositoryName)
	return nil
}

func (s *Store) CreateWorkerType(ctx context.Context, wt *model.WorkerType) (*model.WorkerType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := wtKey(wt.ProjectID, wt.WorkerType)
	if _, exists := s.workerTypes[key]; exists {
		return nil, fmt.Errorf("worker type %q/%q: %w", wt.ProjectID, wt.WorkerType, store.ErrConflict)
	}
	now := time.Now()
	cp := *wt
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.workerTypes[key] = &cp
	out := cp
	return &out, nil
}

func (s *Store) UpdateWorkerType(ctx context.Context, wt *model.WorkerType) (*model.WorkerType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := wtKey(wt.ProjectID, wt.WorkerType)
	existing, ok := s.workerTypes[key]
	if !ok {
		return nil, fmt.Errorf("worker type %q/%q: %w", wt.ProjectID, wt.WorkerType, store.ErrNotFound)
	}
	existing.ShortDescription = wt.ShortDescription
	existing.SystemPrompt = wt.SystemPrompt
	existing.UpdatedAt = time.Now()
	out := *existing
	return &out, nil
}

func (s *Store) DeleteWorkerType(ctx context.Context, projectID, workerType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := wtKey(projectID, workerType)
	if _, ok := s.workerTypes[key]; !ok {
		return fmt.Errorf("worker type %q/%q: %w", projectID, workerType, store.ErrNotFound)
	}
	delete(s.workerTypes, key)
	return nil
}

func (s *Store) ListWorkerTypes(ctx context.Context, projectID string) ([]model.WorkerType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WorkerType
	for _, wt := range s.workerTypes {
		if wt.ProjectID == projectID {
			out = append(out, *wt)
		}
	}
	return out, nil
}

func (s *Store) WorkerTypeExists(ctx context.Context, projectID, workerType string) (bool, error) {
	if workerType == model.PlanningStage {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workerTypes[wtKey(projectID, workerType)]
	return ok, nil
}

func (s *Store) GetWorkerType(ctx context.Context, projectID, workerType string) (*model.WorkerType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wt, ok := s.workerTypes[wtKey(projectID, workerType)]
	if !ok {
		return nil, fmt.Errorf("worker type %q/%q: %w", projectID, workerType, store.ErrNotFound)
	}
	out := *wt
	return &out, nil
}

func (s *Store) CreateTicket(ctx context.Context, req store.CreateTicketRequest) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[req.TicketID]; exists {
		return nil, fmt.Errorf("ticket %q: %w", req.TicketID, store.ErrConflict)
	}
	now := time.Now()
	t := &model.Ticket{
		TicketID:      req.TicketID,
		ProjectID:     req.ProjectID,
		Title:         req.Title,
		ExecutionPlan: []string{req.InitialStage},
		CurrentStage:  req.InitialStage,
		State:         model.TicketOpen,
		Priority:      req.Priority,
		Dependencies:  req.Dependencies,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.tickets[t.TicketID] = t

	if req.Description != "" {
		s.nextCommentID++
		zero := 0
		s.comments[t.TicketID] = append(s.comments[t.TicketID], model.Comment{
			ID:          s.nextCommentID,
			TicketID:    t.TicketID,
			WorkerType:  model.CoordinatorActor,
			WorkerID:    model.CoordinatorActor,
			StageNumber: &zero,
			Content:     req.Description,
			CreatedAt:   now,
		})
	}

	out := *t
	return &out, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	out := *t
	return &out, nil
}

func (s *Store) ListTickets(ctx context.Context, projectID string) ([]model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Ticket
	for _, t := range s.tickets {
		if t.ProjectID == projectID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) ListTicketsClaimedBy(ctx context.Context, workerID string) ([]model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Ticket
	for _, t := range s.tickets {
		if t.ProcessingWorkerID == workerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) UpdateTicketStage(ctx context.Context, ticketID, stage string) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	t.CurrentStage = stage
	t.UpdatedAt = time.Now()
	out := *t
	return &out, nil
}

func (s *Store) UpdateTicketState(ctx context.Context, ticketID string, state model.TicketState) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	t.State = state
	t.UpdatedAt = time.Now()
	if state == model.TicketClosed {
		now := time.Now()
		t.ClosedAt = &now
	}
	out := *t
	return &out, nil
}

func (s *Store) UpdatePipeline(ctx context.Context, ticketID string, stages []string) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	t.ExecutionPlan = stages
	t.UpdatedAt = time.Now()
	out := *t
	return &out, nil
}

func (s *Store) ClaimTicketIfFree(ctx context.Context, ticketID, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return false, fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	if t.HasClaim() {
		return false, nil
	}
	t.ProcessingWorkerID = workerID
	t.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) ReleaseTicketIfHeldBy(ctx context.Context, ticketID, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return false, fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	if t.ProcessingWorkerID != workerID {
		return false, nil
	}
	t.ProcessingWorkerID = ""
	t.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) ForceRelease(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return fmt.Errorf("ticket %q: %w", ticketID, store.ErrNotFound)
	}
	t.ProcessingWorkerID = ""
	t.UpdatedAt = time.Now()
	return nil
}

func (s *Store) AppendComment(ctx context.Context, c *model.Comment) (*model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCommentID++
	cp := *c
	cp.ID = s.nextCommentID
	cp.CreatedAt = time.Now()
	s.comments[c.TicketID] = append(s.comments[c.TicketID], cp)
	out := cp
	return &out, nil
}

func (s *Store) ListComments(ctx context.Context, ticketID string) ([]model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Comment{}, s.comments[ticketID]...), nil
}

func (s *Store) UpsertWorker(ctx context.Context, w *model.Worker) (*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now()
	}
	cp.LastActivity = time.Now()
	s.workers[cp.WorkerID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) UpdateWorkerStatus(ctx context.Context, workerID string, status model.WorkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return fmt.Errorf("worker %q: %w", workerID, store.ErrNotFound)
	}
	w.Status = status
	w.LastActivity = time.Now()
	return nil
}

func (s *Store) UpdateWorkerPID(ctx context.Context, workerID string, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return fmt.Errorf("worker %q: %w", workerID, store.ErrNotFound)
	}
	w.PID = pid
	return nil
}

func (s *Store) GetWorker(ctx context.Context, workerID string) (*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return nil, fmt.Errorf("worker %q: %w", workerID, store.ErrNotFound)
	}
	out := *w
	return &out, nil
}

func (s *Store) ListWorkersForQueue(ctx context.Context, projectID, workerType string) ([]model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Worker
	for _, w := range s.workers {
		if w.ProjectID == projectID && w.WorkerType == workerType {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *Store) ListWorkersByStatus(ctx context.Context, statuses []model.WorkerStatus) ([]model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[model.WorkerStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []model.Worker
	for _, w := range s.workers {
		if want[w.Status] {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *Store) RecordEvent(ctx context.Context, e *model.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	cp := *e
	cp.ID = s.nextEventID
	cp.CreatedAt = time.Now()
	s.events = append(s.events, cp)
	return cp.ID, nil
}

func (s *Store) ListUnprocessedEvents(ctx context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, e := range s.events {
		if !e.Processed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ResolveEvent(ctx context.Context, id int64, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Processed = true
			s.events[i].ResolutionSummary = summary
			return nil
		}
	}
	return fmt.Errorf("event %d: %w", id, store.ErrNotFound)
}

func (s *Store) CreateConversation(ctx context.Context, c *model.TicketConversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.CreatedAt = time.Now()
	s.convos[c.ID] = &cp
	return nil
}

func (s *Store) AddConversationMessage(ctx context.Context, m *model.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convos[m.ConversationID]; !ok {
		return fmt.Errorf("conversation %q: %w", m.ConversationID, store.ErrNotFound)
	}
	cp := *m
	cp.CreatedAt = time.Now()
	s.convoMsgs[m.ConversationID] = append(s.convoMsgs[m.ConversationID], cp)
	return nil
}

func (s *Store) CreateTag(ctx context.Context, t *model.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[t.ProjectID] = append(s.tags[t.ProjectID], *t)
	return nil
}

func (s *Store) ListTags(ctx context.Context, projectID string) ([]model.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Tag{}, s.tags[projectID]...), nil
}

func (s *Store) Close() error { return nil }

// ConversationsForTicket is a test-only accessor for the conversation
// threads attached to a ticket; the Store contract itself is write-only for
// conversations.
func (s *Store) ConversationsForTicket(ticketID string) []model.TicketConversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TicketConversation
	for _, c := range s.convos {
		if c.TicketID == ticketID {
			out = append(out, *c)
		}
	}
	return out
}

// MessagesForConversation is a test-only accessor for a conversation's
// messages.
func (s *Store) MessagesForConversation(conversationID string) []model.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ConversationMessage{}, s.convoMsgs[conversationID]...)
}
