package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stagehand-run/stagehand/store"
	"github.com/stagehand-run/stagehand/toolsurface"
)

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req toolsurface.CreateProjectRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.surface.CreateProject(r.Context(), req)
	writeResult(w, p, err)
}

func (s *Server) handleCreateWorkerType(w http.ResponseWriter, r *http.Request) {
	var req toolsurface.CreateWorkerTypeRequest
	if !decode(w, r, &req) {
		return
	}
	wt, err := s.surface.CreateWorkerType(r.Context(), req)
	writeResult(w, wt, err)
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req toolsurface.CreateTicketRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := s.surface.CreateTicket(r.Context(), req)
	writeResult(w, t, err)
}

func (s *Server) handleClaimTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string `json:"workerId"`
	}
	if !decode(w, r, &req) {
		return
	}
	ok, err := s.surface.ClaimTicket(r.Context(), chi.URLParam(r, "ticketID"), req.WorkerID)
	writeResult(w, map[string]bool{"claimed": ok}, err)
}

func (s *Server) handleReleaseTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string `json:"workerId"`
	}
	if !decode(w, r, &req) {
		return
	}
	ok, err := s.surface.ReleaseTicket(r.Context(), chi.URLParam(r, "ticketID"), req.WorkerID)
	writeResult(w, map[string]bool{"released": ok}, err)
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req toolsurface.AddTicketCommentRequest
	if !decode(w, r, &req) {
		return
	}
	req.TicketID = chi.URLParam(r, "ticketID")
	c, err := s.surface.AddTicketComment(r.Context(), req)
	writeResult(w, c, err)
}

func (s *Server) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage string `json:"stage"`
	}
	if !decode(w, r, &req) {
		return
	}
	t, err := s.surface.UpdateTicketStage(r.Context(), chi.URLParam(r, "ticketID"), req.Stage)
	writeResult(w, t, err)
}

func (s *Server) handleCloseTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolution string `json:"resolution"`
	}
	if !decode(w, r, &req) {
		return
	}
	t, err := s.surface.CloseTicket(r.Context(), chi.URLParam(r, "ticketID"), req.Resolution)
	writeResult(w, t, err)
}

func (s *Server) handleResumeTicket(w http.ResponseWriter, r *http.Request) {
	var req toolsurface.ResumeTicketProcessingRequest
	if !decode(w, r, &req) {
		return
	}
	req.TicketID = chi.URLParam(r, "ticketID")
	t, err := s.surface.ResumeTicketProcessing(r.Context(), req)
	writeResult(w, t, err)
}

func (s *Server) handleFinishWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "completed all tasks"
	}
	err := s.surface.FinishWorker(r.Context(), chi.URLParam(r, "workerID"), reason)
	writeResult(w, map[string]bool{"finished": err == nil}, err)
}

func (s *Server) handleSpawnWorkerForStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"projectId"`
		Stage     string `json:"stage"`
	}
	if !decode(w, r, &req) {
		return
	}
	err := s.surface.SpawnWorkerForStage(r.Context(), req.ProjectID, req.Stage)
	writeResult(w, map[string]bool{"ensured": err == nil}, err)
}

func (s *Server) handleListPendingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.surface.ListPendingEvents(r.Context())
	writeResult(w, events, err)
}

func (s *Server) handleResolveEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil {
		http.Error(w, "malformed event id", http.StatusBadRequest)
		return
	}
	var req struct {
		Summary string `json:"summary"`
	}
	if !decode(w, r, &req) {
		return
	}
	err = s.surface.ResolveEvent(r.Context(), id, req.Summary)
	writeResult(w, map[string]bool{"resolved": err == nil}, err)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && err.Error() != "EOF" {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps the store error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
