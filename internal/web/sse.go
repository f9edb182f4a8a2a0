package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/stagehand-run/stagehand/eventbus"
)

// handleSSE subscribes to the event bus and streams events to the client as
// Server-Sent Events, reporting any delivery gap before the next event.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub, ch := s.bus.Subscribe(eventbus.DefaultCapacity)
	defer sub.Unsubscribe()

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if n := sub.Lagged(); n > 0 {
				fmt.Fprintf(w, "event: lagged\ndata: {\"dropped\":%d}\n\n", n)
			}
			body, err := json.Marshal(e)
			if err != nil {
				s.log.Error("web: marshal event for sse failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.EventType, body)
			flusher.Flush()
		}
	}
}
