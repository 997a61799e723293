package server

import (
	"net/http"

	"objectos/internal/notify"
)

func (s *Server) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	var req notify.Request
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.deps.Notifier.Send(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Queued delivery reports the terminal status later; synchronous
	// delivery is already terminal here. Either way the id is what the
	// caller needs to look the notification up.
	s.respond(w, http.StatusAccepted, map[string]interface{}{"id": id})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.deps.Notifier.Channels()
	s.respond(w, http.StatusOK, map[string]interface{}{
		"channels": channels,
		"total":    len(channels),
	})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.deps.Notifier.QueueStatus())
}
