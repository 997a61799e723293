package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"objectos/internal/apierr"
	"objectos/internal/jobs"
)

type enqueueJobRequest struct {
	Name       string                 `json:"name"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Priority   string                 `json:"priority,omitempty"`
	MaxRetries int                    `json:"maxRetries,omitempty"`

	// Delay is a Go duration ("30s"). RunAt is an RFC 3339 timestamp and
	// wins over Delay when both are set.
	Delay string `json:"delay,omitempty"`
	RunAt string `json:"runAt,omitempty"`
}

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueJobRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	verr := &apierr.ValidationErrors{}
	if req.Name == "" {
		verr.Add("name", "name is required")
	}
	priority, err := jobs.ParsePriority(req.Priority)
	if err != nil {
		verr.Add("priority", "must be one of low, normal, high, critical")
	}
	var delay time.Duration
	if req.Delay != "" {
		delay, err = time.ParseDuration(req.Delay)
		if err != nil || delay < 0 {
			verr.Add("delay", "must be a duration such as 30s or 5m")
		}
	}
	var runAt time.Time
	if req.RunAt != "" {
		runAt, err = time.Parse(time.RFC3339, req.RunAt)
		if err != nil {
			verr.Add("runAt", "must be an RFC 3339 timestamp")
		}
	}
	if err := verr.OrNil(); err != nil {
		s.writeError(w, r, err)
		return
	}

	var id string
	if !runAt.IsZero() {
		id, err = s.deps.Jobs.Schedule(r.Context(), req.Name, req.Payload, runAt)
	} else {
		id, err = s.deps.Jobs.Enqueue(r.Context(), req.Name, req.Payload, jobs.EnqueueOptions{
			Priority:   priority,
			MaxRetries: req.MaxRetries,
			Delay:      delay,
		})
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.respond(w, http.StatusAccepted, map[string]interface{}{"id": id})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	state := jobs.State(r.URL.Query().Get("status"))
	list := s.deps.Jobs.List(state)
	s.respond(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"total": len(list),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, job)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Jobs.Retry(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondMessage(w, http.StatusAccepted, "job %s requeued", id)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Jobs.Cancel(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondMessage(w, http.StatusOK, "job %s cancelled", id)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.deps.Jobs.Stats())
}
