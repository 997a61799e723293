package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"objectos/internal/apierr"
	"objectos/internal/audit"
	"objectos/internal/metadata"
	"objectos/internal/permission"
	"objectos/internal/plugin"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Kernel.Health(r.Context())
	status := http.StatusOK
	if report.Status == plugin.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.respond(w, status, report)
}

func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.deps.Metrics.Snapshot()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, snapshot)
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Kernel.Metadata().List(metadata.TypeObject)
	s.respond(w, http.StatusOK, map[string]interface{}{
		"objects": entries,
		"total":   len(entries),
	})
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	entry, err := s.deps.Kernel.Metadata().Get(metadata.TypeObject, name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, entry)
}

type permissionCheckRequest struct {
	UserID         string   `json:"userId"`
	Profiles       []string `json:"profiles"`
	OrganizationID string   `json:"organizationId,omitempty"`
	ObjectName     string   `json:"objectName"`
	Action         string   `json:"action"`
}

type permissionCheckResponse struct {
	HasPermission bool                   `json:"hasPermission"`
	Reason        string                 `json:"reason,omitempty"`
	Filters       map[string]interface{} `json:"filters,omitempty"`
}

// handlePermissionCheck evaluates a would-be action without performing it.
// UIs use it to grey out buttons before the user hits a 403.
func (s *Server) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	var req permissionCheckRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	verr := &apierr.ValidationErrors{}
	if req.UserID == "" {
		verr.Add("userId", "userId is required")
	}
	if req.ObjectName == "" {
		verr.Add("objectName", "objectName is required")
	}
	switch req.Action {
	case permission.ActionCreate, permission.ActionRead, permission.ActionUpdate, permission.ActionDelete:
	case "":
		verr.Add("action", "action is required")
	default:
		verr.Add("action", "must be one of create, read, update, delete")
	}
	if err := verr.OrNil(); err != nil {
		s.writeError(w, r, err)
		return
	}

	uctx := permission.Context{
		UserID:         req.UserID,
		Profiles:       req.Profiles,
		OrganizationID: req.OrganizationID,
	}
	result, err := s.deps.Permissions.Check(r.Context(), uctx, req.ObjectName, req.Action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, permissionCheckResponse{
		HasPermission: result.Allowed,
		Reason:        result.Reason,
		Filters:       result.Filters,
	})
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseAuditQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	entries, total, err := s.deps.Audit.Query(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]interface{}{
		"events": entries,
		"total":  total,
	})
}

func parseAuditQuery(r *http.Request) (audit.Query, error) {
	values := r.URL.Query()
	verr := &apierr.ValidationErrors{}
	q := audit.Query{
		ObjectName: values.Get("objectName"),
		RecordID:   values.Get("recordId"),
		UserID:     values.Get("userId"),
		EventType:  values.Get("eventType"),
	}

	if raw := values.Get("startDate"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			verr.Add("startDate", "must be an RFC 3339 timestamp")
		} else {
			q.Start = t
		}
	}
	if raw := values.Get("endDate"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			verr.Add("endDate", "must be an RFC 3339 timestamp")
		} else {
			q.End = t
		}
	}
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			verr.Add("limit", "must be a positive integer")
		} else {
			q.Limit = n
		}
	}
	if raw := values.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			verr.Add("offset", "must be zero or a positive integer")
		} else {
			q.Offset = n
		}
	}

	return q, verr.OrNil()
}
