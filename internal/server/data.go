package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"objectos/internal/apierr"
	"objectos/internal/datastore"
)

// Data endpoints return records bare (no envelope): a find yields
// {records, total, page}, single-record operations yield the record itself.
// Errors still use the envelope so clients have one error shape everywhere.

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")

	q, err := parseFindQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Store.Find(r.Context(), object, q, callerMeta(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	for i, rec := range result.Records {
		result.Records[i] = s.redact(r, object, rec)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")
	id := chi.URLParam(r, "id")

	record, err := s.deps.Store.Get(r.Context(), object, id, callerMeta(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.redact(r, object, record))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")

	var record datastore.Record
	if err := decodeBody(r, &record); err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.deps.Store.Create(r.Context(), object, record, callerMeta(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.redact(r, object, created))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")
	id := chi.URLParam(r, "id")

	var patch datastore.Record
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	updated, err := s.deps.Store.Update(r.Context(), object, id, patch, callerMeta(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.redact(r, object, updated))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")
	id := chi.URLParam(r, "id")

	if err := s.deps.Store.Delete(r.Context(), object, id, callerMeta(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondMessage(w, http.StatusOK, "%s %s deleted", object, id)
}

// redact hides fields the caller may not read. System calls (no caller) see
// everything.
func (s *Server) redact(r *http.Request, object string, record datastore.Record) datastore.Record {
	uctx, ok := callerFrom(r.Context())
	if !ok || s.deps.Permissions == nil || record == nil {
		return record
	}
	return s.deps.Permissions.ApplyFieldSecurity(uctx, object, record)
}

// parseFindQuery maps ?page=2&pageSize=50&sort=name&order=desc&search=acme
// &filter[status]=active onto a datastore query. All problems are collected
// so the client sees every bad parameter at once.
func parseFindQuery(values url.Values) (datastore.Query, error) {
	verr := &apierr.ValidationErrors{}
	q := datastore.Query{
		Search: values.Get("search"),
		SortBy: values.Get("sort"),
	}

	if raw := values.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			verr.Add("page", "must be a positive integer")
		} else {
			q.Page = n
		}
	}
	if raw := values.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			verr.Add("pageSize", "must be a positive integer")
		} else {
			q.PageSize = n
		}
	}

	switch order := values.Get("order"); order {
	case "", "asc", "desc":
		q.Order = order
	default:
		verr.Add("order", "must be asc or desc")
	}

	for key, vals := range values {
		field, ok := filterField(key)
		if !ok || len(vals) == 0 {
			continue
		}
		if q.Filter == nil {
			q.Filter = map[string]interface{}{}
		}
		q.Filter[field] = vals[0]
	}

	return q, verr.OrNil()
}

// filterField extracts "status" from a "filter[status]" query key.
func filterField(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "filter[")
	if !ok {
		return "", false
	}
	field, ok := strings.CutSuffix(rest, "]")
	if !ok || field == "" {
		return "", false
	}
	return field, true
}
