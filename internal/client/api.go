package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"objectos/internal/audit"
	"objectos/internal/datastore"
	"objectos/internal/jobs"
	"objectos/internal/kernel"
	"objectos/internal/metadata"
	"objectos/internal/notify"
)

// Health fetches the kernel health report. The report is returned even when
// the server answers 503: an unhealthy kernel is an answer, not a transport
// failure.
func (c *Client) Health(ctx context.Context) (*kernel.Health, error) {
	status, raw, err := c.roundTrip(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return nil, err
	}

	var env envelope
	if uerr := json.Unmarshal(raw, &env); uerr != nil || len(env.Data) == 0 {
		return nil, decodeError(status, raw)
	}
	var report kernel.Health
	if uerr := json.Unmarshal(env.Data, &report); uerr != nil {
		return nil, fmt.Errorf("decoding health report: %w", uerr)
	}
	return &report, nil
}

// --- Metadata -----------------------------------------------------------

type objectList struct {
	Objects []metadata.Entry `json:"objects"`
	Total   int              `json:"total"`
}

// ListObjects returns every registered object definition.
func (c *Client) ListObjects(ctx context.Context) ([]metadata.Entry, error) {
	var list objectList
	if err := c.enveloped(ctx, http.MethodGet, "/api/v1/metadata/objects", nil, &list); err != nil {
		return nil, err
	}
	return list.Objects, nil
}

// GetObject returns one object definition by name.
func (c *Client) GetObject(ctx context.Context, name string) (*metadata.Entry, error) {
	var entry metadata.Entry
	if err := c.enveloped(ctx, http.MethodGet, "/api/v1/metadata/objects/"+url.PathEscape(name), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// --- Data ---------------------------------------------------------------

// FindOptions filter and page a record listing.
type FindOptions struct {
	Page     int
	PageSize int
	Sort     string
	Order    string
	Search   string
	Filter   map[string]string
}

func (o FindOptions) query() string {
	values := url.Values{}
	if o.Page > 0 {
		values.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		values.Set("pageSize", strconv.Itoa(o.PageSize))
	}
	if o.Sort != "" {
		values.Set("sort", o.Sort)
	}
	if o.Order != "" {
		values.Set("order", o.Order)
	}
	if o.Search != "" {
		values.Set("search", o.Search)
	}
	for field, value := range o.Filter {
		values.Set("filter["+field+"]", value)
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

// FindRecords lists records of an object.
func (c *Client) FindRecords(ctx context.Context, object string, opts FindOptions) (*datastore.Result, error) {
	var result datastore.Result
	path := "/api/v1/data/" + url.PathEscape(object) + opts.query()
	if err := c.bare(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRecord fetches one record.
func (c *Client) GetRecord(ctx context.Context, object, id string) (datastore.Record, error) {
	var record datastore.Record
	path := "/api/v1/data/" + url.PathEscape(object) + "/" + url.PathEscape(id)
	if err := c.bare(ctx, http.MethodGet, path, nil, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// CreateRecord inserts a record and returns it with server-assigned fields.
func (c *Client) CreateRecord(ctx context.Context, object string, record datastore.Record) (datastore.Record, error) {
	var created datastore.Record
	path := "/api/v1/data/" + url.PathEscape(object)
	if err := c.bare(ctx, http.MethodPost, path, record, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateRecord applies a partial update and returns the full record.
func (c *Client) UpdateRecord(ctx context.Context, object, id string, patch datastore.Record) (datastore.Record, error) {
	var updated datastore.Record
	path := "/api/v1/data/" + url.PathEscape(object) + "/" + url.PathEscape(id)
	if err := c.bare(ctx, http.MethodPatch, path, patch, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRecord removes a record.
func (c *Client) DeleteRecord(ctx context.Context, object, id string) error {
	path := "/api/v1/data/" + url.PathEscape(object) + "/" + url.PathEscape(id)
	return c.enveloped(ctx, http.MethodDelete, path, nil, nil)
}

// --- Permissions ----------------------------------------------------------

// PermissionCheck asks whether a user may perform an action.
type PermissionCheck struct {
	UserID         string   `json:"userId"`
	Profiles       []string `json:"profiles,omitempty"`
	OrganizationID string   `json:"organizationId,omitempty"`
	ObjectName     string   `json:"objectName"`
	Action         string   `json:"action"`
}

// PermissionDecision is the engine's answer.
type PermissionDecision struct {
	HasPermission bool                   `json:"hasPermission"`
	Reason        string                 `json:"reason,omitempty"`
	Filters       map[string]interface{} `json:"filters,omitempty"`
}

// CheckPermission evaluates a would-be action without performing it.
func (c *Client) CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionDecision, error) {
	var decision PermissionDecision
	if err := c.enveloped(ctx, http.MethodPost, "/api/v1/permissions/check", check, &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// --- Audit ----------------------------------------------------------------

// AuditQuery filters the audit trail.
type AuditQuery struct {
	ObjectName string
	RecordID   string
	UserID     string
	EventType  string
	Start      time.Time
	End        time.Time
	Limit      int
	Offset     int
}

func (q AuditQuery) query() string {
	values := url.Values{}
	if q.ObjectName != "" {
		values.Set("objectName", q.ObjectName)
	}
	if q.RecordID != "" {
		values.Set("recordId", q.RecordID)
	}
	if q.UserID != "" {
		values.Set("userId", q.UserID)
	}
	if q.EventType != "" {
		values.Set("eventType", q.EventType)
	}
	if !q.Start.IsZero() {
		values.Set("startDate", q.Start.Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		values.Set("endDate", q.End.Format(time.RFC3339))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

type auditEventList struct {
	Events []*audit.Entry `json:"events"`
	Total  int            `json:"total"`
}

// AuditEvents queries the audit trail. Total counts all matches, not just
// the returned page.
func (c *Client) AuditEvents(ctx context.Context, q AuditQuery) ([]*audit.Entry, int, error) {
	var list auditEventList
	if err := c.enveloped(ctx, http.MethodGet, "/api/v1/audit/events"+q.query(), nil, &list); err != nil {
		return nil, 0, err
	}
	return list.Events, list.Total, nil
}

// --- Jobs -----------------------------------------------------------------

// EnqueueJob submits a job for background execution.
type EnqueueJob struct {
	Name       string                 `json:"name"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Priority   string                 `json:"priority,omitempty"`
	MaxRetries int                    `json:"maxRetries,omitempty"`
	Delay      string                 `json:"delay,omitempty"`
	RunAt      string                 `json:"runAt,omitempty"`
}

type jobID struct {
	ID string `json:"id"`
}

// EnqueueJob submits a job and returns its id.
func (c *Client) EnqueueJob(ctx context.Context, req EnqueueJob) (string, error) {
	var created jobID
	if err := c.enveloped(ctx, http.MethodPost, "/api/v1/jobs", req, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

type jobList struct {
	Jobs  []*jobs.Job `json:"jobs"`
	Total int         `json:"total"`
}

// ListJobs lists queued and historical jobs, optionally filtered by state.
func (c *Client) ListJobs(ctx context.Context, state string) ([]*jobs.Job, error) {
	path := "/api/v1/jobs"
	if state != "" {
		path += "?status=" + url.QueryEscape(state)
	}
	var list jobList
	if err := c.enveloped(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Jobs, nil
}

// GetJob fetches one job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.enveloped(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// RetryJob requeues a failed job.
func (c *Client) RetryJob(ctx context.Context, id string) error {
	return c.enveloped(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/retry", nil, nil)
}

// CancelJob cancels a pending or scheduled job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.enveloped(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// JobStats returns queue counters.
func (c *Client) JobStats(ctx context.Context) (map[string]interface{}, error) {
	var stats map[string]interface{}
	if err := c.enveloped(ctx, http.MethodGet, "/api/v1/jobs/stats", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// --- Notifications ---------------------------------------------------------

// SendNotification submits a notification and returns its id.
func (c *Client) SendNotification(ctx context.Context, req notify.Request) (string, error) {
	var created jobID
	if err := c.enveloped(ctx, http.MethodPost, "/api/v1/notifications/send", req, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

type channelList struct {
	Channels []string `json:"channels"`
	Total    int      `json:"total"`
}

// NotificationChannels lists the registered delivery channels.
func (c *Client) NotificationChannels(ctx context.Context) ([]string, error) {
	var list channelList
	if err := c.enveloped(ctx, http.MethodGet, "/api/v1/notifications/channels", nil, &list); err != nil {
		return nil, err
	}
	return list.Channels, nil
}

// NotificationQueueStatus returns delivery queue counters.
func (c *Client) NotificationQueueStatus(ctx context.Context) (map[string]interface{}, error) {
	var status map[string]interface{}
	if err := c.enveloped(ctx, http.MethodGet, "/api/v1/notifications/queue/status", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// --- Metrics ----------------------------------------------------------------

// MetricsSnapshot returns all metric families as JSON.
func (c *Client) MetricsSnapshot(ctx context.Context) (map[string]interface{}, error) {
	var snapshot map[string]interface{}
	if err := c.enveloped(ctx, http.MethodGet, "/api/v1/metrics", nil, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}
