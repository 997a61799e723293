package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectos/internal/audit"
	"objectos/internal/config"
	"objectos/internal/datastore"
	"objectos/internal/jobs"
	"objectos/internal/kernel"
	"objectos/internal/metadata"
	"objectos/internal/metrics"
	"objectos/internal/notify"
	"objectos/internal/permission"
	pluginaudit "objectos/internal/plugins/audit"
	pluginauth "objectos/internal/plugins/auth"
	pluginjobs "objectos/internal/plugins/jobs"
	pluginmetrics "objectos/internal/plugins/metrics"
	pluginnotify "objectos/internal/plugins/notifications"
	pluginperms "objectos/internal/plugins/permissions"
	pluginstorage "objectos/internal/plugins/storage"
)

type testServer struct {
	server *Server
	kernel *kernel.Kernel
	store  *datastore.Store
	engine *permission.Engine
	queue  *jobs.Queue
	auth   *pluginauth.Service
}

// bootServer bootstraps a full kernel and wires the server the way the app
// does: every dependency comes out of the service registry.
func bootServer(t *testing.T, authOpts pluginauth.Options) *testServer {
	t.Helper()

	k := kernel.New(kernel.WithVersion("test"))
	require.NoError(t, k.Use(pluginstorage.New(pluginstorage.Options{})))
	require.NoError(t, k.Use(pluginperms.New(pluginperms.Options{
		Engine: permission.Config{Enabled: true, DefaultDeny: true},
	})))
	require.NoError(t, k.Use(pluginjobs.New(jobs.Config{})))
	require.NoError(t, k.Use(pluginnotify.New(pluginnotify.Options{
		Queue: notify.Config{QueueEnabled: false},
	})))
	require.NoError(t, k.Use(pluginaudit.New(pluginaudit.Options{
		Recorder: audit.Config{Enabled: true},
	})))
	require.NoError(t, k.Use(pluginmetrics.New(pluginmetrics.Options{
		Version:        "test",
		SampleInterval: time.Hour,
	})))
	require.NoError(t, k.Use(pluginauth.New(authOpts)))
	require.NoError(t, k.Bootstrap(context.Background()))
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })

	ts := &testServer{kernel: k}
	ts.store = service[*datastore.Store](t, k, pluginstorage.DatastoreServiceName)
	ts.engine = service[*permission.Engine](t, k, pluginperms.ServiceName)
	ts.queue = service[*jobs.Queue](t, k, pluginjobs.ServiceName)
	ts.auth = service[*pluginauth.Service](t, k, pluginauth.ServiceName)

	ts.server = New(config.ServerConfig{}, Dependencies{
		Kernel:      k,
		Auth:        ts.auth,
		Store:       ts.store,
		Permissions: ts.engine,
		Audit:       service[*audit.Recorder](t, k, pluginaudit.ServiceName),
		Jobs:        ts.queue,
		Notifier:    service[*notify.Notifier](t, k, pluginnotify.ServiceName),
		Metrics:     service[*metrics.Metrics](t, k, pluginmetrics.ServiceName),
	})
	return ts
}

func service[T any](t *testing.T, k *kernel.Kernel, name string) T {
	t.Helper()
	svc, err := k.Registry().Get(name)
	require.NoError(t, err)
	typed, ok := svc.(T)
	require.True(t, ok, "service %s has type %T", name, svc)
	return typed
}

// do drives one request through the router and decodes the JSON response.
func (ts *testServer) do(t *testing.T, method, path string, body interface{}, token string) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if len(rec.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded),
			"response is not JSON: %s", rec.Body.String())
	}
	return rec.Code, decoded
}

func accountSet() *permission.Set {
	return &permission.Set{
		Name:          "account-access",
		Object:        "account",
		DefaultAccess: permission.AccessPrivate,
		Profiles: map[string]permission.ObjectPermission{
			"sales":  {AllowCreate: true, AllowRead: true, AllowEdit: true, AllowDelete: true},
			"viewer": {AllowRead: true},
		},
		Fields: map[string]permission.FieldPermission{
			"creditScore": {VisibleTo: []string{"admin"}, EditableBy: []string{"admin"}},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})

	status, body := ts.do(t, http.MethodGet, "/api/v1/health", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, "test", data["version"])
	assert.NotEmpty(t, data["plugins"])
}

func TestDataRoundTripWithoutAuth(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})

	status, created := ts.do(t, http.MethodPost, "/api/v1/data/account",
		map[string]interface{}{"name": "ACME", "region": "emea"}, "")
	require.Equal(t, http.StatusCreated, status)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "ACME", created["name"])

	status, fetched := ts.do(t, http.MethodGet, "/api/v1/data/account/"+id, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "emea", fetched["region"])

	status, patched := ts.do(t, http.MethodPatch, "/api/v1/data/account/"+id,
		map[string]interface{}{"region": "apac"}, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "apac", patched["region"])
	assert.Equal(t, "ACME", patched["name"])

	status, result := ts.do(t, http.MethodGet, "/api/v1/data/account?filter[region]=apac", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, result["total"])

	status, deleted := ts.do(t, http.MethodDelete, "/api/v1/data/account/"+id, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, deleted["success"])

	status, missing := ts.do(t, http.MethodGet, "/api/v1/data/account/"+id, nil, "")
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", missing["error"])
}

func TestFindQueryValidationCollectsAllProblems(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})

	status, body := ts.do(t, http.MethodGet,
		"/api/v1/data/account?page=abc&order=sideways", nil, "")
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])

	details, ok := body["details"].([]interface{})
	require.True(t, ok)
	assert.Len(t, details, 2)
}

func TestBearerAuthGuardsDataPlane(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{Enabled: true, Secret: "test-secret"})
	require.NoError(t, ts.engine.RegisterSets(context.Background(), accountSet()))

	// No token.
	status, body := ts.do(t, http.MethodGet, "/api/v1/data/account", nil, "")
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["error"])

	// Garbage token.
	status, _ = ts.do(t, http.MethodGet, "/api/v1/data/account", nil, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, status)

	// Health stays open for probes.
	status, _ = ts.do(t, http.MethodGet, "/api/v1/health", nil, "")
	require.Equal(t, http.StatusOK, status)

	// A real token passes and the caller's grants apply.
	token, err := ts.auth.IssueToken("u1", []string{"sales"}, "")
	require.NoError(t, err)
	status, created := ts.do(t, http.MethodPost, "/api/v1/data/account",
		map[string]interface{}{"name": "ACME", "ownerId": "u1"}, token)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, created["id"])
}

func TestPermissionDeniedMapsToForbidden(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{Enabled: true, Secret: "test-secret"})
	require.NoError(t, ts.engine.RegisterSets(context.Background(), accountSet()))

	token, err := ts.auth.IssueToken("u2", []string{"viewer"}, "")
	require.NoError(t, err)

	status, body := ts.do(t, http.MethodPost, "/api/v1/data/account",
		map[string]interface{}{"name": "Initech"}, token)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "PERMISSION_DENIED", body["error"])
	assert.Equal(t, false, body["success"])
}

func TestReadsRedactHiddenFields(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{Enabled: true, Secret: "test-secret"})
	require.NoError(t, ts.engine.RegisterSets(context.Background(), accountSet()))

	// Seeded by the system, so the admin-only field is present in the store.
	seeded, err := ts.store.Create(context.Background(), "account",
		datastore.Record{"name": "ACME", "ownerId": "u1", "creditScore": 810}, nil)
	require.NoError(t, err)

	token, err := ts.auth.IssueToken("u1", []string{"sales"}, "")
	require.NoError(t, err)

	status, fetched := ts.do(t, http.MethodGet,
		"/api/v1/data/account/"+seeded["id"].(string), nil, token)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ACME", fetched["name"])
	assert.NotContains(t, fetched, "creditScore")

	status, result := ts.do(t, http.MethodGet, "/api/v1/data/account", nil, token)
	require.Equal(t, http.StatusOK, status)
	records, ok := result["records"].([]interface{})
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.NotContains(t, records[0].(map[string]interface{}), "creditScore")
}

func TestPermissionCheckEndpoint(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})
	require.NoError(t, ts.engine.RegisterSets(context.Background(), accountSet()))

	status, body := ts.do(t, http.MethodPost, "/api/v1/permissions/check",
		map[string]interface{}{
			"userId":     "u1",
			"profiles":   []string{"sales"},
			"objectName": "account",
			"action":     "create",
		}, "")
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["hasPermission"])

	status, body = ts.do(t, http.MethodPost, "/api/v1/permissions/check",
		map[string]interface{}{
			"userId":     "u2",
			"profiles":   []string{"viewer"},
			"objectName": "account",
			"action":     "delete",
		}, "")
	require.Equal(t, http.StatusOK, status)
	data = body["data"].(map[string]interface{})
	assert.Equal(t, false, data["hasPermission"])
	assert.NotEmpty(t, data["reason"])

	// All missing fields reported at once.
	status, body = ts.do(t, http.MethodPost, "/api/v1/permissions/check",
		map[string]interface{}{}, "")
	require.Equal(t, http.StatusBadRequest, status)
	details := body["details"].([]interface{})
	assert.Len(t, details, 3)
}

func TestJobsOverHTTP(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})
	require.NoError(t, ts.queue.RegisterHandler("reindex", func(ctx context.Context, job *jobs.Job) error {
		return nil
	}))

	status, body := ts.do(t, http.MethodPost, "/api/v1/jobs",
		map[string]interface{}{"name": "reindex", "priority": "high"}, "")
	require.Equal(t, http.StatusAccepted, status)
	id := body["data"].(map[string]interface{})["id"].(string)
	require.NotEmpty(t, id)

	status, body = ts.do(t, http.MethodGet, "/api/v1/jobs/"+id, nil, "")
	require.Equal(t, http.StatusOK, status)
	job := body["data"].(map[string]interface{})
	assert.Equal(t, "pending", job["state"])
	assert.Equal(t, "reindex", job["name"])

	status, _ = ts.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, status)

	// Cancelling a terminal job conflicts.
	status, body = ts.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, "")
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", body["error"])

	status, body = ts.do(t, http.MethodGet, "/api/v1/jobs?status=cancelled", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["data"].(map[string]interface{})["total"])

	// Enqueueing against an unregistered handler is a 404.
	status, body = ts.do(t, http.MethodPost, "/api/v1/jobs",
		map[string]interface{}{"name": "nope"}, "")
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["error"])

	status, body = ts.do(t, http.MethodGet, "/api/v1/jobs/stats", nil, "")
	require.Equal(t, http.StatusOK, status)
	stats := body["data"].(map[string]interface{})
	assert.EqualValues(t, 1, stats["totalCancelled"])
}

func TestEnqueueValidation(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})

	status, body := ts.do(t, http.MethodPost, "/api/v1/jobs",
		map[string]interface{}{"priority": "urgent", "delay": "soon"}, "")
	require.Equal(t, http.StatusBadRequest, status)
	details := body["details"].([]interface{})
	assert.Len(t, details, 3)
}

func TestAuditEventsOverHTTP(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})

	_, err := ts.store.Create(context.Background(), "account",
		datastore.Record{"name": "ACME"}, map[string]interface{}{"userId": "u1"})
	require.NoError(t, err)

	status, body := ts.do(t, http.MethodGet, "/api/v1/audit/events?objectName=account", nil, "")
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["total"])

	events := data["events"].([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, "data.create", events[0].(map[string]interface{})["eventType"])

	status, body = ts.do(t, http.MethodGet, "/api/v1/audit/events?startDate=yesterday", nil, "")
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
}

func TestNotificationsOverHTTP(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})

	status, body := ts.do(t, http.MethodPost, "/api/v1/notifications/send",
		map[string]interface{}{
			"channel":    "email",
			"recipients": []string{"ops@example.com"},
			"subject":    "Disk almost full",
			"body":       "Volume {{ volume }} is at 91%",
			"data":       map[string]interface{}{"volume": "/srv"},
		}, "")
	require.Equal(t, http.StatusAccepted, status)
	assert.NotEmpty(t, body["data"].(map[string]interface{})["id"])

	// Collect-all validation.
	status, body = ts.do(t, http.MethodPost, "/api/v1/notifications/send",
		map[string]interface{}{}, "")
	require.Equal(t, http.StatusBadRequest, status)
	assert.Len(t, body["details"].([]interface{}), 3)

	// Unknown channel is a 404, not a validation problem.
	status, body = ts.do(t, http.MethodPost, "/api/v1/notifications/send",
		map[string]interface{}{
			"channel":    "carrier-pigeon",
			"recipients": []string{"ops"},
			"body":       "hello",
		}, "")
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["error"])

	status, body = ts.do(t, http.MethodGet, "/api/v1/notifications/channels", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 4, body["data"].(map[string]interface{})["total"])

	status, body = ts.do(t, http.MethodGet, "/api/v1/notifications/queue/status", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["data"].(map[string]interface{})["enabled"])
}

func TestMetadataEndpoints(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})
	require.NoError(t, ts.kernel.Metadata().Register(metadataEntry("account")))

	status, body := ts.do(t, http.MethodGet, "/api/v1/metadata/objects", nil, "")
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["total"])

	status, body = ts.do(t, http.MethodGet, "/api/v1/metadata/objects/account", nil, "")
	require.Equal(t, http.StatusOK, status)
	entry := body["data"].(map[string]interface{})
	assert.Equal(t, "account", entry["id"])

	status, body = ts.do(t, http.MethodGet, "/api/v1/metadata/objects/invoice", nil, "")
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestMetricsEndpoints(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})

	status, body := ts.do(t, http.MethodGet, "/api/v1/metrics", nil, "")
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Contains(t, data, "objectos_build_info")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics/prometheus", nil)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "objectos_build_info")
}

func metadataEntry(name string) metadata.Entry {
	return metadata.Entry{
		Type:         metadata.TypeObject,
		ID:           name,
		Package:      "crm",
		Customizable: true,
		Content:      map[string]interface{}{"label": "Account"},
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})

	status, body := ts.do(t, http.MethodGet, "/api/v1/nope", nil, "")
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestMalformedBodyIsValidationError(t *testing.T) {
	ts := bootServer(t, pluginauth.Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
}
