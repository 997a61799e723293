package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectos/internal/hooks"
	"objectos/internal/jobs"
	"objectos/internal/kernel"
	"objectos/internal/metrics"
	"objectos/internal/notify"
	pluginjobs "objectos/internal/plugins/jobs"
	pluginnotify "objectos/internal/plugins/notifications"
)

func bootMetrics(t *testing.T) (*kernel.Kernel, *metrics.Metrics) {
	t.Helper()

	k := kernel.New()
	require.NoError(t, k.Use(pluginjobs.New(jobs.Config{})))
	require.NoError(t, k.Use(pluginnotify.New(pluginnotify.Options{Queue: notify.Config{QueueEnabled: false}})))
	require.NoError(t, k.Use(New(Options{Version: "test", SampleInterval: time.Hour})))
	require.NoError(t, k.Bootstrap(context.Background()))
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })

	svc, err := k.Registry().Get(ServiceName)
	require.NoError(t, err)
	m, ok := svc.(*metrics.Metrics)
	require.True(t, ok)
	return k, m
}

func TestEventsAreCounted(t *testing.T) {
	k, m := bootMetrics(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, k.Bus().Trigger(context.Background(), hooks.TopicDataCreate, map[string]interface{}{}))
	}

	snapshot, err := m.Snapshot()
	require.NoError(t, err)

	events, ok := snapshot["objectos_events_total"].(map[string]interface{})
	require.True(t, ok)
	series, ok := events["metrics"].([]map[string]interface{})
	require.True(t, ok)

	var counted float64
	for _, entry := range series {
		labels, _ := entry["labels"].(map[string]string)
		if labels["topic"] == hooks.TopicDataCreate {
			counted, _ = entry["value"].(float64)
		}
	}
	assert.Equal(t, float64(3), counted)
}

func TestJobOutcomesFeedJobCounter(t *testing.T) {
	k, m := bootMetrics(t)

	require.NoError(t, k.Bus().Trigger(context.Background(), hooks.TopicJobCompleted, map[string]interface{}{}))
	require.NoError(t, k.Bus().Trigger(context.Background(), hooks.TopicJobFailed, map[string]interface{}{}))

	snapshot, err := m.Snapshot()
	require.NoError(t, err)

	jobsFamily, ok := snapshot["objectos_jobs_total"].(map[string]interface{})
	require.True(t, ok)
	series, ok := jobsFamily["metrics"].([]map[string]interface{})
	require.True(t, ok)

	results := map[string]float64{}
	for _, entry := range series {
		labels, _ := entry["labels"].(map[string]string)
		value, _ := entry["value"].(float64)
		results[labels["result"]] = value
	}
	assert.Equal(t, float64(1), results["completed"])
	assert.Equal(t, float64(1), results["failed"])
}

func TestPrometheusExposition(t *testing.T) {
	k, m := bootMetrics(t)
	require.NoError(t, k.Bus().Trigger(context.Background(), hooks.TopicDataFind, map[string]interface{}{}))

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(recorder.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "objectos_events_total")
	assert.Contains(t, string(body), `version="test"`)
}

func TestSampleOncePullsQueueDepths(t *testing.T) {
	k, m := bootMetrics(t)

	// Reach the plugin itself to drive one sample synchronously.
	infos := k.Plugins()
	require.NotEmpty(t, infos)

	p := New(Options{Version: "test"})
	p.metrics = m
	p.SetPluginCounter(func() int { return len(infos) })
	p.sampleOnce()

	snapshot, err := m.Snapshot()
	require.NoError(t, err)
	family, ok := snapshot["objectos_plugins_active"].(map[string]interface{})
	require.True(t, ok)
	series, ok := family["metrics"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, series, 1)
	assert.Equal(t, float64(len(infos)), series[0]["value"])
}
