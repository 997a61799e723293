// Package metrics exposes the kernel's operational counters both as a
// Prometheus registry (text exposition) and as a JSON snapshot for the
// /api/v1/metrics endpoint. One registry backs both views.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "objectos"

// Metrics bundles the collectors the kernel, HTTP adapter and queue plugins
// feed.
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	eventsTotal  *prometheus.CounterVec
	jobsTotal    *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	pluginsTotal prometheus.Gauge
	buildInfo    *prometheus.GaugeVec
}

// New creates the registry with all collectors registered, including the Go
// runtime and process collectors.
func New(version string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status code.",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Hook topics triggered, by topic.",
		}, []string{"topic"}),

		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Job outcomes, by result.",
		}, []string{"result"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Entries waiting in a queue, by queue name.",
		}, []string{"queue"}),

		pluginsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_active",
			Help:      "Plugins currently started.",
		}),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build metadata; the value is always 1.",
		}, []string{"version"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.eventsTotal,
		m.jobsTotal,
		m.queueDepth,
		m.pluginsTotal,
		m.buildInfo,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the kernel started.",
		}, func() float64 { return time.Since(m.started).Seconds() }),
	)
	m.buildInfo.WithLabelValues(version).Set(1)

	return m
}

// Handler serves the Prometheus text exposition for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request. route should be the chi route
// pattern, not the raw path, to keep cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// CountEvent records one triggered hook topic.
func (m *Metrics) CountEvent(topic string) {
	m.eventsTotal.WithLabelValues(topic).Inc()
}

// CountJob records one job outcome (completed, failed, retried, cancelled).
func (m *Metrics) CountJob(result string) {
	m.jobsTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth reports the current depth of a named queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetActivePlugins reports how many plugins are currently started.
func (m *Metrics) SetActivePlugins(n int) {
	m.pluginsTotal.Set(float64(n))
}

// Snapshot renders every metric family as a JSON-shaped map: name to
// {help, type, metrics: [{labels?, value | count+sum}]}.
func (m *Metrics) Snapshot() (map[string]interface{}, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(families))
	for _, family := range families {
		series := make([]map[string]interface{}, 0, len(family.GetMetric()))
		for _, metric := range family.GetMetric() {
			entry := map[string]interface{}{}

			if pairs := metric.GetLabel(); len(pairs) > 0 {
				labels := make(map[string]string, len(pairs))
				for _, pair := range pairs {
					labels[pair.GetName()] = pair.GetValue()
				}
				entry["labels"] = labels
			}

			switch {
			case metric.GetCounter() != nil:
				entry["value"] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				entry["value"] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				entry["count"] = metric.GetHistogram().GetSampleCount()
				entry["sum"] = metric.GetHistogram().GetSampleSum()
			case metric.GetSummary() != nil:
				entry["count"] = metric.GetSummary().GetSampleCount()
				entry["sum"] = metric.GetSummary().GetSampleSum()
			case metric.GetUntyped() != nil:
				entry["value"] = metric.GetUntyped().GetValue()
			}
			series = append(series, entry)
		}

		out[family.GetName()] = map[string]interface{}{
			"help":    family.GetHelp(),
			"type":    family.GetType().String(),
			"metrics": series,
		}
	}
	return out, nil
}
