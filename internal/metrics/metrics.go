package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var captureBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// Metrics holds the pipeline collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	triggers  *prometheus.CounterVec
	captures  *prometheus.CounterVec
	sinks     *prometheus.CounterVec
	panics    *prometheus.CounterVec
	latency   prometheus.Histogram
	listeners prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.triggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "irlshots",
		Name:      "triggers_total",
		Help:      "Chat triggers by gate decision",
	}, []string{"transport", "decision"})

	m.captures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "irlshots",
		Name:      "captures_total",
		Help:      "Capture attempts by origin and result",
	}, []string{"origin", "result"})

	m.sinks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "irlshots",
		Name:      "sink_deliveries_total",
		Help:      "Notification sink outcomes",
	}, []string{"sink", "result"})

	m.panics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "irlshots",
		Name:      "task_panics_total",
		Help:      "Recovered panics in supervised tasks",
	}, []string{"task"})

	m.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "irlshots",
		Name:      "capture_duration_seconds",
		Help:      "Time from capture request to image read back",
		Buckets:   captureBuckets,
	})

	m.listeners = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "irlshots",
		Name:      "overlay_listeners",
		Help:      "Connected overlay listeners",
	})

	m.reg.MustRegister(
		m.triggers, m.captures, m.sinks, m.panics, m.latency, m.listeners,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Trigger(transport, decision string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(transport, decision).Inc()
}

// Capture records one capture; kind is "" on success.
func (m *Metrics) Capture(origin, kind string, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if kind != "" {
		result = kind
	} else {
		m.latency.Observe(took.Seconds())
	}
	m.captures.WithLabelValues(origin, result).Inc()
}

func (m *Metrics) Sink(name string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.sinks.WithLabelValues(name, result).Inc()
}

func (m *Metrics) SetListeners(n int) {
	if m == nil {
		return
	}
	m.listeners.Set(float64(n))
}

// Panic counts a recovered panic in the named supervised task.
func (m *Metrics) Panic(task string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(task).Inc()
}
