// Package metrics provides Prometheus metrics collection for the editor.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xwp/wp-customize-rest-resources/core/syncchan"
)

const namespace = "customize_rest"

// Collector holds all Prometheus metrics of the editor.
type Collector struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// REST dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Save metrics
	SavesTotal         *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec

	// Sync metrics
	SyncFrames   *prometheus.CounterVec
	SyncSessions prometheus.Gauge

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of editor HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Editor HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of editor HTTP requests currently being processed",
			},
		),

		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rest_dispatch_total",
				Help:      "Total number of REST requests dispatched",
			},
			[]string{"method", "status"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rest_dispatch_duration_seconds",
				Help:      "REST dispatch duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method"},
		),

		SavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "setting_saves_total",
				Help:      "Total number of resource setting saves by result",
			},
			[]string{"result"},
		),
		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "field_validation_failures_total",
				Help:      "Total number of field validation failures",
			},
			[]string{"field"},
		),

		SyncFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_frames_total",
				Help:      "Total number of sync channel frames",
			},
			[]string{"side", "kind", "direction"},
		),
		SyncSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sync_sessions_active",
				Help:      "Number of open sync sessions",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// RecordDispatch records one in-process REST dispatch.
func (c *Collector) RecordDispatch(method string, status int, d time.Duration) {
	c.DispatchTotal.WithLabelValues(method, StatusClass(status)).Inc()
	c.DispatchDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordSave records the outcome of saving one setting.
func (c *Collector) RecordSave(ok bool) {
	result := "saved"
	if !ok {
		result = "failed"
	}
	c.SavesTotal.WithLabelValues(result).Inc()
}

// RecordValidationFailure records a rejected field.
func (c *Collector) RecordValidationFailure(field string) {
	c.ValidationFailures.WithLabelValues(field).Inc()
}

// ObserveFrame counts a sync frame. It makes the collector a sync endpoint
// observer.
func (c *Collector) ObserveFrame(side syncchan.Side, kind syncchan.Kind, direction string) {
	c.SyncFrames.WithLabelValues(string(side), string(kind), direction).Inc()
}

// StatusClass maps a status code to its class label, such as "2xx".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
