// Package metrics exports primitive outcomes and simulator calls as
// Prometheus series.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"palbridge.ai/internal/sim/primitives"
)

const namespace = "palbridge"

// Collector implements primitives.Recorder and ws.CallObserver.
type Collector struct {
	primitiveCalls *prometheus.CounterVec
	primitiveTicks *prometheus.HistogramVec
	primitiveTime  *prometheus.HistogramVec
	totalSteps     prometheus.Gauge

	simCalls    *prometheus.CounterVec
	simDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
}

func NewCollector() *Collector {
	return &Collector{
		primitiveCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "primitive",
				Name:      "calls_total",
				Help:      "Primitive calls by id and result code.",
			},
			[]string{"primitive", "ok", "code"},
		),
		primitiveTicks: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "primitive",
				Name:      "ticks",
				Help:      "Simulated steps charged to one primitive call.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"primitive"},
		),
		primitiveTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "primitive",
				Name:      "duration_seconds",
				Help:      "Wall time of one primitive call.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"primitive"},
		),
		totalSteps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total_steps",
			Help:      "Simulated steps issued in the current run.",
		}),
		simCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sim",
				Name:      "calls_total",
				Help:      "Simulator boundary calls served over the wire.",
			},
			[]string{"method", "code"},
		),
		simDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sim",
				Name:      "call_duration_seconds",
				Help:      "Simulator boundary call duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"route", "method", "status"},
		),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.primitiveCalls, c.primitiveTicks, c.primitiveTime, c.totalSteps,
		c.simCalls, c.simDuration, c.httpRequests,
	}
}

// Register adds every series to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) Record(o primitives.Outcome) error {
	c.primitiveCalls.WithLabelValues(o.Primitive, strconv.FormatBool(o.OK), o.Code).Inc()
	c.primitiveTicks.WithLabelValues(o.Primitive).Observe(float64(o.Ticks))
	c.primitiveTime.WithLabelValues(o.Primitive).Observe(o.Duration.Seconds())
	c.totalSteps.Set(float64(o.TotalSteps))
	return nil
}

func (c *Collector) ObserveCall(method, code string, d time.Duration) {
	c.simCalls.WithLabelValues(method, code).Inc()
	c.simDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Middleware counts requests under a fixed route label.
func (c *Collector) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			c.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Handler serves reg in the Prometheus text format.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
