package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"palbridge.ai/internal/sim/primitives"
)

func TestOutcomesAndCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector()
	if err := c.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("a fresh registry must accept the same collector: %v", err)
	}

	_ = c.Record(primitives.Outcome{Primitive: "GRASP", OK: true, Ticks: 4, TotalSteps: 4, Duration: time.Millisecond})
	_ = c.Record(primitives.Outcome{Primitive: "GRASP", Code: "E_TIMEOUT", Ticks: 2000, TotalSteps: 2004})
	_ = c.Record(primitives.Outcome{Primitive: "GRASP", OK: true, Ticks: 3, TotalSteps: 2007})
	c.ObserveCall("step", "", time.Millisecond)
	c.ObserveCall("pose", "E_SIM", time.Millisecond)

	if got := testutil.ToFloat64(c.primitiveCalls.WithLabelValues("GRASP", "true", "")); got != 2 {
		t.Fatalf("GRASP ok = %v", got)
	}
	if got := testutil.ToFloat64(c.primitiveCalls.WithLabelValues("GRASP", "false", "E_TIMEOUT")); got != 1 {
		t.Fatalf("GRASP timeout = %v", got)
	}
	if got := testutil.ToFloat64(c.totalSteps); got != 2007 {
		t.Fatalf("total steps = %v", got)
	}
	if got := testutil.CollectAndCount(c.simCalls); got != 2 {
		t.Fatalf("sim call series = %d", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector()
	if err := c.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := c.Middleware("/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("/healthz", "GET", "418")); got != 1 {
		t.Fatalf("requests = %v", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "palbridge_http_requests_total") {
		t.Fatalf("exposition missing request counter:\n%s", rec.Body.String())
	}
}
