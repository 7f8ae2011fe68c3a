package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"palbridge.ai/internal/observability/metrics"
	"palbridge.ai/internal/sim/memsim"
)

func testRouter(t *testing.T) *httptest.Server {
	t.Helper()
	sim := memsim.New(memsim.SceneSpec{
		Objects: []memsim.ObjectSpec{
			{Name: "cabinet_1", Category: "cabinet", Pos: [3]float64{1, 0, 0.5}, Size: [3]float64{0.6, 0.4, 1}, Fixed: true, Openable: true},
			{Name: "cabinet_2", Category: "cabinet", Pos: [3]float64{2, 0, 0.5}, Size: [3]float64{0.6, 0.4, 1}, Fixed: true, Openable: true},
			{Name: "mug_1", Category: "mug", Pos: [3]float64{0.5, 0.5, 0.05}, Size: [3]float64{0.08, 0.08, 0.1}},
		},
	})
	reg := prometheus.NewRegistry()
	col := metrics.NewCollector()
	if err := col.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	srv := httptest.NewServer(newRouter(sim, "test", 8, col, reg, log.New(io.Discard, "", 0)))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := testRouter(t)
	if code, body := get(t, srv.URL+"/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	code, body := get(t, srv.URL+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, `palbridge_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("metrics: %d\n%s", code, body)
	}
}

func TestObjectsDumpFilters(t *testing.T) {
	srv := testRouter(t)
	code, body := get(t, srv.URL+"/v1/objects?q=cabinet&limit=1")
	if code != http.StatusOK {
		t.Fatalf("objects: %d %s", code, body)
	}
	var resp struct {
		Tick    uint64 `json:"tick"`
		Objects []struct {
			Name string `json:"name"`
		} `json:"objects"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tick != 0 || len(resp.Objects) != 1 || resp.Objects[0].Name != "cabinet_1" {
		t.Fatalf("objects: %+v", resp)
	}
}
