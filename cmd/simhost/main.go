package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"palbridge.ai/internal/observability/metrics"
	"palbridge.ai/internal/sim/memsim"
	"palbridge.ai/internal/sim/primitives"
	"palbridge.ai/internal/transport/ws"
)

func main() {
	var (
		addr      = flag.String("addr", ":8081", "http listen address")
		scenePath = flag.String("scene", "./configs/scenes/kitchen.yaml", "memsim scene file")
		maxSteps  = flag.Int("max_steps", 0, "episode step limit (0 keeps the scene's value)")
		noSamples = flag.Bool("disable_samplers", false, "make the native inside/on-top samplers always fail")
		maxQueue  = flag.Int("max_queue", 8, "buffered RESULT frames per session")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[simhost] ", log.LstdFlags|log.Lmicroseconds)

	spec, err := memsim.LoadScene(*scenePath)
	if err != nil {
		logger.Fatalf("load scene: %v", err)
	}
	if *maxSteps > 0 {
		spec.MaxEpisodeSteps = *maxSteps
	}
	var opts []memsim.Option
	if *noSamples {
		opts = append(opts, memsim.WithSamplersDisabled())
	}
	sim := memsim.New(spec, opts...)
	logger.Printf("scene %s: %d objects", *scenePath, len(spec.Objects))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.NewCollector()
	if err := col.Register(reg); err != nil {
		logger.Fatalf("register metrics: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newRouter(sim, *scenePath, *maxQueue, col, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func newRouter(sim *memsim.Sim, sceneName string, maxQueue int, col *metrics.Collector, reg *prometheus.Registry, logger *log.Logger) http.Handler {
	r := chi.NewRouter()

	r.With(col.Middleware("/healthz")).Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		_, _ = rw.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", metrics.Handler(reg))

	// Read-only scene dump for operators; never ticks the simulator.
	dump := primitives.New(sim, primitives.Options{Logger: logger})
	r.With(col.Middleware("/v1/objects")).Get("/v1/objects", func(rw http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		objs, err := dump.DumpObjects(r.URL.Query().Get("q"), limit)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"tick": sim.Tick(), "objects": objs})
	})

	r.Get("/v1/ws", ws.NewServer(sim, ws.Options{
		SceneName: sceneName,
		Paths:     sim,
		Observer:  col,
		MaxQueue:  maxQueue,
	}, logger).Handler())
	return r
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
