// Service controlplane is the operations control plane: it tracks job
// lifecycles, approval gates, cost budgets, and dependency health, and
// streams every state change to connected clients in publish order.
//
//	@title			OpsDeck Control Plane API
//	@version		1.0
//	@description	Job, approval, budget, and health state with ordered event streaming.
//	@host			localhost:8080
//	@BasePath		/
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/opsdeck/opsdeck/internal/approvals"
	"github.com/opsdeck/opsdeck/internal/bus"
	"github.com/opsdeck/opsdeck/internal/config"
	"github.com/opsdeck/opsdeck/internal/db"
	"github.com/opsdeck/opsdeck/internal/eventlog"
	"github.com/opsdeck/opsdeck/internal/gateway"
	"github.com/opsdeck/opsdeck/internal/hub"
	"github.com/opsdeck/opsdeck/internal/jobs"
	"github.com/opsdeck/opsdeck/internal/ledger"
	"github.com/opsdeck/opsdeck/internal/metrics"
	"github.com/opsdeck/opsdeck/internal/models"
	"github.com/opsdeck/opsdeck/internal/probe"

	_ "github.com/opsdeck/opsdeck/docs/swagger" // generated swagger docs
)

func main() {
	cfg := config.LoadControlPlane()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		slog.Error("failed to load policy", "path", cfg.PolicyPath, "error", err)
		os.Exit(1)
	}

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	connCtx, connCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer connCancel()

	pool, err := db.Connect(connCtx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := eventlog.NewStore(pool)

	// Seed the sequence counter from persisted history so sequences stay
	// monotonic across restarts.
	maxSeq, err := store.MaxSequence(connCtx)
	if err != nil {
		slog.Error("failed to read max sequence", "error", err)
		os.Exit(1)
	}
	b := bus.New(cfg.ReplayWindow)
	b.SeedSequence(maxSeq)
	slog.Info("event bus ready", "seeded_sequence", maxSeq, "replay_window", cfg.ReplayWindow)

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	// The recorder drains the bus into Postgres; it finishes only after the
	// bus is closed and the final batch is flushed.
	recorder := eventlog.NewRecorder(store, eventlog.RecorderOptions{
		MaxBatch:      cfg.FlushBatch,
		FlushInterval: cfg.FlushInterval,
		RetainEvents:  cfg.LogRetainEvents,
		RetainAge:     cfg.LogRetainAge,
		PruneInterval: cfg.PruneInterval,
	})
	recorderDone := make(chan struct{})
	go func() {
		recorder.Run(b.Subscribe("recorder", 512))
		close(recorderDone)
	}()

	jobReg := jobs.NewRegistry(b)
	approvalReg := approvals.NewRegistry(b, nil)
	costLedger := ledger.New(b, policy.Budget)

	healthProbe := probe.New(b, probe.NewHTTPChecker(cfg.ProbeTimeout), probe.RuntimeSource{}, probe.Options{
		Targets: policy.Dependencies,
		Window:  cfg.ProbeWindow,
		SLA:     cfg.ProbeSLA,
		Timeout: cfg.ProbeTimeout,
	})

	streamHub := hub.New(b, cfg.ClientQueueSize)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go streamHub.Run(bgCtx)
	go healthProbe.Run(bgCtx, cfg.ProbeInterval)
	go approvalReg.RunSweeper(bgCtx, cfg.SweepInterval)

	handler := gateway.New(b, jobReg, approvalReg, costLedger, healthProbe)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health probes.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Service: "controlplane"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Healthy(r.Context(), pool); err != nil {
			writeJSON(w, http.StatusServiceUnavailable,
				models.HealthResponse{Status: "unavailable", Service: "controlplane"})
			return
		}
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ready", Service: "controlplane"})
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// API routes. The request timeout excludes the stream endpoint, which
	// holds its connection open for the client's lifetime.
	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(g chi.Router) {
			g.Use(middleware.Timeout(30 * time.Second))
			handler.Routes(g)
		})
		api.Get("/stream", streamHub.ServeStream)
	})

	// Swagger UI.
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	serve(cfg.Base, r)

	// Drain order: HTTP is already down, so no new publishes arrive. Stop
	// the background publishers, close the bus, then wait for the recorder
	// to flush its final batch.
	bgCancel()
	b.Close()

	select {
	case <-recorderDone:
		slog.Info("event log drained")
	case <-time.After(15 * time.Second):
		slog.Warn("event log drain timed out")
	}
}

func serve(cfg config.Base, handler http.Handler) {
	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("controlplane listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		slog.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
