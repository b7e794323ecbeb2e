// Command worker starts an ML worker: it registers itself with the Gateway,
// binds its queue and executes jobs against the models it owns.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/observability"
	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/ml-serving-stack/internal/config"
	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
	"github.com/fairyhunter13/ml-serving-stack/internal/executor"
	"github.com/fairyhunter13/ml-serving-stack/internal/model/stub"
)

func main() {
	logger := observability.SetupLogger("ml-worker", os.Getenv("APP_ENV"))
	slog.SetDefault(logger)
	slog.Info("starting the worker")

	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("configuration incomplete", slog.Any("error", err))
		os.Exit(1)
	}
	if len(cfg.Models) == 0 {
		slog.Error("no models configured; set WORKER_MODELS")
		os.Exit(1)
	}

	observability.InitMetrics()

	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.SetupTracing(cfg.OTLPEndpoint, cfg.OTELServiceName, cfg.AppEnv)
		if err != nil {
			slog.Error("failed to setup tracing", slog.Any("error", err))
		}
		defer func() {
			if shutdownTracer != nil {
				_ = shutdownTracer(context.Background())
			}
		}()
	}

	slog.Info("instantiating models", slog.Any("models", cfg.Models))
	models := make(map[string]domain.Model, len(cfg.Models))
	for _, name := range cfg.Models {
		models[name] = stub.New(name)
	}

	// The container health probe compares these versions against what the
	// models report live.
	if err := executor.WriteModelVersions(models); err != nil {
		slog.Error("failed to write model versions", slog.Any("error", err))
		os.Exit(1)
	}

	api := executor.NewAPIClient(cfg.APIURL, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A worker the Gateway refuses to register must not consume jobs.
	if err := api.Announce(ctx, cfg.AdvworkidCredential, cfg.WorkerID, cfg.Models); err != nil {
		slog.Error("worker registration failed", slog.Any("error", err))
		os.Exit(1)
	}

	consumer, err := rabbitmq.NewConsumer(cfg.AMQPURL(), cfg.WorkerID, logger)
	if err != nil {
		slog.Error("broker connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	// Metrics endpoint for scraping; the worker has no other HTTP surface.
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           metricsMux(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	exec := executor.New(models, api, logger)
	if err := consumer.Run(ctx, exec.Handle); err != nil {
		slog.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}
