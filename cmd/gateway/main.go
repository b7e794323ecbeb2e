// Command gateway starts the ML serving Gateway HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/httpserver"
	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/observability"
	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/repo/mongodb"
	"github.com/fairyhunter13/ml-serving-stack/internal/app"
	"github.com/fairyhunter13/ml-serving-stack/internal/config"
	"github.com/fairyhunter13/ml-serving-stack/internal/health"
	"github.com/fairyhunter13/ml-serving-stack/internal/usecase"
)

// fatal flags the container unhealthy and stops the process; used for startup
// failures only.
func fatal(msg string, err error) {
	slog.Error(msg, slog.Any("error", err))
	health.WriteSentinel()
	os.Exit(1)
}

func main() {
	logger := observability.SetupLogger("ml-gateway", os.Getenv("APP_ENV"))
	slog.SetDefault(logger)
	slog.Info("starting the gateway")

	cfg, err := config.Load()
	if err != nil {
		fatal("configuration incomplete", err)
	}
	health.ClearSentinel()

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	client, err := mongodb.Connect(ctx, cfg.MongoURI())
	cancel()
	if err != nil {
		fatal("store connect failed", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	db := client.Database(mongodb.DatabaseName)
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	err = mongodb.EnsureIndexes(ctx, db)
	cancel()
	if err != nil {
		fatal("store index creation failed", err)
	}

	jobRepo := mongodb.NewJobRepo(db)
	registryRepo := mongodb.NewRegistryRepo(db)

	registry := usecase.NewRegistryCache(registryRepo, cfg.RegistryReload, logger)
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	err = registry.Bootstrap(ctx)
	cancel()
	if err != nil {
		fatal("queue registry bootstrap failed", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL())
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("failed to close publisher", slog.Any("error", err))
		}
	}()

	admission := usecase.NewAdmissionService(jobRepo, registry, publisher, cfg.APITokenWorkers, logger)
	status := usecase.NewStatusService(jobRepo, logger)
	feedback := usecase.NewFeedbackService(jobRepo, logger)
	aggregator := usecase.NewFeedbackAggregator(jobRepo, registry, publisher, cfg.APITokenWorkers, logger)
	internal := usecase.NewInternalService(jobRepo, logger)

	srv := httpserver.NewServer(cfg, admission, status, feedback, aggregator, internal, registry)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
