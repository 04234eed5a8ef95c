// The worker consumes prediction-created events and writes an audit line per
// record. It shares the queue-group "workers", so running several instances
// splits the stream instead of duplicating it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/car-vision-api/internal/bootstrap"
	"github.com/kirillkom/car-vision-api/internal/config"
	"github.com/kirillkom/car-vision-api/internal/core/domain"
	"github.com/kirillkom/car-vision-api/internal/observability/logging"
	"github.com/kirillkom/car-vision-api/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logging.Setup("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsHandler(workerMetrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()

	processTimeout := time.Duration(cfg.WorkerProcessTimeout) * time.Second
	handler := func(eventCtx context.Context, id int64) error {
		workerMetrics.StartEvent()
		start := time.Now()

		eventCtx, cancel := context.WithTimeout(eventCtx, processTimeout)
		defer cancel()

		err := auditPrediction(eventCtx, app, workerMetrics, id)
		workerMetrics.FinishEvent("worker", time.Since(start), err)
		return err
	}

	slog.Info("worker_consuming", slog.String("subject", cfg.NATSSubject))
	// Blocks until the context is cancelled, then drains the subscription.
	if err := app.Queue.SubscribePredictionCreated(ctx, handler); err != nil {
		slog.Error("subscribe_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	slog.Info("worker_stopped")
}

func auditPrediction(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, id int64) error {
	rec, err := app.Repo.GetByID(ctx, id)
	if err != nil {
		// The record may have been deleted between publish and consume;
		// that is not a processing failure.
		if domain.IsKind(err, domain.ErrPredictionNotFound) {
			slog.Warn("prediction_gone_before_audit", slog.Int64("prediction_id", id))
			return nil
		}
		return err
	}

	m.ObserveQueueLag("worker", time.Since(rec.CreatedAt))
	slog.Info("prediction_audited",
		slog.Int64("prediction_id", rec.ID),
		slog.String("predicted_class", rec.Label),
		slog.Float64("confidence", rec.Confidence),
		slog.String("image_path", rec.ImagePath),
		slog.Time("created_at", rec.CreatedAt),
	)
	return nil
}

func metricsHandler(m *metrics.WorkerMetrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
