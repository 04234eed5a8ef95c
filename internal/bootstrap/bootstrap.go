// Package bootstrap wires configuration into concrete adapters and use
// cases. Both binaries (api and worker) build their dependency graph here.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/car-vision-api/internal/config"
	"github.com/kirillkom/car-vision-api/internal/core/ports"
	"github.com/kirillkom/car-vision-api/internal/core/usecase"
	mockclassifier "github.com/kirillkom/car-vision-api/internal/infrastructure/classifier/mock"
	onnxclassifier "github.com/kirillkom/car-vision-api/internal/infrastructure/classifier/onnx"
	natsqueue "github.com/kirillkom/car-vision-api/internal/infrastructure/queue/nats"
	"github.com/kirillkom/car-vision-api/internal/infrastructure/report/excel"
	memoryrepo "github.com/kirillkom/car-vision-api/internal/infrastructure/repository/memory"
	postgresrepo "github.com/kirillkom/car-vision-api/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/car-vision-api/internal/infrastructure/resilience"
	"github.com/kirillkom/car-vision-api/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Classifier ports.Classifier
	Repo       ports.PredictionRepository
	Storage    ports.ImageStorage
	Queue      ports.EventQueue

	SubmitUC *usecase.SubmitPredictionUseCase
	RemoveUC *usecase.RemovePredictionUseCase
	StatsUC  *usecase.StatsUseCase

	closers []func()
}

// New builds the full application graph. The caller owns the returned App
// and must Close it on shutdown.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg}

	repo, err := app.buildRepository(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Repo = repo

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init image storage: %w", err)
	}
	app.Storage = storage

	classifier, err := app.buildClassifier(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Classifier = classifier

	queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultPolicy()),
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	app.Queue = queue
	app.closers = append(app.closers, queue.Close)

	app.SubmitUC = usecase.NewSubmitPredictionUseCase(classifier, repo, storage, queue)
	app.RemoveUC = usecase.NewRemovePredictionUseCase(repo, storage)
	app.StatsUC = usecase.NewStatsUseCase(repo, excel.NewReportWriter(), classifier.Labels())

	return app, nil
}

func (a *App) buildRepository(ctx context.Context, cfg config.Config) (ports.PredictionRepository, error) {
	switch cfg.Store {
	case "memory":
		slog.Info("using in-memory prediction store")
		return memoryrepo.New(), nil
	case "postgres":
		db, err := postgresrepo.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })

		repo := postgresrepo.NewPredictionRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store %q, expected postgres or memory", cfg.Store)
	}
}

func (a *App) buildClassifier(cfg config.Config) (ports.Classifier, error) {
	switch cfg.Classifier {
	case "mock":
		return mockclassifier.New(cfg.Labels, cfg.ClassifierSeed), nil
	case "onnx":
		classifier, err := onnxclassifier.New(cfg.ONNXModelPath, cfg.ONNXMetadataPath)
		if err != nil {
			return nil, fmt.Errorf("init onnx classifier: %w", err)
		}
		a.closers = append(a.closers, classifier.Close)
		return classifier, nil
	default:
		return nil, fmt.Errorf("unknown classifier %q, expected mock or onnx", cfg.Classifier)
	}
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
