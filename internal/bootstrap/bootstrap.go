package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/expenseops/invoice-assistant/internal/config"
	"github.com/expenseops/invoice-assistant/internal/core/ports"
	"github.com/expenseops/invoice-assistant/internal/core/usecase"
	"github.com/expenseops/invoice-assistant/internal/infrastructure/extractor/pdftext"
	"github.com/expenseops/invoice-assistant/internal/infrastructure/llm/ollama"
	"github.com/expenseops/invoice-assistant/internal/infrastructure/queue/nats"
	"github.com/expenseops/invoice-assistant/internal/infrastructure/resilience"
	sessionmemory "github.com/expenseops/invoice-assistant/internal/infrastructure/session/memory"
	sessionpostgres "github.com/expenseops/invoice-assistant/internal/infrastructure/session/postgres"
	"github.com/expenseops/invoice-assistant/internal/infrastructure/storage/localfs"
	"github.com/expenseops/invoice-assistant/internal/infrastructure/vector/qdrant"
	"github.com/expenseops/invoice-assistant/internal/observability/logging"
)

// App holds the wired dependency graph shared by the api and worker
// binaries. Postgres and NATS are optional: without a DSN conversation
// history lives in memory, without a NATS URL batch-completed events are
// not published.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Uploads  *localfs.Storage
	Sessions ports.SessionStore
	Queue    *nats.Queue

	Pipeline *usecase.IngestionPipeline
	Query    *usecase.QueryEngine
	Seeder   *usecase.PolicySeeder

	closeFn func()
}

func New(ctx context.Context, service string, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger(service, cfg.LogLevel)
	slog.SetDefault(logger)

	uploads, err := localfs.New(cfg.UploadPath)
	if err != nil {
		return nil, fmt.Errorf("init upload storage: %w", err)
	}

	var executor *resilience.Executor
	if cfg.ResilienceEnabled {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	classifier := ollama.NewClassifier(ollamaClient)
	embedder := ollama.NewEmbedder(ollamaClient)
	synthesizer := ollama.NewSynthesizer(ollamaClient)

	store := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	extractor := pdftext.New()

	var closers []func()

	sessions, sessionCloser, err := openSessions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if sessionCloser != nil {
		closers = append(closers, sessionCloser)
	}

	var queue *nats.Queue
	var notifier ports.BatchNotifier
	if cfg.NATSURL != "" {
		queue, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			runClosers(closers)
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		notifier = queue
		closers = append(closers, queue.Close)
	}

	pipeline := usecase.NewIngestionPipeline(
		store, uploads, extractor, classifier, embedder, notifier,
		cfg.AnalysisConcurrency, logger,
	)
	query := usecase.NewQueryEngine(
		embedder, store, synthesizer, sessions,
		usecase.QueryEngineOptions{
			HistoryWindow:     cfg.HistoryWindow,
			SuggestionTimeout: cfg.SuggestionTimeout,
		},
		logger,
	)
	seeder := usecase.NewPolicySeeder(store, uploads, extractor, embedder, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Uploads:  uploads,
		Sessions: sessions,
		Queue:    queue,
		Pipeline: pipeline,
		Query:    query,
		Seeder:   seeder,
		closeFn:  func() { runClosers(closers) },
	}, nil
}

func openSessions(ctx context.Context, cfg config.Config) (ports.SessionStore, func(), error) {
	if cfg.PostgresDSN == "" {
		return sessionmemory.New(cfg.MaxHistoryMessages), nil, nil
	}
	db, err := sessionpostgres.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	store := sessionpostgres.New(db, cfg.MaxHistoryMessages)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure session schema: %w", err)
	}
	return store, func() { _ = db.Close() }, nil
}

func runClosers(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
