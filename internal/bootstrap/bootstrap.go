package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/hybrid-retriever/internal/config"
	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
	"github.com/kirillkom/hybrid-retriever/internal/core/ports"
	"github.com/kirillkom/hybrid-retriever/internal/core/usecase"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/cache/bundle"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/chunking"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/dense/flat"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/lexical/bm25"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/queue/nats"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/resilience"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/storage/minio"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/storage/postgres"
	"github.com/kirillkom/hybrid-retriever/internal/infrastructure/storage/redis"
	"github.com/kirillkom/hybrid-retriever/internal/observability/metrics"
)

type Options struct {
	Service string
	Logger  *slog.Logger
	// Registerer receives retrieval metrics; nil disables them.
	Registerer prometheus.Registerer
	// WithQueue connects to NATS for asynchronous ingestion.
	WithQueue bool
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Retrieval *usecase.RetrievalService
	Queue     ports.MessageQueue
	Extractor ports.TextExtractor

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	resilienceCfg := resilience.Config{
		RetryMaxAttempts:    cfg.ResilienceRetryMaxAttempts,
		RetryInitialBackoff: cfg.ResilienceRetryInitialBackoff,
		RetryMaxBackoff:     cfg.ResilienceRetryMaxBackoff,
		BreakerEnabled:      cfg.ResilienceBreakerEnabled,
		BreakerMinRequests:  uint32(max(cfg.ResilienceBreakerMinRequests, 0)),
		BreakerFailureRatio: cfg.ResilienceBreakerFailureRatio,
		BreakerOpenTimeout:  cfg.ResilienceBreakerOpenTimeout,
		Logger:              logger,
	}
	if opts.Registerer != nil {
		outbound := metrics.NewResilienceMetrics(opts.Service, opts.Registerer)
		resilienceCfg.OnRetry = outbound.RecordRetry
		resilienceCfg.OnStateChange = outbound.RecordBreakerState
	}
	executor := resilience.NewExecutor(resilienceCfg)

	storage, err := app.openStorage(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	cache := bundle.New(storage, logger)
	cache.RegisterLexical(bm25.Kind, func(data []byte) (ports.LexicalIndex, error) {
		return bm25.Unmarshal(data)
	})
	cache.RegisterDense(flat.Kind, func(data []byte) (ports.DenseIndex, error) {
		return flat.Unmarshal(data)
	})

	embedder, err := newEmbedder(cfg, executor)
	if err != nil {
		app.Close()
		return nil, err
	}

	deps := usecase.RetrieverDeps{
		Chunker:  chunking.NewSplitter(cfg.ChunkSentences),
		Embedder: embedder,
		Cache:    cache,
		BuildLexical: func(chunks []domain.Chunk) (ports.LexicalIndex, error) {
			return bm25.Build(chunks), nil
		},
		BuildDense: func(ctx context.Context, chunks []domain.Chunk) (ports.DenseIndex, error) {
			return flat.Build(ctx, embedder, chunks)
		},
		Logger: logger,
	}
	if opts.Registerer != nil {
		deps.Metrics = metrics.NewRetrievalMetrics(opts.Service, opts.Registerer)
	}
	app.Retrieval = usecase.NewRetrievalService(deps, usecase.ServiceOptions{
		DefaultTopK:        cfg.RAGTopK,
		DefaultMixRatio:    cfg.RAGMixRatio,
		RevalidateInterval: cfg.RAGRevalidateInterval,
	})
	app.Extractor = plaintext.NewExtractor(cfg.MaxUploadBytes)

	if opts.WithQueue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.closeFns = append(app.closeFns, queue.Close)
	}

	logger.Info("bootstrap_complete",
		"cache_backend", cfg.CacheBackend,
		"embedder", cfg.Embedder,
		"queue", opts.WithQueue,
	)
	return app, nil
}

func (a *App) openStorage(ctx context.Context, cfg config.Config) (ports.ArtifactStorage, error) {
	switch cfg.CacheBackend {
	case "localfs":
		storage, err := localfs.New(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("init localfs cache: %w", err)
		}
		return storage, nil
	case "minio":
		storage, err := minio.New(ctx, minio.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Prefix:    cfg.MinioPrefix,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init minio cache: %w", err)
		}
		return storage, nil
	case "redis":
		storage := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		a.closeFns = append(a.closeFns, func() { _ = storage.Close() })
		if err := storage.Ping(ctx); err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		return storage, nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closeFns = append(a.closeFns, func() { _ = db.Close() })
		storage := postgres.New(db)
		if err := storage.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
	}
}

func newEmbedder(cfg config.Config, executor *resilience.Executor) (ports.Embedder, error) {
	switch cfg.Embedder {
	case "ollama":
		client := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaEmbedModel, ollama.Options{
			Timeout:            cfg.OllamaTimeout,
			MaxBatch:           cfg.OllamaMaxBatch,
			ResilienceExecutor: executor,
		})
		return ollama.NewEmbedder(client), nil
	case "hashing":
		return hashing.New(cfg.HashingDimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedder %q", cfg.Embedder)
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
