// Package app assembles the orchestration core from configuration. Both the
// API server and the pulse command build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/archive"
	"github.com/capitalize-ai/compliance-intelligence/internal/compliance"
	"github.com/capitalize-ai/compliance-intelligence/internal/config"
	"github.com/capitalize-ai/compliance-intelligence/internal/llm"
	"github.com/capitalize-ai/compliance-intelligence/internal/memory"
	natsclient "github.com/capitalize-ai/compliance-intelligence/internal/nats"
	"github.com/capitalize-ai/compliance-intelligence/internal/pulse"
	"github.com/capitalize-ai/compliance-intelligence/internal/retrieval"
	"github.com/capitalize-ai/compliance-intelligence/internal/router"
	"github.com/capitalize-ai/compliance-intelligence/internal/store"
	"github.com/capitalize-ai/compliance-intelligence/internal/tools"
	"github.com/capitalize-ai/compliance-intelligence/pkg/database"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

// App holds the wired components.
type App struct {
	DB        *sql.DB
	Store     *store.Postgres
	NATS      *natsclient.Client
	Streams   *natsclient.StreamManager
	Retrieval *retrieval.Adapter
	Workflow  *compliance.Workflow
	Router    *router.Router
	Pipeline  *pulse.Pipeline
	Scheduler *pulse.Scheduler

	closers []func()
	logger  *logger.Logger
}

// New connects every dependency and builds the components. On error the
// connections opened so far are closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	a := &App{logger: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	rules, err := compliance.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	a.DB, err = database.Open(ctx, database.Config{
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		ConnTimeout:     cfg.DBConnTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.DB.Close() })
	a.Store = store.New(a.DB, log)

	a.NATS, err = natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     "compliance-intelligence",
	}, log)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	a.closers = append(a.closers, a.NATS.Close)

	a.Streams = natsclient.NewStreamManager(a.NATS, cfg.MemoryMaxAge)
	if err := a.Streams.EnsureStreams(ctx); err != nil {
		return nil, fmt.Errorf("ensure streams: %w", err)
	}

	generator := newGenerator(cfg, log)
	a.Retrieval = retrieval.NewAdapter(newRetrievalBackend(cfg, a.DB, log), cfg.RetrievalTimeout, log)

	invoker, err := a.newEnvelope(cfg, log)
	if err != nil {
		return nil, err
	}

	a.Workflow = compliance.NewWorkflow(invoker, a.Retrieval, generator, rules, compliance.Options{
		ParallelTools:     cfg.ParallelTools,
		Retries:           cfg.ToolRetries,
		Model:             cfg.LLMModel,
		MaxTokens:         cfg.LLMMaxTokens,
		GenerationTimeout: cfg.LLMTimeout,
	}, log)

	var memBackend memory.Backend
	if cfg.MemoryEnabled {
		memBackend = memory.NewJetStreamBackend(a.Streams)
	}
	mem := memory.NewAdapter(memBackend, cfg.MemoryTimeout, log)

	var reranker router.Reranker
	if cfg.RerankEnabled && generator != nil {
		reranker = router.NewLLMReranker(generator, cfg.LLMModel, cfg.LLMTimeout)
	}

	a.Router = router.New(a.Workflow, mem, a.Retrieval, generator, reranker, router.Options{
		MemoryLimit:       cfg.MemoryLimit,
		RetrievalK:        cfg.RetrievalK,
		ContextMaxChars:   cfg.ContextMaxChars,
		Model:             cfg.LLMModel,
		MaxTokens:         cfg.LLMMaxTokens,
		GenerationTimeout: cfg.LLMTimeout,
	}, log)

	opts := pulse.Options{
		Concurrency: cfg.PulseConcurrency,
		Indexer:     a.Retrieval,
		Publisher:   a.Streams,
	}
	if arc := newArchive(ctx, cfg, log); arc != nil {
		opts.Archiver = arc
	}
	a.Pipeline = pulse.NewPipeline(a.Store, a.Workflow, opts, log)
	a.Scheduler = pulse.NewScheduler(a.Pipeline, a.Store, cfg.PulseInterval, cfg.PulsePeriodDays, cfg.PulseConcurrency, log)

	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) newEnvelope(cfg *config.Config, log *logger.Logger) (*tools.Envelope, error) {
	backend := tools.NewHTTPBackend(tools.HTTPConfig{
		Endpoints:     cfg.ToolEndpoints,
		APIKey:        cfg.ToolAPIKey,
		RatePerSecond: cfg.ToolRateLimit,
		Burst:         cfg.ToolRateBurst,
	})

	var cache tools.Cache = tools.NewMemoryCache()
	if cfg.ToolCachePath != "" {
		bolt, err := tools.OpenBoltCache(cfg.ToolCachePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = bolt.Close() })
		cache = bolt
	}

	return tools.NewEnvelope(backend, log,
		tools.WithTimeout(cfg.ToolTimeout),
		tools.WithCache(cache, cfg.ToolCacheTTL),
	), nil
}

// newGenerator returns nil when no provider key is configured; the
// components then use their deterministic fallbacks.
func newGenerator(cfg *config.Config, log *logger.Logger) llm.Client {
	key := cfg.LLMAPIKey()
	if key == "" {
		log.Warn("No LLM API key configured, generation disabled", zap.String("provider", cfg.DefaultLLM))
		return nil
	}
	client, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), key)
	if err != nil {
		log.Warn("Failed to create LLM client, generation disabled", zap.Error(err))
		return nil
	}
	return llm.Instrumented{Client: client}
}

func newRetrievalBackend(cfg *config.Config, db *sql.DB, log *logger.Logger) retrieval.Backend {
	if !cfg.RetrievalEnabled {
		return retrieval.Disabled{}
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn("Retrieval enabled without OPENAI_API_KEY for embeddings, using empty index")
		return retrieval.Disabled{}
	}
	embedder, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	if err != nil {
		log.Warn("Failed to create embedding client, using empty index", zap.Error(err))
		return retrieval.Disabled{}
	}
	return retrieval.NewPostgresBackend(db, embedder.WithEmbeddingModel(cfg.EmbeddingModel))
}

func newArchive(ctx context.Context, cfg *config.Config, log *logger.Logger) *archive.Blob {
	if cfg.AzureStorageConnectionString == "" {
		return nil
	}
	arc, err := archive.New(archive.Config{
		ConnectionString: cfg.AzureStorageConnectionString,
		Container:        cfg.AzureStorageContainer,
	}, log)
	if err != nil {
		log.Warn("Digest archive disabled", zap.Error(err))
		return nil
	}
	if err := arc.EnsureContainer(ctx); err != nil {
		log.Warn("Digest archive container unavailable", zap.Error(err))
	}
	return arc
}
