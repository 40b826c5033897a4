// Package app assembles the repositories, pipeline and background loops
// shared by the HTTP server and the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	emailrepo "noodle-backend/internal/email/repository"
	emailusecase "noodle-backend/internal/email/usecase"
	factsrepo "noodle-backend/internal/facts/repository"
	factsusecase "noodle-backend/internal/facts/usecase"
	"noodle-backend/internal/graph/export"
	graphrepo "noodle-backend/internal/graph/repository"
	graphusecase "noodle-backend/internal/graph/usecase"
	"noodle-backend/internal/ingest"
	"noodle-backend/internal/notification"
	promptrepo "noodle-backend/internal/prompt/repository"
	"noodle-backend/internal/prompt/scheduler"
	promptusecase "noodle-backend/internal/prompt/usecase"
	systemrepo "noodle-backend/internal/system/repository"
	systemusecase "noodle-backend/internal/system/usecase"
	"noodle-backend/pkg/ai"
	"noodle-backend/pkg/chroma"
	"noodle-backend/pkg/config"
	"noodle-backend/pkg/database"
	"noodle-backend/pkg/gmail"
	"noodle-backend/pkg/imap"
	"noodle-backend/pkg/logger"
	"noodle-backend/pkg/retry"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// App holds every long-lived component. Optional parts are nil when their
// configuration is missing: Provider, Vectors, Syncer, Notifications.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB

	Runtime  *ai.RuntimeSettings
	Provider ai.Provider

	EmailRepo  emailrepo.EmailRepository
	GraphRepo  graphrepo.GraphRepository
	Checkpoint emailrepo.CheckpointRepository

	Orchestrator *emailusecase.Orchestrator
	Vectors      *emailusecase.VectorSyncer
	Emails       emailusecase.EmailUsecase
	Graph        graphusecase.GraphUsecase
	Prompts      promptusecase.PromptUsecase
	Scheduler    *scheduler.PromptScheduler
	System       systemusecase.SystemUsecase

	Syncer        *ingest.Syncer
	Gmail         *gmail.Connector
	Notifications *notification.Service

	logStore *logger.StoreCore
	started  bool
}

// New opens the database, applies migrations and wires the components.
// Nothing runs in the background until Start.
func New(ctx context.Context, cfg *config.Config, base *zap.Logger) (*App, error) {
	if base == nil {
		base = zap.NewNop()
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db, Logger: base}
	fail := func(err error) (*App, error) {
		if a.logStore != nil {
			a.logStore.Close()
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	if err := database.RunMigrations(ctx, db, base); err != nil {
		return fail(fmt.Errorf("failed to migrate database: %w", err))
	}

	logRepo := systemrepo.NewLogRepository(db)
	if lvl, ok := storeLevel(cfg.LogStoreLevel); ok {
		a.logStore = logger.NewStoreCore(logRepo, lvl, 512)
		a.Logger = logger.Tee(base, a.logStore)
	}
	log := a.Logger

	a.Runtime = ai.NewRuntimeSettings(cfg.AI.OllamaBaseURL, cfg.AI.Model)
	a.System = systemusecase.NewSystemUsecase(logRepo, systemrepo.NewSettingsRepository(db), a.Runtime, log)
	if err := a.System.LoadPersisted(ctx); err != nil {
		log.Warn("Failed to load persisted settings", zap.Error(err))
	}

	a.Provider, err = ai.NewProvider(cfg.AI, a.Runtime, log)
	if err != nil {
		log.Warn("AI provider unavailable, extraction and drafting are disabled", zap.Error(err))
		a.Provider = nil
	} else {
		log.Info("AI provider initialized", zap.String("provider", string(a.Provider.Name())))
	}

	// Repositories
	a.EmailRepo = emailrepo.NewEmailRepository(db)
	a.Checkpoint = emailrepo.NewCheckpointRepository(db)
	index := emailrepo.NewSearchIndex(db)
	facts := factsrepo.NewFactsRepository(db)
	stats := emailrepo.NewStatsRepository(db)
	entities := graphrepo.NewEntityRepository(db)
	a.GraphRepo = graphrepo.NewGraphRepository(db)

	extractor, err := factsusecase.NewExtractor(a.Provider, cfg.Pipeline.MaxBodyChars, cfg.AI.Temperature, log)
	if err != nil {
		return fail(fmt.Errorf("failed to build extractor: %w", err))
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Pipeline.MaxRetries
	if cfg.Pipeline.RetryInitial > 0 {
		retryCfg.InitialDelay = cfg.Pipeline.RetryInitial
	}
	if cfg.Pipeline.RetryMax > 0 {
		retryCfg.MaxDelay = cfg.Pipeline.RetryMax
	}

	a.Orchestrator = emailusecase.NewOrchestrator(
		db, a.EmailRepo, index, facts,
		graphusecase.NewBuilder(entities, a.GraphRepo, log),
		extractor,
		emailusecase.NewExclusionPolicy(cfg.Pipeline.ExcludedFolders, cfg.Pipeline.ExcludedSenders),
		emailusecase.OrchestratorConfig{Workers: cfg.Pipeline.Workers, QueueSize: cfg.Pipeline.QueueSize, Retry: retryCfg},
		log,
	)

	if store := a.vectorStore(ctx, db); store != nil {
		a.Vectors = emailusecase.NewVectorSyncer(store, a.EmailRepo, facts, emailrepo.NewVectorSyncRepository(db), log)
		a.Orchestrator.SetVectorSyncer(a.Vectors)
	}

	a.Emails = emailusecase.NewEmailUsecase(db, a.EmailRepo, index, facts, stats, a.GraphRepo, a.Orchestrator, a.Vectors, a.Provider, log)
	a.Graph = graphusecase.NewGraphUsecase(db, entities, a.GraphRepo, index, log)

	prompts := promptrepo.NewPromptRepository(db)
	runs := promptrepo.NewRunRepository(db)
	a.Prompts = promptusecase.NewPromptUsecase(prompts, runs, a.EmailRepo, facts, a.Orchestrator, a.Provider,
		promptusecase.Config{MaxScopeEmails: cfg.Scheduler.MaxScopeEmails}, log)
	a.Scheduler = scheduler.NewPromptScheduler(prompts, runs, a.Prompts, cfg.Scheduler.Tick, log)

	if err := a.connect(ctx); err != nil {
		return fail(err)
	}
	return a, nil
}

// storeLevel parses the level copied into the logs table; "off" disables it.
func storeLevel(level string) (zapcore.Level, bool) {
	level = strings.TrimSpace(level)
	if level == "" || strings.EqualFold(level, "off") {
		return zapcore.InfoLevel, false
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel, false
	}
	return lvl, true
}

// vectorStore prefers Chroma and falls back to vectors kept in the database.
func (a *App) vectorStore(ctx context.Context, db *gorm.DB) emailusecase.VectorStore {
	cfg := a.Config
	if cfg.Chroma.BaseURL != "" || cfg.Chroma.APIKey != "" {
		client, err := chroma.NewChromaClient(ctx, cfg.Chroma, cfg.AI.GeminiAPIKey, a.Logger)
		if err == nil {
			a.Logger.Info("Chroma client initialized successfully")
			return emailusecase.NewChromaVectorStore(client)
		}
		a.Logger.Warn("Failed to initialize Chroma client, using local vectors", zap.Error(err))
	}
	if a.Provider == nil {
		a.Logger.Warn("No embedding provider, semantic search will not be available")
		return nil
	}
	return emailusecase.NewLocalVectorStore(emailrepo.NewEmbeddingRepository(db), a.Provider)
}

// connect builds the configured mail connector and, for Gmail with a
// Pub/Sub project, the push notification listener.
func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	attachmentLimit := cfg.Sync.AttachmentKB << 10

	var connector ingest.Connector
	switch cfg.Sync.Connector {
	case "imap":
		connector = imap.NewConnector(imap.Config{
			Addr:                cfg.IMAP.Addr,
			Username:            cfg.IMAP.Username,
			Password:            cfg.IMAP.Password,
			AttachmentTextLimit: attachmentLimit,
		}, a.Logger)
	case "gmail":
		conn, err := gmail.NewConnector(ctx, gmail.Config{
			ClientID:            cfg.Gmail.ClientID,
			ClientSecret:        cfg.Gmail.ClientSecret,
			RefreshToken:        cfg.Gmail.RefreshToken,
			Address:             cfg.Gmail.Address,
			AttachmentTextLimit: attachmentLimit,
		}, a.Logger)
		if err != nil {
			return err
		}
		a.Gmail = conn
		connector = conn
	default:
		a.Logger.Info("No mail connector configured, sync is disabled")
		return nil
	}

	a.Syncer = ingest.NewSyncer(connector, a.Checkpoint, a.Orchestrator, ingest.Config{
		Folders:     cfg.Sync.Folders,
		InitialDays: cfg.Sync.InitialDays,
		Interval:    cfg.Sync.Interval,
		BatchSize:   cfg.Sync.BatchSize,
	}, a.Logger)

	if a.Gmail != nil && cfg.PubSub.ProjectID != "" {
		// Extract short topic name from full resource name if necessary
		topic := cfg.PubSub.Topic
		if parts := strings.Split(topic, "/"); len(parts) > 1 {
			topic = parts[len(parts)-1]
		}
		svc, err := notification.NewService(ctx, cfg.PubSub.ProjectID, topic, cfg.PubSub.CredentialsFile, a.Syncer, a.Logger)
		if err != nil {
			a.Logger.Error("Failed to initialize notification service", zap.Error(err))
		} else {
			a.Notifications = svc
		}
	}
	return nil
}

// Start launches the pipeline workers and, when serve is true, the sync
// loop, the prompt scheduler and the push listener. Background loops stop
// when ctx is cancelled; Close waits for them.
func (a *App) Start(ctx context.Context, serve bool) {
	a.Orchestrator.Start(ctx)
	a.started = true
	if !serve {
		return
	}

	if err := a.Scheduler.Recover(ctx); err != nil {
		a.Logger.Error("Failed to recover interrupted prompt runs", zap.Error(err))
	}
	a.Scheduler.Start(ctx)

	// Emails stored by an earlier process whose extraction never ran.
	go func() {
		if _, err := a.Orchestrator.RequeuePending(ctx, 500); err != nil && ctx.Err() == nil && !errors.Is(err, emailusecase.ErrQueueClosed) {
			a.Logger.Warn("Failed to requeue pending extractions", zap.Error(err))
		}
	}()

	if a.Syncer != nil {
		a.Syncer.Start(ctx)
	}
	if a.Notifications != nil {
		if _, err := a.Gmail.Watch(ctx, a.Notifications.TopicPath()); err != nil {
			a.Logger.Warn("Failed to register Gmail watch", zap.Error(err))
		}
		go func() {
			if err := a.Notifications.Start(ctx); err != nil {
				a.Logger.Error("Notification listener stopped", zap.Error(err))
			}
		}()
	}
	if a.Vectors != nil {
		go func() {
			if n, err := a.Vectors.Backfill(ctx, 500); err != nil {
				a.Logger.Warn("Vector backfill failed", zap.Error(err))
			} else if n > 0 {
				a.Logger.Info("Vector backfill finished", zap.Int("emails", n))
			}
		}()
	}
}

// Export mirrors the entity graph into the configured Neo4j server.
func (a *App) Export(ctx context.Context) (*export.Stats, error) {
	runner, err := export.NewNeo4jRunner(ctx, a.Config.Neo4j)
	if err != nil {
		return nil, err
	}
	defer runner.Close(ctx)
	return export.NewExporter(a.GraphRepo, runner, a.Logger).Export(ctx)
}

// Close stops the background loops, drains the pipeline and closes the store.
func (a *App) Close() error {
	a.Scheduler.Stop()
	if a.Syncer != nil {
		a.Syncer.Stop()
	}
	if a.started {
		a.Orchestrator.Stop()
	}
	a.Prompts.Wait()

	var errs []error
	if a.Notifications != nil {
		errs = append(errs, a.Notifications.Close())
	}
	if a.logStore != nil {
		a.logStore.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
