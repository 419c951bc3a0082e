package app

import (
	"context"
	"fmt"

	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/repositories"
	"github.com/upb/classifier-control-plane/repositories/postgres"
	"github.com/upb/classifier-control-plane/services/iam"
	"github.com/upb/classifier-control-plane/services/images"
	"github.com/upb/classifier-control-plane/services/notify"
	"github.com/upb/classifier-control-plane/services/objectstore"
	"github.com/upb/classifier-control-plane/services/providers"
	"github.com/upb/classifier-control-plane/services/providers/watson"
	"github.com/upb/classifier-control-plane/services/training"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repositories *repositories.Repositories
	TxManager    repositories.TransactionManager

	// External services
	ImageStore images.ImageStore
	Notifier   notify.Notifier
	Tokens     *iam.TokenCache
	Backend    providers.Backend

	// Training
	Assembler *images.Assembler
	Redeleter *training.Redeleter
	Lifecycle *training.Lifecycle
	Trainer   *training.Trainer

	// Readiness checks beyond the database, by name
	HealthChecks map[string]func(ctx context.Context) error
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if !cfg.IsProduction() {
		if err := factory.GetDB().InitSchema(ctx); err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	store, err := objectstore.NewS3Store(ctx, cfg.Storage, logger)
	if err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}

	deps := Wire(cfg, factory, store, logger)
	deps.HealthChecks["object_storage"] = store.HealthCheck

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// Wire builds the service graph on top of an open database and image store
func Wire(cfg *config.Config, factory *postgres.RepositoryFactory, store images.ImageStore, logger *zap.Logger) *Dependencies {
	d := &Dependencies{
		Config:       cfg,
		Logger:       logger,
		RepoFactory:  factory,
		DB:           factory.GetDB(),
		ImageStore:   store,
		HealthChecks: make(map[string]func(ctx context.Context) error),
	}

	d.initRepositories()
	d.initProviders(cfg)
	d.initTraining(cfg)

	return d
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repositories = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initProviders wires the identity exchange, the token cache and the learning backend
func (d *Dependencies) initProviders(cfg *config.Config) {
	d.Notifier = notify.New(cfg.Alerting, d.Logger)

	exchanger := iam.NewHTTPExchanger(cfg.Identity, d.Logger)
	d.Tokens = iam.NewTokenCache(exchanger, cfg.Identity, d.Logger)
	d.Tokens.Init()

	d.Backend = watson.NewAdapter(cfg.VisualRecognition, d.Tokens, d.Logger)

	d.Logger.Info("visual recognition backend initialized",
		zap.String("api_version", cfg.VisualRecognition.APIVersion))
}

// initTraining wires the trainer and the lifecycle manager. The lifecycle
// removes a project's previous classifiers on behalf of the trainer.
func (d *Dependencies) initTraining(cfg *config.Config) {
	d.Assembler = images.NewAssembler(cfg.Training, cfg.VisualRecognition.ReadTimeout, d.ImageStore, d.Logger)
	d.Redeleter = training.NewRedeleter(cfg.VisualRecognition, d.Backend, d.Notifier, d.Logger)

	d.Lifecycle = training.NewLifecycle(d.Repositories, d.TxManager, d.Backend, d.Redeleter, cfg.Cleanup, d.Logger)
	d.Trainer = training.NewTrainer(
		d.Repositories,
		d.TxManager,
		d.Assembler,
		d.Backend,
		d.Lifecycle,
		d.Notifier,
		cfg.VisualRecognition,
		d.Logger,
	)
	d.Lifecycle.SetTrainer(d.Trainer)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Deletes still waiting on their delay run now rather than being lost
	if d.Redeleter != nil {
		if err := d.Redeleter.Flush(ctx); err != nil {
			d.Logger.Warn("classifier deletes still pending at shutdown",
				zap.Int("pending", d.Redeleter.Pending()),
				zap.Error(err))
		}
	}

	if slack, ok := d.Notifier.(*notify.SlackNotifier); ok {
		done := make(chan struct{})
		go func() {
			slack.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			d.Logger.Warn("alerts still in flight at shutdown")
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
