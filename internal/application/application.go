// Package application wires the configured stores and services into a
// running admin console.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/blobstore"
	"tourapp-admin/internal/cache"
	"tourapp-admin/internal/config"
	"tourapp-admin/internal/docstore"
	appErrors "tourapp-admin/internal/errors"
	"tourapp-admin/internal/functions"
	"tourapp-admin/internal/logging"
	"tourapp-admin/internal/realtime"
	"tourapp-admin/internal/server"
	"tourapp-admin/internal/settings"
	ws "tourapp-admin/internal/websocket"
)

// Application owns every long-lived service of the console
type Application struct {
	Config      *config.Config
	Logger      *logging.Logger
	Docs        docstore.Store
	Blobs       blobstore.Store
	Coordinator *backup.Coordinator
	Manager     *backup.Manager
	Sweeper     *backup.RetentionSweeper
	Settings    *settings.Service
	Scheduler   *backup.Scheduler
	Registry    *realtime.Registry
	Presence    *realtime.Presence
	Cache       cache.Cache
	Hub         *ws.Hub
	// Functions is nil when no functions endpoint is configured
	Functions *functions.Client

	shutdownHandler *appErrors.GracefulShutdownHandler
	detach          []func()
}

// Option overrides a component built from configuration
type Option func(*Application)

// WithLogger uses logger instead of one built from the logging section
func WithLogger(logger *logging.Logger) Option {
	return func(a *Application) {
		a.Logger = logger
	}
}

// WithDocStore uses an already opened document store
func WithDocStore(store docstore.Store) Option {
	return func(a *Application) {
		a.Docs = store
	}
}

// WithBlobStore uses an already opened blob store
func WithBlobStore(store blobstore.Store) Option {
	return func(a *Application) {
		a.Blobs = store
	}
}

// New opens the stores and builds the services. Nothing is started until
// Serve or StartSync is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		Config:          cfg,
		shutdownHandler: appErrors.NewGracefulShutdownHandler(),
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.Logger == nil {
		logger, err := logging.NewLogger(cfg.Logging.LoggerConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		app.Logger = logger
	}

	if app.Docs == nil {
		docs, err := docstore.Open(ctx, cfg.DocStore, app.Logger)
		if err != nil {
			return nil, appErrors.WrapError(err, "failed to open document store")
		}
		app.Docs = docs
	}
	if app.Blobs == nil {
		blobs, err := blobstore.New(ctx, cfg.Storage)
		if err != nil {
			app.Docs.Close()
			return nil, appErrors.WrapError(err, "failed to open backup storage")
		}
		app.Blobs = blobs
	}

	var codec *backup.PayloadCodec
	if cfg.Backup.Compression.Algorithm != backup.CompressionTypeNone || cfg.Backup.Encryption.Enabled {
		codec = backup.NewPayloadCodec(cfg.Backup.Compression, &cfg.Backup.Encryption)
	}

	app.Coordinator = backup.NewCoordinator(backup.WithCooldown(cfg.Backup.Cooldown))
	app.Manager = backup.NewManager(app.Docs, app.Blobs, app.Coordinator, codec, app.Logger,
		backup.WithAppVersion(cfg.Backup.AppVersion),
		backup.WithMediaPrefix(cfg.Backup.MediaPrefix),
		backup.WithDefaultSettings(settings.Defaults),
	)
	app.Sweeper = backup.NewRetentionSweeper(app.Manager, app.Logger)
	app.Settings = settings.NewService(app.Docs, app.Logger)
	app.Scheduler = backup.NewScheduler(app.Manager, app.Sweeper, app.Settings, cfg.Backup.SweepSchedule, app.Logger)

	app.Registry = realtime.NewRegistry(app.Docs, app.Logger,
		realtime.WithMaxAttempts(cfg.Sync.MaxAttempts),
		realtime.WithBackoffBase(cfg.Sync.BackoffBase),
		realtime.WithActivityLimit(cfg.Sync.ActivityLimit),
	)
	app.Presence = realtime.NewPresence(app.Logger)
	app.Cache = app.openCache(ctx)
	app.Hub = ws.NewHub(app.Logger)
	app.Scheduler.OnBackup(func(action string, record *backup.BackupRecord, err error) {
		app.Hub.Broadcast(ws.BackupMessage(action, record, err))
	})

	if cfg.Functions.BaseURL != "" {
		client, err := functions.NewClient(cfg.Functions, app.Docs, app.Logger)
		if err != nil {
			app.Docs.Close()
			return nil, err
		}
		app.Functions = client
	}

	return app, nil
}

// openCache connects to Redis when configured and falls back to memory
func (a *Application) openCache(ctx context.Context) cache.Cache {
	if a.Config.Cache.Backend != config.CacheRedis {
		return cache.NewMemoryCache()
	}
	c, err := cache.NewRedisCache(ctx, a.Config.Cache.Redis)
	if err != nil {
		a.Logger.WithField("error", err.Error()).Warn("Redis cache unavailable, using in-process cache")
		return cache.NewMemoryCache()
	}
	return c
}

// StartSync opens one subscription per watched collection and attaches the
// cache, device presence and dashboard hub to the registry
func (a *Application) StartSync(ctx context.Context) error {
	a.detach = append(a.detach,
		cache.Follow(a.Registry, a.Cache, a.Logger),
		a.Presence.Track(a.Registry),
		ws.Bridge(a.Registry, a.Hub),
	)
	return a.Registry.StartAll(ctx, a.Config.Sync.Collections...)
}

// Server builds the admin API on top of the application services
func (a *Application) Server() *server.Server {
	return server.New(server.Deps{
		Manager:   a.Manager,
		Sweeper:   a.Sweeper,
		Scheduler: a.Scheduler,
		Settings:  a.Settings,
		Registry:  a.Registry,
		Presence:  a.Presence,
		Cache:     a.Cache,
		Hub:       a.Hub,
		Functions: a.Functions,
	}, a.Config.Server, a.Logger)
}

// Serve starts sync, the scheduler and the admin API and blocks until ctx is
// canceled or SIGINT/SIGTERM is received
func (a *Application) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.shutdownHandler.RegisterShutdownFunc(func() error {
		a.Logger.Info("Received shutdown signal")
		cancel()
		return nil
	})
	a.shutdownHandler.Start()
	defer a.shutdownHandler.Stop()

	if err := a.StartSync(ctx); err != nil {
		return fmt.Errorf("failed to start sync: %w", err)
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start backup scheduler: %w", err)
	}
	if next, ok := a.Scheduler.Next(); ok {
		a.Logger.WithField("next_backup", next).Info("Automatic backups enabled")
	}

	return a.Server().Run(ctx)
}

// Close stops background work and releases the stores
func (a *Application) Close() error {
	a.Scheduler.Stop()
	for i := len(a.detach) - 1; i >= 0; i-- {
		a.detach[i]()
	}
	a.detach = nil
	a.Registry.StopAll()

	var errs []error
	if err := a.Cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := a.Docs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("document store: %w", err))
	}
	return errors.Join(errs...)
}

// ReportError writes a user-facing message for err, followed by hints for
// the error category
func ReportError(w io.Writer, err error) {
	if err == nil {
		return
	}

	appErr := appErrors.NewErrorClassifier().ClassifyError(err)
	if appErr.Type == appErrors.ErrorTypeUnknown {
		fmt.Fprintf(w, "Error: %v\n", err)
	} else {
		fmt.Fprintf(w, "Error: %s\n", appErrors.FormatUserError(appErr))
		if appErr.Cause != nil {
			fmt.Fprintf(w, "Cause: %v\n", appErr.Cause)
		}
	}

	hints := troubleshootingHints(appErr.Type)
	if len(hints) == 0 {
		return
	}
	fmt.Fprintf(w, "\nTroubleshooting hints:\n")
	for _, hint := range hints {
		fmt.Fprintf(w, "- %s\n", hint)
	}
}

func troubleshootingHints(errorType appErrors.ErrorType) []string {
	switch errorType {
	case appErrors.ErrorTypeConnection:
		return []string{
			"Check that the document store and storage endpoints are reachable",
			"Verify the project id, host and port in the configuration",
		}
	case appErrors.ErrorTypePermission:
		return []string{
			"Verify the service account or database credentials",
			"Check that the credentials grant access to the configured project or bucket",
		}
	case appErrors.ErrorTypeValidation:
		return []string{
			"Run `tourapp-admin config validate` to check the configuration",
			"Review the command line arguments",
		}
	case appErrors.ErrorTypeTimeout:
		return []string{
			"The backend may be slow or unreachable",
			"Retry the operation or increase the configured timeout",
		}
	case appErrors.ErrorTypeStorage:
		return []string{
			"Check free space and permissions of the backup storage",
		}
	}
	return nil
}
