// Package server exposes the admin console over HTTP: sync health, backup
// management, settings and device actions, plus the dashboard websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/cache"
	"tourapp-admin/internal/functions"
	"tourapp-admin/internal/logging"
	"tourapp-admin/internal/realtime"
	"tourapp-admin/internal/settings"
	ws "tourapp-admin/internal/websocket"
)

// Config holds the HTTP listener settings
type Config struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	AuthToken       string        `mapstructure:"auth_token" yaml:"auth_token"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 64 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Deps are the services the handlers call. Functions may be nil, in which
// case device and user actions answer 503.
type Deps struct {
	Manager   *backup.Manager
	Sweeper   *backup.RetentionSweeper
	Scheduler *backup.Scheduler
	Settings  *settings.Service
	Registry  *realtime.Registry
	Presence  *realtime.Presence
	Cache     cache.Cache
	Hub       *ws.Hub
	Functions *functions.Client
}

// Server routes API requests to the services in Deps
type Server struct {
	deps   Deps
	config Config
	logger *logging.Logger
}

// New creates a server; call Router or Run to serve it
func New(deps Deps, config Config, logger *logging.Logger) *Server {
	config.SetDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if deps.Hub == nil {
		deps.Hub = ws.NewHub(logger)
	}
	return &Server{deps: deps, config: config, logger: logger}
}

// Hub returns the dashboard hub
func (s *Server) Hub() *ws.Hub {
	return s.deps.Hub
}

// Router builds the handler tree
func (s *Server) Router() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET /api/sync/status", s.syncStatus)
	api.HandleFunc("GET /api/sync/activity", s.syncActivity)
	api.HandleFunc("POST /api/sync/{collection}/resync", s.resync)
	api.HandleFunc("GET /api/stats", s.stats)

	api.HandleFunc("GET /api/backups", s.listBackups)
	api.HandleFunc("POST /api/backups", s.createBackup)
	api.HandleFunc("POST /api/backups/sweep", s.sweep)
	api.HandleFunc("GET /api/backups/{id}", s.getBackup)
	api.HandleFunc("GET /api/backups/{id}/download", s.downloadBackup)
	api.HandleFunc("DELETE /api/backups/{id}", s.deleteBackup)
	api.HandleFunc("POST /api/backups/{id}/restore", s.restoreBackup)
	api.HandleFunc("POST /api/restore", s.restoreUpload)

	api.HandleFunc("GET /api/settings", s.getSettings)
	api.HandleFunc("PUT /api/settings/backup", s.putBackupSettings)
	api.HandleFunc("PUT /api/settings/{key}", s.putSetting)
	api.HandleFunc("POST /api/settings/reset", s.resetSettings)

	api.HandleFunc("GET /api/devices", s.listDevices)
	api.HandleFunc("POST /api/devices/sync", s.forceSyncAll)
	api.HandleFunc("POST /api/devices/{id}/sync", s.forceSyncDevice)
	api.HandleFunc("POST /api/devices/{id}/logout", s.forceLogout)
	api.HandleFunc("DELETE /api/users/{id}", s.deleteUser)
	api.HandleFunc("POST /api/notifications", s.sendNotification)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("GET /ws", s.requireToken(ws.Handler(s.deps.Hub, s.config.AllowedOrigins)))
	root.Handle("/api/", s.requireToken(api))

	return s.logRequests(root)
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("Admin API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin API stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin API shutdown: %w", err)
	}
	return nil
}
