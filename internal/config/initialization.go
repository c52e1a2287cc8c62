package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/blobstore"
	"tourapp-admin/internal/cache"
	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/logging"
)

// Component health values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusSkipped   = "skipped"
)

// HealthCheckResult is the outcome of `config validate --check`
type HealthCheckResult struct {
	Timestamp       time.Time         `json:"timestamp"`
	OverallHealth   string            `json:"overallHealth"`
	ComponentStatus map[string]string `json:"componentStatus"`
	Issues          []string          `json:"issues"`
	Recommendations []string          `json:"recommendations"`
}

func (r *HealthCheckResult) fail(component, issue string) {
	r.ComponentStatus[component] = StatusUnhealthy
	r.Issues = append(r.Issues, issue)
	r.OverallHealth = StatusUnhealthy
}

func (r *HealthCheckResult) warn(component, issue string) {
	r.ComponentStatus[component] = StatusDegraded
	r.Issues = append(r.Issues, issue)
	if r.OverallHealth == StatusHealthy {
		r.OverallHealth = StatusDegraded
	}
}

// Initializer checks that the configured backends are reachable before the
// console is started
type Initializer struct {
	config *Config
	logger *logging.Logger
}

// NewInitializer creates an initializer for config
func NewInitializer(config *Config, logger *logging.Logger) *Initializer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Initializer{config: config, logger: logger}
}

// RunHealthCheck validates the configuration, then opens each backend once
func (in *Initializer) RunHealthCheck(ctx context.Context) *HealthCheckResult {
	result := &HealthCheckResult{
		Timestamp:       time.Now(),
		OverallHealth:   StatusHealthy,
		ComponentStatus: make(map[string]string),
		Issues:          []string{},
		Recommendations: []string{},
	}

	if err := in.config.Validate(); err != nil {
		result.fail("configuration", err.Error())
		return result
	}
	result.ComponentStatus["configuration"] = StatusHealthy

	in.checkDocStore(ctx, result)
	in.checkStorage(ctx, result)
	in.checkEncryption(result)
	in.checkCache(ctx, result)
	in.checkFunctions(result)
	in.generateRecommendations(result)

	in.logger.WithFields(map[string]interface{}{
		"health": result.OverallHealth,
		"issues": len(result.Issues),
	}).Debug("Health check completed")
	return result
}

func (in *Initializer) checkDocStore(ctx context.Context, result *HealthCheckResult) {
	store, err := docstore.Open(ctx, in.config.DocStore, in.logger)
	if err != nil {
		result.fail("docstore", fmt.Sprintf("cannot open %s document store: %v", in.config.DocStore.Backend, err))
		return
	}
	defer store.Close()

	query := docstore.Query{Collection: backup.CollectionSettings, Limit: 1}
	if _, err := store.Query(ctx, query); err != nil {
		result.fail("docstore", fmt.Sprintf("document store query failed: %v", err))
		return
	}
	result.ComponentStatus["docstore"] = StatusHealthy
}

func (in *Initializer) checkStorage(ctx context.Context, result *HealthCheckResult) {
	store, err := blobstore.New(ctx, in.config.Storage)
	if err != nil {
		result.fail("storage", fmt.Sprintf("cannot open %s storage: %v", in.config.Storage.Provider, err))
		return
	}
	if err := store.HealthCheck(ctx); err != nil {
		result.fail("storage", fmt.Sprintf("storage health check failed: %v", err))
		return
	}
	result.ComponentStatus["storage"] = StatusHealthy

	if in.config.Storage.Provider == blobstore.ProviderGCS && in.config.Storage.GCS.CredentialsPath != "" {
		if _, err := os.Stat(in.config.Storage.GCS.CredentialsPath); err != nil {
			result.warn("storage", fmt.Sprintf("GCS credentials file not readable: %s", in.config.Storage.GCS.CredentialsPath))
		}
	}
}

func (in *Initializer) checkEncryption(result *HealthCheckResult) {
	enc := in.config.Backup.Encryption
	if !enc.Enabled {
		result.ComponentStatus["encryption"] = StatusSkipped
		return
	}
	if enc.UsesPassphrase() {
		result.ComponentStatus["encryption"] = StatusHealthy
		return
	}
	if _, err := enc.GetEncryptionKey(); err != nil {
		result.fail("encryption", err.Error())
		if enc.KeySource == backup.KeySourceEnv {
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("Generate a key with `tourapp-admin backup keygen` and export %s", enc.KeyEnvVar))
		}
		return
	}
	result.ComponentStatus["encryption"] = StatusHealthy
}

func (in *Initializer) checkCache(ctx context.Context, result *HealthCheckResult) {
	if in.config.Cache.Backend != CacheRedis {
		result.ComponentStatus["cache"] = StatusHealthy
		return
	}
	c, err := cache.NewRedisCache(ctx, in.config.Cache.Redis)
	if err != nil {
		result.warn("cache", fmt.Sprintf("redis unavailable, the in-process cache will be used: %v", err))
		return
	}
	c.Close()
	result.ComponentStatus["cache"] = StatusHealthy
}

func (in *Initializer) checkFunctions(result *HealthCheckResult) {
	if in.config.Functions.BaseURL == "" {
		result.warn("functions", "functions.base_url is not set, device and user actions are disabled")
		return
	}
	result.ComponentStatus["functions"] = StatusHealthy
}

func (in *Initializer) generateRecommendations(result *HealthCheckResult) {
	if !in.config.Backup.Encryption.Enabled {
		result.Recommendations = append(result.Recommendations,
			"Consider enabling encryption for backups that contain user data")
	}
	if in.config.Server.AuthToken == "" {
		result.Recommendations = append(result.Recommendations,
			"Set server.auth_token before exposing the admin API beyond localhost")
	}
	if in.config.Storage.Provider == blobstore.ProviderMemory || in.config.DocStore.Backend == docstore.BackendMemory {
		result.Recommendations = append(result.Recommendations,
			"Memory backends lose all data on exit and are meant for testing")
	}
}
