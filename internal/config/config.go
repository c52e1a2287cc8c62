// Package config assembles the admin console configuration from a YAML file,
// TOURAPP_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/blobstore"
	"tourapp-admin/internal/cache"
	"tourapp-admin/internal/display"
	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/functions"
	"tourapp-admin/internal/logging"
	"tourapp-admin/internal/realtime"
	"tourapp-admin/internal/server"
)

const (
	// EnvPrefix is prepended to every environment override
	EnvPrefix = "TOURAPP"
	// FileName is the config file looked up in $HOME and the working directory
	FileName = ".tourapp-admin"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the root configuration of the admin console
type Config struct {
	DocStore  docstore.Config       `mapstructure:"docstore" yaml:"docstore"`
	Storage   blobstore.Config      `mapstructure:"storage" yaml:"storage"`
	Backup    backup.Config         `mapstructure:"backup" yaml:"backup"`
	Server    server.Config         `mapstructure:"server" yaml:"server"`
	Functions functions.Config      `mapstructure:"functions" yaml:"functions"`
	Cache     CacheConfig           `mapstructure:"cache" yaml:"cache"`
	Sync      SyncConfig            `mapstructure:"sync" yaml:"sync"`
	Logging   LoggingConfig         `mapstructure:"logging" yaml:"logging"`
	Display   display.DisplayConfig `mapstructure:"display" yaml:"display"`
}

// CacheConfig selects where mirrored collections are kept
type CacheConfig struct {
	Backend string            `mapstructure:"backend" yaml:"backend"`
	Redis   cache.RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// SyncConfig tunes the realtime subscriptions
type SyncConfig struct {
	Collections   []string      `mapstructure:"collections" yaml:"collections"`
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	ActivityLimit int           `mapstructure:"activity_limit" yaml:"activity_limit"`
}

// LoggingConfig selects log verbosity and destination
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// LoggerConfig converts to the logging package configuration
func (c LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Level:   logging.LogLevel(c.Level),
		Output:  os.Stderr,
		Format:  c.Format,
		LogFile: c.File,
	}
}

// Setup points v at path, or at ~/.tourapp-admin.yaml and ./.tourapp-admin.yaml
// when path is empty, and enables TOURAPP_* overrides
func Setup(v *viper.Viper, path string) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(FileName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	RegisterDefaults(v)
}

// ReadInConfig reads the configured file. A missing file is not an error
// unless it was named explicitly.
func ReadInConfig(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// RegisterDefaults declares every key with its default so that environment
// overrides are seen by Unmarshal
func RegisterDefaults(v *viper.Viper) {
	v.SetDefault("docstore.backend", string(docstore.BackendFirestore))
	v.SetDefault("docstore.firestore.project_id", "")
	v.SetDefault("docstore.firestore.credentials_file", "")
	v.SetDefault("docstore.firestore.database_id", "")
	v.SetDefault("docstore.mysql.host", "localhost")
	v.SetDefault("docstore.mysql.port", 3306)
	v.SetDefault("docstore.mysql.username", "")
	v.SetDefault("docstore.mysql.password", "")
	v.SetDefault("docstore.mysql.database", "tourapp")
	v.SetDefault("docstore.mysql.timeout", "30s")
	v.SetDefault("docstore.mysql.poll_interval", "2s")

	v.SetDefault("storage.provider", string(blobstore.ProviderLocal))
	v.SetDefault("storage.local.base_path", "./backups")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.credentials_path", "")
	v.SetDefault("storage.azure.account_name", "")
	v.SetDefault("storage.azure.account_key", "")
	v.SetDefault("storage.azure.container_name", "")

	v.SetDefault("backup.cooldown", backup.DefaultCooldown.String())
	v.SetDefault("backup.app_version", backup.DefaultAppVersion)
	v.SetDefault("backup.sweep_schedule", backup.DefaultSweepSchedule)
	v.SetDefault("backup.media_prefix", "")
	v.SetDefault("backup.compression.algorithm", string(backup.CompressionTypeNone))
	v.SetDefault("backup.compression.level", 0)
	v.SetDefault("backup.encryption.enabled", false)
	v.SetDefault("backup.encryption.key_source", backup.KeySourceEnv)
	v.SetDefault("backup.encryption.key_env_var", "TOURAPP_BACKUP_KEY")
	v.SetDefault("backup.encryption.key_path", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.max_upload_bytes", 64<<20)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("functions.base_url", "")
	v.SetDefault("functions.token", "")
	v.SetDefault("functions.timeout", "30s")
	v.SetDefault("functions.actor", "Admin")

	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", cache.DefaultKeyPrefix)

	v.SetDefault("sync.collections", realtime.DefaultCollections)
	v.SetDefault("sync.max_attempts", realtime.DefaultMaxAttempts)
	v.SetDefault("sync.backoff_base", realtime.DefaultBackoffBase.String())
	v.SetDefault("sync.activity_limit", realtime.DefaultActivityLimit)

	v.SetDefault("logging.level", string(logging.LogLevelNormal))
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	defaults := display.DefaultDisplayConfig()
	v.SetDefault("display.color_enabled", defaults.ColorEnabled)
	v.SetDefault("display.theme", defaults.Theme)
	v.SetDefault("display.output_format", defaults.OutputFormat)
	v.SetDefault("display.use_icons", defaults.UseIcons)
	v.SetDefault("display.interactive", defaults.InteractiveMode)
	v.SetDefault("display.table_style", defaults.TableStyle)
	v.SetDefault("display.max_table_width", defaults.MaxTableWidth)
}

// Load decodes v into a Config with defaults applied. It does not validate.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Backup.LoadFromEnvironment()
	cfg.Storage.LoadFromEnvironment()
	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills values left empty by the file and environment
func (c *Config) SetDefaults() {
	c.Storage.SetDefaults()
	c.Backup.SetDefaults()
	c.Server.SetDefaults()
	c.Display.SetDefaults()

	if c.DocStore.Backend == "" {
		c.DocStore.Backend = docstore.BackendFirestore
	}
	if c.DocStore.Backend == docstore.BackendMySQL {
		c.DocStore.MySQL.SetDefaults()
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheMemory
	}
	if len(c.Sync.Collections) == 0 {
		c.Sync.Collections = append([]string(nil), realtime.DefaultCollections...)
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = realtime.DefaultMaxAttempts
	}
	if c.Sync.BackoffBase == 0 {
		c.Sync.BackoffBase = realtime.DefaultBackoffBase
	}
	if c.Sync.ActivityLimit == 0 {
		c.Sync.ActivityLimit = realtime.DefaultActivityLimit
	}
	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	add("docstore", c.DocStore.Validate())
	add("storage", c.Storage.Validate())
	add("backup", c.Backup.Validate())
	add("display", c.Display.Validate())
	if c.Functions.BaseURL != "" {
		add("functions", c.Functions.Validate())
	}
	if c.Server.AuthToken != "" && len(c.Server.AuthToken) < 16 {
		add("server", errors.New("auth_token must be at least 16 characters"))
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			add("cache", errors.New("redis addr is required for the redis backend"))
		}
	default:
		add("cache", fmt.Errorf("unsupported cache backend %q", c.Cache.Backend))
	}

	if len(c.Sync.Collections) == 0 {
		add("sync", errors.New("at least one collection must be watched"))
	}
	if c.Sync.MaxAttempts < 1 {
		add("sync", errors.New("max_attempts must be at least 1"))
	}
	if c.Sync.BackoffBase < 0 {
		add("sync", errors.New("backoff_base cannot be negative"))
	}
	if c.Sync.ActivityLimit < 1 {
		add("sync", errors.New("activity_limit must be at least 1"))
	}

	switch logging.LogLevel(c.Logging.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		add("logging", fmt.Errorf("invalid level %q, must be quiet, normal, verbose or debug", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		add("logging", fmt.Errorf("invalid format %q, must be text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// DefaultPath is where `config init` writes when no path is given
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return FileName + ".yaml"
	}
	return filepath.Join(home, FileName+".yaml")
}
