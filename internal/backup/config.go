package backup

import (
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	KeySourceEnv        = "env"
	KeySourceFile       = "file"
	KeySourcePassphrase = "passphrase"

	DefaultCooldown      = 15 * time.Second
	DefaultSweepSchedule = "@daily"
)

// Config represents the backup subsystem configuration
type Config struct {
	Compression   CompressionConfig `mapstructure:"compression" yaml:"compression"`
	Encryption    EncryptionConfig  `mapstructure:"encryption" yaml:"encryption"`
	Cooldown      time.Duration     `mapstructure:"cooldown" yaml:"cooldown"`
	AppVersion    string            `mapstructure:"app_version" yaml:"app_version"`
	SweepSchedule string            `mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
	MediaPrefix   string            `mapstructure:"media_prefix" yaml:"media_prefix"`
}

// CompressionConfig defines payload compression settings
type CompressionConfig struct {
	Algorithm CompressionType `mapstructure:"algorithm" yaml:"algorithm"`
	Level     int             `mapstructure:"level" yaml:"level"`
}

// EncryptionConfig defines payload encryption settings
type EncryptionConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	KeySource  string `mapstructure:"key_source" yaml:"key_source"` // "env", "file", "passphrase"
	KeyPath    string `mapstructure:"key_path" yaml:"key_path"`
	KeyEnvVar  string `mapstructure:"key_env_var" yaml:"key_env_var"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`

	// KeyRetriever overrides key lookup, used by tests and embedding programs
	KeyRetriever func() ([]byte, error) `mapstructure:"-" yaml:"-"`
}

// SetDefaults fills unset values
func (c *Config) SetDefaults() {
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.AppVersion == "" {
		c.AppVersion = DefaultAppVersion
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = DefaultSweepSchedule
	}
	c.Compression.SetDefaults()
	c.Encryption.SetDefaults()
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errors ValidationErrors

	if c.Cooldown < 0 {
		errors.Add("cooldown", "cooldown cannot be negative", c.Cooldown)
	}
	if err := c.Compression.Validate(); err != nil {
		if verrs, ok := err.(ValidationErrors); ok {
			errors = append(errors, verrs...)
		}
	}
	if err := c.Encryption.Validate(); err != nil {
		if verrs, ok := err.(ValidationErrors); ok {
			errors = append(errors, verrs...)
		}
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// LoadFromEnvironment overrides values from TOURAPP_BACKUP_* variables
func (c *Config) LoadFromEnvironment() {
	if val := os.Getenv("TOURAPP_BACKUP_COOLDOWN"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			c.Cooldown = parsed
		}
	}
	if val := os.Getenv("TOURAPP_BACKUP_SWEEP_SCHEDULE"); val != "" {
		c.SweepSchedule = val
	}
	c.Compression.LoadFromEnvironment()
	c.Encryption.LoadFromEnvironment()
}

// SetDefaults sets default values for compression configuration
func (cc *CompressionConfig) SetDefaults() {
	if cc.Algorithm == "" {
		cc.Algorithm = CompressionTypeNone
	}
}

// Validate validates the CompressionConfig
func (cc *CompressionConfig) Validate() error {
	var errors ValidationErrors

	if supported := SupportedAlgorithms(); !slices.Contains(supported, cc.Algorithm) {
		names := make([]string, len(supported))
		for i, algorithm := range supported {
			names[i] = string(algorithm)
		}
		errors.Add("compression.algorithm", "invalid compression algorithm, must be one of "+strings.Join(names, ", "), cc.Algorithm)
	}
	if cc.Level < 0 || cc.Level > 22 {
		errors.Add("compression.level", "compression level must be between 0 and 22", cc.Level)
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// LoadFromEnvironment loads compression configuration from environment variables
func (cc *CompressionConfig) LoadFromEnvironment() {
	if val := os.Getenv("TOURAPP_BACKUP_COMPRESSION"); val != "" {
		cc.Algorithm = CompressionType(strings.ToLower(val))
	}
	if val := os.Getenv("TOURAPP_BACKUP_COMPRESSION_LEVEL"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			cc.Level = parsed
		}
	}
}

// SetDefaults sets default values for encryption configuration
func (ec *EncryptionConfig) SetDefaults() {
	if ec.Enabled && ec.KeySource == "" {
		ec.KeySource = KeySourceEnv
	}
	if ec.KeySource == KeySourceEnv && ec.KeyEnvVar == "" {
		ec.KeyEnvVar = "TOURAPP_BACKUP_KEY"
	}
}

// Validate validates the EncryptionConfig
func (ec *EncryptionConfig) Validate() error {
	var errors ValidationErrors

	if ec.Enabled && ec.KeyRetriever == nil {
		switch ec.KeySource {
		case KeySourceEnv:
			if ec.KeyEnvVar == "" {
				errors.Add("encryption.key_env_var", "key environment variable name is required for env key source", ec.KeyEnvVar)
			}
		case KeySourceFile:
			if ec.KeyPath == "" {
				errors.Add("encryption.key_path", "key file path is required for file key source", ec.KeyPath)
			}
		case KeySourcePassphrase:
			if len(ec.Passphrase) < 12 {
				errors.Add("encryption.passphrase", "passphrase must be at least 12 characters", nil)
			}
		default:
			errors.Add("encryption.key_source", "invalid key source, must be 'env', 'file', or 'passphrase'", ec.KeySource)
		}
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// LoadFromEnvironment loads encryption configuration from environment variables
func (ec *EncryptionConfig) LoadFromEnvironment() {
	if val := os.Getenv("TOURAPP_BACKUP_ENCRYPTION_ENABLED"); val != "" {
		ec.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("TOURAPP_BACKUP_ENCRYPTION_KEY_SOURCE"); val != "" {
		ec.KeySource = val
	}
	if val := os.Getenv("TOURAPP_BACKUP_ENCRYPTION_KEY_PATH"); val != "" {
		ec.KeyPath = val
	}
	if val := os.Getenv("TOURAPP_BACKUP_ENCRYPTION_PASSPHRASE"); val != "" {
		ec.Passphrase = val
	}
}

// UsesPassphrase reports whether keys are derived per payload from a passphrase
func (ec *EncryptionConfig) UsesPassphrase() bool {
	return ec.KeyRetriever == nil && ec.KeySource == KeySourcePassphrase
}

// GetEncryptionKey retrieves the raw 32-byte key for env and file sources
func (ec *EncryptionConfig) GetEncryptionKey() ([]byte, error) {
	if !ec.Enabled {
		return nil, nil
	}

	if ec.KeyRetriever != nil {
		return ec.KeyRetriever()
	}

	switch ec.KeySource {
	case KeySourceEnv:
		keyStr := os.Getenv(ec.KeyEnvVar)
		if keyStr == "" {
			return nil, fmt.Errorf("encryption key not found in environment variable %s", ec.KeyEnvVar)
		}
		key, err := hex.DecodeString(strings.TrimSpace(keyStr))
		if err != nil {
			return nil, fmt.Errorf("failed to decode hex key from environment variable: %w", err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d bytes", len(key))
		}
		return key, nil

	case KeySourceFile:
		keyData, err := os.ReadFile(ec.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read encryption key from file %s: %w", ec.KeyPath, err)
		}
		if len(keyData) != keySize {
			return nil, fmt.Errorf("encryption key file must contain 32 bytes for AES-256, got %d bytes", len(keyData))
		}
		return keyData, nil

	default:
		return nil, fmt.Errorf("key source %q does not provide a raw key", ec.KeySource)
	}
}
