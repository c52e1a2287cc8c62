package blobstore

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProviderType names a blob storage backend
type ProviderType string

const (
	ProviderLocal  ProviderType = "local"
	ProviderS3     ProviderType = "s3"
	ProviderGCS    ProviderType = "gcs"
	ProviderAzure  ProviderType = "azure"
	ProviderMemory ProviderType = "memory"
)

// Config selects the blob storage provider
type Config struct {
	Provider ProviderType `mapstructure:"provider" yaml:"provider"`
	Local    *LocalConfig `mapstructure:"local" yaml:"local,omitempty"`
	S3       *S3Config    `mapstructure:"s3" yaml:"s3,omitempty"`
	GCS      *GCSConfig   `mapstructure:"gcs" yaml:"gcs,omitempty"`
	Azure    *AzureConfig `mapstructure:"azure" yaml:"azure,omitempty"`
}

// LocalConfig for a directory on disk
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
}

// S3Config for Amazon S3 or an S3-compatible endpoint
type S3Config struct {
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey      string `mapstructure:"secret_key" yaml:"secret_key"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// GCSConfig for a Google Cloud Storage (Firebase Storage) bucket
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// ValidationError describes one invalid configuration field
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects field errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add appends a field error
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: message, Value: value})
}

// HasErrors reports whether any error was added
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// SetDefaults fills in the provider and its defaults
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}

	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil {
			c.Local = &LocalConfig{}
		}
		if c.Local.BasePath == "" {
			c.Local.BasePath = "./backups"
		}
		if c.Local.Permissions == 0 {
			c.Local.Permissions = 0755
		}
	case ProviderS3:
		if c.S3 == nil {
			c.S3 = &S3Config{}
		}
		if c.S3.Region == "" {
			c.S3.Region = "us-east-1"
		}
	case ProviderGCS:
		if c.GCS == nil {
			c.GCS = &GCSConfig{}
		}
		if c.GCS.CredentialsPath == "" {
			c.GCS.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		}
	case ProviderAzure:
		if c.Azure == nil {
			c.Azure = &AzureConfig{}
		}
	}
}

// LoadFromEnvironment overrides fields from TOURAPP_BLOB_* variables
func (c *Config) LoadFromEnvironment() {
	if val := os.Getenv("TOURAPP_BLOB_PROVIDER"); val != "" {
		c.Provider = ProviderType(strings.ToLower(val))
	}

	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil {
			c.Local = &LocalConfig{}
		}
		if val := os.Getenv("TOURAPP_BLOB_LOCAL_PATH"); val != "" {
			c.Local.BasePath = val
		}
		if val := os.Getenv("TOURAPP_BLOB_LOCAL_PERMISSIONS"); val != "" {
			if parsed, err := strconv.ParseUint(val, 8, 32); err == nil {
				c.Local.Permissions = os.FileMode(parsed)
			}
		}
	case ProviderS3:
		if c.S3 == nil {
			c.S3 = &S3Config{}
		}
		if val := os.Getenv("TOURAPP_BLOB_S3_BUCKET"); val != "" {
			c.S3.Bucket = val
		}
		if val := os.Getenv("TOURAPP_BLOB_S3_REGION"); val != "" {
			c.S3.Region = val
		}
		if val := os.Getenv("TOURAPP_BLOB_S3_ACCESS_KEY"); val != "" {
			c.S3.AccessKey = val
		}
		if val := os.Getenv("TOURAPP_BLOB_S3_SECRET_KEY"); val != "" {
			c.S3.SecretKey = val
		}
	case ProviderGCS:
		if c.GCS == nil {
			c.GCS = &GCSConfig{}
		}
		if val := os.Getenv("TOURAPP_BLOB_GCS_BUCKET"); val != "" {
			c.GCS.Bucket = val
		}
	case ProviderAzure:
		if c.Azure == nil {
			c.Azure = &AzureConfig{}
		}
		if val := os.Getenv("TOURAPP_BLOB_AZURE_ACCOUNT_NAME"); val != "" {
			c.Azure.AccountName = val
		}
		if val := os.Getenv("TOURAPP_BLOB_AZURE_ACCOUNT_KEY"); val != "" {
			c.Azure.AccountKey = val
		}
		if val := os.Getenv("TOURAPP_BLOB_AZURE_CONTAINER"); val != "" {
			c.Azure.ContainerName = val
		}
	}
}

// Validate checks the selected provider's settings
func (c *Config) Validate() error {
	var errs ValidationErrors

	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil || c.Local.BasePath == "" {
			errs.Add("local.base_path", "base path is required for local storage", nil)
		}
	case ProviderS3:
		if c.S3 == nil {
			errs.Add("s3", "S3 storage configuration is required", nil)
			break
		}
		if c.S3.Bucket == "" {
			errs.Add("s3.bucket", "S3 bucket name is required", c.S3.Bucket)
		}
		if c.S3.Region == "" {
			errs.Add("s3.region", "S3 region is required", c.S3.Region)
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errs.Add("s3.secret_key", "S3 access key and secret key must be set together", nil)
		}
	case ProviderGCS:
		if c.GCS == nil || c.GCS.Bucket == "" {
			errs.Add("gcs.bucket", "GCS bucket name is required", nil)
		}
	case ProviderAzure:
		if c.Azure == nil {
			errs.Add("azure", "Azure storage configuration is required", nil)
			break
		}
		if c.Azure.AccountName == "" {
			errs.Add("azure.account_name", "Azure account name is required", c.Azure.AccountName)
		}
		if c.Azure.AccountKey == "" {
			errs.Add("azure.account_key", "Azure account key is required", nil)
		}
		if c.Azure.ContainerName == "" {
			errs.Add("azure.container_name", "Azure container name is required", c.Azure.ContainerName)
		}
	case ProviderMemory:
	default:
		names := make([]string, 0, len(SupportedProviders()))
		for _, provider := range SupportedProviders() {
			names = append(names, string(provider))
		}
		errs.Add("provider", "invalid storage provider type, must be one of "+strings.Join(names, ", "), c.Provider)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
