package blobstore

import (
	"context"
)

// New creates the configured provider
func New(ctx context.Context, config Config) (Store, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Provider {
	case ProviderS3:
		return NewS3Store(config.S3)
	case ProviderGCS:
		return NewGCSStore(ctx, config.GCS)
	case ProviderAzure:
		return NewAzureStore(config.Azure)
	case ProviderMemory:
		return NewMemoryStore(), nil
	default:
		return NewLocalStore(config.Local)
	}
}

// SupportedProviders lists the provider names accepted in configuration
func SupportedProviders() []ProviderType {
	return []ProviderType{ProviderLocal, ProviderS3, ProviderGCS, ProviderAzure, ProviderMemory}
}
