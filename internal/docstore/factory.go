package docstore

import (
	"context"
	"fmt"

	"tourapp-admin/internal/logging"
)

// Backend names a Store implementation
type Backend string

const (
	BackendFirestore Backend = "firestore"
	BackendMySQL     Backend = "mysql"
	BackendMemory    Backend = "memory"
)

// Config selects and configures the document store
type Config struct {
	Backend   Backend         `mapstructure:"backend" yaml:"backend"`
	Firestore FirestoreConfig `mapstructure:"firestore" yaml:"firestore"`
	MySQL     MySQLConfig     `mapstructure:"mysql" yaml:"mysql"`
}

// Validate checks the settings of the selected backend only
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFirestore:
		return c.Firestore.Validate()
	case BackendMySQL:
		c.MySQL.SetDefaults()
		return c.MySQL.Validate()
	case BackendMemory:
		return nil
	default:
		return fmt.Errorf("unsupported document store backend: %q", c.Backend)
	}
}

// Open builds the configured Store
func Open(ctx context.Context, config Config, logger *logging.Logger) (Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Backend {
	case BackendFirestore:
		return NewFirestoreStore(ctx, config.Firestore)
	case BackendMySQL:
		return OpenMySQL(ctx, config.MySQL, logger)
	default:
		return NewMemoryStore(), nil
	}
}
