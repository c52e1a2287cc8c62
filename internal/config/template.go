package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Template is the commented sample written by `config init`
const Template = `# TourApp admin console configuration

# Document database holding users, trips, messages, locations and settings
docstore:
  backend: firestore          # firestore, mysql or memory
  firestore:
    project_id: tourapp-prod
    credentials_file: ""      # defaults to GOOGLE_APPLICATION_CREDENTIALS
    database_id: ""
  # mysql:
  #   host: localhost
  #   port: 3306
  #   username: tourapp
  #   password: ""            # prefer TOURAPP_DOCSTORE_MYSQL_PASSWORD
  #   database: tourapp
  #   poll_interval: 2s

# Where backup files are stored
storage:
  provider: local             # local, s3, gcs, azure or memory
  local:
    base_path: ./backups
  # gcs:
  #   bucket: tourapp-prod.appspot.com
  #   credentials_path: ""
  # s3:
  #   bucket: tourapp-backups
  #   region: us-east-1
  # azure:
  #   account_name: ""
  #   account_key: ""
  #   container_name: backups

backup:
  cooldown: 15s               # minimum gap between two backups
  sweep_schedule: "@daily"    # cron spec of the retention sweep
  media_prefix: ""            # storage prefix listed into full backups
  compression:
    algorithm: none           # none, gzip, lz4 or zstd
    level: 0
  encryption:
    enabled: false
    key_source: env           # env, file or passphrase
    key_env_var: TOURAPP_BACKUP_KEY

server:
  addr: ":8080"
  auth_token: ""              # bearer token required on /api and /ws when set
  allowed_origins: []
  max_upload_bytes: 67108864
  shutdown_timeout: 10s

# HTTPS functions invoked for device and user actions
functions:
  base_url: ""
  token: ""
  timeout: 30s
  actor: Admin

cache:
  backend: memory             # memory or redis
  redis:
    addr: localhost:6379
    db: 0
    key_prefix: "tourapp:cache:"

sync:
  collections: [users, trips, messages, locations, settings, devices]
  max_attempts: 5
  backoff_base: 2s
  activity_limit: 100

logging:
  level: normal               # quiet, normal, verbose or debug
  format: text                # text or json
  file: ""

display:
  color_enabled: true
  theme: dark                 # dark, light, high-contrast or auto
  output_format: table        # table, json, yaml or compact
  use_icons: true
  interactive: true
  table_style: default        # default, rounded, border or minimal
  max_table_width: 120
`

// WriteTemplate writes Template to path. An existing file is kept as
// path.backup when force is set and refused otherwise.
func WriteTemplate(path string, force bool) error {
	if _, err := os.Stat(path); err == nil {
		if !force {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing configuration: %w", err)
		}
		if err := os.WriteFile(path+".backup", data, 0600); err != nil {
			return fmt.Errorf("failed to create backup of configuration file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Template), 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// EnvironmentVariables lists the override variable of every known key
func EnvironmentVariables() []string {
	v := viper.New()
	RegisterDefaults(v)

	keys := v.AllKeys()
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	sort.Strings(names)
	return names
}

const secretMask = "********"

// Redacted returns a copy of c with credentials masked
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = secretMask
		}
	}

	mask(&c.DocStore.MySQL.Password)
	mask(&c.Backup.Encryption.Passphrase)
	mask(&c.Server.AuthToken)
	mask(&c.Functions.Token)
	mask(&c.Cache.Redis.Password)
	if c.Storage.S3 != nil {
		s3 := *c.Storage.S3
		mask(&s3.SecretKey)
		c.Storage.S3 = &s3
	}
	if c.Storage.Azure != nil {
		azure := *c.Storage.Azure
		mask(&azure.AccountKey)
		c.Storage.Azure = &azure
	}
	return c
}

// Dump renders the effective configuration as YAML with credentials masked
func (c *Config) Dump() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	return data, nil
}
