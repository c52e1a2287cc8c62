package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tourapp-admin/internal/backup"
	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/logging"
)

const (
	Collection      = "settings"
	DocumentID      = "system"
	DocumentVersion = "1.0"
)

// Service reads and writes settings/system
type Service struct {
	docs   docstore.Store
	logger *logging.Logger
	now    func() time.Time
}

// NewService creates a settings service over docs
func NewService(docs docstore.Store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		docs:   docs,
		logger: logger,
		now:    time.Now,
	}
}

// Load returns the stored document merged over Defaults. A missing document
// yields the defaults.
func (s *Service) Load(ctx context.Context) (map[string]interface{}, error) {
	doc, err := s.docs.Get(ctx, Collection, DocumentID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Defaults(), nil
		}
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return mergeInto(Defaults(), doc.Data), nil
}

// Get returns one key's effective value
func (s *Service) Get(ctx context.Context, key string) (interface{}, error) {
	if _, ok := Lookup(key); !ok {
		return nil, fmt.Errorf("unknown setting %q", key)
	}
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	value, _ := getPath(doc, key)
	return value, nil
}

// Set parses raw for key and merge-writes it with the audit fields
func (s *Service) Set(ctx context.Context, key, raw, updatedBy string) error {
	field, ok := Lookup(key)
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	value, err := field.Parse(raw)
	if err != nil {
		return err
	}

	patch := s.audit(updatedBy)
	setPath(patch, key, value)

	if err := s.docs.Set(ctx, Collection, DocumentID, patch, true); err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"operation":  "settings_set",
		"key":        key,
		"updated_by": updatedBy,
	}).Info("Setting updated")
	return nil
}

// Reset overwrites the document with Defaults
func (s *Service) Reset(ctx context.Context, updatedBy string) error {
	doc := mergeInto(Defaults(), s.audit(updatedBy))
	if err := s.docs.Set(ctx, Collection, DocumentID, doc, false); err != nil {
		return fmt.Errorf("failed to reset settings: %w", err)
	}

	s.logger.WithField("updated_by", updatedBy).Info("Settings reset to defaults")
	return nil
}

// RetentionPolicy reads backupSettings as a backup.RetentionPolicy
func (s *Service) RetentionPolicy(ctx context.Context) (backup.RetentionPolicy, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return backup.RetentionPolicy{}, err
	}

	policy := backup.DefaultRetentionPolicy()
	if v, ok := getPath(doc, "backupSettings.autoBackup"); ok {
		policy.AutoBackupEnabled, _ = v.(bool)
	}
	if v, ok := getPath(doc, "backupSettings.backupFrequency"); ok {
		if str, ok := v.(string); ok {
			policy.Frequency = str
		}
	}
	if v, ok := getPath(doc, "backupSettings.retentionDays"); ok {
		if n, ok := toInt64(v); ok {
			policy.RetentionDays = int(n)
		}
	}
	if v, ok := getPath(doc, "backupSettings.retentionLimit"); ok {
		if n, ok := toInt64(v); ok {
			policy.RetentionCount = int(n)
		}
	}
	if v, ok := getPath(doc, "backupSettings.defaultBackupType"); ok {
		if str, ok := v.(string); ok {
			policy.DefaultBackupType = backup.BackupType(str)
		}
	}
	if v, ok := getPath(doc, "backupSettings.defaultFormat"); ok {
		if str, ok := v.(string); ok {
			policy.DefaultFormat = backup.Format(str)
		}
	}
	return policy, nil
}

// SetRetentionPolicy validates and merge-writes the whole backupSettings block
func (s *Service) SetRetentionPolicy(ctx context.Context, policy backup.RetentionPolicy, updatedBy string) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	patch := s.audit(updatedBy)
	patch["backupSettings"] = map[string]interface{}{
		"autoBackup":        policy.AutoBackupEnabled,
		"backupFrequency":   policy.Frequency,
		"retentionDays":     int64(policy.RetentionDays),
		"retentionLimit":    int64(policy.RetentionCount),
		"defaultBackupType": string(policy.DefaultBackupType),
		"defaultFormat":     string(policy.DefaultFormat),
	}

	if err := s.docs.Set(ctx, Collection, DocumentID, patch, true); err != nil {
		return fmt.Errorf("failed to save backup settings: %w", err)
	}
	return nil
}

func (s *Service) audit(updatedBy string) map[string]interface{} {
	if updatedBy == "" {
		updatedBy = "admin"
	}
	return map[string]interface{}{
		"lastUpdated": s.now().UTC(),
		"updatedBy":   updatedBy,
		"version":     DocumentVersion,
	}
}

// mergeInto deep-merges src over dst and returns dst
func mergeInto(dst, src map[string]interface{}) map[string]interface{} {
	for k, v := range src {
		if sm, ok := v.(map[string]interface{}); ok {
			if dm, ok := dst[k].(map[string]interface{}); ok {
				dst[k] = mergeInto(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
