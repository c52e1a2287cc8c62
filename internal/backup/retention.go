package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/logging"
)

const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// RetentionPolicy is the backupSettings block of settings/system
type RetentionPolicy struct {
	AutoBackupEnabled bool       `json:"autoBackup"`
	Frequency         string     `json:"backupFrequency"`
	RetentionDays     int        `json:"retentionDays"`
	RetentionCount    int        `json:"retentionLimit"`
	DefaultBackupType BackupType `json:"defaultBackupType"`
	DefaultFormat     Format     `json:"defaultFormat"`
}

// DefaultRetentionPolicy returns the policy used before any settings are saved
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		AutoBackupEnabled: false,
		Frequency:         FrequencyWeekly,
		RetentionDays:     30,
		RetentionCount:    50,
		DefaultBackupType: TypeFull,
		DefaultFormat:     FormatJSON,
	}
}

// Validate checks the policy bounds
func (p RetentionPolicy) Validate() error {
	var errs ValidationErrors

	switch p.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		errs.Add("backupFrequency", "must be daily, weekly or monthly", p.Frequency)
	}
	if p.RetentionDays < 1 || p.RetentionDays > 365 {
		errs.Add("retentionDays", "must be between 1 and 365", p.RetentionDays)
	}
	if p.RetentionCount < 1 || p.RetentionCount > 1000 {
		errs.Add("retentionLimit", "must be between 1 and 1000", p.RetentionCount)
	}
	if p.DefaultBackupType != "" && !p.DefaultBackupType.Valid() {
		errs.Add("defaultBackupType", "unknown backup type", p.DefaultBackupType)
	}
	if p.DefaultFormat != "" && !p.DefaultFormat.Valid() {
		errs.Add("defaultFormat", "unknown format", p.DefaultFormat)
	}

	if errs.HasErrors() {
		return NewValidationError("invalid retention policy", errs)
	}
	return nil
}

// BackupOptions resolves the policy defaults into options for one backup.
// CSV only covers users backups, so any other type falls back to JSON.
func (p RetentionPolicy) BackupOptions(createdBy string) Options {
	backupType := p.DefaultBackupType
	if backupType == "" {
		backupType = TypeFull
	}
	format := p.DefaultFormat
	if format == "" || (format == FormatCSV && backupType != TypeUsers) {
		format = FormatJSON
	}
	return Options{
		BackupType: backupType,
		Format:     format,
		CreatedBy:  createdBy,
	}
}

// CronSpec returns the cron descriptor matching Frequency
func (p RetentionPolicy) CronSpec() string {
	switch p.Frequency {
	case FrequencyDaily:
		return "@daily"
	case FrequencyMonthly:
		return "@monthly"
	default:
		return "@weekly"
	}
}

// RetentionSweeper deletes complete backups that are too old or beyond the
// retention count. It holds no state between calls and may run concurrently
// with itself.
type RetentionSweeper struct {
	manager *Manager
	logger  *logging.Logger
}

// NewRetentionSweeper creates a sweeper over the manager's stores
func NewRetentionSweeper(manager *Manager, logger *logging.Logger) *RetentionSweeper {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RetentionSweeper{
		manager: manager,
		logger:  logger,
	}
}

// Candidates returns the complete records the policy would delete, ordered
// newest first, without deleting anything
func (s *RetentionSweeper) Candidates(ctx context.Context, policy RetentionPolicy) ([]*BackupRecord, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	docs, err := s.manager.docs.Query(ctx, docstore.Query{
		Collection: CollectionBackups,
		OrderBy:    "createdAt",
		Descending: true,
	}.Where("status", docstore.OpEqual, string(StatusComplete)))
	if err != nil {
		return nil, NewBackendUnavailableError("failed to query backup records", err)
	}

	cutoff := s.manager.now().UTC().AddDate(0, 0, -policy.RetentionDays)

	tooOld := mapset.NewSet[string]()
	tooMany := mapset.NewSet[string]()
	records := make([]*BackupRecord, 0, len(docs))
	for rank, doc := range docs {
		record := recordFromDocument(doc)
		records = append(records, record)

		if record.CreatedAt.Before(cutoff) {
			tooOld.Add(record.ID)
		}
		if rank >= policy.RetentionCount {
			tooMany.Add(record.ID)
		}
	}

	doomed := tooOld.Union(tooMany)
	candidates := make([]*BackupRecord, 0, doomed.Cardinality())
	for _, record := range records {
		if doomed.Contains(record.ID) {
			candidates = append(candidates, record)
		}
	}
	return candidates, nil
}

// Sweep deletes every candidate: blob first, best-effort, then the record.
// Blob failures are reported in the result; record failures are returned
// after the remaining candidates have been processed.
func (s *RetentionSweeper) Sweep(ctx context.Context, policy RetentionPolicy) (_ *SweepResult, err error) {
	start := time.Now()
	done := s.logger.LogOperationStart("retention_sweep", map[string]interface{}{
		"retention_days":  policy.RetentionDays,
		"retention_limit": policy.RetentionCount,
	})
	defer func() { done(err) }()

	candidates, err := s.Candidates(ctx, policy)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{
		DeletedIDs:         []string{},
		BlobDeleteFailures: []BlobDeleteFailure{},
	}
	var recordErrs []error

	for _, record := range candidates {
		if err := ctx.Err(); err != nil {
			recordErrs = append(recordErrs, err)
			break
		}

		if record.DownloadRef != "" {
			if err := s.manager.blobs.Delete(ctx, record.DownloadRef); err != nil {
				result.BlobDeleteFailures = append(result.BlobDeleteFailures, BlobDeleteFailure{
					RecordID: record.ID,
					Ref:      record.DownloadRef,
					Err:      NewPartialCleanupError("failed to delete backup file", err),
				})
				s.logger.WithFields(map[string]interface{}{
					"backup_id": record.ID,
					"ref":       record.DownloadRef,
					"error":     err.Error(),
				}).Warn("Backup file not deleted, removing record anyway")
			}
		}

		if err := s.manager.docs.Delete(ctx, CollectionBackups, record.ID); err != nil {
			recordErrs = append(recordErrs, fmt.Errorf("record %s: %w", record.ID, err))
			continue
		}
		result.RecordsDeleted++
		result.DeletedIDs = append(result.DeletedIDs, record.ID)
	}

	result.Duration = time.Since(start)
	s.logger.LogRetentionSweep(result.RecordsDeleted, len(result.BlobDeleteFailures), result.Duration)

	if len(recordErrs) > 0 {
		return result, NewBackendUnavailableError("some backup records could not be deleted", errors.Join(recordErrs...))
	}
	return result, nil
}
