package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tourapp-admin/internal/blobstore"
	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/logging"
)

// Manager creates, lists, downloads, deletes and restores backups. Every
// mutating entry point goes through the shared Coordinator.
type Manager struct {
	docs        docstore.Store
	blobs       blobstore.Store
	coordinator *Coordinator
	codec       *PayloadCodec
	logger      *logging.Logger

	now             func() time.Time
	appVersion      string
	mediaPrefix     string
	defaultSettings func() map[string]interface{}
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithAppVersion sets the appVersion written into payload metadata
func WithAppVersion(version string) ManagerOption {
	return func(m *Manager) {
		if version != "" {
			m.appVersion = version
		}
	}
}

// WithMediaPrefix limits the media listing to blobs under prefix
func WithMediaPrefix(prefix string) ManagerOption {
	return func(m *Manager) {
		m.mediaPrefix = prefix
	}
}

// WithDefaultSettings supplies the settings entity used when settings/system
// has never been written
func WithDefaultSettings(defaults func() map[string]interface{}) ManagerOption {
	return func(m *Manager) {
		m.defaultSettings = defaults
	}
}

// NewManager wires a Manager. A nil codec stores payloads uncompressed.
func NewManager(docs docstore.Store, blobs blobstore.Store, coordinator *Coordinator, codec *PayloadCodec, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if codec == nil {
		codec = NewPlainCodec()
	}
	if coordinator == nil {
		coordinator = NewCoordinator()
	}

	m := &Manager{
		docs:        docs,
		blobs:       blobs,
		coordinator: coordinator,
		codec:       codec,
		logger:      logger,
		now:         time.Now,
		appVersion:  DefaultAppVersion,
		defaultSettings: func() map[string]interface{} {
			return map[string]interface{}{}
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Coordinator returns the guard shared by this manager
func (m *Manager) Coordinator() *Coordinator {
	return m.coordinator
}

// Validate checks backup options before anything is acquired
func (o Options) Validate() error {
	var errs ValidationErrors

	if !o.BackupType.Valid() {
		errs.Add("backupType", "must be one of full, users, messages, locations, settings", o.BackupType)
	}
	if !o.Format.Valid() {
		errs.Add("format", "must be json or csv", o.Format)
	} else if o.Format == FormatCSV && o.BackupType != TypeUsers {
		errs.Add("format", "csv is only available for users backups", o.BackupType)
	}

	if errs.HasErrors() {
		return NewValidationError("invalid backup options", errs)
	}
	return nil
}

// CreateBackup snapshots the selected collections, uploads the payload and
// records it. A call refused by the Coordinator returns a skipped Result and
// no error.
func (m *Manager) CreateBackup(ctx context.Context, opts Options) (result *Result, err error) {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	token, ok := m.coordinator.TryAcquire()
	if !ok {
		reason := NewDuplicateOperationError("a backup is already in progress or completed moments ago")
		m.logger.WithFields(map[string]interface{}{
			"operation":   "create_backup",
			"backup_type": opts.BackupType,
		}).Info("Backup request suppressed")
		return &Result{Skipped: true, Reason: reason}, nil
	}
	defer func() {
		m.coordinator.Release(token, err)
	}()

	start := time.Now()
	createdAt := m.now().UTC().Truncate(time.Millisecond)
	backupID := GenerateBackupID(createdAt)
	defer func() {
		var size int64
		if result != nil && result.Record != nil {
			size = result.Record.SizeBytes
		}
		m.logger.LogBackupOperation("create_backup", backupID, size, time.Since(start), err)
	}()

	metadata := &Metadata{
		Timestamp:    FormatTimestamp(createdAt),
		BackupType:   opts.BackupType,
		Version:      SchemaVersion,
		CreatedBy:    opts.CreatedBy,
		IncludeMedia: opts.IncludeMedia,
		AppVersion:   m.appVersion,
	}

	payload, err := m.buildPayload(ctx, metadata)
	if err != nil {
		return nil, err
	}

	content, err := EncodePayload(payload, opts.Format)
	if err != nil {
		return nil, err
	}

	encoded, err := m.codec.Encode(content)
	if err != nil {
		return nil, err
	}

	filename := BuildFilename(opts.BackupType, createdAt, backupID, m.codec.Extension(opts.Format))
	contentType := opts.Format.ContentType()
	if encoded.Encrypted || encoded.Compression != CompressionTypeNone {
		contentType = "application/octet-stream"
	}

	ref, err := m.blobs.Put(ctx, BlobPrefix+filename, encoded.Data, contentType)
	if err != nil {
		return nil, NewBackendUnavailableError("failed to upload backup", err).WithContext("filename", filename)
	}

	record := &BackupRecord{
		Filename:    filename,
		BackupType:  opts.BackupType,
		Format:      opts.Format,
		SizeBytes:   int64(len(content)),
		DownloadRef: ref,
		CreatedAt:   createdAt,
		CreatedBy:   opts.CreatedBy,
		Status:      StatusComplete,
		Metadata:    metadata,
		Compression: encoded.Compression,
		Encrypted:   encoded.Encrypted,
		StoredBytes: int64(len(encoded.Data)),
	}

	id, err := m.docs.Add(ctx, CollectionBackups, record.toDocument())
	if err != nil {
		// cleanup must run even when ctx is what failed the write
		if delErr := m.blobs.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			m.logger.WithFields(map[string]interface{}{
				"ref":   ref,
				"error": delErr.Error(),
			}).Warn("Failed to remove uploaded blob after record write failure")
		}
		return nil, NewBackendUnavailableError("failed to save backup record", err).WithContext("filename", filename)
	}
	record.ID = id

	return &Result{Record: record}, nil
}

func (m *Manager) buildPayload(ctx context.Context, metadata *Metadata) (*Payload, error) {
	payload := NewPayload(metadata)

	var sections []string
	switch metadata.BackupType {
	case TypeFull:
		sections = []string{CollectionUsers, CollectionMessages, CollectionLocation, CollectionSettings}
	default:
		sections = []string{string(metadata.BackupType)}
	}

	for _, name := range sections {
		var entities []Entity
		var err error
		if name == CollectionSettings {
			entities, err = m.settingsSection(ctx)
		} else {
			entities, err = m.collectionSection(ctx, name)
		}
		if err != nil {
			return nil, err
		}
		payload.SetSection(name, entities)
	}

	if metadata.BackupType == TypeFull && metadata.IncludeMedia {
		media, err := m.mediaSection(ctx)
		if err != nil {
			return nil, err
		}
		payload.SetSection("media", media)
	}
	return payload, nil
}

func (m *Manager) collectionSection(ctx context.Context, collection string) ([]Entity, error) {
	docs, err := m.docs.Query(ctx, docstore.Query{Collection: collection})
	if err != nil {
		return nil, NewBackendUnavailableError(fmt.Sprintf("failed to read %s", collection), err)
	}

	entities := make([]Entity, 0, len(docs))
	for _, doc := range docs {
		entity := NormalizeEntity(doc.Data)
		entity["id"] = doc.ID
		entities = append(entities, entity)
	}
	return entities, nil
}

func (m *Manager) settingsSection(ctx context.Context) ([]Entity, error) {
	var data map[string]interface{}

	doc, err := m.docs.Get(ctx, CollectionSettings, SettingsDocumentID)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		data = m.defaultSettings()
	case err != nil:
		return nil, NewBackendUnavailableError("failed to read system settings", err)
	default:
		data = doc.Data
	}

	entity := NormalizeEntity(data)
	entity["id"] = SettingsDocumentID
	return []Entity{entity}, nil
}

func (m *Manager) mediaSection(ctx context.Context) ([]Entity, error) {
	objects, err := m.blobs.List(ctx, m.mediaPrefix)
	if err != nil {
		return nil, NewBackendUnavailableError("failed to list media", err)
	}

	entities := make([]Entity, 0, len(objects))
	for _, obj := range objects {
		if strings.HasPrefix(obj.FullPath, BlobPrefix) {
			continue
		}
		entities = append(entities, Entity{
			"name":        obj.Name,
			"fullPath":    obj.FullPath,
			"size":        obj.Size,
			"contentType": obj.ContentType,
			"timeCreated": FormatTimestamp(obj.Created),
			"updated":     FormatTimestamp(obj.Updated),
		})
	}
	return entities, nil
}

// ListBackups returns records newest first; limit <= 0 uses the default of 20
func (m *Manager) ListBackups(ctx context.Context, limit int) ([]*BackupRecord, error) {
	if limit <= 0 {
		limit = DefaultHistory
	}

	docs, err := m.docs.Query(ctx, docstore.Query{
		Collection: CollectionBackups,
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, NewBackendUnavailableError("failed to list backups", err)
	}

	records := make([]*BackupRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, recordFromDocument(doc))
	}
	return records, nil
}

// GetBackup loads one record
func (m *Manager) GetBackup(ctx context.Context, id string) (*BackupRecord, error) {
	doc, err := m.docs.Get(ctx, CollectionBackups, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("backup %s not found", id), err)
		}
		return nil, NewBackendUnavailableError("failed to load backup record", err)
	}
	return recordFromDocument(*doc), nil
}

// DeleteBackup removes the record, then its blob. A blob that cannot be
// removed is reported as PARTIAL_CLEANUP_FAILURE; the record stays deleted.
func (m *Manager) DeleteBackup(ctx context.Context, id string) (err error) {
	done := m.logger.LogOperationStart("delete_backup", map[string]interface{}{"backup_id": id})
	defer func() { done(err) }()

	record, err := m.GetBackup(ctx, id)
	if err != nil {
		return err
	}

	if err := m.docs.Delete(ctx, CollectionBackups, id); err != nil {
		return NewBackendUnavailableError("failed to delete backup record", err)
	}

	if record.DownloadRef != "" {
		if err := m.blobs.Delete(ctx, record.DownloadRef); err != nil {
			return NewPartialCleanupError("backup record deleted but its file could not be removed", err).
				WithContext("ref", record.DownloadRef)
		}
	}

	m.logger.WithFields(map[string]interface{}{
		"backup_id": id,
		"filename":  record.Filename,
	}).Info("Backup deleted")
	return nil
}

// Download returns the record and its decoded payload bytes
func (m *Manager) Download(ctx context.Context, id string) (*BackupRecord, []byte, error) {
	record, err := m.GetBackup(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if record.DownloadRef == "" {
		return nil, nil, NewNotFoundError(fmt.Sprintf("backup %s has no stored file", id), nil)
	}

	raw, err := m.blobs.Get(ctx, record.DownloadRef)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil, NewNotFoundError(fmt.Sprintf("backup file for %s is missing", id), err)
		}
		return nil, nil, NewBackendUnavailableError("failed to download backup", err)
	}

	data, err := m.codec.Decode(raw, record.Compression, record.Encrypted)
	if err != nil {
		return nil, nil, err
	}
	return record, data, nil
}
