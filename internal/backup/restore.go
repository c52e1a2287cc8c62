package backup

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Restore replays every restorable section of payload into the store through
// one batch committed once. A payload without metadata is rejected before
// anything is written; a failed commit leaves the store untouched.
func (m *Manager) Restore(ctx context.Context, payload *Payload) (result *RestoreResult, err error) {
	if payload == nil || payload.Metadata == nil {
		return nil, NewInvalidFormatError("backup payload has no metadata", nil)
	}

	token, ok := m.coordinator.TryAcquireExclusive()
	if !ok {
		m.logger.WithField("operation", "restore").Info("Restore request suppressed")
		return &RestoreResult{
			Skipped: true,
			Reason:  NewDuplicateOperationError("a backup or restore is already in progress"),
		}, nil
	}
	defer func() {
		m.coordinator.Release(token, err)
	}()

	start := time.Now()
	defer func() {
		m.logger.LogBackupOperation("restore", payload.Metadata.Timestamp, 0, time.Since(start), err)
	}()

	batch := m.docs.Batch()
	result = &RestoreResult{Sections: make(map[string]int)}

	for _, name := range restorableSections {
		entities, ok := payload.Section(name)
		if !ok {
			continue
		}
		for i, entity := range entities {
			id, err := entityID(name, entity)
			if err != nil {
				return nil, NewInvalidFormatError(fmt.Sprintf("section %s entry %d", name, i), err)
			}
			batch.Set(name, id, RestoreEntity(entity))
		}
		result.Sections[name] = len(entities)
	}

	result.Written = batch.Len()
	if result.Written == 0 {
		return result, nil
	}

	if err := batch.Commit(ctx); err != nil {
		return nil, NewBackendUnavailableError("restore batch was not applied", err).
			WithContext("writes", result.Written)
	}
	return result, nil
}

func entityID(section string, entity Entity) (string, error) {
	switch id := entity["id"].(type) {
	case nil:
		if section == CollectionSettings {
			return SettingsDocumentID, nil
		}
		return uuid.NewString(), nil
	case string:
		if id == "" {
			return "", fmt.Errorf("empty id")
		}
		return id, nil
	default:
		return "", fmt.Errorf("id must be a string, got %T", id)
	}
}

// RestoreFromRecord fetches, decodes and restores a stored backup
func (m *Manager) RestoreFromRecord(ctx context.Context, id string) (*RestoreResult, error) {
	payload, err := m.LoadPayload(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Restore(ctx, payload)
}

// LoadPayload fetches and parses a stored backup without restoring it. CSV
// backups are export-only.
func (m *Manager) LoadPayload(ctx context.Context, id string) (*Payload, error) {
	record, data, err := m.Download(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusComplete {
		return nil, NewValidationError(fmt.Sprintf("backup %s is %s, only complete backups can be restored", id, record.Status), nil)
	}
	if record.Format == FormatCSV {
		return nil, NewInvalidFormatError("csv backups cannot be restored", nil)
	}
	return ParsePayload(data)
}

// RestoreFromReader restores an uploaded backup file
func (m *Manager) RestoreFromReader(ctx context.Context, r io.Reader) (*RestoreResult, error) {
	payload, err := m.ReadPayload(r)
	if err != nil {
		return nil, err
	}
	return m.Restore(ctx, payload)
}

// ReadPayload parses an uploaded backup file without restoring it.
// Compressed uploads are recognised by their frame header.
func (m *Manager) ReadPayload(r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewInvalidFormatError("failed to read backup file", err)
	}

	if algorithm := DetectCompression(data); algorithm != CompressionTypeNone {
		data, err = m.codec.compression.Decompress(data, algorithm)
		if err != nil {
			return nil, NewInvalidFormatError("failed to decompress backup file", err)
		}
	}
	return ParsePayload(data)
}
