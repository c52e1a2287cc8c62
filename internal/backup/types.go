package backup

import (
	"time"
)

// Collection and blob layout shared with the mobile app and the browser console
const (
	CollectionBackups  = "backups"
	CollectionUsers    = "users"
	CollectionTrips    = "trips"
	CollectionMessages = "messages"
	CollectionLocation = "locations"
	CollectionSettings = "settings"

	SettingsDocumentID = "system"
	BlobPrefix         = "backups/"

	SchemaVersion     = "2.0"
	DefaultAppVersion = "1.0.0"
	DefaultHistory    = 20
)

// BackupType selects which sections a backup contains
type BackupType string

const (
	TypeFull      BackupType = "full"
	TypeUsers     BackupType = "users"
	TypeMessages  BackupType = "messages"
	TypeLocations BackupType = "locations"
	TypeSettings  BackupType = "settings"
)

// Valid reports whether t is a known backup type
func (t BackupType) Valid() bool {
	switch t {
	case TypeFull, TypeUsers, TypeMessages, TypeLocations, TypeSettings:
		return true
	}
	return false
}

// Format is the serialization of a payload
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Valid reports whether f is a known format
func (f Format) Valid() bool {
	return f == FormatJSON || f == FormatCSV
}

// ContentType returns the MIME type of the serialized payload
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Status represents the state of a backup record
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// CompressionType names a payload compression algorithm
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// Extension returns the filename suffix for the algorithm
func (c CompressionType) Extension() string {
	switch c {
	case CompressionTypeGzip:
		return ".gz"
	case CompressionTypeLZ4:
		return ".lz4"
	case CompressionTypeZstd:
		return ".zst"
	default:
		return ""
	}
}

// Metadata is the envelope written at the top of every payload and copied
// into the record
type Metadata struct {
	Timestamp    string     `json:"timestamp"`
	BackupType   BackupType `json:"backupType"`
	Version      string     `json:"version"`
	CreatedBy    string     `json:"createdBy"`
	IncludeMedia bool       `json:"includeMedia"`
	AppVersion   string     `json:"appVersion"`
}

// Entity is one document as it appears in a payload section, including its id
type Entity = map[string]interface{}

// BackupRecord is the persisted metadata row of a backup
type BackupRecord struct {
	ID          string          `json:"id"`
	Filename    string          `json:"filename"`
	BackupType  BackupType      `json:"backupType"`
	Format      Format          `json:"format"`
	SizeBytes   int64           `json:"size"`
	DownloadRef string          `json:"downloadUrl,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CreatedBy   string          `json:"createdBy"`
	Status      Status          `json:"status"`
	Metadata    *Metadata       `json:"metadata,omitempty"`
	Compression CompressionType `json:"compression"`
	Encrypted   bool            `json:"encrypted"`
	StoredBytes int64           `json:"storedBytes"`
}

// Options are the caller's choices for one backup
type Options struct {
	BackupType   BackupType
	Format       Format
	IncludeMedia bool
	CreatedBy    string
}

// Result is the outcome of CreateBackup. When another operation holds the
// guard, Skipped is set, Record is nil and Reason explains why.
type Result struct {
	Record  *BackupRecord
	Skipped bool
	Reason  error
}

// RestoreResult is the outcome of a restore
type RestoreResult struct {
	Skipped  bool
	Reason   error
	Written  int
	Sections map[string]int
}

// SweepResult is the typed outcome of a retention sweep
type SweepResult struct {
	RecordsDeleted     int                 `json:"recordsDeleted"`
	DeletedIDs         []string            `json:"deletedIds"`
	BlobDeleteFailures []BlobDeleteFailure `json:"blobDeleteFailures"`
	Duration           time.Duration       `json:"duration"`
}

// BlobDeleteFailure records a blob left behind after its record was removed
type BlobDeleteFailure struct {
	RecordID string `json:"recordId"`
	Ref      string `json:"ref"`
	Err      error  `json:"-"`
}

// MediaEntry describes one stored media object in a full backup
type MediaEntry struct {
	Name        string `json:"name"`
	FullPath    string `json:"fullPath"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	TimeCreated string `json:"timeCreated"`
	Updated     string `json:"updated"`
}
