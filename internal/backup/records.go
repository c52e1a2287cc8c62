package backup

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"tourapp-admin/internal/docstore"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateBackupID returns backup_<unix ms>_<9 random base36 chars>
func GenerateBackupID(now time.Time) string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("backup_%d_%s", now.UnixMilli(), suffix)
}

// BuildFilename names the blob: backup_<type>_<timestamp>_<id><ext>, with the
// timestamp's colons and dot replaced so the name is portable
func BuildFilename(backupType BackupType, timestamp time.Time, backupID, ext string) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(FormatTimestamp(timestamp))
	return fmt.Sprintf("backup_%s_%s_%s%s", backupType, stamp, backupID, ext)
}

// PlainFilename is the filename without compression or encryption suffixes,
// matching the decoded bytes returned by Download
func (r *BackupRecord) PlainFilename() string {
	ext := "." + string(r.Format)
	if i := strings.LastIndex(r.Filename, ext); i >= 0 {
		return r.Filename[:i+len(ext)]
	}
	return r.Filename
}

// toDocument maps a record onto the field names shared with the console
func (r *BackupRecord) toDocument() map[string]interface{} {
	doc := map[string]interface{}{
		"filename":    r.Filename,
		"backupType":  string(r.BackupType),
		"format":      string(r.Format),
		"size":        r.SizeBytes,
		"downloadUrl": r.DownloadRef,
		"createdAt":   r.CreatedAt,
		"createdBy":   r.CreatedBy,
		"status":      string(r.Status),
		"compression": string(r.Compression),
		"encrypted":   r.Encrypted,
		"storedBytes": r.StoredBytes,
	}
	if r.Metadata != nil {
		doc["metadata"] = map[string]interface{}{
			"timestamp":    r.Metadata.Timestamp,
			"backupType":   string(r.Metadata.BackupType),
			"version":      r.Metadata.Version,
			"createdBy":    r.Metadata.CreatedBy,
			"includeMedia": r.Metadata.IncludeMedia,
			"appVersion":   r.Metadata.AppVersion,
		}
	}
	return doc
}

// recordFromDocument is lenient: records written by the browser console lack
// the codec fields and may carry numbers in any JSON representation
func recordFromDocument(doc docstore.Document) *BackupRecord {
	data := doc.Data
	record := &BackupRecord{
		ID:          doc.ID,
		Filename:    asString(data["filename"]),
		BackupType:  BackupType(asString(data["backupType"])),
		Format:      Format(asString(data["format"])),
		SizeBytes:   asInt64(data["size"]),
		DownloadRef: asString(data["downloadUrl"]),
		CreatedAt:   asTime(data["createdAt"]),
		CreatedBy:   asString(data["createdBy"]),
		Status:      Status(asString(data["status"])),
		Compression: CompressionType(asString(data["compression"])),
		Encrypted:   asBool(data["encrypted"]),
		StoredBytes: asInt64(data["storedBytes"]),
	}
	if record.Compression == "" {
		record.Compression = CompressionTypeNone
	}

	if meta, ok := data["metadata"].(map[string]interface{}); ok {
		record.Metadata = &Metadata{
			Timestamp:    asString(meta["timestamp"]),
			BackupType:   BackupType(asString(meta["backupType"])),
			Version:      asString(meta["version"]),
			CreatedBy:    asString(meta["createdBy"]),
			IncludeMedia: asBool(meta["includeMedia"]),
			AppVersion:   asString(meta["appVersion"]),
		}
	}
	return record
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func asInt64(v interface{}) int64 {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case float64:
		return int64(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return int64(f)
	case string:
		i, _ := strconv.ParseInt(val, 10, 64)
		return i
	default:
		return 0
	}
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asTime(v interface{}) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val.UTC()
	case *time.Time:
		if val != nil {
			return val.UTC()
		}
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t.UTC()
		}
		if t, err := ParseTimestamp(val); err == nil {
			return t
		}
	}
	return time.Time{}
}
