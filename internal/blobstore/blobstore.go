// Package blobstore stores backup payload files. Every provider hands out an
// opaque reference (gs://, s3://, azure://, file:// or mem://) that is later
// used to fetch or delete the object.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the referenced object does not exist
var ErrNotFound = errors.New("object not found")

// Object describes one stored file
type Object struct {
	Name        string    `json:"name"`
	FullPath    string    `json:"fullPath"`
	Ref         string    `json:"ref"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	Created     time.Time `json:"timeCreated"`
	Updated     time.Time `json:"updated"`
}

// Store is the blob storage boundary
type Store interface {
	// Put writes data at path and returns a reference to it
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete succeeds when the object is already gone
	Delete(ctx context.Context, ref string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	HealthCheck(ctx context.Context) error
	Info() map[string]interface{}
}

// StorageError wraps a provider failure with the operation and reference
type StorageError struct {
	Provider ProviderType
	Op       string
	Ref      string
	Cause    error
}

func (e *StorageError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Op, e.Ref, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

func newStorageError(provider ProviderType, op, ref string, cause error) *StorageError {
	return &StorageError{Provider: provider, Op: op, Ref: ref, Cause: cause}
}

// splitRef parses scheme://container/key and checks scheme and container
func splitRef(ref, scheme, container string) (string, error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(ref, prefix) {
		return "", fmt.Errorf("reference %q is not a %s reference", ref, scheme)
	}
	rest := strings.TrimPrefix(ref, prefix)
	if container == "" {
		if rest == "" {
			return "", fmt.Errorf("reference %q has no object key", ref)
		}
		return rest, nil
	}

	slash := strings.Index(rest, "/")
	if slash < 0 || slash == len(rest)-1 {
		return "", fmt.Errorf("reference %q has no object key", ref)
	}
	if rest[:slash] != container {
		return "", fmt.Errorf("reference %q belongs to %q, not %q", ref, rest[:slash], container)
	}
	return rest[slash+1:], nil
}

// cleanKey normalizes an object path and rejects traversal
func cleanKey(path string) (string, error) {
	key := strings.TrimLeft(strings.ReplaceAll(path, "\\", "/"), "/")
	if key == "" {
		return "", errors.New("object path cannot be empty")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("object path %q escapes the store", path)
		}
	}
	return key, nil
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
