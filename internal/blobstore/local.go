package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects as files below a base directory
type LocalStore struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStore creates the base directory if needed
func NewLocalStore(config *LocalConfig) (*LocalStore, error) {
	if config == nil || config.BasePath == "" {
		return nil, ValidationErrors{{Field: "local.base_path", Message: "base path is required for local storage"}}
	}

	perm := config.Permissions
	if perm == 0 {
		perm = 0755
	}
	store := &LocalStore{basePath: config.BasePath, permissions: perm}

	if err := os.MkdirAll(store.basePath, store.permissions); err != nil {
		return nil, newStorageError(ProviderLocal, "init", "", fmt.Errorf("failed to create base directory %s: %w", store.basePath, err))
	}
	return store, nil
}

func (s *LocalStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	key, err := cleanKey(path)
	if err != nil {
		return "", newStorageError(ProviderLocal, "put", "", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), s.permissions); err != nil {
		return "", newStorageError(ProviderLocal, "put", key, err)
	}

	// write then rename so readers never see a partial file
	tmp := full + ".partial"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", newStorageError(ProviderLocal, "put", key, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", newStorageError(ProviderLocal, "put", key, err)
	}

	return "file://" + key, nil
}

func (s *LocalStore) Get(ctx context.Context, ref string) ([]byte, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return nil, newStorageError(ProviderLocal, "get", ref, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, newStorageError(ProviderLocal, "get", ref, ErrNotFound)
	}
	if err != nil {
		return nil, newStorageError(ProviderLocal, "get", ref, err)
	}
	return data, nil
}

func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	full, err := s.resolve(ref)
	if err != nil {
		return newStorageError(ProviderLocal, "delete", ref, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return newStorageError(ProviderLocal, "delete", ref, err)
	}
	return nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasSuffix(path, ".partial") || d.Name() == ".health_check" {
			return nil
		}

		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Name:        d.Name(),
			FullPath:    key,
			Ref:         "file://" + key,
			Size:        info.Size(),
			ContentType: mime.TypeByExtension(filepath.Ext(key)),
			Created:     info.ModTime(),
			Updated:     info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, newStorageError(ProviderLocal, "list", prefix, err)
	}
	return objects, nil
}

// HealthCheck verifies that the base directory is writable
func (s *LocalStore) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(s.basePath, ".health_check")

	if err := os.WriteFile(testFile, []byte("health_check"), 0644); err != nil {
		return newStorageError(ProviderLocal, "health", "", fmt.Errorf("cannot write to base directory: %w", err))
	}
	if _, err := os.ReadFile(testFile); err != nil {
		return newStorageError(ProviderLocal, "health", "", fmt.Errorf("cannot read from base directory: %w", err))
	}
	os.Remove(testFile)
	return nil
}

func (s *LocalStore) Info() map[string]interface{} {
	return map[string]interface{}{
		"provider":    string(ProviderLocal),
		"base_path":   s.basePath,
		"permissions": s.permissions.String(),
	}
}

func (s *LocalStore) resolve(ref string) (string, error) {
	raw, err := splitRef(ref, "file", "")
	if err != nil {
		return "", err
	}
	key, err := cleanKey(raw)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}
