package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore stores objects in a Google Cloud Storage bucket. Firebase Storage
// buckets are GCS buckets, so this is the production provider.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore opens a storage client, using default credentials when no
// credentials file is configured
func NewGCSStore(ctx context.Context, config *GCSConfig) (*GCSStore, error) {
	if config == nil || config.Bucket == "" {
		return nil, ValidationErrors{{Field: "gcs.bucket", Message: "GCS bucket name is required"}}
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, newStorageError(ProviderGCS, "init", "", fmt.Errorf("failed to create GCS client: %w", err))
	}

	return &GCSStore{client: client, bucket: config.Bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	key, err := cleanKey(path)
	if err != nil {
		return "", newStorageError(ProviderGCS, "put", "", err)
	}

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", newStorageError(ProviderGCS, "put", key, err)
	}
	if err := w.Close(); err != nil {
		return "", newStorageError(ProviderGCS, "put", key, err)
	}
	return s.ref(key), nil
}

func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := splitRef(ref, "gs", s.bucket)
	if err != nil {
		return nil, newStorageError(ProviderGCS, "get", ref, err)
	}

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, newStorageError(ProviderGCS, "get", ref, ErrNotFound)
		}
		return nil, newStorageError(ProviderGCS, "get", ref, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, newStorageError(ProviderGCS, "get", ref, err)
	}
	return data, nil
}

func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	key, err := splitRef(ref, "gs", s.bucket)
	if err != nil {
		return newStorageError(ProviderGCS, "delete", ref, err)
	}

	err = s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return newStorageError(ProviderGCS, "delete", ref, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, newStorageError(ProviderGCS, "list", prefix, err)
		}
		objects = append(objects, Object{
			Name:        baseName(attrs.Name),
			FullPath:    attrs.Name,
			Ref:         s.ref(attrs.Name),
			Size:        attrs.Size,
			ContentType: attrs.ContentType,
			Created:     attrs.Created,
			Updated:     attrs.Updated,
		})
	}
	return objects, nil
}

// HealthCheck verifies bucket access
func (s *GCSStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return newStorageError(ProviderGCS, "health", "", fmt.Errorf("bucket not accessible: %w", err))
	}
	return nil
}

func (s *GCSStore) Info() map[string]interface{} {
	return map[string]interface{}{
		"provider": string(ProviderGCS),
		"bucket":   s.bucket,
	}
}

// Close releases the underlying client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) ref(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}
