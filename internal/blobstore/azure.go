package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStore stores objects in an Azure Blob container
type AzureStore struct {
	container     azblob.ContainerURL
	containerName string
	accountName   string
}

// NewAzureStore builds a shared-key authenticated container client
func NewAzureStore(config *AzureConfig) (*AzureStore, error) {
	if config == nil {
		return nil, ValidationErrors{{Field: "azure", Message: "Azure storage configuration is required"}}
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, newStorageError(ProviderAzure, "init", "", fmt.Errorf("failed to create Azure credentials: %w", err))
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, newStorageError(ProviderAzure, "init", "", fmt.Errorf("failed to parse Azure service URL: %w", err))
	}

	return &AzureStore{
		container:     azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		accountName:   config.AccountName,
	}, nil
}

func (s *AzureStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	key, err := cleanKey(path)
	if err != nil {
		return "", newStorageError(ProviderAzure, "put", "", err)
	}

	_, err = azblob.UploadBufferToBlockBlob(ctx, data, s.container.NewBlockBlobURL(key), azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: contentType,
		},
	})
	if err != nil {
		return "", newStorageError(ProviderAzure, "put", key, err)
	}
	return s.ref(key), nil
}

func (s *AzureStore) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := splitRef(ref, "azure", s.containerName)
	if err != nil {
		return nil, newStorageError(ProviderAzure, "get", ref, err)
	}

	resp, err := s.container.NewBlockBlobURL(key).Download(ctx, 0, azblob.CountToEnd,
		azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, newStorageError(ProviderAzure, "get", ref, ErrNotFound)
		}
		return nil, newStorageError(ProviderAzure, "get", ref, err)
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, newStorageError(ProviderAzure, "get", ref, err)
	}
	return data, nil
}

func (s *AzureStore) Delete(ctx context.Context, ref string) error {
	key, err := splitRef(ref, "azure", s.containerName)
	if err != nil {
		return newStorageError(ProviderAzure, "delete", ref, err)
	}

	_, err = s.container.NewBlockBlobURL(key).Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil && !isAzureNotFound(err) {
		return newStorageError(ProviderAzure, "delete", ref, err)
	}
	return nil
}

func (s *AzureStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := s.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return nil, newStorageError(ProviderAzure, "list", prefix, err)
		}

		for _, blob := range resp.Segment.BlobItems {
			obj := Object{
				Name:     baseName(blob.Name),
				FullPath: blob.Name,
				Ref:      s.ref(blob.Name),
				Updated:  blob.Properties.LastModified,
				Created:  blob.Properties.LastModified,
			}
			if blob.Properties.ContentLength != nil {
				obj.Size = *blob.Properties.ContentLength
			}
			if blob.Properties.ContentType != nil {
				obj.ContentType = *blob.Properties.ContentType
			}
			if blob.Properties.CreationTime != nil {
				obj.Created = *blob.Properties.CreationTime
			}
			objects = append(objects, obj)
		}

		marker = resp.NextMarker
	}
	return objects, nil
}

// HealthCheck verifies container access
func (s *AzureStore) HealthCheck(ctx context.Context) error {
	if _, err := s.container.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return newStorageError(ProviderAzure, "health", "", fmt.Errorf("container not accessible: %w", err))
	}
	return nil
}

func (s *AzureStore) Info() map[string]interface{} {
	return map[string]interface{}{
		"provider":  string(ProviderAzure),
		"account":   s.accountName,
		"container": s.containerName,
	}
}

func (s *AzureStore) ref(key string) string {
	return fmt.Sprintf("azure://%s/%s", s.containerName, key)
}

func isAzureNotFound(err error) bool {
	var stgErr azblob.StorageError
	if errors.As(err, &stgErr) {
		return stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound
	}
	return false
}
