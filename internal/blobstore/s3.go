package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Store stores objects in an S3 bucket
type S3Store struct {
	client s3iface.S3API
	bucket string
}

// NewS3Store creates an S3 client from configuration. Without static keys
// the default AWS credential chain is used.
func NewS3Store(config *S3Config) (*S3Store, error) {
	if config == nil {
		return nil, ValidationErrors{{Field: "s3", Message: "S3 storage configuration is required"}}
	}

	awsConfig := &aws.Config{
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(config.ForcePathStyle),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, newStorageError(ProviderS3, "init", "", fmt.Errorf("failed to create AWS session: %w", err))
	}

	return NewS3StoreWithClient(s3.New(sess), config.Bucket), nil
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(client s3iface.S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	key, err := cleanKey(path)
	if err != nil {
		return "", newStorageError(ProviderS3, "put", "", err)
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", newStorageError(ProviderS3, "put", key, err)
	}
	return s.ref(key), nil
}

func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := splitRef(ref, "s3", s.bucket)
	if err != nil {
		return nil, newStorageError(ProviderS3, "get", ref, err)
	}

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, newStorageError(ProviderS3, "get", ref, ErrNotFound)
		}
		return nil, newStorageError(ProviderS3, "get", ref, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, newStorageError(ProviderS3, "get", ref, err)
	}
	return data, nil
}

// Delete removes the object. S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	key, err := splitRef(ref, "s3", s.bucket)
	if err != nil {
		return newStorageError(ProviderS3, "delete", ref, err)
	}

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return newStorageError(ProviderS3, "delete", ref, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				key := aws.StringValue(obj.Key)
				objects = append(objects, Object{
					Name:     baseName(key),
					FullPath: key,
					Ref:      s.ref(key),
					Size:     aws.Int64Value(obj.Size),
					Created:  aws.TimeValue(obj.LastModified),
					Updated:  aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
	if err != nil {
		return nil, newStorageError(ProviderS3, "list", prefix, err)
	}
	return objects, nil
}

// HealthCheck verifies that the bucket is reachable
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return newStorageError(ProviderS3, "health", "", fmt.Errorf("bucket not accessible: %w", err))
	}
	return nil
}

func (s *S3Store) Info() map[string]interface{} {
	return map[string]interface{}{
		"provider": string(ProviderS3),
		"bucket":   s.bucket,
	}
}

func (s *S3Store) ref(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
