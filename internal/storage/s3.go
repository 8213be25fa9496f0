package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/posterwall/backend/internal/config"
	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/models"
)

// NewS3Client builds a path-style client for the configured object store.
// Extra option funcs are applied last.
func NewS3Client(ctx context.Context, cfg config.ObjectStoreConfig, opts ...func(*s3.Options)) (*s3.Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	all := []func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}}
	all = append(all, opts...)
	return s3.NewFromConfig(awsCfg, all...), nil
}

// S3Storage stores materialized covers in a bucket. It implements
// covers.AssetStorage and covers.AssetLookup.
type S3Storage struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	baseURL  string
}

// NewS3Storage configures an uploader targeting the provided object store.
// Covers are stored under "covers/".
func NewS3Storage(client *s3.Client, cfg config.ObjectStoreConfig) *S3Storage {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return &S3Storage{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		baseURL:  publicBase(cfg),
	}
}

// publicBase is where uploaded objects can be read from by browsers.
func publicBase(cfg config.ObjectStoreConfig) string {
	if base := strings.TrimSuffix(cfg.PublicBaseURL, "/"); base != "" {
		return base
	}
	if endpoint := strings.TrimSuffix(cfg.Endpoint, "/"); endpoint != "" {
		return endpoint + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

func coverKey(name string) string {
	return "covers/" + strings.TrimLeft(name, "/")
}

// Save uploads the cover and returns its public URL.
func (s *S3Storage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if strings.Trim(name, "/") == "" {
		return "", fmt.Errorf("s3 storage: empty key")
	}
	key := coverKey(name)

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String("image/jpeg"),
		ACL:         s3types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("s3 storage upload %s: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}

// Lookup reports whether the cover was uploaded before.
func (s *S3Storage) Lookup(ctx context.Context, name string) (string, bool) {
	key := coverKey(name)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", false
	}
	return s.baseURL + "/" + key, true
}

// S3MetadataStore keeps the cover list as one JSON object. It implements
// covers.Remote.
type S3MetadataStore struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3MetadataStore returns a metadata store writing cfg.MetadataKey.
func NewS3MetadataStore(client *s3.Client, cfg config.ObjectStoreConfig) *S3MetadataStore {
	key := strings.TrimLeft(cfg.MetadataKey, "/")
	if key == "" {
		key = "metadata.json"
	}
	return &S3MetadataStore{client: client, bucket: cfg.Bucket, key: key}
}

// Fetch downloads and decodes the list.
func (m *S3MetadataStore) Fetch(ctx context.Context) ([]models.CoverRecord, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("s3 metadata %s: not found", m.key)
		}
		return nil, fmt.Errorf("s3 metadata get %s: %w", m.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 metadata: %w", err)
	}
	return covers.DecodeList(data)
}

// Save overwrites the object with the pretty-printed list.
func (m *S3MetadataStore) Save(ctx context.Context, records []models.CoverRecord) error {
	data, err := covers.MarshalPretty(records)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("s3 metadata put %s: %w", m.key, err)
	}
	return nil
}
