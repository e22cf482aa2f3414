package bundlestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
)

// MinioConfig holds the bucket connection settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// MinioStore keeps bundles as objects under a key prefix.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore connects and creates the bucket if it does not exist.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
		useSSL = true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *MinioStore) key(name string) string {
	return s.prefix + name + extension
}

// Save uploads the bundle.
func (s *MinioStore) Save(ctx context.Context, name string, data []byte) (Info, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Info{}, err
	}
	up, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return Info{}, fmt.Errorf("save bundle %s: %w", name, err)
	}
	return Info{Name: name, Size: up.Size, ModifiedAt: up.LastModified.UTC()}, nil
}

// Load downloads the bundle.
func (s *MinioStore) Load(ctx context.Context, name string) ([]byte, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify(name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.classify(name, err)
	}
	return data, nil
}

// List returns stored bundles, newest first.
func (s *MinioStore) List(ctx context.Context) ([]Info, error) {
	var out []Info
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list bundles: %w", obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, extension) {
			continue
		}
		out = append(out, Info{
			Name:       strings.TrimSuffix(name, extension),
			Size:       obj.Size,
			ModifiedAt: obj.LastModified.UTC(),
		})
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MinioStore) classify(name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: bundle %s", core.ErrNotFound, name)
	}
	return fmt.Errorf("load bundle %s: %w", name, err)
}
