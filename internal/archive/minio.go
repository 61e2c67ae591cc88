package archive

import (
	"context"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

const (
	defaultContentType = "application/octet-stream"
)

// contentTypes maps object extensions to the content type they are stored with.
var contentTypes = map[string]string{
	".jsonl": "application/jsonl",
	".json":  "application/json",
}

func contentTypeFor(key string) string {
	if ct, ok := contentTypes[path.Ext(key)]; ok {
		return ct
	}
	return defaultContentType
}

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	region          string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		useSSL: false,
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

type minioArchiver struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioArchiver(opts ...MinioOpts) (*minioArchiver, error) {
	cfg := newConfig(opts...)
	if cfg.bucket == "" {
		return nil, errors.New("no bucket configured")
	}

	minioClient, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
		Region: cfg.region,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", cfg.endpoint)
	}

	return &minioArchiver{cfg: cfg, client: minioClient}, nil
}

func (s *minioArchiver) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	info, err := s.client.PutObject(ctx, s.cfg.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentTypeFor(key),
	})
	if err != nil {
		return errors.Wrapf(err, "uploading %s to bucket %s", key, s.cfg.bucket)
	}
	if size >= 0 && info.Size != size {
		return errors.Errorf("partial upload of %s: expected %d bytes, stored %d", key, size, info.Size)
	}
	return nil
}

func (s *minioArchiver) Type() string {
	return "minio"
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithRegion(region string) MinioOpts {
	return func(c *minioConfig) {
		c.region = region
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}
