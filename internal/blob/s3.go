package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	s3Backend = "remote"

	// DefaultBucket is used when S3Config.Bucket is empty.
	DefaultBucket = "dogtor-images"

	keyPrefix = "cases/"
)

// S3Config configures an S3-compatible backend.
type S3Config struct {
	Endpoint  string // host[:port], no scheme
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool

	// PublicURL prefixes returned object URLs. Defaults to the endpoint URL.
	PublicURL string
}

// S3 stores images as cases/<uuid>.<ext> in a single bucket.
type S3 struct {
	client    *minio.Client
	bucket    string
	region    string
	publicURL string
}

// NewS3 creates the client. Call EnsureBucket before serving.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Endpoint == "" {
		return nil, &StorageError{Backend: s3Backend, Op: "init", Err: fmt.Errorf("endpoint is required")}
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, &StorageError{Backend: s3Backend, Op: "init", Err: err}
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	public := cfg.PublicURL
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.Endpoint
	}

	return &S3{
		client:    mc,
		bucket:    bucket,
		region:    cfg.Region,
		publicURL: strings.TrimRight(public, "/"),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *S3) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &StorageError{Backend: s3Backend, Op: "bucket_exists", Err: err}
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		// lost a race with another instance
		if ok, xerr := s.client.BucketExists(ctx, s.bucket); xerr == nil && ok {
			return nil
		}
		return &StorageError{Backend: s3Backend, Op: "make_bucket", Err: err}
	}
	return nil
}

// Put uploads data and returns <public-url>/<bucket>/<key>.
func (s *S3) Put(ctx context.Context, data []byte, filenameHint string) (string, error) {
	key := keyPrefix + objectName(filenameHint)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return "", &StorageError{Backend: s3Backend, Op: "put_object", Err: err}
	}
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, key), nil
}
