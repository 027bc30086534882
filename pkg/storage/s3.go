package storage

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Config holds the object store settings.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Configured reports whether enough settings are present to use the backend.
func (c S3Config) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// S3 uploads artifacts to an S3 compatible object store with a single PUT.
type S3 struct {
	bucket string
	prefix string
	client *s3.Client
	logger *zap.Logger
}

var _ Backend = (*S3)(nil)

// S3Option configures the S3 backend.
type S3Option func(s *S3) error

// WithS3Logger sets the logger.
func WithS3Logger(l *zap.Logger) S3Option {
	return func(s *S3) error {
		s.logger = l
		return nil
	}
}

// NewS3 returns an S3 backend for cfg.
func NewS3(cfg S3Config, opts ...S3Option) (*S3, error) {
	if !cfg.Configured() {
		return nil, errors.New("s3: bucket and credentials are required")
	}
	s := &S3{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	o := s3.Options{
		Region:                     region,
		Credentials:                credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle:               true,
		HTTPClient:                 &http.Client{Transport: Transport(DefaultTransportOptions)},
		Retryer:                    aws.NopRetryer{},
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	}
	if cfg.Endpoint != "" {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	s.client = s3.New(o)
	return s, nil
}

func (s *S3) Kind() string { return KindS3 }

func (s *S3) objectKey(remoteKey string) string {
	key := strings.TrimPrefix(path.Clean("/"+remoteKey), "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3) Upload(ctx context.Context, localPath, remoteKey string) (*Destination, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	key := s.objectKey(remoteKey)
	s.logger.Debug("Uploading artifact", zap.String("bucket", s.bucket), zap.String("key", key), zap.Int64("size", fi.Size()))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(fi.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		s.logger.Error("PutObject failed", zap.String("key", key), zap.Error(err))
		return nil, transportError(KindS3, err)
	}
	return &Destination{Backend: KindS3, Key: s.bucket + "/" + key}, nil
}
