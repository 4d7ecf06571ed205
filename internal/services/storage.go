package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"cleartitle/internal/config"
	"cleartitle/internal/models"
	"cleartitle/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const mediaPrefix = "listings/"

// ErrStorageDisabled is returned by uploads when no bucket is configured.
var ErrStorageDisabled = errors.New("object storage is not configured")

type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// ObjectStorage holds listing media.
type ObjectStorage interface {
	Upload(ctx context.Context, file UploadFile) (models.MediaRef, error)
	Delete(ctx context.Context, id string) error
}

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Storage struct {
	client        s3API
	bucket        string
	publicBaseURL string
	logger        *slog.Logger
}

// NewS3Storage builds the S3 client from the default AWS credential chain.
// S3_ENDPOINT switches to path-style addressing for S3 compatible stores.
func NewS3Storage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*S3Storage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	base := cfg.S3PublicBaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.S3Region)
	}

	logger.Info("Object storage initialised", "bucket", cfg.S3Bucket, "region", cfg.S3Region)
	return &S3Storage{client: client, bucket: cfg.S3Bucket, publicBaseURL: strings.TrimSuffix(base, "/"), logger: logger}, nil
}

func (s *S3Storage) Upload(ctx context.Context, file UploadFile) (models.MediaRef, error) {
	contentType := file.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(file.Data)
	}
	key := mediaPrefix + utils.NewID() + strings.ToLower(path.Ext(file.Name))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(file.Data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return models.MediaRef{}, fmt.Errorf("S3 PutObject %s/%s: %w", s.bucket, key, err)
	}
	return models.MediaRef{URL: s.publicBaseURL + "/" + key, ID: key}, nil
}

func (s *S3Storage) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("S3 DeleteObject %s/%s: %w", s.bucket, id, err)
	}
	return nil
}

// DisabledStorage stands in when no bucket is configured. Listings can still
// be created with media URLs but not with uploaded files.
type DisabledStorage struct{}

func (DisabledStorage) Upload(context.Context, UploadFile) (models.MediaRef, error) {
	return models.MediaRef{}, ErrStorageDisabled
}

func (DisabledStorage) Delete(context.Context, string) error { return nil }
