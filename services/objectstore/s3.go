package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/models"
	"go.uber.org/zap"
)

// ErrObjectNotFound is returned when the requested image is not in the bucket
var ErrObjectNotFound = errors.New("object not found")

// Image is a stored training image. Callers must close Body.
type Image struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// s3API is the subset of the S3 client used by the store
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store reads uploaded training images from an S3-compatible bucket
type S3Store struct {
	client s3API
	bucket string
	logger *zap.Logger
}

// NewS3Store creates a store for the configured bucket. Static keys are used
// when set; otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Store(client, cfg.Bucket, logger), nil
}

func newS3Store(client s3API, bucket string, logger *zap.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// GetImage opens the stored image addressed by key
func (s *S3Store) GetImage(ctx context.Context, key models.ImageKey) (*Image, error) {
	objectKey := key.ObjectName()

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("s3 get %s: %w", objectKey, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("s3 get %s: %w", objectKey, err)
	}

	img := &Image{
		Body:          resp.Body,
		ContentType:   aws.ToString(resp.ContentType),
		ContentLength: aws.ToInt64(resp.ContentLength),
	}

	// the recorded type is advisory; the bytes are sniffed later
	if img.ContentType != "" && img.ContentType != "image/jpeg" && img.ContentType != "image/png" {
		s.logger.Debug("stored image has unexpected content type",
			zap.String("key", objectKey),
			zap.String("content_type", img.ContentType))
	}

	return img, nil
}

// HealthCheck verifies the bucket is reachable
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 health check: %w", err)
	}
	return nil
}
