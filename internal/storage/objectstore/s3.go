package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/kbchat/backend/pkg/config"
	"github.com/kbchat/backend/pkg/logger"
	"github.com/kbchat/backend/pkg/retry"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Store struct {
	client      S3API
	bucket      string
	retryConfig retry.Config
}

func NewS3Store(client S3API, bucket string, maxAttempts int) *S3Store {
	retryConfig := retry.DefaultConfig()
	retryConfig.MaxAttempts = maxAttempts
	retryConfig.InitialDelay = 250 * time.Millisecond
	retryConfig.Retryable = func(err error) bool { return !errors.Is(err, ErrNotFound) }
	retryConfig.Logger = logger.GetLogger()

	return &S3Store{client: client, bucket: bucket, retryConfig: retryConfig}
}

// NewS3StoreFromConfig builds the AWS client from the default credential
// chain. Endpoint and PathStyle allow S3-compatible servers such as MinIO.
func NewS3StoreFromConfig(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	logger.Info("S3 object store initialized",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint),
	)

	return NewS3Store(client, cfg.Bucket, cfg.Retry.MaxAttempts), nil
}

// Put uploads r in a single PutObject call; S3 makes the object visible
// only once the upload completes.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object body: %w", err)
	}
	if size >= 0 && int64(len(body)) != size {
		return fmt.Errorf("object %s: expected %d bytes, read %d", key, size, len(body))
	}

	err = retry.Do(ctx, s.retryConfig, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}

	logger.Debug("Object uploaded", zap.String("key", key), zap.Int("bytes", len(body)))
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := retry.DoWithResult(ctx, s.retryConfig, func(ctx context.Context) (*s3.GetObjectOutput, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var nsk *types.NoSuchKey
			if errors.As(err, &nsk) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, key, err)
	}

	return out.Body, nil
}
