package network

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const numS3UploadRetries = 3

// S3UploadParams ...
type S3UploadParams struct {
	MediaPath      string
	MediaSize      int64
	VideoID        string
	ChunkSizeBytes int64
	Concurrency    int

	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

type s3UploadService struct {
	client      *s3.Client
	bucket      string
	mediaPath   string
	mediaSize   int64
	partSize    int64
	concurrency int
}

// UploadToS3 pushes the media file straight into the service's storage bucket
// under uploads/<videoID>/, bypassing the chunk-ingest endpoint. The transfer
// manager splits the file into parts of the configured chunk size and keeps
// at most the configured number of parts in flight.
func UploadToS3(ctx context.Context, params S3UploadParams, logger log.Logger) error {
	if params.Bucket == "" {
		return fmt.Errorf("Bucket must not be empty")
	}
	if params.VideoID == "" {
		return fmt.Errorf("VideoID must not be empty")
	}
	if params.MediaPath == "" {
		return fmt.Errorf("MediaPath must not be empty")
	}
	if params.MediaSize == 0 {
		return fmt.Errorf("MediaSize must not be empty")
	}

	cfg, err := loadAWSCredentials(
		ctx,
		params.Region,
		params.AccessKeyID,
		params.SecretAccessKey,
		logger,
	)
	if err != nil {
		return fmt.Errorf("load aws credentials: %w", err)
	}

	partSize := params.ChunkSizeBytes
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}
	concurrency := params.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	service := &s3UploadService{
		client:      s3.NewFromConfig(*cfg),
		bucket:      params.Bucket,
		mediaPath:   params.MediaPath,
		mediaSize:   params.MediaSize,
		partSize:    partSize,
		concurrency: concurrency,
	}

	key := fmt.Sprintf("uploads/%s/%s", params.VideoID, filepath.Base(params.MediaPath))
	return service.uploadWithS3Client(ctx, key, logger)
}

func (service *s3UploadService) uploadWithS3Client(ctx context.Context, key string, logger log.Logger) error {
	exists, err := service.objectExistsWithRetry(ctx, key)
	if err != nil {
		return fmt.Errorf("validate object: %w", err)
	}

	if exists {
		logger.Debugf("Media object already present at %s, skipping upload", key)
		return nil
	}

	logger.Debugf("Uploading media to %s...", key)
	if err := service.putObjectWithRetry(ctx, key); err != nil {
		return fmt.Errorf("upload media: %w", err)
	}

	return nil
}

func (service *s3UploadService) objectExistsWithRetry(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := retry.Times(numS3UploadRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := service.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(service.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) {
				switch apiError.(type) {
				case *types.NotFound:
					exists = false
					return nil, true
				default:
					return fmt.Errorf("validating object: %w", err), false
				}
			}
			return fmt.Errorf("validating object: %w", err), false
		}

		exists = true
		return nil, true
	})

	return exists, err
}

func (service *s3UploadService) putObjectWithRetry(ctx context.Context, key string) error {
	return retry.Times(numS3UploadRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		file, err := os.Open(service.mediaPath)
		if err != nil {
			return fmt.Errorf("open media path: %w", err), true
		}
		defer file.Close() //nolint:errcheck

		uploader := manager.NewUploader(service.client, func(u *manager.Uploader) {
			u.PartSize = service.partSize
			u.Concurrency = service.concurrency
		})

		_, err = uploader.Upload(ctx, &s3.PutObjectInput{
			Body:          file,
			Bucket:        aws.String(service.bucket),
			Key:           aws.String(key),
			ContentType:   aws.String("application/octet-stream"),
			ContentLength: aws.Int64(service.mediaSize),
		})
		if err != nil {
			return fmt.Errorf("upload media: %w", err), false
		}

		return nil, true
	})
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("aws credentials not defined, loading credentials from environment...")
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
