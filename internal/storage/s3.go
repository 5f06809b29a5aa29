package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/coursekit/imageline/pkg/logging"
)

// S3Storage uploads artifacts to an S3-compatible bucket. Works with AWS S3
// and MinIO-style providers when an endpoint override is set.
type S3Storage struct {
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
}

func NewS3Storage(client *s3.Client, bucket, region, endpoint string) *S3Storage {
	return &S3Storage{
		client:   client,
		bucket:   bucket,
		region:   region,
		endpoint: strings.TrimSuffix(endpoint, "/"),
	}
}

func (s *S3Storage) Store(ctx context.Context, data []byte, fileName, mimeType, ownerID string) (string, error) {
	key := objectKey(ownerID, fileName)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		logging.WithComponent("storage").WithFields(map[string]interface{}{
			"bucket": s.bucket,
			"key":    key,
		}).Errorf("s3 put failed: %v", err)
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	return s.publicURL(key), nil
}

func (s *S3Storage) publicURL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
