package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"giftshop-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const deleteConcurrency = 5

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config points the storage at an S3-compatible object store.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Storage stores and deletes public assets referenced by orders (uploaded
// images, generated QR codes).
type Storage struct {
	client s3API
	bucket string
	host   string
	logger *zap.Logger
}

// NewStorage builds an S3 client against the configured endpoint.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
	})

	host := strings.TrimPrefix(cfg.Endpoint, "https://")
	host = strings.TrimPrefix(host, "http://")

	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		host:   host,
		logger: util.GetLogger(),
	}, nil
}

// Put uploads a public object and returns its URL.
func (s *Storage) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	key := uuid.New().String()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}

	return fmt.Sprintf("https://%s.%s/%s", s.bucket, s.host, key), nil
}

// Delete removes the object the URL points at.
func (s *Storage) Delete(ctx context.Context, url string) error {
	key, err := s.keyFromURL(url)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// DeleteResult is the outcome of one deletion in a fan-out.
type DeleteResult struct {
	URL string `json:"url"`
	Err error  `json:"-"`
}

// DeleteMany deletes the objects concurrently, best-effort. Partial failures
// are collected per URL; the call as a whole fails only when every single
// deletion failed.
func (s *Storage) DeleteMany(ctx context.Context, urls []string) ([]DeleteResult, error) {
	results := make([]DeleteResult, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)

	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			results[i] = DeleteResult{URL: url, Err: s.Delete(ctx, url)}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			s.logger.Warn("Failed to delete object",
				zap.String("url", res.URL),
				zap.Error(res.Err))
		}
	}

	if len(urls) > 0 && failed == len(urls) {
		return results, fmt.Errorf("all %d deletions failed", failed)
	}
	return results, nil
}

func (s *Storage) keyFromURL(url string) (string, error) {
	prefix := fmt.Sprintf("https://%s.%s/", s.bucket, s.host)
	if !strings.HasPrefix(url, prefix) {
		return "", fmt.Errorf("url %q does not belong to bucket %s", url, s.bucket)
	}
	return strings.TrimPrefix(url, prefix), nil
}
