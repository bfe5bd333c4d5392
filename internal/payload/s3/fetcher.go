package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	envConfig "github.com/RedHatInsights/notifications-backend-sub014/internal/config"
	"github.com/RedHatInsights/notifications-backend-sub014/internal/payload"
)

// ObjectGetter is the subset of the S3 API used by the fetcher
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher reads offloaded event payloads stored as JSON objects
type Fetcher struct {
	client ObjectGetter
	bucket string
	log    *zap.Logger
}

// NewClient creates an S3 client for the payload bucket
func NewClient(ctx context.Context, S3Config envConfig.S3, log *zap.Logger) (*s3.Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(S3Config.Region),
	}

	var clientOpts []func(*s3.Options)

	// Configure for local development with an S3-compatible store
	if S3Config.Endpoint != "" {
		log.Info("Configuring S3 for local development",
			zap.String("endpoint", S3Config.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(S3Config.Endpoint)
			o.UsePathStyle = true
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("S3 client created",
		zap.String("region", S3Config.Region),
		zap.String("bucket", S3Config.Bucket))

	return s3.NewFromConfig(cfg, clientOpts...), nil
}

// NewFetcher creates a payload fetcher for the given bucket
func NewFetcher(client ObjectGetter, bucket string, log *zap.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		bucket: bucket,
		log:    log,
	}
}

// Fetch downloads the object named payloadID and decodes it as a JSON object
func (f *Fetcher) Fetch(ctx context.Context, payloadID string) (map[string]interface{}, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(payloadID),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", payload.ErrNotFound, payloadID)
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(out.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode payload %s: %w", payloadID, err)
	}

	f.log.Debug("Fetched offloaded payload",
		zap.String("payload_id", payloadID),
		zap.String("bucket", f.bucket))

	return body, nil
}
