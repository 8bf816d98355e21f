package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bbernstein/tidecal/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// S3Client defines the interface for S3 operations we need
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

const publishedAtKey = "published-at"

// S3Snapshot keeps a station CSV in a bucket. The sync job publishes every
// successful directory listing so instances that cannot reach the directory
// still have a recent list to fall back on.
type S3Snapshot struct {
	client S3Client
	bucket string
	key    string
	source models.Source
	clock  clockwork.Clock
}

func NewS3Snapshot(client S3Client, bucket, key string, source models.Source, clock clockwork.Clock) *S3Snapshot {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &S3Snapshot{client: client, bucket: bucket, key: key, source: source, clock: clock}
}

func (s *S3Snapshot) Name() string {
	return "s3://" + s.bucket + "/" + s.key
}

func (s *S3Snapshot) Load(ctx context.Context) ([]models.StationDescriptor, error) {
	if s.bucket == "" {
		return nil, fmt.Errorf("%w: empty bucket name", ErrUnavailable)
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			log.Debug().Str("snapshot", s.Name()).Msg("No snapshot object published yet")
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, s.Name(), err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing S3 object body")
		}
	}(result.Body)

	if stamp, ok := result.Metadata[publishedAtKey]; ok {
		log.Debug().Str("snapshot", s.Name()).Str("published_at", stamp).Msg("Reading S3 snapshot")
	}

	descriptors, err := Decode(result.Body, s.source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, s.Name(), err)
	}
	return descriptors, nil
}

// Publish overwrites the object with descriptors.
func (s *S3Snapshot) Publish(ctx context.Context, descriptors []models.StationDescriptor) error {
	if s.bucket == "" {
		return fmt.Errorf("empty bucket name")
	}

	var buf bytes.Buffer
	if err := Encode(&buf, descriptors); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			publishedAtKey: s.clock.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("saving to S3: %w", err)
	}

	log.Debug().Int("station_count", len(descriptors)).Str("snapshot", s.Name()).Msg("Published station snapshot")
	return nil
}

// NewS3Client builds a client for region. A non-empty endpoint targets a
// local S3-compatible server with static credentials and path-style URLs.
func NewS3Client(ctx context.Context, endpoint, region string) (*s3.Client, error) {
	if endpoint != "" {
		log.Debug().Str("endpoint", endpoint).Msg("Using local S3 endpoint")
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")),
			awsconfig.WithClientLogMode(aws.LogRetries),
		)
		if err != nil {
			return nil, err
		}
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}), nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}
