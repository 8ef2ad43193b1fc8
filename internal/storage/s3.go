package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the settings for an S3-compatible backend (AWS or MinIO).
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Gateway stores artifacts in an S3 bucket.
type S3Gateway struct {
	client        objectPutter
	bucket        string
	publicBaseURL string
	names         namer
}

// NewS3Gateway builds an S3 client from cfg. Static credentials are used when
// an access key is configured; otherwise the default AWS credential chain
// applies. A custom endpoint switches the client to path-style addressing.
func NewS3Gateway(ctx context.Context, cfg S3Config) (*S3Gateway, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Gateway(client, cfg), nil
}

func newS3Gateway(client objectPutter, cfg S3Config) *S3Gateway {
	base := cfg.PublicBaseURL
	if base == "" {
		if cfg.Endpoint != "" {
			base = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3Gateway{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: base,
		names:         defaultNamer(),
	}
}

// Upload puts src under a unique key. The SDK's own retryer handles
// transient failures.
func (g *S3Gateway) Upload(ctx context.Context, src Source, category Category) (*Object, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	key := g.names.nameFor(category, src)

	body, closeBody, err := seekableBody(src)
	if err != nil {
		return nil, err
	}
	defer closeBody()

	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(g.bucket),
		Key:          aws.String(key),
		Body:         body,
		ContentType:  aws.String(src.contentType()),
		CacheControl: aws.String(cacheControlFor(category)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put s3 object %s: %w", key, err)
	}

	return &Object{
		PublicURL:  publicURL(g.publicBaseURL, key),
		StorageURI: fmt.Sprintf("s3://%s/%s", g.bucket, key),
		Name:       key,
	}, nil
}

// seekableBody returns a ReadSeeker so the SDK can sign and rewind the
// payload on retries.
func seekableBody(src Source) (io.ReadSeeker, func(), error) {
	if src.Path == "" {
		return bytes.NewReader(src.Data), func() {}, nil
	}
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open local file %s: %w", src.Path, err)
	}
	return f, func() { _ = f.Close() }, nil
}
