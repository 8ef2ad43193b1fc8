package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/Lllllllleong/accessiblelessons/internal/gcp"
)

const (
	gcsMaxRetries   = 4
	gcsWriteTimeout = 5 * time.Minute
)

// GCSGateway stores artifacts in a single Cloud Storage bucket.
type GCSGateway struct {
	client        *gcs.Client
	bucket        string
	publicBaseURL string
	names         namer
	backoff       time.Duration
}

// NewGCSGateway returns a gateway writing to bucket. publicBaseURL defaults to
// the storage.googleapis.com endpoint for the bucket.
func NewGCSGateway(client *gcs.Client, bucket, publicBaseURL string) *GCSGateway {
	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSGateway{
		client:        client,
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
		names:         defaultNamer(),
		backoff:       time.Second,
	}
}

// Upload writes src under a unique name and retries transient failures with
// a doubling backoff.
func (g *GCSGateway) Upload(ctx context.Context, src Source, category Category) (*Object, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	objectName := g.names.nameFor(category, src)
	meta := gcp.ObjectMeta{ContentType: src.contentType(), CacheControl: cacheControlFor(category)}
	bucket := g.client.Bucket(g.bucket)

	backoff := g.backoff
	var lastErr error
	for i := 0; i < gcsMaxRetries; i++ {
		err := func() error {
			reader, err := src.open()
			if err != nil {
				return err
			}
			defer reader.Close()

			writeCtx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
			defer cancel()
			return gcp.WriteObjectAtomically(writeCtx, bucket, objectName, reader, meta)
		}()
		if err == nil {
			return &Object{
				PublicURL:  publicURL(g.publicBaseURL, objectName),
				StorageURI: fmt.Sprintf("gs://%s/%s", g.bucket, objectName),
				Name:       objectName,
			}, nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", gcsMaxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}
