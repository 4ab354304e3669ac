package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"

	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/types"
)

// objectInserter is the slice of the Cloud Storage API the uploader needs.
type objectInserter interface {
	Insert(ctx context.Context, bucket, name, contentType string, data []byte) error
}

type apiInserter struct {
	svc *gcs.Service
}

func (a apiInserter) Insert(ctx context.Context, bucket, name, contentType string, data []byte) error {
	_, err := a.svc.Objects.
		Insert(bucket, &gcs.Object{Name: name, ContentType: contentType}).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		PredefinedAcl("publicRead").
		Context(ctx).
		Do()
	return err
}

// GCSUploader uploads slides to a public Cloud Storage bucket.
type GCSUploader struct {
	objects objectInserter
	bucket  string
	retry   pipeline.RetryPolicy
	now     func() time.Time
	logger  zerolog.Logger
}

// NewGCSUploader creates an uploader for bucket. Client options carry the
// service account credentials.
func NewGCSUploader(ctx context.Context, bucket string, logger zerolog.Logger, opts ...option.ClientOption) (*GCSUploader, error) {
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	svc, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create cloud storage service: %w", err)
	}
	return &GCSUploader{
		objects: apiInserter{svc: svc},
		bucket:  bucket,
		retry:   pipeline.DefaultToolRetry(),
		now:     time.Now,
		logger:  logger,
	}, nil
}

// WithRetry overrides the per-object retry policy.
func (u *GCSUploader) WithRetry(p pipeline.RetryPolicy) *GCSUploader {
	u.retry = p
	return u
}

// Upload sends each image independently. A failing index does not stop the
// others.
func (u *GCSUploader) Upload(ctx context.Context, postID string, images []Image) ([]types.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ts := u.now()
	results := make([]types.UploadResult, len(images))
	for i, img := range images {
		results[i].Index = img.Index
		name := ObjectName(postID, img.Index, ts, img.Extension())
		contentType := img.MIMEType
		if contentType == "" {
			contentType = "image/png"
		}

		attempts, err := pipeline.Retry(ctx, u.retry, pipeline.IsRetriable, func(int) error {
			return classify(u.objects.Insert(ctx, u.bucket, name, contentType, img.Data))
		})
		if err != nil {
			u.logger.Warn().Err(err).Str("post_id", postID).Int("index", img.Index).Int("attempts", attempts).Msg("upload failed")
			results[i].Error = err.Error()
			continue
		}
		results[i].URL = PublicURL(u.bucket, name)
		u.logger.Debug().Str("object", name).Int("attempts", attempts).Msg("uploaded image")
	}
	return results, nil
}

// FolderURL returns the console browser URL for the post's objects.
func (u *GCSUploader) FolderURL(postID string) string {
	return fmt.Sprintf("https://console.cloud.google.com/storage/browser/%s/posts/%s", u.bucket, postID)
}

// PublicURL is the anonymous download URL of a public object.
func PublicURL(bucket, name string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, name)
}

// classify marks server-side and throttling failures as transport errors so
// they are retried; client errors are returned as-is.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return &pipeline.TransportError{Op: "storage upload", Err: err}
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &pipeline.TransportError{Op: "storage upload", Err: err}
}
