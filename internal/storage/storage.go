// Package storage publishes generated slides and keeps the local artifact
// layout for each post.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/carousel-generator/internal/types"
)

// TimestampLayout is used in post ids and object names.
const TimestampLayout = "20060102_150405"

// Image is one slide handed to an uploader.
type Image struct {
	Index    int
	Data     []byte
	MIMEType string
}

// Extension returns the file extension for the image's MIME type.
func (i Image) Extension() string {
	return types.GeneratedImage{MIMEType: i.MIMEType}.Extension()
}

// Uploader publishes a post's images. Results are returned in input order
// with one entry per image; a failed index carries an error message and no
// URL. The returned error is reserved for failures that prevented any
// attempt.
type Uploader interface {
	Upload(ctx context.Context, postID string, images []Image) ([]types.UploadResult, error)
	FolderURL(postID string) string
}

// ObjectName returns the object key for slide index (0-based) of a post.
func ObjectName(postID string, index int, ts time.Time, ext string) string {
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("posts/%s/image_%d_%s.%s", postID, index+1, ts.UTC().Format(TimestampLayout), ext)
}

// ImagesFromGenerated converts fan-out output into upload inputs, skipping
// failed slots.
func ImagesFromGenerated(images []types.GeneratedImage) []Image {
	out := make([]Image, 0, len(images))
	for _, img := range images {
		if img.Failed || len(img.Bytes) == 0 {
			continue
		}
		out = append(out, Image{Index: img.Index, Data: img.Bytes, MIMEType: img.MIMEType})
	}
	return out
}

// SucceededURLs returns the URLs of successful results in index order.
func SucceededURLs(results []types.UploadResult) []string {
	var urls []string
	for _, r := range results {
		if r.OK() {
			urls = append(urls, r.URL)
		}
	}
	return urls
}
