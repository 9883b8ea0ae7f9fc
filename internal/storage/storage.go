package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// ErrNotFound is returned when the referenced object does not exist
var ErrNotFound = errors.New("object not found")

// Object is a fetched blob with its declared content type
type Object struct {
	Body        []byte
	ContentType string
}

// Fetcher reads whole objects from blob storage
type Fetcher interface {
	// Fetch returns the bytes and declared content type of ref
	Fetch(ctx context.Context, ref pipeline.ObjectRef) (*Object, error)
}

// Writer stores whole objects in blob storage, overwriting any prior object
// at the same reference
type Writer interface {
	Store(ctx context.Context, ref pipeline.ObjectRef, body []byte, contentType string) error
}

// BlobStore provides read and write access to blob storage
type BlobStore interface {
	Fetcher
	Writer
}

// IsImage reports whether a declared content type is an image type
func IsImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// derivativeMeta is the metadata stored next to a derivative's bytes
func derivativeMeta(d *pipeline.ImageDerivative) map[string]string {
	return map[string]string{
		"source":    d.Source.URL(),
		"width":     strconv.Itoa(d.Width),
		"height":    strconv.Itoa(d.Height),
		"mime_type": d.MediaType,
	}
}
