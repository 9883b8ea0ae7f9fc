package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// contentService is the subset of simplecontent.Service used here
type contentService interface {
	DownloadContent(ctx context.Context, contentID uuid.UUID) (io.ReadCloser, error)
	GetContentDetails(ctx context.Context, contentID uuid.UUID, options ...simplecontent.ContentDetailsOption) (*simplecontent.ContentDetails, error)
	UploadDerivedContent(ctx context.Context, req simplecontent.UploadDerivedContentRequest) (*simplecontent.Content, error)
	UploadObjectForContent(ctx context.Context, req simplecontent.UploadObjectForContentRequest) (*simplecontent.Object, error)
	ListDerivedContent(ctx context.Context, options ...simplecontent.ListDerivedContentOption) ([]*simplecontent.DerivedContent, error)
	GetObjectsByContentID(ctx context.Context, contentID uuid.UUID) ([]*simplecontent.Object, error)
	GetBackend(name string) (simplecontent.BlobStore, error)
}

// ContentStore reads sources from and writes derivatives to a simple-content
// service. Object keys are content IDs; the location is not used by the
// service and is kept only for display.
type ContentStore struct {
	service contentService
}

// NewContentStore creates a store backed by a simple-content service
func NewContentStore(service simplecontent.Service) *ContentStore {
	return &ContentStore{
		service: service,
	}
}

// Fetch downloads the content identified by ref.Key
func (cs *ContentStore) Fetch(ctx context.Context, ref pipeline.ObjectRef) (*Object, error) {
	id, err := uuid.Parse(ref.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid content ID: %w", err)
	}

	details, err := cs.service.GetContentDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get content details: %w", err)
	}

	reader, err := cs.service.DownloadContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	return &Object{Body: body, ContentType: details.MimeType}, nil
}
