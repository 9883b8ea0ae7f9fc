package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// derivedVersion is the variant version written for every derivative
const derivedVersion = 1

var thumbnailVariant = fmt.Sprintf("%s_v%d", pipeline.DerivedTypeThumbnail, derivedVersion)

// PutDerivative stores the derivative as derived content of its source and
// returns the derived content ID. An existing thumbnail of the same variant is
// overwritten in place and keeps its ID.
func (cs *ContentStore) PutDerivative(ctx context.Context, d *pipeline.ImageDerivative) (string, error) {
	// Parse parent content ID
	parentID, err := uuid.Parse(d.Source.Key)
	if err != nil {
		return "", fmt.Errorf("invalid content ID: %w", err)
	}

	derivedType := pipeline.DerivedTypeThumbnail
	variant := thumbnailVariant

	existing, err := cs.findDerived(ctx, parentID, derivedType, variant)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := cs.overwrite(ctx, existing.ContentID, d); err != nil {
			return "", err
		}
		return existing.ContentID.String(), nil
	}

	derivedContent, err := cs.service.UploadDerivedContent(ctx, simplecontent.UploadDerivedContentRequest{
		ParentID:       parentID,
		DerivationType: derivedType,
		Variant:        variant,
		Reader:         bytes.NewReader(d.Bytes),
		FileName:       path.Base(d.Destination.Key),
		Tags:           []string{derivedType, variant, fmt.Sprintf("%dx%d", d.Width, d.Height)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload derived content: %w", err)
	}

	return derivedContent.ID.String(), nil
}

// findDerived returns the derived content of parentID with the given type and
// variant, or nil when there is none
func (cs *ContentStore) findDerived(ctx context.Context, parentID uuid.UUID, derivedType, variant string) (*simplecontent.DerivedContent, error) {
	derived, err := cs.service.ListDerivedContent(ctx,
		simplecontent.WithParentID(parentID),
		simplecontent.WithDerivationType(derivedType),
		simplecontent.WithVariant(variant),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list derived content: %w", err)
	}
	for _, dc := range derived {
		if dc.DerivationType == derivedType && dc.Variant == variant {
			return dc, nil
		}
	}
	return nil, nil
}

// overwrite replaces the bytes of the object downloads are served from
func (cs *ContentStore) overwrite(ctx context.Context, contentID uuid.UUID, d *pipeline.ImageDerivative) error {
	objects, err := cs.service.GetObjectsByContentID(ctx, contentID)
	if err != nil {
		return fmt.Errorf("failed to get derived objects: %w", err)
	}
	for _, obj := range objects {
		if obj.Status != string(simplecontent.ObjectStatusUploaded) {
			continue
		}
		backend, err := cs.service.GetBackend(obj.StorageBackendName)
		if err != nil {
			return fmt.Errorf("failed to get storage backend: %w", err)
		}
		if err := backend.Upload(ctx, obj.ObjectKey, bytes.NewReader(d.Bytes)); err != nil {
			return fmt.Errorf("failed to overwrite derived content: %w", err)
		}
		return nil
	}

	// No readable object yet; attach one to the existing content
	_, err = cs.service.UploadObjectForContent(ctx, simplecontent.UploadObjectForContentRequest{
		ContentID: contentID,
		Reader:    bytes.NewReader(d.Bytes),
		FileName:  path.Base(d.Destination.Key),
		MimeType:  d.MediaType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload derived object: %w", err)
	}
	return nil
}
