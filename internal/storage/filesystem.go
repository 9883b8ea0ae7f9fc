package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// FilesystemStorage stores objects under baseDir/<location>/<key>
type FilesystemStorage struct {
	baseDir string
}

// NewFilesystemStorage creates a filesystem store rooted at baseDir
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FilesystemStorage{
		baseDir: baseDir,
	}, nil
}

func (fs *FilesystemStorage) path(ref pipeline.ObjectRef) (string, error) {
	base := filepath.Clean(fs.baseDir)
	path := filepath.Join(base, ref.Location, ref.Key)

	// Security: prevent directory traversal
	if ref.Location == "" || strings.ContainsAny(ref.Location, `/\`) ||
		!strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid reference %s: path traversal detected", ref.URL())
	}
	return path, nil
}

// Fetch reads the object and sniffs its content type from the bytes
func (fs *FilesystemStorage) Fetch(ctx context.Context, ref pipeline.ObjectRef) (*Object, error) {
	path, err := fs.path(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.URL())
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return &Object{
		Body:        body,
		ContentType: mimetype.Detect(body).String(),
	}, nil
}

// Store writes the object through a temporary file and a rename so readers
// never observe a partial object
func (fs *FilesystemStorage) Store(ctx context.Context, ref pipeline.ObjectRef, body []byte, contentType string) error {
	path, err := fs.path(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// PutDerivative stores the derivative bytes at its destination and a JSON
// sidecar with its dimensions. Returns the destination key.
func (fs *FilesystemStorage) PutDerivative(ctx context.Context, d *pipeline.ImageDerivative) (string, error) {
	if err := fs.Store(ctx, d.Destination, d.Bytes, d.MediaType); err != nil {
		return "", err
	}

	meta, err := json.Marshal(derivativeMeta(d))
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	sidecar := pipeline.ObjectRef{Location: d.Destination.Location, Key: d.Destination.Key + ".meta.json"}
	if err := fs.Store(ctx, sidecar, meta, "application/json"); err != nil {
		return "", err
	}
	return d.Destination.Key, nil
}
