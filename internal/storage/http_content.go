package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// HTTPContentStore reads sources from and writes derivatives to a
// simple-content server over its HTTP API. Object keys are content ids.
type HTTPContentStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPContentStore creates a store for the API at baseURL
func NewHTTPContentStore(baseURL string) *HTTPContentStore {
	return &HTTPContentStore{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Fetch downloads the content with id ref.Key
func (cs *HTTPContentStore) Fetch(ctx context.Context, ref pipeline.ObjectRef) (*Object, error) {
	endpoint := fmt.Sprintf("%s/api/v1/contents/%s/download", cs.baseURL, url.PathEscape(ref.Key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := cs.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return &Object{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// derivedRequest is the body of POST /api/v1/contents/{id}/derived
type derivedRequest struct {
	ParentID       string            `json:"parent_id"`
	DerivationType string            `json:"derivation_type"`
	Variant        string            `json:"variant"`
	FileName       string            `json:"file_name"`
	MimeType       string            `json:"mime_type"`
	Tags           []string          `json:"tags"`
	Metadata       map[string]string `json:"metadata"`
	ContentData    []byte            `json:"content_data"`
}

// derivedEntry is one element of GET /api/v1/contents/{id}/derived
type derivedEntry struct {
	ID             string `json:"id"`
	DerivationType string `json:"derivation_type"`
	Variant        string `json:"variant"`
}

// PutDerivative uploads d as derived content of its source and returns the
// derived content id. An existing thumbnail is overwritten and keeps its id.
func (cs *HTTPContentStore) PutDerivative(ctx context.Context, d *pipeline.ImageDerivative) (string, error) {
	existing, err := cs.findThumbnail(ctx, d.Source.Key)
	if err != nil {
		return "", err
	}
	if existing != "" {
		if err := cs.upload(ctx, existing, d); err != nil {
			return "", err
		}
		return existing, nil
	}
	return cs.createDerived(ctx, d)
}

// findThumbnail returns the id of the thumbnail derived from parentID, or ""
func (cs *HTTPContentStore) findThumbnail(ctx context.Context, parentID string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/contents/%s/derived", cs.baseURL, url.PathEscape(parentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := cs.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to list derived content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("list derived failed with status %d: %s", resp.StatusCode, string(body))
	}

	var entries []derivedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	for _, e := range entries {
		if e.DerivationType != pipeline.DerivedTypeThumbnail {
			continue
		}
		// The server reports the relationship type as the variant
		switch e.Variant {
		case "", pipeline.DerivedTypeThumbnail, thumbnailVariant:
			return e.ID, nil
		}
	}
	return "", nil
}

// upload replaces the bytes of content id
func (cs *HTTPContentStore) upload(ctx context.Context, id string, d *pipeline.ImageDerivative) error {
	endpoint := fmt.Sprintf("%s/api/v1/contents/%s/upload", cs.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(d.Bytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", d.MediaType)

	resp, err := cs.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload derived content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (cs *HTTPContentStore) createDerived(ctx context.Context, d *pipeline.ImageDerivative) (string, error) {
	reqBody := derivedRequest{
		ParentID:       d.Source.Key,
		DerivationType: pipeline.DerivedTypeThumbnail,
		Variant:        thumbnailVariant,
		FileName:       path.Base(d.Destination.Key),
		MimeType:       d.MediaType,
		Tags:           []string{pipeline.DerivedTypeThumbnail, thumbnailVariant},
		Metadata:       derivativeMeta(d),
		ContentData:    d.Bytes,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/contents/%s/derived", cs.baseURL, url.PathEscape(d.Source.Key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cs.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create derived content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create derived failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("no ID in response")
	}

	return result.ID, nil
}
