package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// Client is an HTTP client for the derivatives notification endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new derivatives client
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// NewWithHTTPClient creates a new derivatives client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Dispatch posts a bucket notification batch to the pipeline named job and
// returns the per-record outcomes
func (c *Client) Dispatch(ctx context.Context, job string, info notification.Info) (*pipeline.DispatchResponse, error) {
	// Marshal request
	body, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Create HTTP request
	endpoint := fmt.Sprintf("%s/v1/notifications?pipeline=%s", c.baseURL, url.QueryEscape(job))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Execute request
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check status code
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(bytes.TrimSpace(bodyBytes)))
	}

	// Parse response
	var dispatchResp pipeline.DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&dispatchResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &dispatchResp, nil
}

// Notify dispatches a single object, encoding the key the way bucket
// notifications do
func (c *Client) Notify(ctx context.Context, job string, ref pipeline.ObjectRef) (*pipeline.Outcome, error) {
	var info notification.Info
	info.Records = make([]notification.Event, 1)
	info.Records[0].EventName = "s3:ObjectCreated:Put"
	info.Records[0].EventTime = time.Now().UTC().Format(time.RFC3339Nano)
	info.Records[0].S3.Bucket.Name = ref.Location
	info.Records[0].S3.Object.Key = url.QueryEscape(ref.Key)

	resp, err := c.Dispatch(ctx, job, info)
	if err != nil {
		return nil, err
	}
	if len(resp.Outcomes) != 1 {
		return nil, fmt.Errorf("expected 1 outcome, got %d", len(resp.Outcomes))
	}
	return &resp.Outcomes[0], nil
}
