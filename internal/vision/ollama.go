package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/tendant/simple-content-derivatives/internal/storage"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

const labelPrompt = `List the objects, scenes and concepts visible in this image.
Respond with JSON only, in this exact shape:
{"labels":[{"name":"Cat","confidence":97.5}]}
confidence is a percentage between 0 and 100. Only include labels with confidence of at least %.1f.
Use short capitalized English nouns for names.`

// OllamaDetector detects labels by asking a vision model served by Ollama.
// Image bytes are read through the fetcher, so the model never needs access
// to the blob store.
type OllamaDetector struct {
	client  *api.Client
	model   string
	fetcher storage.Fetcher
}

// NewOllamaDetector creates a detector for the Ollama server at ollamaURL
func NewOllamaDetector(ollamaURL, model string, fetcher storage.Fetcher) (*OllamaDetector, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}
	if model == "" {
		return nil, errors.New("model is required")
	}

	// Drop any path such as /api/chat
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &OllamaDetector{
		client:  api.NewClient(baseURL, http.DefaultClient),
		model:   model,
		fetcher: fetcher,
	}, nil
}

// DetectLabels fetches the image and asks the model for labels
func (d *OllamaDetector) DetectLabels(ctx context.Context, req Request) ([]pipeline.Label, error) {
	obj, err := d.fetcher.Fetch(ctx, req.Object)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}

	stream := false
	chat := &api.ChatRequest{
		Model: d.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: fmt.Sprintf(labelPrompt, req.MinConfidence),
				Images:  []api.ImageData{api.ImageData(obj.Body)},
			},
		},
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]any{
			"temperature": 0,
		},
	}

	var content strings.Builder
	err = d.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return parseLabels(content.String())
}

type labelResponse struct {
	Labels []pipeline.Label `json:"labels"`
}

// parseLabels decodes the model output. Labels without a name are dropped
// and confidences are clamped to [0,100].
func parseLabels(raw string) ([]pipeline.Label, error) {
	raw = sanitizeModelJSON(raw)
	if raw == "" {
		return nil, errors.New("empty response from model")
	}

	var resp labelResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}

	labels := make([]pipeline.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			continue
		}
		conf := l.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 100 {
			conf = 100
		}
		labels = append(labels, pipeline.Label{Name: name, Confidence: conf})
	}
	return labels, nil
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas and
// keeps only the outermost object
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(raw[start : end+1])
}
