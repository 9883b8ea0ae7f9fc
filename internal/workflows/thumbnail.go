package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tendant/simple-content-derivatives/internal/orchestration"
	"github.com/tendant/simple-content-derivatives/internal/storage"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// Thumbnail defaults
const (
	DefaultThumbnailPrefix = "thumbnail-"
	DefaultThumbnailSize   = 150
)

// DerivativeWriter stores derivatives, overwriting any prior derivative at the
// same destination. Returns an identifier of the stored artifact.
type DerivativeWriter interface {
	PutDerivative(ctx context.Context, d *pipeline.ImageDerivative) (string, error)
}

// ExecutionStarter hands a stored derivative off to the workflow engine
type ExecutionStarter interface {
	EnsureAndStart(ctx context.Context, def orchestration.Definition, input any) (string, error)
}

// ThumbnailConfig configures the thumbnail workflow
type ThumbnailConfig struct {
	// DestinationLocation is the bucket derivatives are written to; empty
	// means the source bucket
	DestinationLocation string
	KeyPrefix           string
	MaxWidth            int
	MaxHeight           int
	CallTimeout         time.Duration
}

// ExecutionInput is the payload of a started downstream workflow
type ExecutionInput struct {
	Source     pipeline.ObjectRef `json:"source"`
	Derivative pipeline.ObjectRef `json:"derivative"`
	Artifact   string             `json:"artifact"`
	MediaType  string             `json:"media_type"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
}

// ThumbnailWorkflow generates thumbnails for notified images
type ThumbnailWorkflow struct {
	contentReader storage.Fetcher
	derivedWriter DerivativeWriter
	deriver       Deriver
	cfg           ThumbnailConfig

	trigger    ExecutionStarter
	definition orchestration.Definition
}

// NewThumbnailWorkflow creates a new thumbnail generation workflow
func NewThumbnailWorkflow(contentReader storage.Fetcher, derivedWriter DerivativeWriter, deriver Deriver, cfg ThumbnailConfig) *ThumbnailWorkflow {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultThumbnailPrefix
	}
	if cfg.MaxWidth == 0 {
		cfg.MaxWidth = DefaultThumbnailSize
	}
	if cfg.MaxHeight == 0 {
		cfg.MaxHeight = DefaultThumbnailSize
	}
	return &ThumbnailWorkflow{
		contentReader: contentReader,
		derivedWriter: derivedWriter,
		deriver:       deriver,
		cfg:           cfg,
	}
}

// WithTrigger starts an execution of def after every stored thumbnail
func (w *ThumbnailWorkflow) WithTrigger(trigger ExecutionStarter, def orchestration.Definition) *ThumbnailWorkflow {
	w.trigger = trigger
	w.definition = def
	return w
}

// Name returns the workflow name
func (w *ThumbnailWorkflow) Name() string {
	return "ThumbnailWorkflow"
}

// DestinationKey derives the derivative key from the source key
func DestinationKey(prefix, sourceKey string) string {
	return prefix + sourceKey
}

// Destination returns where the derivative of src is stored
func (w *ThumbnailWorkflow) Destination(src pipeline.ObjectRef) pipeline.ObjectRef {
	location := w.cfg.DestinationLocation
	if location == "" {
		location = src.Location
	}
	return pipeline.ObjectRef{Location: location, Key: DestinationKey(w.cfg.KeyPrefix, src.Key)}
}

// Execute runs fetch, derive, store and trigger for one notification
func (w *ThumbnailWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	log := wctx.log()
	src := wctx.Notification.Ref()

	// Step 1: Download source content
	callCtx, cancel := callContext(wctx.Ctx, w.cfg.CallTimeout)
	obj, err := w.contentReader.Fetch(callCtx, src)
	cancel()
	if err != nil {
		log.Warn("Failed to download source content", "error", err)
		return nil, fmt.Errorf("%w: %w", pipeline.ErrSourceUnavailable, err)
	}

	// Step 2: Only images are derived
	contentType := obj.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(obj.Body).String()
	}
	if !storage.IsImage(contentType) {
		log.Info("Source is not an image", "content_type", contentType)
		return nil, fmt.Errorf("%w: content type %q", pipeline.ErrUnsupportedMedia, contentType)
	}

	// Step 3: Generate thumbnail
	derived, err := w.deriver.Derive(obj.Body, w.cfg.MaxWidth, w.cfg.MaxHeight)
	if err != nil {
		log.Warn("Thumbnail generation failed", "error", err)
		return nil, err
	}
	log.Debug("Thumbnail generated", "width", derived.Width, "height", derived.Height, "bytes", len(derived.Bytes))

	derivative := &pipeline.ImageDerivative{
		Source:      src,
		Destination: w.Destination(src),
		MediaType:   pipeline.MediaTypeJPEG,
		Width:       derived.Width,
		Height:      derived.Height,
		Bytes:       derived.Bytes,
	}

	// Step 4: Write derived content, unless the batch deadline already passed
	if err := wctx.Ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: before store: %w", pipeline.ErrTimeout, err)
	}
	callCtx, cancel = callContext(wctx.Ctx, w.cfg.CallTimeout)
	artifact, err := w.derivedWriter.PutDerivative(callCtx, derivative)
	cancel()
	if err != nil {
		log.Warn("Failed to write derived content", "error", err)
		return nil, fmt.Errorf("%w: %w", pipeline.ErrPersistenceFailure, err)
	}
	log.Info("Thumbnail stored", "destination", derivative.Destination.URL(), "artifact", artifact)

	result := &WorkflowResult{Artifact: artifact}

	// Step 5: Hand off to the workflow engine without awaiting the execution
	if w.trigger == nil {
		return result, nil
	}
	callCtx, cancel = callContext(wctx.Ctx, w.cfg.CallTimeout)
	executionID, err := w.trigger.EnsureAndStart(callCtx, w.definition, ExecutionInput{
		Source:     src,
		Derivative: derivative.Destination,
		Artifact:   artifact,
		MediaType:  derivative.MediaType,
		Width:      derivative.Width,
		Height:     derivative.Height,
	})
	cancel()
	if err != nil {
		log.Warn("Failed to start downstream workflow", "workflow", w.definition.Name, "error", err)
		return nil, fmt.Errorf("start %s: %w", w.definition.Name, err)
	}
	log.Info("Downstream workflow started", "workflow", w.definition.Name, "execution_id", executionID)

	result.ExecutionID = executionID
	return result, nil
}
