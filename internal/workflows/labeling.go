package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// RecordWriter persists labeled records. Records are written once and never
// updated.
type RecordWriter interface {
	PutRecord(ctx context.Context, rec pipeline.LabeledRecord) error
}

// LabelConfig configures the label workflow
type LabelConfig struct {
	MinConfidence float64
	CallTimeout   time.Duration
}

// LabelWorkflow extracts labels from an image and persists them as a record
type LabelWorkflow struct {
	extractor *LabelExtractor
	records   RecordWriter
	cfg       LabelConfig
}

// NewLabelWorkflow creates a new label extraction workflow
func NewLabelWorkflow(extractor *LabelExtractor, records RecordWriter, cfg LabelConfig) *LabelWorkflow {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	return &LabelWorkflow{
		extractor: extractor,
		records:   records,
		cfg:       cfg,
	}
}

// Name returns the workflow name
func (w *LabelWorkflow) Name() string {
	return "LabelWorkflow"
}

// Execute runs extract, filter, assemble and persist for one notification
func (w *LabelWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	log := wctx.log()
	ref := wctx.Notification.Ref()

	// Step 1: Extract and filter labels
	callCtx, cancel := callContext(wctx.Ctx, w.cfg.CallTimeout)
	labels, err := w.extractor.Extract(callCtx, ref, w.cfg.MinConfidence)
	cancel()
	if err != nil {
		log.Warn("Label extraction failed", "error", err)
		return nil, err
	}
	log.Debug("Labels extracted", "count", len(labels), "min_confidence", w.cfg.MinConfidence)

	// Step 2: Assemble record
	rec := AssembleRecord(ref, labels)

	// Step 3: Persist, unless the batch deadline already passed
	if err := wctx.Ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: before persist: %w", pipeline.ErrTimeout, err)
	}
	callCtx, cancel = callContext(wctx.Ctx, w.cfg.CallTimeout)
	err = w.records.PutRecord(callCtx, rec)
	cancel()
	if err != nil {
		log.Warn("Failed to persist record", "record_id", rec.RecordID, "error", err)
		return nil, fmt.Errorf("%w: %w", pipeline.ErrPersistenceFailure, err)
	}

	log.Info("Label record persisted", "record_id", rec.RecordID, "labels", len(labels))

	return &WorkflowResult{Artifact: rec.RecordID.String()}, nil
}
