package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-content-derivatives/internal/vision"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// DefaultMinConfidence is the label confidence threshold in percent
const DefaultMinConfidence = 90.0

// LabelExtractor asks the vision service for labels and keeps only those
// strictly above the threshold
type LabelExtractor struct {
	detector vision.Detector
}

// NewLabelExtractor creates an extractor around a detector
func NewLabelExtractor(detector vision.Detector) *LabelExtractor {
	return &LabelExtractor{detector: detector}
}

// Extract returns the labels of ref whose confidence is greater than threshold.
// The threshold is passed to the detector as a hint and re-applied here.
func (e *LabelExtractor) Extract(ctx context.Context, ref pipeline.ObjectRef, threshold float64) ([]pipeline.Label, error) {
	labels, err := e.detector.DetectLabels(ctx, vision.Request{Object: ref, MinConfidence: threshold})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrInferenceUnavailable, err)
	}
	return FilterLabels(labels, threshold), nil
}

// FilterLabels keeps labels with Confidence > threshold in their original order
func FilterLabels(labels []pipeline.Label, threshold float64) []pipeline.Label {
	kept := make([]pipeline.Label, 0, len(labels))
	for _, l := range labels {
		if l.Confidence > threshold {
			kept = append(kept, l)
		}
	}
	return kept
}

// AssembleRecord builds a persistable record with a fresh random identity.
// Labels are expected to be filtered already.
func AssembleRecord(ref pipeline.ObjectRef, labels []pipeline.Label) pipeline.LabeledRecord {
	if labels == nil {
		labels = []pipeline.Label{}
	}
	return pipeline.LabeledRecord{
		RecordID:  uuid.New(),
		Source:    ref,
		Labels:    labels,
		CreatedAt: time.Now().UTC(),
	}
}
