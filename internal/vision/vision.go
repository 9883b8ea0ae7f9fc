// Package vision defines the label-detection collaborator and an Ollama
// backed implementation of it.
package vision

import (
	"context"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// Request asks for the labels of one stored image
type Request struct {
	Object pipeline.ObjectRef
	// MinConfidence is a pre-filter hint; implementations may ignore it or
	// apply it inclusively
	MinConfidence float64
}

// Detector returns labels with confidence percentages in [0,100]
type Detector interface {
	DetectLabels(ctx context.Context, req Request) ([]pipeline.Label, error)
}
