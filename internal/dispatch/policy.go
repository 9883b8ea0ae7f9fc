package dispatch

import (
	"strings"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// SourcePolicy decides which notifications a pipeline accepts
type SourcePolicy struct {
	// Location is the ingestion bucket; empty accepts every bucket
	Location string
	// KeyPrefix restricts accepted keys; empty accepts every key
	KeyPrefix string
	// ExcludedPrefixes rejects keys such as previously written derivatives
	ExcludedPrefixes []string
}

// Accepts reports whether n should be processed
func (p SourcePolicy) Accepts(n pipeline.Notification) bool {
	if p.Location != "" && n.SourceLocation != p.Location {
		return false
	}
	if !strings.HasPrefix(n.ObjectKey, p.KeyPrefix) {
		return false
	}
	for _, prefix := range p.ExcludedPrefixes {
		if prefix != "" && strings.HasPrefix(n.ObjectKey, prefix) {
			return false
		}
	}
	return true
}
