package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Job constants select which derivative pipeline a batch runs through
const (
	JobLabels    = "labels"
	JobThumbnail = "thumbnail"
)

// DerivedTypeThumbnail is the simple-content derivation type of thumbnails
const DerivedTypeThumbnail = "thumbnail"

// MediaTypeJPEG is the fixed encoding of every image derivative
const MediaTypeJPEG = "image/jpeg"

// ObjectRef identifies one object in blob storage
type ObjectRef struct {
	Location string `json:"location"`
	Key      string `json:"key"`
}

// URL returns the canonical locator for the object. It is for display and
// persistence only and is never parsed back into a reference.
func (r ObjectRef) URL() string {
	return "s3://" + r.Location + "/" + r.Key
}

// Notification is a single storage-change event referencing one object
type Notification struct {
	SourceLocation string    `json:"source_location" validate:"required"`
	ObjectKey      string    `json:"object_key" validate:"required"`
	EventTime      time.Time `json:"event_time"`
}

// Ref returns the notified object as a structured reference
func (n Notification) Ref() ObjectRef {
	return ObjectRef{Location: n.SourceLocation, Key: n.ObjectKey}
}

// Label is a detected label with its confidence percentage in [0,100]
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// LabeledRecord is the persisted result of one label-extraction run
type LabeledRecord struct {
	RecordID  uuid.UUID `json:"record_id"`
	Source    ObjectRef `json:"source"`
	Labels    []Label   `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
}

// ImageDerivative is a resized image ready to be stored at Destination
type ImageDerivative struct {
	Source      ObjectRef `json:"source"`
	Destination ObjectRef `json:"destination"`
	MediaType   string    `json:"media_type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Bytes       []byte    `json:"-"`
}

// Status is the per-notification result of a dispatch
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome reports what happened to one notification of a batch
type Outcome struct {
	ObjectKey   string    `json:"object_key"`
	Location    string    `json:"location"`
	Status      Status    `json:"status"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	Artifact    string    `json:"artifact,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	SeenCount   int       `json:"seen_count,omitempty"`
}

// DispatchResponse is the body returned by the notification intake endpoint
type DispatchResponse struct {
	Pipeline  string    `json:"pipeline"`
	Outcomes  []Outcome `json:"outcomes"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// Summarize builds a DispatchResponse with status counts for outcomes
func Summarize(job string, outcomes []Outcome) DispatchResponse {
	resp := DispatchResponse{Pipeline: job, Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case StatusSucceeded:
			resp.Succeeded++
		case StatusSkipped:
			resp.Skipped++
		case StatusFailed:
			resp.Failed++
		}
	}
	return resp
}
