package pipeline

import "errors"

// ErrorKind classifies why a record failed
type ErrorKind string

const (
	KindInvalidDimension         ErrorKind = "InvalidDimension"
	KindUnsupportedMedia         ErrorKind = "UnsupportedMedia"
	KindInferenceUnavailable     ErrorKind = "InferenceUnavailable"
	KindPersistenceFailure       ErrorKind = "PersistenceFailure"
	KindOrchestrationUnavailable ErrorKind = "OrchestrationUnavailable"
	KindTimeout                  ErrorKind = "Timeout"
	KindDefinitionConflict       ErrorKind = "DefinitionConflict"
	KindSourceUnavailable        ErrorKind = "SourceUnavailable"
	KindInternal                 ErrorKind = "Internal"
)

var (
	// ErrInvalidDimension is returned when a width or height is not positive
	ErrInvalidDimension = errors.New("invalid dimension")

	// ErrUnsupportedMedia is returned when the source is not a decodable image
	ErrUnsupportedMedia = errors.New("unsupported media")

	// ErrInferenceUnavailable is returned when the vision service call fails
	ErrInferenceUnavailable = errors.New("inference unavailable")

	// ErrPersistenceFailure is returned when a record or derivative cannot be written
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrOrchestrationUnavailable is returned when the workflow engine call fails
	ErrOrchestrationUnavailable = errors.New("orchestration unavailable")

	// ErrTimeout is returned when a deadline expired before a record finished
	ErrTimeout = errors.New("timeout")

	// ErrDefinitionConflict is returned when a workflow definition with the same
	// name but a different graph is already registered
	ErrDefinitionConflict = errors.New("workflow definition conflict")

	// ErrSourceUnavailable is returned when the source object cannot be fetched
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedBatch aborts a whole batch; it never appears in an outcome
	ErrMalformedBatch = errors.New("malformed batch")
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidDimension, KindInvalidDimension},
	{ErrUnsupportedMedia, KindUnsupportedMedia},
	{ErrInferenceUnavailable, KindInferenceUnavailable},
	{ErrPersistenceFailure, KindPersistenceFailure},
	{ErrOrchestrationUnavailable, KindOrchestrationUnavailable},
	{ErrDefinitionConflict, KindDefinitionConflict},
	{ErrSourceUnavailable, KindSourceUnavailable},
}

// KindOf maps an error to its ErrorKind. A collaborator call that ran out of
// time keeps its stage kind; only ErrTimeout maps to KindTimeout.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrTimeout) {
		return KindTimeout
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
