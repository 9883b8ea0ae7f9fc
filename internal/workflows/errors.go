package workflows

import "errors"

// ErrWorkflowNotFound is returned when no pipeline is registered for a job
var ErrWorkflowNotFound = errors.New("workflow not found")
