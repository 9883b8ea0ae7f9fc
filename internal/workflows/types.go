package workflows

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tendant/simple-content-derivatives/internal/logger"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// DefaultCallTimeout bounds each collaborator call when a pipeline sets none
const DefaultCallTimeout = 30 * time.Second

// WorkflowContext contains context for one record's pipeline run
type WorkflowContext struct {
	Ctx          context.Context
	Notification pipeline.Notification
	RunID        string
	Logger       logger.Logger
}

// WorkflowResult contains what a successful run produced
type WorkflowResult struct {
	// Artifact identifies the persisted output: a record id or derivative key
	Artifact string
	// ExecutionID is set when a downstream workflow was started
	ExecutionID string
}

// Workflow is one per-record derivative pipeline
type Workflow interface {
	// Execute runs the pipeline for wctx.Notification
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// Runner maps job names to workflows
type Runner struct {
	workflows map[string]Workflow
}

// NewRunner creates an empty runner
func NewRunner() *Runner {
	return &Runner{workflows: make(map[string]Workflow)}
}

// Register registers a workflow for a job. It is not safe to call
// concurrently with Lookup.
func (r *Runner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

// Lookup returns the workflow registered for job
func (r *Runner) Lookup(job string) (Workflow, error) {
	workflow, ok := r.workflows[job]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, job)
	}
	return workflow, nil
}

// Jobs returns the registered job names in sorted order
func (r *Runner) Jobs() []string {
	jobs := make([]string, 0, len(r.workflows))
	for job := range r.workflows {
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)
	return jobs
}

// callContext derives a per-call timeout from the run context
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (w *WorkflowContext) log() logger.Logger {
	if w.Logger == nil {
		return logger.Discard()
	}
	return w.Logger
}
