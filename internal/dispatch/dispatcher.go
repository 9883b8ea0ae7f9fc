// Package dispatch drives notification batches through derivative pipelines,
// one independent run per notification.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-content-derivatives/internal/logger"
	"github.com/tendant/simple-content-derivatives/internal/workflows"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// DefaultWorkers bounds concurrent record pipelines
const DefaultWorkers = 4

// SeenRecorder counts deliveries of a source object per pipeline
type SeenRecorder interface {
	Record(ctx context.Context, sourceURL string, pipeline string) (int, error)
}

// Observer is told about every finished record and batch
type Observer interface {
	ObserveOutcome(job string, o pipeline.Outcome, elapsed time.Duration)
	ObserveBatch(job string, result string)
}

// Config configures a Dispatcher
type Config struct {
	Workers      int
	BatchTimeout time.Duration
	// Policies holds the source policy per job; jobs without one accept all
	Policies map[string]SourcePolicy
}

// Dispatcher runs batches through the workflows registered on a Runner
type Dispatcher struct {
	runner   *workflows.Runner
	cfg      Config
	validate *validator.Validate
	log      logger.Logger
	seen     SeenRecorder
	observer Observer
}

// Option configures optional Dispatcher collaborators
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger
func WithLogger(log logger.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithSeenRecorder reports seen counts in outcomes
func WithSeenRecorder(seen SeenRecorder) Option {
	return func(d *Dispatcher) { d.seen = seen }
}

// WithObserver reports outcomes, usually to metrics
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// New creates a dispatcher over runner
func New(runner *workflows.Runner, cfg Config, opts ...Option) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	d := &Dispatcher{
		runner:   runner,
		cfg:      cfg,
		validate: validator.New(),
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Jobs returns the job names the dispatcher can run
func (d *Dispatcher) Jobs() []string {
	return d.runner.Jobs()
}

// Dispatch runs every notification of batch through the pipeline registered
// for job and returns one outcome per notification in batch order. Only an
// unknown job or a malformed batch fail the call; record failures are
// reported in the outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []pipeline.Notification, job string) ([]pipeline.Outcome, error) {
	workflow, err := d.runner.Lookup(job)
	if err != nil {
		d.observeBatch(job, "rejected")
		return nil, err
	}
	if err := d.validateBatch(batch); err != nil {
		d.observeBatch(job, "rejected")
		return nil, err
	}

	if d.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.BatchTimeout)
		defer cancel()
	}

	policy, hasPolicy := d.cfg.Policies[job]
	outcomes := make([]pipeline.Outcome, len(batch))

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for i, n := range batch {
		g.Go(func() error {
			outcomes[i] = d.process(ctx, workflow, job, n, !hasPolicy || policy.Accepts(n))
			return nil
		})
	}
	_ = g.Wait()

	d.observeBatch(job, "dispatched")
	resp := pipeline.Summarize(job, outcomes)
	d.log.Info("Batch dispatched",
		"pipeline", job,
		"records", len(batch),
		"succeeded", resp.Succeeded,
		"skipped", resp.Skipped,
		"failed", resp.Failed)

	return outcomes, nil
}

func (d *Dispatcher) validateBatch(batch []pipeline.Notification) error {
	for i := range batch {
		if err := d.validate.Struct(batch[i]); err != nil {
			return fmt.Errorf("%w: record %d: %v", pipeline.ErrMalformedBatch, i, err)
		}
	}
	return nil
}

// process runs one record. It never returns an error; everything is encoded
// in the outcome.
func (d *Dispatcher) process(ctx context.Context, workflow workflows.Workflow, job string, n pipeline.Notification, accepted bool) (out pipeline.Outcome) {
	start := time.Now()
	out = pipeline.Outcome{ObjectKey: n.ObjectKey, Location: n.SourceLocation}
	defer func() {
		d.observeOutcome(job, out, time.Since(start))
	}()

	if !accepted {
		out.Status = pipeline.StatusSkipped
		d.log.Debug("Notification skipped by source policy", "pipeline", job, "location", n.SourceLocation, "key", n.ObjectKey)
		return out
	}
	if err := ctx.Err(); err != nil {
		return failed(out, pipeline.KindTimeout, fmt.Errorf("%w: not started: %w", pipeline.ErrTimeout, err))
	}

	runID := uuid.NewString()
	log := d.log.With("run_id", runID, "pipeline", job, "key", n.ObjectKey)

	if d.seen != nil {
		count, err := d.seen.Record(ctx, n.Ref().URL(), job)
		if err != nil {
			log.Warn("Failed to record delivery", "error", err)
		} else {
			out.SeenCount = count
			if count > 1 {
				log.Info("Source delivered again", "seen_count", count)
			}
		}
	}

	log.Debug("Starting workflow", "workflow", workflow.Name())
	result, err := d.execute(workflow, &workflows.WorkflowContext{
		Ctx:          ctx,
		Notification: n,
		RunID:        runID,
		Logger:       log,
	})
	if err != nil {
		kind := pipeline.KindOf(err)
		if ctx.Err() != nil {
			kind = pipeline.KindTimeout
		}
		log.Warn("Workflow failed", "error_kind", kind, "error", err)
		return failed(out, kind, err)
	}

	out.Status = pipeline.StatusSucceeded
	if result != nil {
		out.Artifact = result.Artifact
		out.ExecutionID = result.ExecutionID
	}
	log.Info("Workflow succeeded", "artifact", out.Artifact, "duration", time.Since(start))
	return out
}

// execute isolates a panicking pipeline to its own record
func (d *Dispatcher) execute(workflow workflows.Workflow, wctx *workflows.WorkflowContext) (result *workflows.WorkflowResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow %s panicked: %v", workflow.Name(), r)
		}
	}()
	return workflow.Execute(wctx)
}

func failed(out pipeline.Outcome, kind pipeline.ErrorKind, err error) pipeline.Outcome {
	out.Status = pipeline.StatusFailed
	out.ErrorKind = kind
	out.Error = err.Error()
	return out
}

func (d *Dispatcher) observeOutcome(job string, o pipeline.Outcome, elapsed time.Duration) {
	if d.observer != nil {
		d.observer.ObserveOutcome(job, o, elapsed)
	}
}

func (d *Dispatcher) observeBatch(job string, result string) {
	if d.observer != nil {
		d.observer.ObserveBatch(job, result)
	}
}
