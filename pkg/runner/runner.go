// Package runner assembles a ready-to-use derivative dispatcher from
// configuration. It is the library entry point used by cmd/derivatives.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tendant/simple-content/pkg/simplecontent/presets"

	"github.com/tendant/simple-content-derivatives/internal/config"
	"github.com/tendant/simple-content-derivatives/internal/dbosruntime"
	"github.com/tendant/simple-content-derivatives/internal/dedupe"
	"github.com/tendant/simple-content-derivatives/internal/dispatch"
	"github.com/tendant/simple-content-derivatives/internal/handlers"
	"github.com/tendant/simple-content-derivatives/internal/logger"
	"github.com/tendant/simple-content-derivatives/internal/metrics"
	"github.com/tendant/simple-content-derivatives/internal/orchestration"
	"github.com/tendant/simple-content-derivatives/internal/records"
	"github.com/tendant/simple-content-derivatives/internal/storage"
	"github.com/tendant/simple-content-derivatives/internal/vision"
	"github.com/tendant/simple-content-derivatives/internal/workflows"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// blobBackend is what the pipelines need from a blob store
type blobBackend interface {
	storage.Fetcher
	workflows.DerivativeWriter
}

// Runner holds the wired dispatcher and everything it owns
type Runner struct {
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Recorder
	runtime    *dbosruntime.Runtime
	log        logger.Logger
	closers    []func()
}

// New creates and initializes the runner described by cfg
func New(ctx context.Context, cfg config.Config, log logger.Logger) (*Runner, error) {
	if log == nil {
		log = logger.Discard()
	}
	r := &Runner{metrics: metrics.NewRecorder(), log: log}
	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	blobs, err := r.openBlobs(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("blob backend: %w", err)
	}

	recordStore, err := r.openRecords(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}

	detector, err := vision.NewOllamaDetector(cfg.Labels.OllamaURL, cfg.Labels.OllamaModel, blobs)
	if err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}

	wfRunner := workflows.NewRunner()
	wfRunner.Register(pipeline.JobLabels, workflows.NewLabelWorkflow(
		workflows.NewLabelExtractor(detector),
		recordStore,
		workflows.LabelConfig{
			MinConfidence: cfg.Labels.MinConfidence,
			CallTimeout:   cfg.Dispatch.CallTimeout,
		},
	))

	thumbnail := workflows.NewThumbnailWorkflow(blobs, blobs, workflows.Deriver{Quality: cfg.Thumbnail.Quality}, workflows.ThumbnailConfig{
		DestinationLocation: cfg.Thumbnail.Bucket,
		KeyPrefix:           cfg.Thumbnail.Prefix,
		MaxWidth:            cfg.Thumbnail.MaxSize,
		MaxHeight:           cfg.Thumbnail.MaxSize,
		CallTimeout:         cfg.Dispatch.CallTimeout,
	})
	if err := r.openWorkflowEngine(ctx, cfg, thumbnail); err != nil {
		return nil, fmt.Errorf("workflow engine: %w", err)
	}
	wfRunner.Register(pipeline.JobThumbnail, thumbnail)

	for _, job := range wfRunner.Jobs() {
		log.Info("Registered workflow", "job", job)
	}

	opts := []dispatch.Option{
		dispatch.WithLogger(log),
		dispatch.WithObserver(r.metrics),
	}
	if cfg.Dispatch.Dedupe {
		seen, err := r.openDedupe(ctx)
		if err != nil {
			return nil, fmt.Errorf("dedupe: %w", err)
		}
		opts = append(opts, dispatch.WithSeenRecorder(seen))
	}

	r.dispatcher = dispatch.New(wfRunner, dispatch.Config{
		Workers:      cfg.Dispatch.Workers,
		BatchTimeout: cfg.Dispatch.BatchTimeout,
		Policies: map[string]dispatch.SourcePolicy{
			pipeline.JobLabels: {
				Location:         cfg.Dispatch.IngestBucket,
				KeyPrefix:        cfg.Dispatch.IngestPrefix,
				ExcludedPrefixes: cfg.ExcludedPrefixes(),
			},
			pipeline.JobThumbnail: {
				Location:         cfg.Dispatch.IngestBucket,
				KeyPrefix:        cfg.Dispatch.IngestPrefix,
				ExcludedPrefixes: cfg.ExcludedPrefixes(),
			},
		},
	}, opts...)

	ok = true
	return r, nil
}

func (r *Runner) openBlobs(ctx context.Context, cfg config.Config) (blobBackend, error) {
	switch cfg.Blob.Backend {
	case config.BlobMinIO:
		store, err := storage.NewMinIOStore(cfg.Blob.MinIO)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx, cfg.Thumbnail.Bucket, cfg.Blob.MinIO.Region); err != nil {
			return nil, err
		}
		r.log.Info("Using MinIO blob storage", "endpoint", cfg.Blob.MinIO.Endpoint)
		return store, nil
	case config.BlobSimpleContent:
		svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(cfg.Blob.StorageDir))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize simple-content service: %w", err)
		}
		r.closers = append(r.closers, cleanup)
		r.log.Info("Using embedded simple-content service", "dir", cfg.Blob.StorageDir)
		return storage.NewContentStore(svc), nil
	case config.BlobContentAPI:
		r.log.Info("Using simple-content HTTP API", "url", cfg.Blob.ContentAPIURL)
		return storage.NewHTTPContentStore(cfg.Blob.ContentAPIURL), nil
	case config.BlobFilesystem:
		store, err := storage.NewFilesystemStorage(cfg.Blob.StorageDir)
		if err != nil {
			return nil, err
		}
		r.log.Info("Using filesystem blob storage", "dir", cfg.Blob.StorageDir)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Blob.Backend)
	}
}

func (r *Runner) openRecords(ctx context.Context, cfg config.Config) (workflows.RecordWriter, error) {
	if cfg.Records.Backend != config.RecordsPostgres {
		r.log.Warn("Label records are kept in memory only")
		return records.NewMemoryStore(), nil
	}
	pool, err := records.Open(ctx, cfg.Records.DatabaseURL)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, pool.Close)

	store, err := records.NewPostgresStore(pool, cfg.Records.Table)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// openWorkflowEngine starts DBOS when configured and attaches the downstream
// workflow trigger to the thumbnail pipeline when a definition is set
func (r *Runner) openWorkflowEngine(ctx context.Context, cfg config.Config, thumbnail *workflows.ThumbnailWorkflow) error {
	if cfg.Workflow.DBOS.DatabaseURL == "" {
		return nil
	}

	rt, err := dbosruntime.NewRuntime(ctx, cfg.Workflow.DBOS)
	if err != nil {
		return err
	}
	if err := rt.Launch(ctx); err != nil {
		return err
	}
	r.runtime = rt
	r.closers = append(r.closers, func() {
		if err := rt.Shutdown(10 * time.Second); err != nil {
			r.log.Warn("DBOS shutdown failed", "error", err)
		}
	})
	r.log.Info("DBOS runtime initialized", "queue", rt.QueueName())

	if cfg.Workflow.DefinitionFile == "" {
		return nil
	}
	def, err := orchestration.LoadDefinition(cfg.Workflow.DefinitionFile)
	if err != nil {
		return err
	}
	trigger, err := orchestration.NewTrigger(rt, cfg.Workflow.ConflictPolicy, r.log)
	if err != nil {
		return err
	}
	thumbnail.WithTrigger(trigger, def)
	r.log.Info("Downstream workflow attached", "workflow", def.Name, "policy", cfg.Workflow.ConflictPolicy)
	return nil
}

func (r *Runner) openDedupe(ctx context.Context) (dispatch.SeenRecorder, error) {
	if r.runtime == nil {
		return dedupe.NewMemoryTracker(), nil
	}
	return dedupe.NewTracker(ctx, r.runtime.DB(), r.log)
}

// Dispatch runs batch through the pipeline named job
func (r *Runner) Dispatch(ctx context.Context, batch []pipeline.Notification, job string) ([]pipeline.Outcome, error) {
	if r.dispatcher == nil {
		return nil, errors.New("runner not initialized")
	}
	return r.dispatcher.Dispatch(ctx, batch, job)
}

// Handler returns the HTTP API of the runner
func (r *Runner) Handler() http.Handler {
	var status handlers.StatusReader
	if r.runtime != nil {
		status = r.runtime
	}
	return handlers.NewMux(handlers.NewNotificationHandler(r, status, r.log), r.metrics.Handler())
}

// Close releases everything the runner opened, in reverse order
func (r *Runner) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
