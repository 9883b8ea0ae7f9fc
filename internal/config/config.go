// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-content-derivatives/internal/dbosruntime"
	"github.com/tendant/simple-content-derivatives/internal/logger"
	"github.com/tendant/simple-content-derivatives/internal/orchestration"
	"github.com/tendant/simple-content-derivatives/internal/records"
	"github.com/tendant/simple-content-derivatives/internal/storage"
	"github.com/tendant/simple-content-derivatives/internal/workflows"
)

// Blob backends
const (
	BlobMinIO         = "minio"
	BlobFilesystem    = "filesystem"
	BlobSimpleContent = "simplecontent"
	BlobContentAPI    = "contentapi"
)

// Record backends
const (
	RecordsPostgres = "postgres"
	RecordsMemory   = "memory"
)

type Config struct {
	HTTPAddr string
	LogLevel logger.Level
	LogJSON  bool

	Dispatch  DispatchConfig
	Blob      BlobConfig
	Thumbnail ThumbnailConfig
	Labels    LabelsConfig
	Records   RecordsConfig
	Workflow  WorkflowConfig
}

type DispatchConfig struct {
	Workers      int
	BatchTimeout time.Duration
	CallTimeout  time.Duration
	// IngestBucket is the only bucket accepted; empty accepts all
	IngestBucket string
	IngestPrefix string
	Dedupe       bool
}

type BlobConfig struct {
	Backend    string
	StorageDir string
	// ContentAPIURL is the base URL of a simple-content server
	ContentAPIURL string
	MinIO         storage.MinIOConfig
}

type ThumbnailConfig struct {
	Bucket  string
	Prefix  string
	MaxSize int
	Quality int
}

type LabelsConfig struct {
	MinConfidence float64
	OllamaURL     string
	OllamaModel   string
}

type RecordsConfig struct {
	Backend     string
	DatabaseURL string
	Table       string
}

type WorkflowConfig struct {
	DefinitionFile string
	ConflictPolicy orchestration.ConflictPolicy
	DBOS           dbosruntime.Config
}

// Load reads .env, if present, then the environment
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the environment and validates it
func FromEnv() (Config, error) {
	var (
		cfg Config
		err error
	)

	cfg.HTTPAddr = String("HTTP_ADDR", ":8080")
	cfg.LogLevel = logger.Level(String("LOG_LEVEL", string(logger.InfoLevel)))
	if cfg.LogJSON, err = Bool("LOG_JSON", false); err != nil {
		return cfg, err
	}

	if cfg.Dispatch.Workers, err = Int("DISPATCH_WORKERS", 4); err != nil {
		return cfg, err
	}
	if cfg.Dispatch.BatchTimeout, err = Duration("DISPATCH_BATCH_TIMEOUT", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.Dispatch.CallTimeout, err = Duration("DISPATCH_CALL_TIMEOUT", workflows.DefaultCallTimeout); err != nil {
		return cfg, err
	}
	cfg.Dispatch.IngestBucket = String("INGEST_BUCKET", "")
	cfg.Dispatch.IngestPrefix = String("INGEST_PREFIX", "")
	if cfg.Dispatch.Dedupe, err = Bool("DEDUPE_ENABLED", true); err != nil {
		return cfg, err
	}

	cfg.Blob.Backend = strings.ToLower(String("BLOB_BACKEND", BlobFilesystem))
	cfg.Blob.StorageDir = String("STORAGE_DIR", "./dev-data")
	cfg.Blob.ContentAPIURL = String("CONTENT_API_URL", "")
	cfg.Blob.MinIO = storage.MinIOConfig{
		Endpoint:  String("MINIO_ENDPOINT", ""),
		AccessKey: String("MINIO_ACCESS_KEY", ""),
		SecretKey: String("MINIO_SECRET_KEY", ""),
		Region:    String("MINIO_REGION", ""),
	}
	if cfg.Blob.MinIO.UseSSL, err = Bool("MINIO_USE_SSL", false); err != nil {
		return cfg, err
	}

	cfg.Thumbnail.Bucket = String("THUMBNAIL_BUCKET", "imaging-destination")
	cfg.Thumbnail.Prefix = String("THUMBNAIL_PREFIX", workflows.DefaultThumbnailPrefix)
	if cfg.Thumbnail.MaxSize, err = Int("THUMBNAIL_MAX_SIZE", workflows.DefaultThumbnailSize); err != nil {
		return cfg, err
	}
	if cfg.Thumbnail.Quality, err = Int("THUMBNAIL_QUALITY", workflows.DefaultJPEGQuality); err != nil {
		return cfg, err
	}

	if cfg.Labels.MinConfidence, err = Float("LABELS_MIN_CONFIDENCE", workflows.DefaultMinConfidence); err != nil {
		return cfg, err
	}
	cfg.Labels.OllamaURL = String("OLLAMA_URL", "http://localhost:11434")
	cfg.Labels.OllamaModel = String("OLLAMA_MODEL", "llava")

	cfg.Records.Backend = strings.ToLower(String("RECORDS_BACKEND", RecordsMemory))
	cfg.Records.DatabaseURL = String("RECORDS_DATABASE_URL", "")
	cfg.Records.Table = String("RECORDS_TABLE", records.DefaultTable)

	cfg.Workflow.DefinitionFile = String("WORKFLOW_DEFINITION_FILE", "")
	cfg.Workflow.ConflictPolicy = orchestration.ConflictPolicy(strings.ToLower(String("WORKFLOW_CONFLICT_POLICY", string(orchestration.PolicyConflict))))
	cfg.Workflow.DBOS = dbosruntime.Config{
		DatabaseURL: String("DBOS_SYSTEM_DATABASE_URL", ""),
		AppName:     String("DBOS_APP_NAME", ""),
		QueueName:   String("DBOS_QUEUE_NAME", ""),
	}

	return cfg, cfg.Validate()
}

// Validate checks every section
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if c.Dispatch.Workers <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", c.Dispatch.Workers))
	}
	if c.Dispatch.BatchTimeout < 0 || c.Dispatch.CallTimeout < 0 {
		errs = append(errs, errors.New("dispatch timeouts must not be negative"))
	}

	switch c.Blob.Backend {
	case BlobFilesystem:
		if c.Blob.StorageDir == "" {
			errs = append(errs, errors.New("STORAGE_DIR is required for the filesystem backend"))
		}
	case BlobMinIO:
		if err := c.Blob.MinIO.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("minio: %w", err))
		}
	case BlobSimpleContent:
	case BlobContentAPI:
		if c.Blob.ContentAPIURL == "" {
			errs = append(errs, errors.New("CONTENT_API_URL is required for the contentapi backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BLOB_BACKEND %q", c.Blob.Backend))
	}

	if c.Thumbnail.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("THUMBNAIL_MAX_SIZE must be positive, got %d", c.Thumbnail.MaxSize))
	}
	if c.Thumbnail.Quality < 1 || c.Thumbnail.Quality > 100 {
		errs = append(errs, fmt.Errorf("THUMBNAIL_QUALITY must be in 1..100, got %d", c.Thumbnail.Quality))
	}

	if c.Labels.MinConfidence < 0 || c.Labels.MinConfidence > 100 {
		errs = append(errs, fmt.Errorf("LABELS_MIN_CONFIDENCE must be in 0..100, got %v", c.Labels.MinConfidence))
	}

	switch c.Records.Backend {
	case RecordsMemory:
	case RecordsPostgres:
		if c.Records.DatabaseURL == "" {
			errs = append(errs, errors.New("RECORDS_DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RECORDS_BACKEND %q", c.Records.Backend))
	}

	switch c.Workflow.ConflictPolicy {
	case orchestration.PolicyConflict, orchestration.PolicyReuse:
	default:
		errs = append(errs, fmt.Errorf("unknown WORKFLOW_CONFLICT_POLICY %q", c.Workflow.ConflictPolicy))
	}
	if c.Workflow.DefinitionFile != "" && c.Workflow.DBOS.DatabaseURL == "" {
		errs = append(errs, errors.New("DBOS_SYSTEM_DATABASE_URL is required when WORKFLOW_DEFINITION_FILE is set"))
	}

	return errors.Join(errs...)
}

// ExcludedPrefixes returns key prefixes the thumbnail pipeline must never
// process again, because its own output lands in the ingest bucket
func (c Config) ExcludedPrefixes() []string {
	if c.Thumbnail.Bucket == "" || c.Thumbnail.Bucket == c.Dispatch.IngestBucket {
		return []string{c.Thumbnail.Prefix}
	}
	return nil
}
