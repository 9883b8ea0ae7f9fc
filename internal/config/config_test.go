package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-content-derivatives/internal/orchestration"
)

func TestFromEnv(t *testing.T) {
	t.Run("Should apply defaults", func(t *testing.T) {
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.HTTPAddr)
		assert.Equal(t, 4, cfg.Dispatch.Workers)
		assert.Equal(t, 30*time.Second, cfg.Dispatch.CallTimeout)
		assert.Equal(t, BlobFilesystem, cfg.Blob.Backend)
		assert.Equal(t, "imaging-destination", cfg.Thumbnail.Bucket)
		assert.Equal(t, "thumbnail-", cfg.Thumbnail.Prefix)
		assert.Equal(t, 150, cfg.Thumbnail.MaxSize)
		assert.Equal(t, 90.0, cfg.Labels.MinConfidence)
		assert.Equal(t, RecordsMemory, cfg.Records.Backend)
		assert.Equal(t, orchestration.PolicyConflict, cfg.Workflow.ConflictPolicy)
	})
	t.Run("Should read overrides", func(t *testing.T) {
		t.Setenv("DISPATCH_WORKERS", "8")
		t.Setenv("DISPATCH_BATCH_TIMEOUT", "90s")
		t.Setenv("BLOB_BACKEND", "MinIO")
		t.Setenv("MINIO_ENDPOINT", "localhost:9000")
		t.Setenv("MINIO_ACCESS_KEY", "minio")
		t.Setenv("MINIO_SECRET_KEY", "minio123")
		t.Setenv("LABELS_MIN_CONFIDENCE", "75.5")
		t.Setenv("WORKFLOW_CONFLICT_POLICY", "reuse")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Dispatch.Workers)
		assert.Equal(t, 90*time.Second, cfg.Dispatch.BatchTimeout)
		assert.Equal(t, BlobMinIO, cfg.Blob.Backend)
		assert.Equal(t, "localhost:9000", cfg.Blob.MinIO.Endpoint)
		assert.Equal(t, 75.5, cfg.Labels.MinConfidence)
		assert.Equal(t, orchestration.PolicyReuse, cfg.Workflow.ConflictPolicy)
	})
	t.Run("Should reject unparsable values", func(t *testing.T) {
		t.Setenv("DISPATCH_WORKERS", "many")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "DISPATCH_WORKERS")
	})
	t.Run("Should collect validation errors", func(t *testing.T) {
		t.Setenv("BLOB_BACKEND", "minio")
		t.Setenv("RECORDS_BACKEND", "postgres")
		t.Setenv("THUMBNAIL_QUALITY", "0")

		_, err := FromEnv()
		require.Error(t, err)
		assert.ErrorContains(t, err, "minio")
		assert.ErrorContains(t, err, "RECORDS_DATABASE_URL")
		assert.ErrorContains(t, err, "THUMBNAIL_QUALITY")
	})
	t.Run("Should require DBOS for downstream workflows", func(t *testing.T) {
		t.Setenv("WORKFLOW_DEFINITION_FILE", "thumbnail.yaml")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "DBOS_SYSTEM_DATABASE_URL")
	})
}

func TestExcludedPrefixes(t *testing.T) {
	cfg := Config{
		Dispatch:  DispatchConfig{IngestBucket: "uploads"},
		Thumbnail: ThumbnailConfig{Bucket: "uploads", Prefix: "thumbnail-"},
	}
	assert.Equal(t, []string{"thumbnail-"}, cfg.ExcludedPrefixes())

	cfg.Thumbnail.Bucket = "imaging-destination"
	assert.Nil(t, cfg.ExcludedPrefixes())
}
