package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-content-derivatives/internal/orchestration"
	"github.com/tendant/simple-content-derivatives/internal/storage"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

type fakeStarter struct {
	defs   []orchestration.Definition
	inputs []any
	err    error
}

func (f *fakeStarter) EnsureAndStart(_ context.Context, def orchestration.Definition, input any) (string, error) {
	f.defs = append(f.defs, def)
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return "", f.err
	}
	return "exec-1", nil
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, pipeline.ObjectRef) (*storage.Object, error) {
	return nil, storage.ErrNotFound
}

func newFS(t *testing.T) *storage.FilesystemStorage {
	t.Helper()
	fs, err := storage.NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestThumbnailWorkflow_Execute(t *testing.T) {
	ctx := context.Background()
	src := pipeline.ObjectRef{Location: "uploads", Key: "photos/cat.png"}
	notification := pipeline.Notification{SourceLocation: src.Location, ObjectKey: src.Key}

	t.Run("Should store a fitted JPEG at the prefixed key", func(t *testing.T) {
		fs := newFS(t)
		require.NoError(t, fs.Store(ctx, src, pngBytes(t, 400, 300), "image/png"))
		wf := NewThumbnailWorkflow(fs, fs, Deriver{}, ThumbnailConfig{DestinationLocation: "imaging-destination"})

		res, err := wf.Execute(&WorkflowContext{Ctx: ctx, Notification: notification})
		require.NoError(t, err)
		assert.Equal(t, "thumbnail-photos/cat.png", res.Artifact)
		assert.Empty(t, res.ExecutionID)

		obj, err := fs.Fetch(ctx, pipeline.ObjectRef{Location: "imaging-destination", Key: "thumbnail-photos/cat.png"})
		require.NoError(t, err)
		img, format, err := image.Decode(bytes.NewReader(obj.Body))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, image.Rect(0, 0, 150, 112), img.Bounds())
	})
	t.Run("Should overwrite the derivative when run twice", func(t *testing.T) {
		fs := newFS(t)
		require.NoError(t, fs.Store(ctx, src, pngBytes(t, 400, 300), "image/png"))
		wf := NewThumbnailWorkflow(fs, fs, Deriver{}, ThumbnailConfig{})

		first, err := wf.Execute(&WorkflowContext{Ctx: ctx, Notification: notification})
		require.NoError(t, err)
		require.NoError(t, fs.Store(ctx, src, pngBytes(t, 300, 400), "image/png"))
		second, err := wf.Execute(&WorkflowContext{Ctx: ctx, Notification: notification})
		require.NoError(t, err)
		assert.Equal(t, first.Artifact, second.Artifact)

		obj, err := fs.Fetch(ctx, wf.Destination(src))
		require.NoError(t, err)
		img, _, err := image.Decode(bytes.NewReader(obj.Body))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 112, 150), img.Bounds())
	})
	t.Run("Should reject sources that are not images", func(t *testing.T) {
		fs := newFS(t)
		require.NoError(t, fs.Store(ctx, src, []byte("%PDF-1.4 not an image"), "application/pdf"))
		starter := &fakeStarter{}
		wf := NewThumbnailWorkflow(fs, fs, Deriver{}, ThumbnailConfig{}).WithTrigger(starter, orchestration.Definition{Name: "post"})

		_, err := wf.Execute(&WorkflowContext{Ctx: ctx, Notification: notification})
		assert.ErrorIs(t, err, pipeline.ErrUnsupportedMedia)
		assert.Empty(t, starter.defs)
		_, err = fs.Fetch(ctx, wf.Destination(src))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
	t.Run("Should report a missing source", func(t *testing.T) {
		wf := NewThumbnailWorkflow(failingFetcher{}, newFS(t), Deriver{}, ThumbnailConfig{})
		_, err := wf.Execute(&WorkflowContext{Ctx: ctx, Notification: notification})
		assert.Equal(t, pipeline.KindSourceUnavailable, pipeline.KindOf(err))
	})
	t.Run("Should start the downstream workflow with the derivative", func(t *testing.T) {
		fs := newFS(t)
		require.NoError(t, fs.Store(ctx, src, pngBytes(t, 400, 300), "image/png"))
		starter := &fakeStarter{}
		def := orchestration.Definition{Name: "thumbnail-postprocess"}
		wf := NewThumbnailWorkflow(fs, fs, Deriver{}, ThumbnailConfig{}).WithTrigger(starter, def)

		res, err := wf.Execute(&WorkflowContext{Ctx: ctx, Notification: notification})
		require.NoError(t, err)
		assert.Equal(t, "exec-1", res.ExecutionID)
		require.Len(t, starter.inputs, 1)

		raw, err := json.Marshal(starter.inputs[0])
		require.NoError(t, err)
		var input ExecutionInput
		require.NoError(t, json.Unmarshal(raw, &input))
		assert.Equal(t, src, input.Source)
		assert.Equal(t, "thumbnail-photos/cat.png", input.Derivative.Key)
		assert.Equal(t, 150, input.Width)
		assert.Equal(t, pipeline.MediaTypeJPEG, input.MediaType)
	})
	t.Run("Should fail the record when the trigger fails", func(t *testing.T) {
		fs := newFS(t)
		require.NoError(t, fs.Store(ctx, src, pngBytes(t, 40, 30), "image/png"))
		starter := &fakeStarter{err: errors.Join(pipeline.ErrOrchestrationUnavailable, errors.New("connection refused"))}
		wf := NewThumbnailWorkflow(fs, fs, Deriver{}, ThumbnailConfig{}).WithTrigger(starter, orchestration.Definition{Name: "post"})

		_, err := wf.Execute(&WorkflowContext{Ctx: ctx, Notification: notification})
		assert.Equal(t, pipeline.KindOrchestrationUnavailable, pipeline.KindOf(err))
	})
}

func TestDestinationKey(t *testing.T) {
	assert.Equal(t, "thumbnail-a/b.jpg", DestinationKey(DefaultThumbnailPrefix, "a/b.jpg"))
	wf := NewThumbnailWorkflow(nil, nil, Deriver{}, ThumbnailConfig{})
	assert.Equal(t, pipeline.ObjectRef{Location: "uploads", Key: "thumbnail-x.png"},
		wf.Destination(pipeline.ObjectRef{Location: "uploads", Key: "x.png"}))
}
