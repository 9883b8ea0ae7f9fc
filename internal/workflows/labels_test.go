package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-content-derivatives/internal/vision"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

type fakeDetector struct {
	labels []pipeline.Label
	err    error
	reqs   []vision.Request
}

func (f *fakeDetector) DetectLabels(_ context.Context, req vision.Request) ([]pipeline.Label, error) {
	f.reqs = append(f.reqs, req)
	return f.labels, f.err
}

// blockingDetector waits until its call context is done
type blockingDetector struct{}

func (blockingDetector) DetectLabels(ctx context.Context, _ vision.Request) ([]pipeline.Label, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeRecords struct {
	mu   sync.Mutex
	recs []pipeline.LabeledRecord
	err  error
}

func (f *fakeRecords) PutRecord(_ context.Context, rec pipeline.LabeledRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, rec)
	return nil
}

var catRef = pipeline.ObjectRef{Location: "images-detection", Key: "cat.jpg"}

func TestLabelExtractor_Extract(t *testing.T) {
	t.Run("Should keep only labels strictly above the threshold", func(t *testing.T) {
		det := &fakeDetector{labels: []pipeline.Label{
			{Name: "Cat", Confidence: 95.2},
			{Name: "Animal", Confidence: 88.0},
			{Name: "Pet", Confidence: 90.0},
		}}
		labels, err := NewLabelExtractor(det).Extract(context.Background(), catRef, 90)
		require.NoError(t, err)
		assert.Equal(t, []pipeline.Label{{Name: "Cat", Confidence: 95.2}}, labels)

		require.Len(t, det.reqs, 1)
		assert.Equal(t, catRef, det.reqs[0].Object)
		assert.Equal(t, 90.0, det.reqs[0].MinConfidence)
	})
	t.Run("Should report inference failures", func(t *testing.T) {
		det := &fakeDetector{err: errors.New("model not loaded")}
		_, err := NewLabelExtractor(det).Extract(context.Background(), catRef, 90)
		assert.ErrorIs(t, err, pipeline.ErrInferenceUnavailable)
		assert.Equal(t, pipeline.KindInferenceUnavailable, pipeline.KindOf(err))
	})
}

func TestAssembleRecord(t *testing.T) {
	labels := []pipeline.Label{{Name: "Cat", Confidence: 95.2}}
	a := AssembleRecord(catRef, labels)
	b := AssembleRecord(catRef, labels)

	assert.NotEqual(t, uuid.Nil, a.RecordID)
	assert.NotEqual(t, a.RecordID, b.RecordID)
	assert.Equal(t, catRef, a.Source)
	assert.Equal(t, labels, a.Labels)
	assert.False(t, a.CreatedAt.IsZero())
	assert.NotNil(t, AssembleRecord(catRef, nil).Labels)
}

func TestLabelWorkflow_Execute(t *testing.T) {
	notification := pipeline.Notification{SourceLocation: "images-detection", ObjectKey: "cat.jpg"}

	t.Run("Should persist one record with the filtered labels", func(t *testing.T) {
		det := &fakeDetector{labels: []pipeline.Label{{Name: "Cat", Confidence: 99}, {Name: "Dog", Confidence: 12}}}
		recs := &fakeRecords{}
		wf := NewLabelWorkflow(NewLabelExtractor(det), recs, LabelConfig{})

		res, err := wf.Execute(&WorkflowContext{Ctx: context.Background(), Notification: notification})
		require.NoError(t, err)
		require.Len(t, recs.recs, 1)
		rec := recs.recs[0]
		assert.Equal(t, rec.RecordID.String(), res.Artifact)
		assert.Equal(t, "s3://images-detection/cat.jpg", rec.Source.URL())
		assert.Equal(t, []pipeline.Label{{Name: "Cat", Confidence: 99}}, rec.Labels)
		assert.Equal(t, DefaultMinConfidence, det.reqs[0].MinConfidence)
	})
	t.Run("Should surface persistence failures", func(t *testing.T) {
		det := &fakeDetector{labels: []pipeline.Label{{Name: "Cat", Confidence: 99}}}
		recs := &fakeRecords{err: errors.New("table missing")}
		wf := NewLabelWorkflow(NewLabelExtractor(det), recs, LabelConfig{MinConfidence: 50})

		_, err := wf.Execute(&WorkflowContext{Ctx: context.Background(), Notification: notification})
		assert.ErrorIs(t, err, pipeline.ErrPersistenceFailure)
	})
	t.Run("Should not persist after the deadline", func(t *testing.T) {
		det := &fakeDetector{labels: []pipeline.Label{{Name: "Cat", Confidence: 99}}}
		recs := &fakeRecords{}
		wf := NewLabelWorkflow(NewLabelExtractor(det), recs, LabelConfig{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := wf.Execute(&WorkflowContext{Ctx: ctx, Notification: notification})
		assert.Equal(t, pipeline.KindTimeout, pipeline.KindOf(err))
		assert.Empty(t, recs.recs)
	})
	t.Run("Should report inference unavailable when the detector call times out", func(t *testing.T) {
		recs := &fakeRecords{}
		wf := NewLabelWorkflow(NewLabelExtractor(blockingDetector{}), recs, LabelConfig{CallTimeout: 20 * time.Millisecond})

		_, err := wf.Execute(&WorkflowContext{Ctx: context.Background(), Notification: notification})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, pipeline.KindInferenceUnavailable, pipeline.KindOf(err))
		assert.Empty(t, recs.recs)
	})
	t.Run("Should be found by job name", func(t *testing.T) {
		runner := NewRunner()
		runner.Register(pipeline.JobLabels, NewLabelWorkflow(NewLabelExtractor(&fakeDetector{}), &fakeRecords{}, LabelConfig{}))

		wf, err := runner.Lookup(pipeline.JobLabels)
		require.NoError(t, err)
		assert.Equal(t, "LabelWorkflow", wf.Name())
		_, err = runner.Lookup(pipeline.JobThumbnail)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
		assert.Equal(t, []string{pipeline.JobLabels}, runner.Jobs())
	})
}
