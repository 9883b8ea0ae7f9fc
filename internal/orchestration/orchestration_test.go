package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

const thumbnailYAML = `
name: thumbnail-postprocess
roleRef: arn:aws:iam::123456789012:role/thumbnail-workflow
graph:
  comment: Publish a stored thumbnail
  startAt: Publish
  states:
    Publish:
      type: Task
      resource: publish_thumbnail
      next: Done
    Done:
      type: Succeed
`

type fakeEngine struct {
	mu        sync.Mutex
	defs      map[string]Registered
	starts    []string
	inputs    [][]byte
	describes int
	creates   int

	describeErr error
	createErr   error
	startErr    error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{defs: map[string]Registered{}}
}

func (f *fakeEngine) DescribeDefinition(_ context.Context, name string) (*Registered, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describes++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	reg, ok := f.defs[name]
	if !ok {
		return nil, ErrDefinitionNotFound
	}
	return &reg, nil
}

func (f *fakeEngine) CreateDefinition(_ context.Context, def Definition, digest string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return "", f.createErr
	}
	if _, ok := f.defs[def.Name]; ok {
		return "", ErrDefinitionExists
	}
	f.defs[def.Name] = Registered{Ref: def.Name, Digest: digest}
	return def.Name, nil
}

func (f *fakeEngine) StartExecution(_ context.Context, ref string, input []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.starts = append(f.starts, ref)
	f.inputs = append(f.inputs, input)
	return fmt.Sprintf("%s-exec-%d", ref, len(f.starts)), nil
}

func mustDefinition(t *testing.T) Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(thumbnailYAML))
	require.NoError(t, err)
	return def
}

func TestParseDefinition(t *testing.T) {
	t.Run("Should parse YAML into a definition", func(t *testing.T) {
		def := mustDefinition(t)
		assert.Equal(t, "thumbnail-postprocess", def.Name)
		assert.Equal(t, "Publish", def.Graph.StartAt)
		assert.Equal(t, "publish_thumbnail", def.Graph.States["Publish"].Resource)
		assert.Equal(t, "arn:aws:iam::123456789012:role/thumbnail-workflow", def.RoleRef)
	})
	t.Run("Should load from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workflow.yaml")
		require.NoError(t, os.WriteFile(path, []byte(thumbnailYAML), 0o644))
		def, err := LoadDefinition(path)
		require.NoError(t, err)
		assert.Equal(t, "thumbnail-postprocess", def.Name)
	})
}

var loopGraph = StateGraph{StartAt: "A", States: map[string]State{"A": {Type: StatePass, Next: "A"}}}

func TestDefinitionValidate(t *testing.T) {
	base := mustDefinition(t)
	cases := map[string]func(d *Definition){
		"missing name":      func(d *Definition) { d.Name = "" },
		"unknown start":     func(d *Definition) { d.Graph.StartAt = "Nope" },
		"dangling next":     func(d *Definition) { d.Graph.States["Publish"] = State{Type: StateTask, Next: "Gone"} },
		"no terminal state": func(d *Definition) { d.Graph = loopGraph },
		"unknown type":      func(d *Definition) { d.Graph.States["Done"] = State{Type: "Parallel"} },
	}
	for name, mutate := range cases {
		t.Run("Should reject "+name, func(t *testing.T) {
			def := base
			def.Graph.States = map[string]State{}
			for k, v := range base.Graph.States {
				def.Graph.States[k] = v
			}
			mutate(&def)
			assert.Error(t, def.Validate())
		})
	}
}

func TestDefinitionDigest(t *testing.T) {
	a := mustDefinition(t)
	b := mustDefinition(t)
	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)

	b.Graph.States["Publish"] = State{Type: StateTask, Resource: "other", Next: "Done"}
	db, err = b.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestTrigger_EnsureAndStart(t *testing.T) {
	ctx := context.Background()

	t.Run("Should register once and start on every call", func(t *testing.T) {
		engine := newFakeEngine()
		trigger, err := NewTrigger(engine, "", nil)
		require.NoError(t, err)
		def := mustDefinition(t)

		id1, err := trigger.EnsureAndStart(ctx, def, map[string]string{"k": "v"})
		require.NoError(t, err)
		id2, err := trigger.EnsureAndStart(ctx, def, nil)
		require.NoError(t, err)

		assert.NotEqual(t, id1, id2)
		assert.Equal(t, 1, engine.creates)
		assert.Equal(t, 1, engine.describes)
		assert.Len(t, engine.starts, 2)
		assert.JSONEq(t, `{"k":"v"}`, string(engine.inputs[0]))
		assert.JSONEq(t, `{}`, string(engine.inputs[1]))
	})
	t.Run("Should reuse an identical existing definition", func(t *testing.T) {
		engine := newFakeEngine()
		def := mustDefinition(t)
		digest, _ := def.Digest()
		engine.defs[def.Name] = Registered{Ref: "existing-ref", Digest: digest}
		trigger, _ := NewTrigger(engine, PolicyConflict, nil)

		_, err := trigger.EnsureAndStart(ctx, def, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, engine.creates)
		assert.Equal(t, []string{"existing-ref"}, engine.starts)
	})
	t.Run("Should report a conflict for a different graph", func(t *testing.T) {
		engine := newFakeEngine()
		def := mustDefinition(t)
		engine.defs[def.Name] = Registered{Ref: "existing-ref", Digest: "0123456789abcdef"}
		trigger, _ := NewTrigger(engine, PolicyConflict, nil)

		_, err := trigger.EnsureAndStart(ctx, def, nil)
		assert.ErrorIs(t, err, pipeline.ErrDefinitionConflict)
		assert.Equal(t, pipeline.KindDefinitionConflict, pipeline.KindOf(err))
		assert.Empty(t, engine.starts)
	})
	t.Run("Should reuse a different graph under the reuse policy", func(t *testing.T) {
		engine := newFakeEngine()
		def := mustDefinition(t)
		engine.defs[def.Name] = Registered{Ref: "existing-ref", Digest: "0123456789abcdef"}
		trigger, _ := NewTrigger(engine, PolicyReuse, nil)

		_, err := trigger.EnsureAndStart(ctx, def, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"existing-ref"}, engine.starts)
	})
	t.Run("Should compare against the winner of a create race", func(t *testing.T) {
		def := mustDefinition(t)
		digest, _ := def.Digest()
		engine := &racingEngine{fakeEngine: newFakeEngine(), winner: Registered{Ref: "winner", Digest: digest}}
		trigger, _ := NewTrigger(engine, PolicyConflict, nil)

		_, err := trigger.EnsureAndStart(ctx, def, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"winner"}, engine.starts)
	})
	t.Run("Should classify engine failures as orchestration unavailable", func(t *testing.T) {
		def := mustDefinition(t)

		engine := newFakeEngine()
		engine.describeErr = errors.New("connection refused")
		trigger, _ := NewTrigger(engine, "", nil)
		_, err := trigger.EnsureAndStart(ctx, def, nil)
		assert.Equal(t, pipeline.KindOrchestrationUnavailable, pipeline.KindOf(err))

		engine = newFakeEngine()
		engine.startErr = errors.New("queue full")
		trigger, _ = NewTrigger(engine, "", nil)
		_, err = trigger.EnsureAndStart(ctx, def, nil)
		assert.Equal(t, pipeline.KindOrchestrationUnavailable, pipeline.KindOf(err))
	})
	t.Run("Should reject unknown policies and unmarshalable input", func(t *testing.T) {
		_, err := NewTrigger(newFakeEngine(), "overwrite", nil)
		assert.Error(t, err)

		trigger, _ := NewTrigger(newFakeEngine(), "", nil)
		_, err = trigger.EnsureAndStart(ctx, mustDefinition(t), map[string]any{"ch": make(chan int)})
		var unsupported *json.UnsupportedTypeError
		assert.ErrorAs(t, err, &unsupported)
	})
}

// racingEngine reports not found once, then loses the create to another writer
type racingEngine struct {
	*fakeEngine
	winner Registered
	raced  bool
}

func (r *racingEngine) CreateDefinition(_ context.Context, def Definition, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raced = true
	r.defs[def.Name] = r.winner
	return "", ErrDefinitionExists
}
