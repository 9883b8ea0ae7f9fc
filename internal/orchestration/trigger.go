// Package orchestration ensures workflow definitions exist on an external
// engine and starts executions of them without awaiting their completion.
package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tendant/simple-content-derivatives/internal/logger"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

var (
	// ErrDefinitionNotFound is returned by an Engine when no definition has the name
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrDefinitionExists is returned by an Engine when a create lost a race
	ErrDefinitionExists = errors.New("definition already exists")
)

// Registered is a definition as stored by the engine
type Registered struct {
	Ref    string
	Digest string
}

// Engine is the external workflow engine
type Engine interface {
	// DescribeDefinition returns the registered definition called name or
	// ErrDefinitionNotFound
	DescribeDefinition(ctx context.Context, name string) (*Registered, error)
	// CreateDefinition registers def and returns its reference, or
	// ErrDefinitionExists when the name is taken
	CreateDefinition(ctx context.Context, def Definition, digest string) (string, error)
	// StartExecution begins an execution and returns its id
	StartExecution(ctx context.Context, ref string, input []byte) (string, error)
}

// ConflictPolicy decides what happens when a definition with the same name
// but a different graph is already registered
type ConflictPolicy string

const (
	// PolicyConflict fails with pipeline.ErrDefinitionConflict
	PolicyConflict ConflictPolicy = "conflict"
	// PolicyReuse starts executions of the registered definition anyway
	PolicyReuse ConflictPolicy = "reuse"
)

const defaultCacheSize = 64

type ensured struct {
	ref    string
	digest string
}

// Trigger ensures definitions and starts executions. Ensured definitions are
// cached so steady-state starts cost one engine call.
type Trigger struct {
	engine Engine
	policy ConflictPolicy
	cache  *lru.Cache[string, ensured]
	log    logger.Logger
}

// NewTrigger creates a trigger for engine. An empty policy means PolicyConflict.
func NewTrigger(engine Engine, policy ConflictPolicy, log logger.Logger) (*Trigger, error) {
	switch policy {
	case "":
		policy = PolicyConflict
	case PolicyConflict, PolicyReuse:
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}
	cache, err := lru.New[string, ensured](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Trigger{engine: engine, policy: policy, cache: cache, log: log}, nil
}

// EnsureAndStart makes sure def is registered and starts an execution with
// input marshaled as JSON. A nil input starts with an empty object.
func (t *Trigger) EnsureAndStart(ctx context.Context, def Definition, input any) (string, error) {
	ref, err := t.Ensure(ctx, def)
	if err != nil {
		return "", err
	}

	payload := []byte("{}")
	if input != nil {
		if payload, err = json.Marshal(input); err != nil {
			return "", fmt.Errorf("marshal execution input: %w", err)
		}
	}

	executionID, err := t.engine.StartExecution(ctx, ref, payload)
	if err != nil {
		return "", fmt.Errorf("%w: start execution of %s: %w", pipeline.ErrOrchestrationUnavailable, def.Name, err)
	}
	return executionID, nil
}

// Ensure returns the engine reference of def, registering it when absent
func (t *Trigger) Ensure(ctx context.Context, def Definition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	digest, err := def.Digest()
	if err != nil {
		return "", err
	}

	if hit, ok := t.cache.Get(def.Name); ok {
		if hit.digest == digest {
			return hit.ref, nil
		}
		// a different graph under the same name in this process; re-check the engine
		t.cache.Remove(def.Name)
	}

	reg, err := t.engine.DescribeDefinition(ctx, def.Name)
	switch {
	case errors.Is(err, ErrDefinitionNotFound):
		ref, createErr := t.engine.CreateDefinition(ctx, def, digest)
		if createErr == nil {
			t.log.Info("Workflow definition registered", "name", def.Name, "ref", ref)
			t.cache.Add(def.Name, ensured{ref: ref, digest: digest})
			return ref, nil
		}
		if !errors.Is(createErr, ErrDefinitionExists) {
			return "", fmt.Errorf("%w: create definition %s: %w", pipeline.ErrOrchestrationUnavailable, def.Name, createErr)
		}
		// lost a create race; compare against the winner
		reg, err = t.engine.DescribeDefinition(ctx, def.Name)
		if err != nil {
			return "", fmt.Errorf("%w: describe definition %s: %w", pipeline.ErrOrchestrationUnavailable, def.Name, err)
		}
	case err != nil:
		return "", fmt.Errorf("%w: describe definition %s: %w", pipeline.ErrOrchestrationUnavailable, def.Name, err)
	}

	if reg.Digest != digest {
		if t.policy != PolicyReuse {
			return "", fmt.Errorf("%w: %s is registered with digest %s, want %s",
				pipeline.ErrDefinitionConflict, def.Name, short(reg.Digest), short(digest))
		}
		t.log.Warn("Reusing workflow definition with a different graph", "name", def.Name,
			"registered", short(reg.Digest), "local", short(digest))
	}

	// cache under the local digest so later calls with the same def hit
	t.cache.Add(def.Name, ensured{ref: reg.Ref, digest: digest})
	return reg.Ref, nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
