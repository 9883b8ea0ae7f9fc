package records

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// MemoryStore keeps records in process memory; for local runs
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]pipeline.LabeledRecord
	order   []uuid.UUID
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]pipeline.LabeledRecord)}
}

// PutRecord stores rec unless its id was already written
func (m *MemoryStore) PutRecord(ctx context.Context, rec pipeline.LabeledRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.RecordID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.RecordID)
	}
	m.records[rec.RecordID] = rec
	m.order = append(m.order, rec.RecordID)
	return nil
}

// Records returns all records in insertion order
func (m *MemoryStore) Records() []pipeline.LabeledRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.LabeledRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id])
	}
	return out
}
