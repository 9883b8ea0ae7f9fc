// Package dedupe counts how often a source object was delivered to a pipeline.
// Notification sources deliver at least once; the count is reported, never
// used to suppress work.
package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"

	"github.com/tendant/simple-content-derivatives/internal/logger"
)

// Tracker records notification deliveries in PostgreSQL
type Tracker struct {
	db  *sql.DB
	log logger.Logger
}

// NewTracker creates a new dedupe tracker and its table
func NewTracker(ctx context.Context, db *sql.DB, log logger.Logger) (*Tracker, error) {
	if log == nil {
		log = logger.Discard()
	}
	tracker := &Tracker{db: db, log: log}

	if err := tracker.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure dedupe table: %w", err)
	}

	return tracker, nil
}

// ensureTable creates the derivative_dedupe table if it doesn't exist
func (t *Tracker) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS derivative_dedupe (
			source_url TEXT NOT NULL,
			pipeline TEXT NOT NULL,
			first_seen_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ DEFAULT NOW(),
			seen_count INTEGER DEFAULT 1,
			PRIMARY KEY (source_url, pipeline)
		)
	`

	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create derivative_dedupe table: %w", err)
	}

	t.log.Debug("derivative_dedupe table ready")
	return nil
}

// Record records a delivery and returns the seen count
func (t *Tracker) Record(ctx context.Context, sourceURL string, pipeline string) (int, error) {
	query := `
		INSERT INTO derivative_dedupe (source_url, pipeline, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, NOW(), NOW(), 1)
		ON CONFLICT (source_url, pipeline) DO UPDATE
		SET last_seen_at = NOW(),
		    seen_count = derivative_dedupe.seen_count + 1
		RETURNING seen_count
	`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, sourceURL, pipeline).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record dedupe: %w", err)
	}

	return seenCount, nil
}

// GetSeenCount retrieves the seen count for a source in a pipeline
func (t *Tracker) GetSeenCount(ctx context.Context, sourceURL string, pipeline string) (int, error) {
	query := `SELECT seen_count FROM derivative_dedupe WHERE source_url = $1 AND pipeline = $2`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, sourceURL, pipeline).Scan(&seenCount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}

	return seenCount, nil
}

// MemoryTracker is an in-process Tracker for local runs and tests
type MemoryTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryTracker creates an empty tracker
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{counts: make(map[string]int)}
}

// Record increments and returns the seen count
func (m *MemoryTracker) Record(ctx context.Context, sourceURL string, pipeline string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[pipeline+"|"+sourceURL]++
	return m.counts[pipeline+"|"+sourceURL], nil
}

// GetSeenCount returns the seen count, zero if never recorded
func (m *MemoryTracker) GetSeenCount(ctx context.Context, sourceURL string, pipeline string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[pipeline+"|"+sourceURL], nil
}
