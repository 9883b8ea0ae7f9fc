package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Runtime manages the DBOS runtime lifecycle and acts as the workflow engine
// for derivative hand-offs
type Runtime struct {
	dbosContext dbos.DBOSContext
	queue       *dbos.WorkflowQueue
	config      Config
	db          *sql.DB
}

// NewRuntime creates a new DBOS runtime instance
// Returns error if the database URL is not set
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DBOS_SYSTEM_DATABASE_URL is required")
	}

	// Apply defaults
	cfg.WithDefaults()
	if !identRe.MatchString(cfg.DefinitionsTable) {
		return nil, fmt.Errorf("invalid definitions table name %q", cfg.DefinitionsTable)
	}

	// Initialize DBOS context
	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, err
	}

	// Create workflow queue
	queue := dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName)

	// Create database connection for direct SQL operations
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		dbosContext: dbosCtx,
		queue:       &queue,
		config:      cfg,
		db:          db,
	}, nil
}

// Launch starts the DBOS runtime and makes sure the definitions table exists
func (r *Runtime) Launch(ctx context.Context) error {
	if err := dbos.Launch(r.dbosContext); err != nil {
		return err
	}
	return r.ensureTable(ctx)
}

// Shutdown gracefully shuts down the DBOS runtime
func (r *Runtime) Shutdown(timeout time.Duration) error {
	dbos.Shutdown(r.dbosContext, timeout)
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// DB returns the direct SQL connection to the DBOS database
func (r *Runtime) DB() *sql.DB {
	return r.db
}

// QueueName returns the configured queue name
func (r *Runtime) QueueName() string {
	return r.config.QueueName
}

func (r *Runtime) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			graph JSONB NOT NULL,
			role_ref TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)
	`, r.config.DefinitionsTable)

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", r.config.DefinitionsTable, err)
	}
	return nil
}
