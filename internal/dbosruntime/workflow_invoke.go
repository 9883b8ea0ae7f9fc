package dbosruntime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-content-derivatives/internal/orchestration"
)

// DescribeDefinition returns the registered definition called name
func (r *Runtime) DescribeDefinition(ctx context.Context, name string) (*orchestration.Registered, error) {
	query := fmt.Sprintf(`SELECT name, digest FROM %s WHERE name = $1`, r.config.DefinitionsTable)

	var reg orchestration.Registered
	err := r.db.QueryRowContext(ctx, query, name).Scan(&reg.Ref, &reg.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orchestration.ErrDefinitionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query definition: %w", err)
	}
	return &reg, nil
}

// CreateDefinition stores def; the definition name is its reference and the
// name of the workflow function external workers register
func (r *Runtime) CreateDefinition(ctx context.Context, def orchestration.Definition, digest string) (string, error) {
	graph, err := json.Marshal(def.Graph)
	if err != nil {
		return "", fmt.Errorf("failed to marshal graph: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (name, digest, graph, role_ref)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
	`, r.config.DefinitionsTable)

	res, err := r.db.ExecContext(ctx, query, def.Name, digest, string(graph), def.RoleRef)
	if err != nil {
		return "", fmt.Errorf("failed to insert definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to insert definition: %w", err)
	}
	if n == 0 {
		return "", orchestration.ErrDefinitionExists
	}
	return def.Name, nil
}

// StartExecution enqueues a DBOS workflow by name so workers written in any
// language can execute it. It returns as soon as the rows are written.
func (r *Runtime) StartExecution(ctx context.Context, ref string, input []byte) (string, error) {
	workflowUUID := fmt.Sprintf("%s-%s", ref, uuid.NewString())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Insert workflow into dbos.workflow_status table
	query := `
		INSERT INTO dbos.workflow_status (
			workflow_uuid,
			status,
			name,
			request,
			executor_id,
			created_at,
			updated_at,
			application_version,
			application_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, query,
		workflowUUID,
		"PENDING",
		ref,
		string(input),
		"pending",
		now,
		now,
		r.config.ApplicationVersion,
		r.config.AppName,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert workflow: %w", err)
	}

	// Enqueue to the workflow queue
	queueQuery := `
		INSERT INTO dbos.workflow_queue (
			workflow_uuid,
			queue_name,
			created_at_epoch_ms
		) VALUES ($1, $2, $3)
	`
	if _, err = tx.ExecContext(ctx, queueQuery, workflowUUID, r.config.QueueName, now); err != nil {
		return "", fmt.Errorf("failed to enqueue workflow: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit workflow: %w", err)
	}
	return workflowUUID, nil
}

// WorkflowStatusInfo represents the status of a workflow
type WorkflowStatusInfo struct {
	WorkflowUUID string `json:"workflow_uuid"`
	Status       string `json:"status"`
	Name         string `json:"name"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// GetWorkflowStatus retrieves the status of an execution. The pipeline never
// awaits executions; this backs the status endpoint only.
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	query := `
		SELECT workflow_uuid, status, name, created_at, updated_at
		FROM dbos.workflow_status
		WHERE workflow_uuid = $1
	`

	var info WorkflowStatusInfo
	err := r.db.QueryRowContext(ctx, query, workflowUUID).Scan(
		&info.WorkflowUUID,
		&info.Status,
		&info.Name,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow status: %w", err)
	}

	return &info, nil
}
