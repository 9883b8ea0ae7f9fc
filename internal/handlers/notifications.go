package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/tendant/simple-content-derivatives/internal/dbosruntime"
	"github.com/tendant/simple-content-derivatives/internal/logger"
	"github.com/tendant/simple-content-derivatives/internal/workflows"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// maxBatchBytes caps the size of one notification payload
const maxBatchBytes = 8 << 20

// Dispatcher runs a batch through one pipeline
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []pipeline.Notification, job string) ([]pipeline.Outcome, error)
}

// StatusReader looks up started downstream executions
type StatusReader interface {
	GetWorkflowStatus(ctx context.Context, workflowUUID string) (*dbosruntime.WorkflowStatusInfo, error)
}

// NotificationHandler accepts bucket notifications and reports per-record outcomes
type NotificationHandler struct {
	dispatcher Dispatcher
	status     StatusReader
	log        logger.Logger
}

// NewNotificationHandler creates a new notification handler. status may be nil
// when no workflow engine is configured.
func NewNotificationHandler(dispatcher Dispatcher, status StatusReader, log logger.Logger) *NotificationHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &NotificationHandler{
		dispatcher: dispatcher,
		status:     status,
		log:        log,
	}
}

// HandleNotifications handles POST /v1/notifications?pipeline=<job>. The
// response is 200 whenever the batch was dispatched, even if records failed.
func (h *NotificationHandler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job := r.URL.Query().Get("pipeline")
	if job == "" {
		http.Error(w, "pipeline is required", http.StatusBadRequest)
		return
	}

	var info notification.Info
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBatchBytes)).Decode(&info); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	batch, err := pipeline.FromEvents(info)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.log.Debug("Dispatching batch", "pipeline", job, "records", len(batch))

	outcomes, err := h.dispatcher.Dispatch(r.Context(), batch, job)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrMalformedBatch) || errors.Is(err, workflows.ErrWorkflowNotFound) {
			status = http.StatusBadRequest
		}
		h.log.Warn("Batch rejected", "pipeline", job, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, pipeline.Summarize(job, outcomes))
}

// HandleExecution handles GET /v1/executions/{id}
func (h *NotificationHandler) HandleExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.status == nil {
		http.Error(w, "No workflow engine configured", http.StatusNotImplemented)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/executions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "execution id is required", http.StatusBadRequest)
		return
	}

	info, err := h.status.GetWorkflowStatus(r.Context(), id)
	if err != nil {
		h.log.Debug("Execution lookup failed", "execution_id", id, "error", err)
		http.Error(w, "Execution not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleHealth returns health status
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
