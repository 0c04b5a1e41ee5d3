// Package handlers provides the local REST API used by the worker UI.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sitecrew/worksync/internal/connectivity"
	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/logging"
	"github.com/sitecrew/worksync/internal/models"
	"github.com/sitecrew/worksync/internal/mutation"
	"github.com/sitecrew/worksync/internal/scheduler"
	"github.com/sitecrew/worksync/internal/tasks"
)

// TaskService serves and mutates a worker's tasks.
type TaskService interface {
	MyTasks(ctx context.Context, assignee string) ([]models.Task, error)
	CompleteTask(ctx context.Context, assignee, taskID string) (tasks.Outcome, error)
	UpdateStatus(ctx context.Context, assignee, taskID string, status models.TaskStatus) (tasks.Outcome, error)
}

// Queue is the mutation queue as seen by the API.
type Queue interface {
	List(ctx context.Context) ([]models.QueuedMutation, error)
	QueueLength(ctx context.Context) int
	Flush(ctx context.Context) (mutation.FlushResult, error)
}

// ModeSwitch reads and pins the connectivity mode.
type ModeSwitch interface {
	Mode() connectivity.Mode
	SetMode(mode connectivity.Mode)
}

// SchedulerStatus reports background flush state.
type SchedulerStatus interface {
	Status(ctx context.Context) scheduler.Status
}

// API bundles the HTTP handlers.
type API struct {
	tasks     TaskService
	queue     Queue
	status    connectivity.Status
	modes     ModeSwitch
	scheduler SchedulerStatus
	onFlushed connectivity.FlushedFunc
	ws        http.Handler
}

// Option configures an API.
type Option func(*API)

// WithScheduler adds scheduler state to queue responses.
func WithScheduler(s SchedulerStatus) Option {
	return func(a *API) { a.scheduler = s }
}

// WithFlushCallback runs fn after every flush requested through the API.
func WithFlushCallback(fn connectivity.FlushedFunc) Option {
	return func(a *API) { a.onFlushed = fn }
}

// WithWebSocket mounts h at /ws.
func WithWebSocket(h http.Handler) Option {
	return func(a *API) { a.ws = h }
}

// New creates the API.
func New(svc TaskService, queue Queue, status connectivity.Status, modes ModeSwitch, opts ...Option) *API {
	a := &API{
		tasks:  svc,
		queue:  queue,
		status: status,
		modes:  modes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes registers every endpoint on a new mux.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", a.Health)

	mux.HandleFunc("GET /api/tasks", a.ListTasks)
	mux.HandleFunc("POST /api/tasks/{id}/complete", a.CompleteTask)
	mux.HandleFunc("PUT /api/tasks/{id}/status", a.UpdateStatus)

	mux.HandleFunc("GET /api/queue", a.GetQueue)
	mux.HandleFunc("POST /api/queue/flush", a.FlushQueue)

	mux.HandleFunc("GET /api/connectivity", a.GetConnectivity)
	mux.HandleFunc("PUT /api/connectivity", a.SetConnectivity)

	if a.ws != nil {
		mux.Handle("GET /ws", a.ws)
	}
	return mux
}

// =====================================================
// Response helpers
// =====================================================

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// statusFor maps error codes onto HTTP statuses.
func statusFor(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrRemote:
		return http.StatusBadGateway
	case apperrors.ErrStorage, apperrors.ErrOffline:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error, extra map[string]interface{}) {
	body := map[string]interface{}{
		"error": err.Error(),
	}
	if code := apperrors.Code(err); code != "" {
		body["code"] = string(code)
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, statusFor(err), body)
}

// Health handles GET /api/health
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"service":      "worksync",
		"online":       a.status.IsOnline(),
		"queue_length": a.queue.QueueLength(r.Context()),
	})
}
