package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/models"
	"github.com/sitecrew/worksync/internal/tasks"
)

type taskRequest struct {
	Assignee string            `json:"assignee"`
	Status   models.TaskStatus `json:"status"`
}

// decodeTaskRequest reads an optional JSON body; ?assignee= fills in a
// missing assignee.
func decodeTaskRequest(r *http.Request) (taskRequest, error) {
	var req taskRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, apperrors.Wrap(apperrors.ErrValidation, "invalid request body", err)
		}
	}
	if req.Assignee == "" {
		req.Assignee = r.URL.Query().Get("assignee")
	}
	if req.Assignee == "" {
		return req, apperrors.New(apperrors.ErrValidation, "assignee is required")
	}
	return req, nil
}

// ListTasks handles GET /api/tasks?assignee=
func (a *API) ListTasks(w http.ResponseWriter, r *http.Request) {
	assignee := r.URL.Query().Get("assignee")
	list, err := a.tasks.MyTasks(r.Context(), assignee)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":  list,
		"online": a.status.IsOnline(),
	})
}

// CompleteTask handles POST /api/tasks/{id}/complete
func (a *API) CompleteTask(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTaskRequest(r)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	taskID := r.PathValue("id")
	outcome, err := a.tasks.CompleteTask(r.Context(), req.Assignee, taskID)
	writeOutcome(w, taskID, outcome, err)
}

// UpdateStatus handles PUT /api/tasks/{id}/status
func (a *API) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTaskRequest(r)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if !req.Status.Valid() {
		writeError(w, apperrors.Newf(apperrors.ErrValidation, "invalid status %q", req.Status), nil)
		return
	}

	taskID := r.PathValue("id")
	outcome, err := a.tasks.UpdateStatus(r.Context(), req.Assignee, taskID, req.Status)
	writeOutcome(w, taskID, outcome, err)
}

func writeOutcome(w http.ResponseWriter, taskID string, outcome tasks.Outcome, err error) {
	if err != nil {
		extra := map[string]interface{}{"task_id": taskID}
		if outcome != "" {
			extra["outcome"] = string(outcome)
		}
		writeError(w, err, extra)
		return
	}

	status := http.StatusOK
	if outcome == tasks.OutcomeQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]interface{}{
		"task_id": taskID,
		"outcome": string(outcome),
	})
}
