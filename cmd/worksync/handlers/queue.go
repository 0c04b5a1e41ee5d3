package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sitecrew/worksync/internal/connectivity"
	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/logging"
)

// GetQueue handles GET /api/queue
// Returns the pending mutations in replay order.
func (a *API) GetQueue(w http.ResponseWriter, r *http.Request) {
	items, err := a.queue.List(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}

	response := map[string]interface{}{
		"length": len(items),
		"items":  items,
		"online": a.status.IsOnline(),
	}
	if a.scheduler != nil {
		response["scheduler"] = a.scheduler.Status(r.Context())
	}
	writeJSON(w, http.StatusOK, response)
}

// FlushQueue handles POST /api/queue/flush
// Replays the queue now and reports the pass.
func (a *API) FlushQueue(w http.ResponseWriter, r *http.Request) {
	if !a.status.IsOnline() {
		writeError(w, apperrors.New(apperrors.ErrOffline, "cannot flush while offline"), nil)
		return
	}

	res, err := a.queue.Flush(r.Context())
	if a.onFlushed != nil {
		a.onFlushed(r.Context(), res, err)
	}
	if err != nil {
		logging.ErrorWithCode("Requested flush failed", string(apperrors.Code(err)), err, nil)
		writeError(w, err, map[string]interface{}{"result": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetConnectivity handles GET /api/connectivity
func (a *API) GetConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online":       a.status.IsOnline(),
		"mode":         string(a.modes.Mode()),
		"queue_length": a.queue.QueueLength(r.Context()),
	})
}

// SetConnectivity handles PUT /api/connectivity
// Pins the connection online or offline, or returns it to probing.
func (a *API) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid request body", err), nil)
		return
	}
	mode, err := connectivity.ParseMode(request.Mode)
	if err != nil || request.Mode == "" {
		writeError(w, apperrors.Newf(apperrors.ErrValidation, "invalid mode %q", request.Mode), nil)
		return
	}

	a.modes.SetMode(mode)
	logging.Info("Connectivity mode changed via API", map[string]interface{}{"mode": string(mode)})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online": a.status.IsOnline(),
		"mode":   string(mode),
	})
}
