package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/", APIKey: "anon-key", AccessToken: "user-jwt"})
	require.NoError(t, err)
	return c
}

func TestNewClient_validation(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))

	_, err = NewClient(ClientConfig{BaseURL: "not a url"})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestClient_Update(t *testing.T) {
	var got struct {
		method, path, id, apikey, auth, prefer string
		body                                   map[string]interface{}
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.id = r.URL.Query().Get("id")
		got.apikey = r.Header.Get("apikey")
		got.auth = r.Header.Get("Authorization")
		got.prefer = r.Header.Get("Prefer")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
		w.WriteHeader(http.StatusNoContent)
	})

	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	err := c.Update(context.Background(), models.TableTasks, "task-1", models.CompletionPatch(at))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, "/rest/v1/tasks", got.path)
	assert.Equal(t, "eq.task-1", got.id)
	assert.Equal(t, "anon-key", got.apikey)
	assert.Equal(t, "Bearer user-jwt", got.auth)
	assert.Equal(t, "return=minimal", got.prefer)
	assert.Equal(t, "completed", got.body["status"])
	assert.Equal(t, "2026-02-03T04:05:06Z", got.body["completed_at"])
}

func TestClient_Update_rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	})

	err := c.Update(context.Background(), models.TableTasks, "task-1", models.CompletionPatch(time.Now()))
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrRemote, appErr.Code)
	assert.Equal(t, http.StatusForbidden, appErr.StatusCode)
	assert.Contains(t, appErr.Message, "permission denied")
}

func TestClient_Update_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	err = c.Update(context.Background(), models.TableTasks, "task-1", models.CompletionPatch(time.Now()))
	assert.True(t, apperrors.Is(err, apperrors.ErrRemote))
}

func TestClient_ListTasks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/tasks", r.URL.Path)
		assert.Equal(t, "eq.worker-7", r.URL.Query().Get("assigned_to"))
		assert.Equal(t, "neq.completed", r.URL.Query().Get("status"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"a","title":"Pour slab","assigned_to":"worker-7","status":"pending","updated_at":"2026-01-01T00:00:00Z"},
			{"id":"b","title":"Frame wall","assigned_to":"worker-7","status":"in_progress","updated_at":"2026-01-01T00:00:00Z"}
		]`))
	})

	tasks, err := c.ListTasks(context.Background(), "worker-7")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, models.TaskStatusInProgress, tasks[1].Status)
}

func TestClient_ListTasks_badBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := c.ListTasks(context.Background(), "worker-7")
	assert.True(t, apperrors.Is(err, apperrors.ErrRemote))
}
