package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitecrew/worksync/internal/connectivity"
	"github.com/sitecrew/worksync/internal/models"
	"github.com/sitecrew/worksync/internal/mutation"
	"github.com/sitecrew/worksync/internal/remote"
	"github.com/sitecrew/worksync/internal/scheduler"
	"github.com/sitecrew/worksync/internal/store"
	"github.com/sitecrew/worksync/internal/tasks"
)

// =====================================================
// Test Helpers
// =====================================================

type testEnv struct {
	server  *httptest.Server
	monitor *connectivity.Monitor
	prober  *connectivity.Prober
	remote  *remote.Memory
	manager *mutation.Manager

	mu      sync.Mutex
	flushed []mutation.FlushResult
}

func (e *testEnv) flushes() []mutation.FlushResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]mutation.FlushResult(nil), e.flushed...)
}

func createTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		monitor: connectivity.NewMonitor(true),
		remote: remote.NewMemory(
			models.Task{ID: "t1", Title: "Pour footing", AssignedTo: "w1", Status: models.TaskStatusPending},
			models.Task{ID: "t2", Title: "Frame wall", AssignedTo: "w1", Status: models.TaskStatusPending},
		),
	}
	env.prober = connectivity.NewProber(env.monitor, connectivity.ProberConfig{})
	env.manager = mutation.NewManager(store.NewMemory(0).Bucket(store.NamespaceMutations), env.remote)
	svc := tasks.NewService(env.manager, env.remote, env.monitor)
	sched := scheduler.New(env.manager, env.monitor, nil)

	api := New(svc, env.manager, env.monitor, env.prober,
		WithScheduler(sched),
		WithFlushCallback(func(_ context.Context, res mutation.FlushResult, _ error) {
			env.mu.Lock()
			env.flushed = append(env.flushed, res)
			env.mu.Unlock()
		}),
		WithWebSocket(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})),
	)
	env.server = httptest.NewServer(api.Routes())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if resp.StatusCode != http.StatusTeapot {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp.StatusCode, decoded
}

// =====================================================
// Health / Tasks
// =====================================================

func TestHealth(t *testing.T) {
	env := createTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["online"])
	assert.EqualValues(t, 0, body["queue_length"])
}

func TestListTasks(t *testing.T) {
	env := createTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/tasks?assignee=w1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["tasks"], 2)

	status, body = env.do(t, http.MethodGet, "/api/tasks", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestCompleteTask_online(t *testing.T) {
	env := createTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/tasks/t1/complete", `{"assignee":"w1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", body["outcome"])

	stored, _ := env.remote.Task("t1")
	assert.Equal(t, models.TaskStatusCompleted, stored.Status)
}

func TestCompleteTask_rejectedByRemote(t *testing.T) {
	env := createTestEnv(t)
	env.remote.FailRecord(models.TableTasks, "t1", assert.AnError)

	status, body := env.do(t, http.MethodPost, "/api/tasks/t1/complete?assignee=w1", "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "reverted", body["outcome"])
	assert.Equal(t, "REMOTE_ERROR", body["code"])
}

func TestUpdateStatus(t *testing.T) {
	env := createTestEnv(t)

	status, body := env.do(t, http.MethodPut, "/api/tasks/t2/status", `{"assignee":"w1","status":"in_progress"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", body["outcome"])

	status, _ = env.do(t, http.MethodPut, "/api/tasks/t2/status", `{"assignee":"w1","status":"archived"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPut, "/api/tasks/t2/status", `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

// =====================================================
// Queue / Connectivity
// =====================================================

func TestOfflineCompletionThenFlush(t *testing.T) {
	env := createTestEnv(t)

	status, body := env.do(t, http.MethodPut, "/api/connectivity", `{"mode":"offline"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["online"])

	status, body = env.do(t, http.MethodPost, "/api/tasks/t1/complete", `{"assignee":"w1"}`)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "queued", body["outcome"])

	status, body = env.do(t, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["length"])
	assert.NotNil(t, body["scheduler"])

	status, body = env.do(t, http.MethodPost, "/api/queue/flush", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "OFFLINE", body["code"])

	status, body = env.do(t, http.MethodPut, "/api/connectivity", `{"mode":"online"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "online", body["mode"])

	status, body = env.do(t, http.MethodPost, "/api/queue/flush", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["succeeded"])
	flushes := env.flushes()
	require.Len(t, flushes, 1)
	assert.Len(t, flushes[0].Applied, 1)

	assert.Equal(t, 0, env.manager.QueueLength(context.Background()))
}

func TestConnectivity(t *testing.T) {
	env := createTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/connectivity", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "auto", body["mode"])
	assert.Equal(t, true, body["online"])

	status, _ = env.do(t, http.MethodPut, "/api/connectivity", `{"mode":"airplane"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodPut, "/api/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestWebSocketMounted(t *testing.T) {
	env := createTestEnv(t)
	status, _ := env.do(t, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusTeapot, status)
}
