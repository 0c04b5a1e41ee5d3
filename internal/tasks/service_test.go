package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sitecrew/worksync/internal/connectivity"
	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/models"
	"github.com/sitecrew/worksync/internal/mutation"
	"github.com/sitecrew/worksync/internal/notify"
	"github.com/sitecrew/worksync/internal/remote"
	"github.com/sitecrew/worksync/internal/store"
	"github.com/sitecrew/worksync/internal/uuid"
)

// =====================================================
// Test Helpers
// =====================================================

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type harness struct {
	monitor  *connectivity.Monitor
	backend  *store.Memory
	remote   *remote.Memory
	manager  *mutation.Manager
	recorder *notify.Recorder
	svc      *Service
}

func task(id, assignee string, status models.TaskStatus) models.Task {
	return models.Task{ID: id, Title: "Task " + id, AssignedTo: assignee, Status: status}
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()

	h := &harness{
		monitor:  connectivity.NewMonitor(online),
		backend:  store.NewMemory(0),
		remote:   remote.NewMemory(task("A", "w1", models.TaskStatusPending), task("B", "w1", models.TaskStatusPending)),
		recorder: notify.NewRecorder(0),
	}
	h.manager = mutation.NewManager(
		h.backend.Bucket(store.NamespaceMutations),
		h.remote,
		mutation.WithIDGenerator(uuid.Sequence("m")),
		mutation.WithClock(func() time.Time { return fixedNow }),
	)
	h.svc = NewService(h.manager, h.remote, h.monitor,
		WithNotifier(h.recorder),
		WithClock(func() time.Time { return fixedNow }),
	)
	return h
}

func ids(list []models.Task) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.ID
	}
	return out
}

func (h *harness) cached(t *testing.T) []models.Task {
	t.Helper()
	list, ok := h.svc.Cache().Get(CacheKey("w1"))
	require.True(t, ok)
	return list
}

// =====================================================
// MyTasks
// =====================================================

func TestMyTasks_onlineRefreshesCache(t *testing.T) {
	h := newHarness(t, true)

	list, err := h.svc.MyTasks(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(list))
	assert.Equal(t, []string{"A", "B"}, ids(h.cached(t)))
}

func TestMyTasks_offlineServesCache(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.svc.MyTasks(context.Background(), "w1")
	require.NoError(t, err)

	h.monitor.SetOnline(false)
	h.remote.Put(task("C", "w1", models.TaskStatusPending))

	list, err := h.svc.MyTasks(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(list))
}

func TestMyTasks_fetchFailureFallsBackToCache(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.svc.MyTasks(context.Background(), "w1")
	require.NoError(t, err)

	h.remote.SetDown(errors.New("connection reset"))
	list, err := h.svc.MyTasks(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(list))

	empty, err := h.svc.MyTasks(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}

func TestMyTasks_requiresAssignee(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.svc.MyTasks(context.Background(), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

// =====================================================
// Online dispatch
// =====================================================

func TestCompleteTask_onlineSuccess(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.svc.MyTasks(ctx, "w1")
	require.NoError(t, err)

	outcome, err := h.svc.CompleteTask(ctx, "w1", "A")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	assert.Equal(t, []string{"B"}, ids(h.cached(t)))
	assert.Equal(t, []notify.Kind{notify.KindCompleted}, h.recorder.Kinds())
	assert.Equal(t, 0, h.manager.QueueLength(ctx), "online path never queues")

	stored, _ := h.remote.Task("A")
	assert.Equal(t, models.TaskStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.CompletedAt.Equal(fixedNow))
}

func TestCompleteTask_onlineFailureRestoresExactList(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.svc.MyTasks(ctx, "w1")
	require.NoError(t, err)
	before := h.cached(t)

	var during []string
	h.remote.SetHook(func(ctx context.Context, call remote.Call) error {
		list, _ := h.svc.Cache().Get(CacheKey("w1"))
		during = ids(list)
		return apperrors.Remote(500, "update tasks: rejected", nil)
	})

	outcome, err := h.svc.CompleteTask(ctx, "w1", "A")
	require.Error(t, err)
	assert.Equal(t, OutcomeReverted, outcome)

	assert.Equal(t, []string{"B"}, during, "speculative state is shown while the request is in flight")
	assert.Equal(t, before, h.cached(t))
	assert.Equal(t, []notify.Kind{notify.KindReverted}, h.recorder.Kinds())
	assert.Equal(t, 0, h.manager.QueueLength(ctx), "online failures are not retried")
}

func TestUpdateStatus_onlineUpdatesInPlace(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.svc.MyTasks(ctx, "w1")
	require.NoError(t, err)

	outcome, err := h.svc.UpdateStatus(ctx, "w1", "B", models.TaskStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	list := h.cached(t)
	require.Len(t, list, 2)
	assert.Equal(t, models.TaskStatusInProgress, list[1].Status)
	assert.Nil(t, list[1].CompletedAt)

	_, err = h.svc.UpdateStatus(ctx, "w1", "B", models.TaskStatus("archived"))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Len(t, h.cached(t), 2, "invalid patches never touch the cache")
}

// =====================================================
// Offline dispatch
// =====================================================

func TestCompleteTask_offlineQueues(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.svc.MyTasks(ctx, "w1")
	require.NoError(t, err)
	h.monitor.SetOnline(false)

	outcome, err := h.svc.CompleteTask(ctx, "w1", "A")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)

	assert.Equal(t, []string{"B"}, ids(h.cached(t)))
	assert.Empty(t, h.remote.Calls())
	assert.Equal(t, []notify.Kind{notify.KindQueued}, h.recorder.Kinds())

	queued, err := h.manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "A", queued[0].RecordID)
}

func TestCompleteTask_offlineStorageFailureReverts(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.svc.MyTasks(ctx, "w1")
	require.NoError(t, err)
	h.monitor.SetOnline(false)
	h.backend.SetUnavailable(true)

	outcome, err := h.svc.CompleteTask(ctx, "w1", "A")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
	assert.Equal(t, OutcomeNotQueued, outcome)

	assert.Equal(t, []string{"A", "B"}, ids(h.cached(t)))
	assert.Equal(t, []notify.Kind{notify.KindNotQueued}, h.recorder.Kinds())
}

// =====================================================
// Offline round trip
// =====================================================

type countingFlusher struct {
	inner *mutation.Manager
	calls atomic.Int32
}

func (f *countingFlusher) Flush(ctx context.Context) (mutation.FlushResult, error) {
	f.calls.Add(1)
	return f.inner.Flush(ctx)
}

func TestOfflineRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.svc.MyTasks(ctx, "w1")
	require.NoError(t, err)

	flusher := &countingFlusher{inner: h.manager}
	l := connectivity.NewListener(h.monitor, flusher, connectivity.OnFlushed(
		func(ctx context.Context, res mutation.FlushResult, err error) {
			assert.NoError(t, err)
			h.svc.HandleFlush(ctx, res)
		}))
	l.Register(ctx)

	h.monitor.SetOnline(false)
	l.Wait()

	outcome, err := h.svc.CompleteTask(ctx, "w1", "A")
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Equal(t, []string{"B"}, ids(h.cached(t)))
	assert.Empty(t, h.remote.Calls())

	h.monitor.SetOnline(true)
	l.Wait()

	assert.Equal(t, int32(1), flusher.calls.Load())
	applied := h.remote.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, "A", applied[0].RecordID)

	assert.Equal(t, []string{"B"}, ids(h.cached(t)), "cache matches the server after refetch")
	assert.Equal(t, []notify.Kind{notify.KindQueued, notify.KindSynced}, h.recorder.Kinds())
	assert.Equal(t, 0, h.manager.QueueLength(ctx))
}

func TestHandleFlush_refetchesWhenOnline(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.svc.MyTasks(ctx, "w1")
	require.NoError(t, err)

	h.remote.Put(task("C", "w1", models.TaskStatusPending))
	h.svc.HandleFlush(ctx, mutation.FlushResult{
		Succeeded: 1,
		Applied:   []models.QueuedMutation{{ID: "m-1", Table: models.TableTasks, RecordID: "A"}},
	})

	assert.Equal(t, []string{"A", "B", "C"}, ids(h.cached(t)))
	assert.Equal(t, []notify.Kind{notify.KindSynced}, h.recorder.Kinds())
}

func TestHandleFlush_nothingAppliedIsQuiet(t *testing.T) {
	h := newHarness(t, true)
	h.svc.HandleFlush(context.Background(), mutation.FlushResult{Failed: 1, Remaining: 1})
	assert.Empty(t, h.recorder.All())
}
