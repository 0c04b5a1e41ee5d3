package remote

import (
	"context"
	"net/http"
	"sync"

	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/models"
)

// Call records one update received by a Memory backend.
type Call struct {
	Table    string
	RecordID string
	Patch    models.Patch
}

// Hook runs before a Memory backend applies an update; a non-nil error
// rejects the update.
type Hook func(ctx context.Context, call Call) error

// Memory is an in-process backend used by the demo server and tests.
type Memory struct {
	mu       sync.Mutex
	tasks    map[string]models.Task
	order    []string
	failures map[string]error
	down     error
	hook     Hook
	calls    []Call
	applied  []Call
}

// NewMemory seeds a backend with tasks.
func NewMemory(tasks ...models.Task) *Memory {
	m := &Memory{
		tasks:    make(map[string]models.Task),
		failures: make(map[string]error),
	}
	for _, t := range tasks {
		m.Put(t)
	}
	return m
}

// Put inserts or replaces a task.
func (m *Memory) Put(t models.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		m.order = append(m.order, t.ID)
	}
	m.tasks[t.ID] = t
}

// Task returns the stored task.
func (m *Memory) Task(id string) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// FailRecord makes every update to table/recordID fail with err until cleared.
func (m *Memory) FailRecord(table, recordID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, table+"/"+recordID)
		return
	}
	m.failures[table+"/"+recordID] = err
}

// SetDown makes every call fail with err; nil brings the backend back.
func (m *Memory) SetDown(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = err
}

// SetHook installs h, replacing any previous hook.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// Calls returns every update received, including rejected ones, in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Applied returns the updates that succeeded, in order.
func (m *Memory) Applied() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.applied...)
}

// Update implements Updater.
func (m *Memory) Update(ctx context.Context, table, recordID string, patch models.Patch) error {
	call := Call{Table: table, RecordID: recordID, Patch: patch.Clone()}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	hook := m.hook
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return apperrors.Remote(0, "update "+table+": request failed", err)
	}
	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.down != nil {
		return apperrors.Remote(0, "update "+table+": request failed", m.down)
	}
	if err, ok := m.failures[table+"/"+recordID]; ok {
		return apperrors.Remote(http.StatusBadRequest, "update "+table+": rejected", err)
	}
	if table == models.TableTasks {
		task, ok := m.tasks[recordID]
		if ok {
			m.tasks[recordID] = task.Apply(patch)
		}
	}
	m.applied = append(m.applied, call)
	return nil
}

// ListTasks implements TaskFetcher.
func (m *Memory) ListTasks(ctx context.Context, assignee string) ([]models.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Remote(0, "list tasks: request failed", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.down != nil {
		return nil, apperrors.Remote(0, "list tasks: request failed", m.down)
	}
	var tasks []models.Task
	for _, id := range m.order {
		t := m.tasks[id]
		if t.AssignedTo == assignee && t.IsActive() {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}
