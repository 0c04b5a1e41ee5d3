// Package tasks implements the worker task list: reads through the local
// cache and optimistic completion and status changes that go straight to the
// remote when online and into the mutation queue when offline.
package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/sitecrew/worksync/internal/cache"
	"github.com/sitecrew/worksync/internal/connectivity"
	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/logging"
	"github.com/sitecrew/worksync/internal/models"
	"github.com/sitecrew/worksync/internal/mutation"
	"github.com/sitecrew/worksync/internal/notify"
	"github.com/sitecrew/worksync/internal/remote"
)

// Outcome is what happened to a dispatched change.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeQueued    Outcome = "queued"
	OutcomeSynced    Outcome = "synced"
	OutcomeReverted  Outcome = "reverted"
	OutcomeNotQueued Outcome = "not_queued"
)

const cachePrefix = "tasks:"

// Queue records mutations for later replay.
type Queue interface {
	Enqueue(ctx context.Context, table, recordID string, patch models.Patch) (*models.QueuedMutation, error)
}

// Service serves a worker's task list.
type Service struct {
	cache    *cache.QueryCache[models.Task]
	queue    Queue
	remote   remote.API
	status   connectivity.Status
	notifier notify.Notifier
	schema   models.Schema
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where outcomes are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithCache shares an existing cache.
func WithCache(c *cache.QueryCache[models.Task]) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock overrides the time source used for completed_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(queue Queue, api remote.API, status connectivity.Status, opts ...Option) *Service {
	s := &Service{
		cache:    cache.New[models.Task](),
		queue:    queue,
		remote:   api,
		status:   status,
		notifier: notify.Discard,
		schema:   models.DefaultSchema(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheKey is the cache key of an assignee's active task list.
func CacheKey(assignee string) string {
	return cachePrefix + assignee
}

// Cache exposes the task cache.
func (s *Service) Cache() *cache.QueryCache[models.Task] {
	return s.cache
}

// MyTasks returns the assignee's active tasks. Online it refreshes the cache
// from the remote; offline, or when the fetch fails, it serves the cache.
func (s *Service) MyTasks(ctx context.Context, assignee string) ([]models.Task, error) {
	if assignee == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "assignee is required")
	}

	key := CacheKey(assignee)
	if s.status.IsOnline() {
		fetched, err := s.remote.ListTasks(ctx, assignee)
		if err == nil {
			s.cache.Set(key, fetched)
			return fetched, nil
		}
		logging.Warn("Task fetch failed, serving cached list", map[string]interface{}{
			"assignee": assignee,
			"error":    err.Error(),
		})
	}

	cached, _ := s.cache.Get(key)
	if cached == nil {
		cached = []models.Task{}
	}
	return cached, nil
}

// CompleteTask marks a task completed and drops it from the active list.
func (s *Service) CompleteTask(ctx context.Context, assignee, taskID string) (Outcome, error) {
	patch := models.CompletionPatch(s.now())
	return s.dispatch(ctx, assignee, taskID, patch, "Task completed")
}

// UpdateStatus moves a task to status. Completing it drops it from the
// active list.
func (s *Service) UpdateStatus(ctx context.Context, assignee, taskID string, status models.TaskStatus) (Outcome, error) {
	patch := models.StatusPatch(status, s.now())
	return s.dispatch(ctx, assignee, taskID, patch, "Task updated")
}

// dispatch applies patch to the cached list, then sends it to the remote or
// the queue depending on connectivity. A failed send restores the list.
func (s *Service) dispatch(ctx context.Context, assignee, taskID string, patch models.Patch, doneMessage string) (Outcome, error) {
	if assignee == "" {
		return "", apperrors.New(apperrors.ErrValidation, "assignee is required")
	}
	if err := s.schema.Validate(models.TableTasks, taskID, patch); err != nil {
		return "", err
	}

	online := s.status.IsOnline()
	err := cache.Mutate(ctx, s.cache, CacheKey(assignee), applyPatch(taskID, patch), func(ctx context.Context) error {
		if online {
			return s.remote.Update(ctx, models.TableTasks, taskID, patch)
		}
		_, err := s.queue.Enqueue(ctx, models.TableTasks, taskID, patch)
		return err
	})

	n := notify.Notification{
		Table:     models.TableTasks,
		RecordID:  taskID,
		Timestamp: s.now(),
	}
	switch {
	case err != nil && online:
		n.Kind, n.Message, n.Error = notify.KindReverted, "Update failed and was reverted", err.Error()
		s.notifier.Notify(n)
		logging.ErrorWithCode("Task update rejected, reverted", string(apperrors.Code(err)), err, map[string]interface{}{"task_id": taskID})
		return OutcomeReverted, err
	case err != nil:
		n.Kind, n.Message, n.Error = notify.KindNotQueued, "Could not save the change for later", err.Error()
		s.notifier.Notify(n)
		logging.ErrorWithCode("Task update could not be queued, reverted", string(apperrors.Code(err)), err, map[string]interface{}{"task_id": taskID})
		return OutcomeNotQueued, err
	case online:
		n.Kind, n.Message = notify.KindCompleted, doneMessage
		s.notifier.Notify(n)
		return OutcomeCompleted, nil
	default:
		n.Kind, n.Message = notify.KindQueued, "Queued while offline"
		s.notifier.Notify(n)
		return OutcomeQueued, nil
	}
}

// applyPatch updates the task in place and drops it once it is no longer active.
func applyPatch(taskID string, patch models.Patch) func([]models.Task) []models.Task {
	return func(list []models.Task) []models.Task {
		out := make([]models.Task, 0, len(list))
		for _, t := range list {
			if t.ID == taskID {
				t = t.Apply(patch)
				if !t.IsActive() {
					continue
				}
			}
			out = append(out, t)
		}
		return out
	}
}

// HandleFlush reports every applied entry as synced and, when online,
// refreshes the cached task lists so they match the server.
func (s *Service) HandleFlush(ctx context.Context, res mutation.FlushResult) {
	for _, m := range res.Applied {
		s.notifier.Notify(notify.Notification{
			Kind:      notify.KindSynced,
			Table:     m.Table,
			RecordID:  m.RecordID,
			Message:   "Synced",
			Timestamp: s.now(),
		})
	}
	if len(res.Applied) == 0 || !s.status.IsOnline() {
		return
	}

	for _, key := range s.cache.Keys() {
		assignee, ok := strings.CutPrefix(key, cachePrefix)
		if !ok {
			continue
		}
		fetched, err := s.remote.ListTasks(ctx, assignee)
		if err != nil {
			logging.Warn("Refetch after flush failed", map[string]interface{}{
				"assignee": assignee,
				"error":    err.Error(),
			})
			continue
		}
		s.cache.Set(key, fetched)
	}
}
