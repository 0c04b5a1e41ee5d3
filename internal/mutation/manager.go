// Package mutation manages the durable queue of writes made while offline
// and replays them against the backend once connectivity returns.
package mutation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/logging"
	"github.com/sitecrew/worksync/internal/models"
	"github.com/sitecrew/worksync/internal/remote"
	"github.com/sitecrew/worksync/internal/store"
	"github.com/sitecrew/worksync/internal/uuid"
)

// FlushResult summarizes one replay pass. Skipped counts entries left
// unattempted: the pass was cancelled, or an earlier entry for the same
// record failed in this pass. Failed+Skipped is the number of entries the
// pass retained from its snapshot.
type FlushResult struct {
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	Skipped   int                     `json:"skipped"`
	Remaining int                     `json:"remaining"`
	Applied   []models.QueuedMutation `json:"applied,omitempty"`
}

// Manager owns the persisted queue. Nothing else reads or writes it.
type Manager struct {
	store  store.Store
	remote remote.Updater
	schema models.Schema
	newID  uuid.Generator
	now    func() time.Time

	// mu serializes every read-modify-write of the persisted queue.
	mu      sync.Mutex
	flights singleflight.Group

	// Passes run under ctx, not under any caller's context, so one caller
	// giving up cannot cut short a pass that others have joined.
	ctx     context.Context
	cancel  context.CancelFunc
	closeMu sync.Mutex
	closed  bool
	passes  sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithSchema replaces the default patch schema.
func WithSchema(s models.Schema) Option {
	return func(m *Manager) { m.schema = s }
}

// WithIDGenerator replaces UUID generation.
func WithIDGenerator(g uuid.Generator) Option {
	return func(m *Manager) { m.newID = g }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager persisting into st and replaying through updater.
func NewManager(st store.Store, updater remote.Updater, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		remote: updater,
		schema: models.DefaultSchema(),
		newID:  uuid.New,
		now:    time.Now,
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close stops an in-flight pass between entries and waits for its
// write-back. Later Flush calls fail.
func (m *Manager) Close() {
	m.closeMu.Lock()
	m.closed = true
	m.closeMu.Unlock()

	m.cancel()
	m.passes.Wait()
}

// load reads the persisted queue. present is false when no queue was ever
// written; a read failure is a STORAGE_ERROR, never an empty queue.
func (m *Manager) load(ctx context.Context) (queue []models.QueuedMutation, present bool, err error) {
	data, ok, err := m.store.Load(ctx, store.KeyQueue)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if err := json.Unmarshal(data, &queue); err != nil {
		return nil, true, apperrors.Wrap(apperrors.ErrStorage, "persisted queue is corrupt", err)
	}
	return queue, true, nil
}

func (m *Manager) save(ctx context.Context, queue []models.QueuedMutation) error {
	if queue == nil {
		queue = []models.QueuedMutation{}
	}
	data, err := json.Marshal(queue)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to encode queue", err)
	}
	return m.store.Set(ctx, store.KeyQueue, data)
}

// Enqueue appends a mutation to the persisted queue and returns it. On a
// storage failure nothing is queued and a STORAGE_ERROR is returned.
func (m *Manager) Enqueue(ctx context.Context, table, recordID string, patch models.Patch) (*models.QueuedMutation, error) {
	if err := m.schema.Validate(table, recordID, patch); err != nil {
		return nil, err
	}

	entry := models.QueuedMutation{
		ID:        m.newID(),
		Table:     table,
		RecordID:  recordID,
		Patch:     patch.Clone(),
		Timestamp: m.now().UnixMilli(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	queue, _, err := m.load(ctx)
	if err != nil {
		logging.ErrorWithCode("Failed to read queue before enqueue", string(apperrors.Code(err)), err,
			map[string]interface{}{"table": table, "record_id": recordID})
		return nil, err
	}
	queue = append(queue, entry)
	if err := m.save(ctx, queue); err != nil {
		logging.ErrorWithCode("Failed to queue mutation", string(apperrors.Code(err)), err,
			map[string]interface{}{"table": table, "record_id": recordID})
		return nil, err
	}

	logging.Info("Mutation queued", map[string]interface{}{
		"id":        entry.ID,
		"table":     table,
		"record_id": recordID,
		"length":    len(queue),
	})
	return &entry, nil
}

// Flush replays the queue in insertion order, one entry at a time. Applied
// entries are removed; failed entries stay in place for the next flush.
// Concurrent calls share a single pass. Cancelling ctx only stops this
// caller from waiting: the pass itself runs until it ends or Close is
// called. The returned error is non-nil when the queue could not be read,
// the write-back failed, or ctx ended first.
func (m *Manager) Flush(ctx context.Context) (FlushResult, error) {
	ch := m.flights.DoChan("flush", func() (interface{}, error) {
		return m.runPass()
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(FlushResult)
		return res, r.Err
	case <-ctx.Done():
		return FlushResult{}, ctx.Err()
	}
}

func (m *Manager) runPass() (FlushResult, error) {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return FlushResult{}, apperrors.New(apperrors.ErrInternal, "mutation manager is closed")
	}
	m.passes.Add(1)
	m.closeMu.Unlock()
	defer m.passes.Done()

	return m.flush(m.ctx)
}

func (m *Manager) flush(ctx context.Context) (FlushResult, error) {
	m.mu.Lock()
	snapshot, _, err := m.load(ctx)
	m.mu.Unlock()
	if err != nil {
		return FlushResult{}, err
	}
	if len(snapshot) == 0 {
		return FlushResult{}, nil
	}

	var res FlushResult
	applied := make(map[string]bool, len(snapshot))
	blocked := make(map[string]bool)

	for i, entry := range snapshot {
		if ctx.Err() != nil {
			res.Skipped += len(snapshot) - i
			break
		}
		if blocked[entry.Key()] {
			res.Skipped++
			continue
		}
		if err := m.replay(ctx, entry); err != nil {
			res.Failed++
			blocked[entry.Key()] = true
			logging.Warn("Queued mutation failed, keeping for retry", map[string]interface{}{
				"id":        entry.ID,
				"table":     entry.Table,
				"record_id": entry.RecordID,
				"error":     err.Error(),
			})
			continue
		}
		res.Succeeded++
		applied[entry.ID] = true
		res.Applied = append(res.Applied, entry)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-read so entries enqueued during the replay are kept. Without a
	// readable queue there is nothing safe to write back.
	current, present, err := m.load(ctx)
	if err == nil && !present {
		err = apperrors.New(apperrors.ErrStorage, "persisted queue disappeared during flush")
	}
	if err != nil {
		logging.ErrorWithCode("Failed to re-read queue for write-back", string(apperrors.Code(err)), err,
			map[string]interface{}{"applied": res.Succeeded})
		res.Remaining = len(snapshot)
		return res, err
	}
	retained := make([]models.QueuedMutation, 0, len(current))
	for _, entry := range current {
		if !applied[entry.ID] {
			retained = append(retained, entry)
		}
	}
	res.Remaining = len(retained)

	if res.Succeeded > 0 {
		if err := m.save(context.WithoutCancel(ctx), retained); err != nil {
			logging.ErrorWithCode("Failed to write back flushed queue", string(apperrors.ErrStorage), err,
				map[string]interface{}{"applied": res.Succeeded})
			res.Remaining = len(current)
			return res, err
		}
	}

	logging.Info("Mutation queue flushed", map[string]interface{}{
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"skipped":   res.Skipped,
		"remaining": res.Remaining,
	})
	return res, nil
}

// replay sends one entry, converting a panic into an error so it cannot
// abort the rest of the pass.
func (m *Manager) replay(ctx context.Context, entry models.QueuedMutation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Newf(apperrors.ErrInternal, "replay of %s panicked: %v", entry.ID, r)
		}
	}()
	return m.remote.Update(ctx, entry.Table, entry.RecordID, entry.Patch.Clone())
}

// QueueLength returns the persisted queue length, or 0 if it cannot be read.
func (m *Manager) QueueLength(ctx context.Context) int {
	queue, _, err := m.load(ctx)
	if err != nil {
		return 0
	}
	return len(queue)
}

// List returns the persisted queue in replay order.
func (m *Manager) List(ctx context.Context) ([]models.QueuedMutation, error) {
	queue, _, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return queue, nil
}
