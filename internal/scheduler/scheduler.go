// Package scheduler retries the mutation queue in the background while the
// device is online, backing off after passes that leave failures behind.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sitecrew/worksync/internal/connectivity"
	"github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/logging"
	"github.com/sitecrew/worksync/internal/mutation"
)

// Queue is the part of the mutation manager the scheduler drives.
type Queue interface {
	Flush(ctx context.Context) (mutation.FlushResult, error)
	QueueLength(ctx context.Context) int
}

// Scheduler flushes the queue periodically.
type Scheduler struct {
	queue     Queue
	status    connectivity.Status
	onFlushed connectivity.FlushedFunc

	retryInterval time.Duration
	maxBackoff    time.Duration
	flushTimeout  time.Duration
	now           func() time.Time

	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.RWMutex
	isRunning       bool
	flushInProgress bool
	failures        int
	nextAttempt     time.Time
	lastFlushTime   time.Time
}

// Config holds scheduler configuration.
type Config struct {
	RetryInterval time.Duration // How often to retry a non-empty queue (default: 1 minute)
	MaxBackoff    time.Duration // Upper bound on the delay after failures (default: 1 hour)
	FlushTimeout  time.Duration // How long to wait on a pass before backing off (default: 5 minutes)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		RetryInterval: 1 * time.Minute,
		MaxBackoff:    1 * time.Hour,
		FlushTimeout:  5 * time.Minute,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// OnFlushed sets the callback run after each scheduled or triggered pass.
func OnFlushed(fn connectivity.FlushedFunc) Option {
	return func(s *Scheduler) { s.onFlushed = fn }
}

// WithClock overrides the time source used for backoff.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler. A nil config uses DefaultConfig.
func New(queue Queue, status connectivity.Status, config *Config, opts ...Option) *Scheduler {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}

	s := &Scheduler{
		queue:         queue,
		status:        status,
		retryInterval: config.RetryInterval,
		maxBackoff:    config.MaxBackoff,
		flushTimeout:  config.FlushTimeout,
		now:           time.Now,
	}
	if s.retryInterval <= 0 {
		s.retryInterval = defaults.RetryInterval
	}
	if s.maxBackoff <= 0 {
		s.maxBackoff = defaults.MaxBackoff
	}
	if s.flushTimeout <= 0 {
		s.flushTimeout = defaults.FlushTimeout
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the background loop. Calling Start on a running scheduler
// does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, stopCh)

	logging.Info("Background flush scheduler started", map[string]interface{}{
		"retry_interval_seconds": s.retryInterval.Seconds(),
	})
}

// Stop stops the loop and waits for running passes to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background flush scheduler stopped", nil)
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a pass when online, the queue has work and no backoff is pending.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.status.IsOnline() {
		return
	}
	if s.queue.QueueLength(ctx) == 0 {
		return
	}

	s.mu.RLock()
	wait := s.nextAttempt.Sub(s.now())
	s.mu.RUnlock()
	if wait > 0 {
		logging.Debug("Flush backing off", map[string]interface{}{"wait_seconds": wait.Seconds()})
		return
	}

	if !s.begin() {
		logging.Debug("Flush already in progress, skipping", nil)
		return
	}
	s.run(ctx)
}

// begin claims the in-progress flag.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushInProgress {
		return false
	}
	s.flushInProgress = true
	return true
}

// run executes one pass. The caller must hold the in-progress flag.
func (s *Scheduler) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.flushInProgress = false
		s.mu.Unlock()
	}()

	flushCtx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()

	res, err := s.queue.Flush(flushCtx)

	s.mu.Lock()
	s.lastFlushTime = s.now()
	if err != nil || res.Failed > 0 {
		delay := calculateBackoff(s.retryInterval, s.failures, s.maxBackoff)
		s.failures++
		s.nextAttempt = s.lastFlushTime.Add(delay)
	} else {
		s.failures = 0
		s.nextAttempt = time.Time{}
	}
	failures := s.failures
	s.mu.Unlock()

	if err != nil {
		logging.ErrorWithCode("Scheduled flush failed", string(errors.Code(err)), err,
			map[string]interface{}{"consecutive_failures": failures})
	} else {
		logging.Info("Scheduled flush completed", map[string]interface{}{
			"succeeded": res.Succeeded,
			"failed":    res.Failed,
			"skipped":   res.Skipped,
			"remaining": res.Remaining,
		})
	}

	if s.onFlushed != nil {
		s.onFlushed(ctx, res, err)
	}
}

// calculateBackoff returns base * 2^retryCount, capped at limit.
func calculateBackoff(base time.Duration, retryCount int, limit time.Duration) time.Duration {
	if retryCount > 30 {
		return limit
	}
	backoff := base << uint(retryCount)
	if backoff <= 0 || backoff > limit {
		return limit
	}
	return backoff
}

// TriggerFlush starts a pass now, ignoring any backoff.
// Returns true if a pass was started, false if one is already in progress.
func (s *Scheduler) TriggerFlush(ctx context.Context) bool {
	if !s.begin() {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return true
}

// Wait blocks until triggered passes have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	IsRunning           bool       `json:"is_running"`
	IsOnline            bool       `json:"is_online"`
	FlushInProgress     bool       `json:"flush_in_progress"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFlushTime       *time.Time `json:"last_flush_time,omitempty"`
	NextAttempt         *time.Time `json:"next_attempt,omitempty"`
	PendingItems        int        `json:"pending_items"`
}

// Status returns the current status of the scheduler.
func (s *Scheduler) Status(ctx context.Context) Status {
	pending := s.queue.QueueLength(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning:           s.isRunning,
		IsOnline:            s.status.IsOnline(),
		FlushInProgress:     s.flushInProgress,
		ConsecutiveFailures: s.failures,
		PendingItems:        pending,
	}
	if !s.lastFlushTime.IsZero() {
		last := s.lastFlushTime
		status.LastFlushTime = &last
	}
	if !s.nextAttempt.IsZero() {
		next := s.nextAttempt
		status.NextAttempt = &next
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
