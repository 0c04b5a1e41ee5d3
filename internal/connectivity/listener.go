package connectivity

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/sitecrew/worksync/internal/errors"
	"github.com/sitecrew/worksync/internal/logging"
	"github.com/sitecrew/worksync/internal/mutation"
)

// Flusher replays queued mutations.
type Flusher interface {
	Flush(ctx context.Context) (mutation.FlushResult, error)
}

// FlushedFunc observes the outcome of a flush started by a Listener.
type FlushedFunc func(ctx context.Context, res mutation.FlushResult, err error)

// Listener starts a flush every time connectivity comes back.
type Listener struct {
	source    Subscriber
	flusher   Flusher
	onFlushed FlushedFunc

	once sync.Once
	ctx  context.Context
	wg   sync.WaitGroup
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// OnFlushed sets the callback run after each listener-triggered flush.
func OnFlushed(fn FlushedFunc) ListenerOption {
	return func(l *Listener) { l.onFlushed = fn }
}

// NewListener creates an unregistered Listener.
func NewListener(source Subscriber, flusher Flusher, opts ...ListenerOption) *Listener {
	l := &Listener{
		source:  source,
		flusher: flusher,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register subscribes the listener to transitions. Only the first call has
// an effect; it reports whether this call performed the registration.
// Flushes started by the listener run under ctx.
func (l *Listener) Register(ctx context.Context) bool {
	registered := false
	l.once.Do(func() {
		l.ctx = ctx
		l.source.Subscribe(l.handle)
		registered = true
		logging.Debug("Connectivity listener registered", nil)
	})
	return registered
}

// Wait blocks until flushes started so far have finished.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) handle(ev Event) {
	if !ev.Online {
		return
	}
	l.wg.Add(1)
	go l.flush()
}

// flush runs detached from the transition; errors and panics end here.
func (l *Listener) flush() {
	defer l.wg.Done()

	var (
		res mutation.FlushResult
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.New(apperrors.ErrInternal, fmt.Sprintf("flush panicked: %v", r))
			}
		}()
		res, err = l.flusher.Flush(l.ctx)
	}()

	if err != nil {
		logging.ErrorWithCode("Flush after reconnect failed", string(apperrors.Code(err)), err, nil)
	}
	if l.onFlushed != nil {
		l.onFlushed(l.ctx, res, err)
	}
}

var (
	processListener *Listener
	processOnce     sync.Once
)

// Register wires the process-wide listener. Calls after the first return the
// existing listener and ignore their arguments.
func Register(ctx context.Context, source Subscriber, flusher Flusher, opts ...ListenerOption) *Listener {
	processOnce.Do(func() {
		processListener = NewListener(source, flusher, opts...)
		processListener.Register(ctx)
	})
	return processListener
}
