// Package connectivity tracks whether the backend is reachable and turns
// the transition back online into a queue flush.
package connectivity

import (
	"sort"
	"sync"
	"time"

	"github.com/sitecrew/worksync/internal/logging"
)

// Event is a connectivity transition.
type Event struct {
	Online bool
	At     time.Time
}

// Handler receives transitions. Handlers run synchronously on the goroutine
// that called SetOnline and must not call SetOnline themselves.
type Handler func(Event)

// Status is the synchronous connectivity read callers branch on.
type Status interface {
	IsOnline() bool
}

// Subscriber delivers transitions to handlers.
type Subscriber interface {
	Subscribe(h Handler) (unsubscribe func())
}

// Monitor holds the current connectivity state and fans out transitions.
type Monitor struct {
	// dispatch keeps deliveries in transition order.
	dispatch sync.Mutex

	mu       sync.RWMutex
	online   bool
	handlers map[int]Handler
	nextID   int
	now      func() time.Time
}

// NewMonitor creates a Monitor starting in the given state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:   online,
		handlers: make(map[int]Handler),
		now:      time.Now,
	}
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records the state and notifies handlers if it changed. It
// reports whether a transition happened.
func (m *Monitor) SetOnline(online bool) bool {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	handlers := m.snapshotHandlers()
	m.mu.Unlock()

	ev := Event{Online: online, At: m.now()}
	logging.Info("Connectivity changed", map[string]interface{}{"online": online})

	for _, h := range handlers {
		h(ev)
	}
	return true
}

// snapshotHandlers returns handlers in subscription order. Caller holds mu.
func (m *Monitor) snapshotHandlers() []Handler {
	keys := make([]int, 0, len(m.handlers))
	for id := range m.handlers {
		keys = append(keys, id)
	}
	sort.Ints(keys)
	handlers := make([]Handler, 0, len(keys))
	for _, id := range keys {
		handlers = append(handlers, m.handlers[id])
	}
	return handlers
}

// Subscribe registers h for future transitions.
func (m *Monitor) Subscribe(h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers, id)
			m.mu.Unlock()
		})
	}
}
