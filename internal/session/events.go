package session

import "context"

// EventType names a session transition.
type EventType string

const (
	EventLoggedIn    EventType = "logged_in"
	EventLoggedOut   EventType = "logged_out"
	EventRefreshed   EventType = "refreshed"
	EventInvalidated EventType = "invalidated"
)

// Reason explains an invalidation.
type Reason string

// ReasonExpired is used when a refresh could not renew the session.
const ReasonExpired Reason = "expired"

// Event is broadcast to subscribers on every session transition.
type Event struct {
	Type   EventType
	UserID string
	Reason Reason
}

// Listener receives session events. Listeners run synchronously on the
// goroutine that caused the transition and must not block for long.
type Listener func(ctx context.Context, ev Event)

// Subscribe registers fn and returns a function that removes it. Listeners may
// subscribe or unsubscribe at any time, including from inside a listener.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.lmu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})
	m.lmu.Unlock()

	return func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		for i, s := range m.listeners {
			if s.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	m.lmu.Lock()
	snapshot := make([]subscription, len(m.listeners))
	copy(snapshot, m.listeners)
	m.lmu.Unlock()

	for _, s := range snapshot {
		s.fn(ctx, ev)
	}
}
