package auth

// Event is a session lifecycle notification published by the Manager.
type Event int

const (
	// TokensRefreshed fires whenever a new token pair is stored.
	TokensRefreshed Event = iota

	// SessionExpired fires when a refresh fails irrecoverably and the
	// local session has been wiped. Subscribers should route the user to
	// re-authentication.
	SessionExpired
)

func (e Event) String() string {
	switch e {
	case TokensRefreshed:
		return "tokens_refreshed"
	case SessionExpired:
		return "session_expired"
	}
	return "unknown"
}

const eventBuffer = 8

// Events returns a channel receiving session events. The channel is
// buffered; events are dropped for subscribers that fall behind, so
// publication never blocks the request path.
func (m *Manager) Events() <-chan Event {
	ch := make(chan Event, eventBuffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) publish(e Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
