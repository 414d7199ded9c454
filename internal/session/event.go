package session

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventSettings     EventKind = "settings"
	EventFrame        EventKind = "frame"
	// EventSnapshot is never published by a Session. Observers that join
	// late use it to send the state they start from.
	EventSnapshot EventKind = "snapshot"
)

// subscriberBuffer is how many events a subscriber may lag behind before
// events are dropped for it.
const subscriberBuffer = 16

// Event carries the session state right after a change.
type Event struct {
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`
	Snapshot
}

// Subscribe registers an observer. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}
