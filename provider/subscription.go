package provider

import "sync"

// DefaultEventBuffer is the subscription buffer used when none is given.
const DefaultEventBuffer = 16

// Subscription receives the state changes of one [Auth].
//
// The channel returned by Events is never closed. Consumers select on it
// alongside their own shutdown signal and call Unsubscribe when done.
type Subscription struct {
	auth *Auth
	ch   chan Event

	once sync.Once
	done chan struct{}
}

// OnAuthStateChange registers a subscriber. Publishing blocks while the
// subscriber buffer is full, so subscribers must keep draining Events until
// they unsubscribe.
func (a *Auth) OnAuthStateChange(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	sub := &Subscription{
		auth: a,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	a.mu.Lock()
	a.subs[sub] = struct{}{}
	a.mu.Unlock()
	return sub
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.auth.mu.Lock()
		delete(s.auth.subs, s)
		s.auth.mu.Unlock()
	})
}

// publish must be called with a.mu held and after a.seq was bumped.
func (a *Auth) publish(typ EventType, sess *Session) {
	for sub := range a.subs {
		ev := Event{Type: typ, Session: sess.Clone(), Seq: a.seq}
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}
