// Package stream provides single-writer broadcast state: a value owned by
// one service, readable by anyone, observable through independent
// subscriptions. Consumers never get a mutable reference, only copies
// delivered over channels.
package stream

import "sync"

// Source holds the current value and fans out every update to all
// subscribers. Exactly one component should call Set; everyone else
// reads via Get or Subscribe.
type Source[T any] struct {
	mu   sync.RWMutex
	val  T
	subs map[uint64]chan T
	next uint64
}

// NewSource creates a source seeded with an initial value.
func NewSource[T any](initial T) *Source[T] {
	return &Source[T]{
		val:  initial,
		subs: make(map[uint64]chan T),
	}
}

// Get returns the current value.
func (s *Source[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.val
}

// Set stores v and delivers it to every subscriber. Delivery is
// non-blocking: a subscriber that has stopped draining its channel
// loses updates rather than stalling the writer.
func (s *Source[T]) Set(v T) {
	s.mu.Lock()
	s.val = v
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a new independent subscriber. buf is the channel
// buffer size; values published while the buffer is full are dropped
// for that subscriber only.
func (s *Source[T]) Subscribe(buf int) *Subscription[T] {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan T, buf)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	return &Subscription[T]{
		C: ch,
		cancel: func() {
			s.mu.Lock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.mu.Unlock()
		},
	}
}

// SubscriberCount returns the number of active subscriptions.
func (s *Source[T]) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Subscription is one subscriber's view of a Source. Cancelling it
// detaches and closes C without disturbing other subscribers.
type Subscription[T any] struct {
	C      <-chan T
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription. Safe to call more than once.
func (sub *Subscription[T]) Cancel() {
	sub.once.Do(sub.cancel)
}
