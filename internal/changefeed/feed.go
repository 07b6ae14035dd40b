// Package changefeed fans store notifications out to topic subscribers.
//
// Publishing never blocks: a subscriber whose buffer is full misses the event
// and is flagged as overflowed so it can resynchronise from the source.
package changefeed

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscription channel capacity used when a Feed is
// created with a non-positive buffer size.
const DefaultBuffer = 256

// Feed is a topic based publish/subscribe hub. It is safe for concurrent use.
type Feed[T any] struct {
	buffer int

	mu   sync.RWMutex
	subs map[string]map[*Subscription[T]]struct{}
}

// Subscription receives the events published on a single topic.
type Subscription[T any] struct {
	Topic string
	C     <-chan T

	ch         chan T
	feed       *Feed[T]
	overflowed atomic.Bool
	once       sync.Once
}

func New[T any](buffer int) *Feed[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Feed[T]{
		buffer: buffer,
		subs:   map[string]map[*Subscription[T]]struct{}{},
	}
}

func (f *Feed[T]) Subscribe(topic string) *Subscription[T] {
	ch := make(chan T, f.buffer)
	sub := &Subscription[T]{
		Topic: topic,
		C:     ch,
		ch:    ch,
		feed:  f,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[topic] == nil {
		f.subs[topic] = map[*Subscription[T]]struct{}{}
	}
	f.subs[topic][sub] = struct{}{}
	return sub
}

// Publish delivers event to every subscriber of topic.
func (f *Feed[T]) Publish(topic string, event T) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for sub := range f.subs[topic] {
		select {
		case sub.ch <- event:
		default:
			sub.overflowed.Store(true)
		}
	}
}

// Subscribers reports how many subscriptions are registered for topic.
func (f *Feed[T]) Subscribers(topic string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[topic])
}

// TakeOverflow reports whether events were dropped since the last call and
// resets the flag.
func (s *Subscription[T]) TakeOverflow() bool {
	return s.overflowed.Swap(false)
}

// Close unregisters the subscription and closes its channel. It is safe to
// call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		f := s.feed
		f.mu.Lock()
		defer f.mu.Unlock()

		if topicSubs, ok := f.subs[s.Topic]; ok {
			delete(topicSubs, s)
			if len(topicSubs) == 0 {
				delete(f.subs, s.Topic)
			}
		}
		close(s.ch)
	})
}
