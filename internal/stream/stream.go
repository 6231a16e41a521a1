// Package stream fans role map events out to live subscribers such as SSE clients.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/iotaledger/product-core-sub000/internal/rolemap"
)

// Stream fan-outs events to all active subscribers. It implements rolemap.Observer.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	buffer  int
	dropped atomic.Uint64
}

type subscriber struct {
	target string
	ch     chan rolemap.Event
}

var _ rolemap.Observer = (*Stream)(nil)

// New creates an empty stream. buffer is the per-subscriber queue length; values below one
// fall back to 16.
func New(buffer int) *Stream {
	if buffer < 1 {
		buffer = 16
	}
	return &Stream{subs: make(map[int]subscriber), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive events for
// targetKey, or for every target when targetKey is empty. The channel is closed when the
// provided context ends.
func (s *Stream) Subscribe(ctx context.Context, targetKey string) <-chan rolemap.Event {
	ch := make(chan rolemap.Event, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{target: targetKey, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to matching subscribers.
func (s *Stream) Publish(evt rolemap.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.target != "" && sub.target != evt.TargetKey {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow subscriber.
			s.dropped.Add(1)
		}
	}
}

// Observe implements rolemap.Observer.
func (s *Stream) Observe(_ context.Context, evt rolemap.Event) { s.Publish(evt) }

// Subscribers returns the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
