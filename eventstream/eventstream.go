// Package eventstream implements the system-wide event stream: a
// publish point for dead-letter (and other lifecycle) events that never
// blocks a sender, plus a bounded recent-event cache for inspection
// tooling, backed by github.com/hashicorp/golang-lru/v2.
package eventstream

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kestrelactor/kestrel/pid"
)

// DefaultRecentCapacity is how many recent events the inspection cache
// retains by default.
const DefaultRecentCapacity = 1024

// DeadLetter is published when a local send cannot be delivered (an
// unresolvable identifier, or a mailbox that rejects the envelope) and
// for each system message still queued when a stopping cell closes its
// mailbox. Work left queued when a dispatcher shutdown abandons a
// worker, and user messages discarded by a closing mailbox, are not
// published.
type DeadLetter struct {
	Target          pid.ID
	Sender          pid.ID
	PayloadTypeName string
	Reason          string
	At              time.Time
}

// Stream is the event stream: Publish never blocks, each subscriber
// gets its own buffered channel and a slow subscriber only ever drops
// its own events, never affects a sender or another subscriber.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan any
	next atomic.Int64

	recent *lru.Cache[int64, any]
}

// New constructs a Stream whose inspection cache retains the most
// recent recentCapacity events.
func New(recentCapacity int) *Stream {
	if recentCapacity <= 0 {
		recentCapacity = DefaultRecentCapacity
	}
	c, _ := lru.New[int64, any](recentCapacity)
	return &Stream{subs: make(map[int]chan any), recent: c}
}

// Publish fans event out to every live subscriber (dropping it for any
// subscriber whose buffer is full, rather than blocking) and records it
// in the recent-event cache.
func (s *Stream) Publish(event any) {
	if dl, ok := event.(DeadLetter); ok && dl.At.IsZero() {
		dl.At = time.Now()
		event = dl
	}

	s.recent.Add(s.next.Add(1), event)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel receiving every event published from now
// on (buffer slots deep) and an unsubscribe func.
func (s *Stream) Subscribe(buffer int) (<-chan any, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan any, buffer)

	s.mu.Lock()
	id := len(s.subs)
	for _, ok := s.subs[id]; ok; _, ok = s.subs[id] {
		id++
	}
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(ch)
	}
}

// Recent returns up to n of the most recently published events (fewer
// if the cache holds less), oldest first.
func (s *Stream) Recent(n int) []any {
	keys := s.recent.Keys()
	if n > 0 && len(keys) > n {
		keys = keys[len(keys)-n:]
	}
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.recent.Peek(k); ok {
			out = append(out, v)
		}
	}
	return out
}
