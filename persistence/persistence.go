// Package persistence defines the journal/snapshot contract the
// runtime treats as an external collaborator: the kernel itself
// persists nothing, but actors that opt into event-sourced state need a
// place to append events and read snapshots back. InMemory is a
// reference implementation good enough for tests and single-process
// use; a real deployment supplies its own (a database, a
// log-structured store).
package persistence

import (
	"context"
	"fmt"
	"sync"
)

// Event is one journaled fact for a given persistence id, tagged with
// its sequence number.
type Event struct {
	SeqNr   int64
	Payload any
}

// Snapshot is a point-in-time state capture, consulted after each event
// append per the configured snapshot interval policy.
type Snapshot struct {
	SeqNr int64
	State any
}

// Journal is the persistence contract.
type Journal interface {
	WriteEvents(ctx context.Context, persistenceID string, events []Event) error
	ReadEvents(ctx context.Context, persistenceID string, from, to int64) ([]Event, error)
	WriteSnapshot(ctx context.Context, persistenceID string, state any, seqNr int64) error
	ReadLatestSnapshot(ctx context.Context, persistenceID string) (Snapshot, bool, error)
}

// InMemory is a Journal backed by process memory. It is a reference
// implementation for tests and single-node deployments, not a
// durability guarantee — the kernel's own Non-goals already exclude
// persistent mailbox state across restarts; this package exists purely
// so application behaviors have somewhere real to write event-sourced
// state to.
type InMemory struct {
	mu        sync.RWMutex
	events    map[string][]Event
	snapshots map[string]Snapshot
}

// NewInMemory constructs an empty in-memory journal.
func NewInMemory() *InMemory {
	return &InMemory{
		events:    make(map[string][]Event),
		snapshots: make(map[string]Snapshot),
	}
}

func (m *InMemory) WriteEvents(_ context.Context, persistenceID string, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[persistenceID] = append(m.events[persistenceID], events...)
	return nil
}

func (m *InMemory) ReadEvents(_ context.Context, persistenceID string, from, to int64) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all, ok := m.events[persistenceID]
	if !ok {
		return nil, nil
	}
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.SeqNr >= from && (to <= 0 || e.SeqNr <= to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *InMemory) WriteSnapshot(_ context.Context, persistenceID string, state any, seqNr int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[persistenceID] = Snapshot{SeqNr: seqNr, State: state}
	return nil
}

func (m *InMemory) ReadLatestSnapshot(_ context.Context, persistenceID string) (Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[persistenceID]
	return snap, ok, nil
}

// ErrNotFound is returned by implementations that distinguish a never-
// written persistence id from an empty one; InMemory never returns it
// (an absent id simply yields no events and ok=false for the snapshot).
var ErrNotFound = fmt.Errorf("persistence: not found")
