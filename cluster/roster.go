package cluster

import (
	"math/rand"
	"sync"
	"time"
)

// Roster is the concurrent per-node membership table; updates are
// fine-grained per member. It owns the failure detector transitions;
// gossip merge logic lives in Member.merge and is applied here under
// the roster's lock.
type Roster struct {
	mu      sync.RWMutex
	members map[string]Member
	self    string
}

// NewRoster returns a Roster seeded with selfID as the local,
// always-Alive member at incarnation 0.
func NewRoster(selfID, selfAddress string) *Roster {
	r := &Roster{members: make(map[string]Member), self: selfID}
	r.members[selfID] = Member{ID: selfID, Address: selfAddress, Status: Alive, LastBeat: time.Now()}
	return r
}

// Join inserts a newly-discovered member at Alive, incarnation 0. An
// existing entry for id is left untouched; Join is not allowed to
// regress a member's incarnation.
func (r *Roster) Join(id, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[id]; exists {
		return
	}
	r.members[id] = Member{ID: id, Address: address, Status: Alive, Incarnation: 0, LastBeat: time.Now()}
}

// Heartbeat records a fresh heartbeat from id, reviving it to Alive if
// it had been Suspect.
func (r *Roster) Heartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return
	}
	m.LastBeat = time.Now()
	if m.Status != Alive {
		m.Incarnation++
		m.Status = Alive
	}
	r.members[id] = m
}

// DetectFailures runs one failure-detector sweep: members
// silent longer than heartbeatInterval*missThreshold go Suspect; a
// Suspect silent longer than suspectTimeout goes Dead.
func (r *Roster) DetectFailures(heartbeatInterval, suspectTimeout time.Duration, missThreshold int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	suspectAfter := heartbeatInterval * time.Duration(missThreshold)
	for id, m := range r.members {
		if id == r.self {
			continue
		}
		silentFor := now.Sub(m.LastBeat)
		switch m.Status {
		case Alive:
			if silentFor > suspectAfter {
				m.Status = Suspect
				r.members[id] = m
			}
		case Suspect:
			if silentFor > suspectTimeout {
				m.Status = Dead
				r.members[id] = m
			}
		}
	}
}

// Merge applies a gossiped snapshot element-wise and
// reports which members actually changed, for callers that need to
// react to transitions (e.g. the partition rebalancer).
func (r *Roster) Merge(snap Snapshot) (changed []Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, incoming := range snap.Members {
		current, ok := r.members[incoming.ID]
		if !ok {
			r.members[incoming.ID] = incoming
			changed = append(changed, incoming)
			continue
		}
		merged, didChange := current.merge(incoming)
		if didChange {
			r.members[incoming.ID] = merged
			changed = append(changed, merged)
		}
	}
	return changed
}

// Snapshot returns a value-copy view of the full roster, suitable for
// gossiping or for handing to the partition ring builder.
func (r *Roster) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.clone())
	}
	return Snapshot{Members: out}
}

// Alive returns every member currently marked Alive, the set the
// partition ring is built from.
func (r *Roster) Alive() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		if m.Status == Alive {
			out = append(out, m.clone())
		}
	}
	return out
}

// RandomPeers returns up to n members other than self, chosen without
// replacement, for a gossip round's fanout.
func (r *Roster) RandomPeers(n int) []Member {
	r.mu.RLock()
	candidates := make([]Member, 0, len(r.members))
	for id, m := range r.members {
		if id != r.self {
			candidates = append(candidates, m)
		}
	}
	r.mu.RUnlock()

	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

// Converged reports whether every member's status (ignoring
// incarnation) matches other's, the gossip-convergence check.
func (r *Roster) Converged(other Snapshot) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(other.Members) != len(r.members) {
		return false
	}
	for _, m := range other.Members {
		local, ok := r.members[m.ID]
		if !ok || local.Status != m.Status {
			return false
		}
	}
	return true
}
