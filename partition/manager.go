package partition

import (
	"fmt"
	"math"
	"sync"

	"github.com/kestrelactor/kestrel/cluster"
	"github.com/kestrelactor/kestrel/logging"
	"github.com/kestrelactor/kestrel/pid"
)

// SpawnFunc places one logical actor on the local node. The deployment
// supplies it (typically a closure over the system facade and a
// logical-name -> Props mapping); the manager only decides WHERE an
// actor lives, never WHAT it is.
type SpawnFunc func(logicalName string) (pid.ID, error)

// StopFunc stops a locally-homed actor during partition re-homing.
type StopFunc func(id pid.ID) error

// Manager owns the node's placement state: the desired ring computed
// from membership, the live owner assignment the cluster has agreed on
// via SwitchOwnership broadcasts, and the logical-name -> identifier
// table for actors homed here. All reads go through an RWMutex; the
// ring itself is immutable and replaced wholesale on membership change.
type Manager struct {
	cfg    Config
	selfID string
	spawn  SpawnFunc
	stop   StopFunc
	log    logging.Logger

	mu          sync.RWMutex
	ring        *Ring
	assignments []string     // current agreed owner per partition
	suspended   map[int]bool // partitions with placements parked mid-migration
	actors      map[int]map[string]pid.ID
	epoch       uint64 // bumped on every membership rebuild; rebalance abort check
}

// NewManager constructs a Manager for the local member selfID. spawn
// and stop are the local placement collaborators; either may be nil for
// a node that only routes (it will refuse local placements).
func NewManager(cfg Config, selfID string, spawn SpawnFunc, stop StopFunc, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		selfID:    selfID,
		spawn:     spawn,
		stop:      stop,
		log:       log,
		ring:      Build(cfg, nil),
		suspended: make(map[int]bool),
		actors:    make(map[int]map[string]pid.ID),
	}
}

// SetMembers rebuilds the desired ring from a consistent membership
// snapshot (alive members only) and swaps it in atomically. The first
// call also seeds the live assignment from the ring; later calls leave
// the live assignment alone — moving it toward the new ring is the
// rebalancer's job, one migration at a time.
func (m *Manager) SetMembers(members []cluster.Member) {
	alive := make([]cluster.Member, 0, len(members))
	for _, mem := range members {
		if mem.Status == cluster.Alive {
			alive = append(alive, mem)
		}
	}
	ring := Build(m.cfg, alive)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring = ring
	m.epoch++
	if m.assignments == nil {
		m.assignments = ring.Owners()
	}
}

// Epoch reports the current membership epoch. The rebalancer snapshots
// it before planning and aborts if it moves mid-flight; a rebalance
// must never apply a plan computed against stale membership.
func (m *Manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// Lookup maps a logical key to its partition and current owner, without
// placing anything.
func (m *Manager) Lookup(key string) (partitionIndex int, owner string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.ring.PartitionFor(key)
	owner, err = m.ownerLocked(idx)
	return idx, owner, err
}

func (m *Manager) ownerLocked(idx int) (string, error) {
	if idx < 0 || idx >= len(m.assignments) {
		return "", fmt.Errorf("%w: index %d", ErrPartitionNotFound, idx)
	}
	if owner := m.assignments[idx]; owner != "" {
		return owner, nil
	}
	return "", fmt.Errorf("%w: partition %d has no owner", ErrMemberNotFound, idx)
}

// ActorOf resolves (placing if necessary) the actor for logicalName:
// hash the name to a partition, find the owner;
// if the owner is local, spawn (once) and record in the partition's
// actor table, otherwise return a remote identifier addressing the
// owner.
func (m *Manager) ActorOf(logicalName string) (pid.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.ring.PartitionFor(logicalName)
	if m.suspended[idx] {
		return pid.ID{}, fmt.Errorf("%w: partition %d", ErrPlacementSuspended, idx)
	}
	owner, err := m.ownerLocked(idx)
	if err != nil {
		return pid.ID{}, err
	}

	if owner != m.selfID {
		addr, err := m.ring.Address(owner)
		if err != nil {
			return pid.ID{}, err
		}
		return pid.New(addr, logicalName), nil
	}

	if existing, ok := m.actors[idx][logicalName]; ok {
		return existing, nil
	}
	if m.spawn == nil {
		return pid.ID{}, fmt.Errorf("%w: node %s cannot place actors", ErrMemberNotFound, m.selfID)
	}
	id, err := m.spawn(logicalName)
	if err != nil {
		return pid.ID{}, err
	}
	if m.actors[idx] == nil {
		m.actors[idx] = make(map[string]pid.ID)
	}
	m.actors[idx][logicalName] = id
	return id, nil
}

// View summarizes the live assignment for gossip (cluster.Snapshot
// carries it so late joiners learn assignments that have drifted from
// the deterministic ring via past migrations).
func (m *Manager) View() cluster.PartitionView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owners := make(map[int]string, len(m.assignments))
	for i, owner := range m.assignments {
		if owner != "" {
			owners[i] = owner
		}
	}
	return cluster.PartitionView{Owners: owners}
}

// Adopt merges a gossiped partition view: only partitions this node has
// no assignment for are taken, so an authoritative SwitchOwnership can
// never be undone by a stale gossip payload.
func (m *Manager) Adopt(view cluster.PartitionView) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.assignments == nil {
		m.assignments = make([]string, m.cfg.PartitionCount)
	}
	for idx, owner := range view.Owners {
		if idx < 0 || idx >= len(m.assignments) {
			continue
		}
		if m.assignments[idx] == "" {
			m.assignments[idx] = owner
		}
	}
}

// BalanceScore is the normalized standard deviation of
// partitions-per-member over the ring's current member set, the
// imbalance signal the rebalancer compares against its threshold. Zero
// when perfectly balanced or when fewer than two members exist.
func (m *Manager) BalanceScore() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for id := range m.ring.addresses {
		counts[id] = 0
	}
	for _, owner := range m.assignments {
		if owner == "" {
			continue
		}
		counts[owner]++
	}
	if len(counts) < 2 {
		return 0
	}

	mean := float64(len(m.assignments)) / float64(len(counts))
	if mean == 0 {
		return 0
	}
	var sumSq float64
	for _, c := range counts {
		d := float64(c) - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq/float64(len(counts))) / mean
}

// plan computes the migration moves that take the live assignment to
// the desired ring, along with the epoch the plan is valid for.
func (m *Manager) plan() (moves []SwitchOwnership, epoch uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	desired := m.ring.Owners()
	for idx, want := range desired {
		if want == "" || idx >= len(m.assignments) {
			continue
		}
		if have := m.assignments[idx]; have != want {
			moves = append(moves, SwitchOwnership{Partition: idx, From: have, To: want})
		}
	}
	return moves, m.epoch
}

// memberAlive reports whether id is in the current ring (built from
// alive members only).
func (m *Manager) memberAlive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ring.addresses[id]
	return ok
}

// --- migration protocol handlers ---

// HandlePrepare parks new placements in the partition (step 1: the
// source node suspends placements until ownership switches).
func (m *Manager) HandlePrepare(msg PrepareMigration) {
	m.mu.Lock()
	m.suspended[msg.Partition] = true
	m.mu.Unlock()
}

// HandleSwitch applies a broadcast ownership switch (step 3): every
// node updates its local view; the outgoing owner additionally re-homes
// the partition's actors — each is stopped locally so subsequent
// lookups resolve to the new owner (step 4).
func (m *Manager) HandleSwitch(msg SwitchOwnership) {
	m.mu.Lock()
	if msg.Partition >= 0 && msg.Partition < len(m.assignments) {
		m.assignments[msg.Partition] = msg.To
	}
	delete(m.suspended, msg.Partition)

	var rehomed map[string]pid.ID
	if msg.To != m.selfID {
		rehomed = m.actors[msg.Partition]
		delete(m.actors, msg.Partition)
	}
	m.mu.Unlock()

	for name, id := range rehomed {
		if m.stop != nil {
			if err := m.stop(id); err != nil {
				m.log.Warnw("partition: re-home stop failed", "partition", msg.Partition, "actor", name, "error", err)
			}
		}
	}
	if len(rehomed) > 0 {
		m.log.Infow("partition: re-homed actors", "partition", msg.Partition, "count", len(rehomed), "to", msg.To)
	}
}

// LocalActors returns a snapshot of the logical actors homed here for a
// partition, the data set CopyPartitionData pulls state for.
func (m *Manager) LocalActors(partitionIndex int) map[string]pid.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]pid.ID, len(m.actors[partitionIndex]))
	for name, id := range m.actors[partitionIndex] {
		out[name] = id
	}
	return out
}
