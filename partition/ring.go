package partition

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	rendezvous "github.com/dgryski/go-rendezvous"

	"github.com/kestrelactor/kestrel/cluster"
)

// Placement is one partition's computed home: the primary owner plus
// its replica set, ordered by rendezvous rank from the primary outward.
type Placement struct {
	Index    int
	Owner    string
	Replicas []string
}

// Ring is an immutable placement table computed from one consistent
// membership snapshot. It is rebuilt wholesale on membership change and
// swapped in by the Manager under a reader-writer discipline, so every
// reader sees a consistent view per lookup; nothing ever mutates a Ring
// after Build returns.
type Ring struct {
	partitionCount int
	addresses      map[string]string // member id -> address
	placements     []Placement
}

// partitionKey is the stable string a partition index hashes under,
// matching the "partition-N" naming the placement protocol messages use.
func partitionKey(index int) string {
	return fmt.Sprintf("partition-%d", index)
}

// Build computes the full placement table for the given alive members.
// Identical member sets yield identical tables on every node regardless
// of input order: members are sorted by id before ranking, and
// rendezvous scoring is deterministic in the member ids alone.
func Build(cfg Config, members []cluster.Member) *Ring {
	cfg = cfg.withDefaults()

	ids := make([]string, 0, len(members))
	addresses := make(map[string]string, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
		addresses[m.ID] = m.Address
	}
	sort.Strings(ids)

	r := &Ring{
		partitionCount: cfg.PartitionCount,
		addresses:      addresses,
		placements:     make([]Placement, cfg.PartitionCount),
	}

	maxReplicas := cfg.MaxReplicas - 1 // |replicas| ∈ [min_replicas-1, max_replicas-1]
	if maxReplicas > len(ids)-1 {
		maxReplicas = len(ids) - 1
	}

	for i := 0; i < cfg.PartitionCount; i++ {
		r.placements[i] = rank(ids, partitionKey(i), maxReplicas)
		r.placements[i].Index = i
	}
	return r
}

// rank orders members for one partition by repeated rendezvous lookup:
// the winner is the owner, each subsequent winner (with the prior ones
// removed) the next replica.
func rank(ids []string, key string, replicaCount int) Placement {
	if len(ids) == 0 {
		return Placement{}
	}

	owner := rendezvous.New(ids, xxhash.Sum64String).Lookup(key)

	replicas := make([]string, 0, replicaCount)
	remaining := append([]string(nil), ids...)
	prev := owner
	for len(replicas) < replicaCount {
		for i, id := range remaining {
			if id == prev {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
		next := rendezvous.New(remaining, xxhash.Sum64String).Lookup(key)
		if next == "" {
			break
		}
		replicas = append(replicas, next)
		prev = next
	}
	return Placement{Owner: owner, Replicas: replicas}
}

// PartitionFor maps a logical key to its partition index.
func (r *Ring) PartitionFor(key string) int {
	if r.partitionCount == 0 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(r.partitionCount))
}

// PlacementOf returns the computed placement for a partition index.
func (r *Ring) PlacementOf(index int) (Placement, error) {
	if index < 0 || index >= len(r.placements) {
		return Placement{}, fmt.Errorf("%w: index %d", ErrPartitionNotFound, index)
	}
	return r.placements[index], nil
}

// Address resolves a member id to its network address.
func (r *Ring) Address(memberID string) (string, error) {
	addr, ok := r.addresses[memberID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	}
	return addr, nil
}

// Owners returns the owner per partition index, the desired assignment
// the rebalancer steers the live assignment toward.
func (r *Ring) Owners() []string {
	out := make([]string, len(r.placements))
	for i, p := range r.placements {
		out[i] = p.Owner
	}
	return out
}

// PartitionCount reports how many buckets the key space is split into.
func (r *Ring) PartitionCount() int { return r.partitionCount }
