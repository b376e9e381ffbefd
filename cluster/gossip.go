package cluster

import "errors"

// Classification sentinels for Transporter failures. Implementations
// wrap their own errors with one of these so callers can distinguish an
// unreachable peer from a slow one with errors.Is.
var (
	ErrNetwork = errors.New("cluster: network error")
	ErrTimeout = errors.New("cluster: timeout")
)

// Snapshot is the payload exchanged on every gossip round: the member
// roster plus the partition-ownership summary. Partition placement
// rides along separately via PartitionView so this package stays free
// of an import on the partition package; Cluster wires the two
// together.
type Snapshot struct {
	Members   []Member
	Partition PartitionView
}

// PartitionView is the minimal partition-ownership summary a gossip
// round carries; partition.Manager.View() produces it and
// partition.Manager.Adopt(view) consumes it, keeping cluster and partition
// from importing each other.
type PartitionView struct {
	Owners map[int]string // partition index -> owning member id
}

// Transporter is the gossip wire contract, specialized to
// whole-snapshot exchange rather than per-envelope delivery; gossip
// does not go through the actor mailbox/dispatcher path at all. A push
// of the local snapshot and a pull of the peer's happen in a single
// round trip rather than two one-way sends.
type Transporter interface {
	// Exchange sends local to the peer at address and returns the
	// peer's own snapshot in response.
	Exchange(address string, local Snapshot) (Snapshot, error)
}
