package cluster_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kestrelactor/kestrel/cluster"
)

var errNoSuchPeer = errors.New("cluster: no such peer")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemberMergePrefersHigherIncarnation(t *testing.T) {
	r := cluster.NewRoster("self", "self:0")
	r.Merge(cluster.Snapshot{Members: []cluster.Member{{ID: "a", Status: cluster.Alive, Incarnation: 1}}})

	changed := r.Merge(cluster.Snapshot{Members: []cluster.Member{{ID: "a", Status: cluster.Suspect, Incarnation: 2}}})
	require.Len(t, changed, 1)
	require.Equal(t, cluster.Suspect, changed[0].Status)
}

func TestMergeTieBreaksTowardWorseStatus(t *testing.T) {
	r := cluster.NewRoster("self", "self:0")
	r.Merge(cluster.Snapshot{Members: []cluster.Member{{ID: "a", Status: cluster.Alive, Incarnation: 1}}})

	changed := r.Merge(cluster.Snapshot{Members: []cluster.Member{{ID: "a", Status: cluster.Dead, Incarnation: 1}}})
	require.Len(t, changed, 1)
	require.Equal(t, cluster.Dead, changed[0].Status, "equal incarnation must prefer Dead > Suspect > Alive")

	// A later Alive at the same incarnation must not un-kill it.
	changed = r.Merge(cluster.Snapshot{Members: []cluster.Member{{ID: "a", Status: cluster.Alive, Incarnation: 1}}})
	require.Empty(t, changed)
}

func TestFailureDetectorTransitionsAliveToSuspectToDead(t *testing.T) {
	r := cluster.NewRoster("self", "self:0")
	r.Join("peer", "peer:0")

	// peer's LastBeat is "now" from Join; force it stale by waiting past
	// a tiny heartbeat interval.
	r.DetectFailures(time.Millisecond, 5*time.Millisecond, 1)
	snap := r.Snapshot()
	require.Equal(t, cluster.Alive, findStatus(t, snap, "peer"))

	time.Sleep(5 * time.Millisecond)
	r.DetectFailures(time.Millisecond, 5*time.Millisecond, 1)
	require.Equal(t, cluster.Suspect, findStatus(t, r.Snapshot(), "peer"))

	time.Sleep(10 * time.Millisecond)
	r.DetectFailures(time.Millisecond, 5*time.Millisecond, 1)
	require.Equal(t, cluster.Dead, findStatus(t, r.Snapshot(), "peer"))
}

func findStatus(t *testing.T, snap cluster.Snapshot, id string) cluster.Status {
	t.Helper()
	for _, m := range snap.Members {
		if m.ID == id {
			return m.Status
		}
	}
	t.Fatalf("member %s not found", id)
	return cluster.Dead
}

// inMemoryMesh wires N Cluster instances' Transporter directly to each
// other's Receive, modeling a network without sockets; convergence of
// the merge logic under gossip needs no real wire.
type inMemoryMesh struct {
	mu       sync.Mutex
	clusters map[string]*cluster.Cluster
}

func newMesh() *inMemoryMesh { return &inMemoryMesh{clusters: map[string]*cluster.Cluster{}} }

func (m *inMemoryMesh) register(addr string, c *cluster.Cluster) {
	m.mu.Lock()
	m.clusters[addr] = c
	m.mu.Unlock()
}

func (m *inMemoryMesh) Exchange(address string, local cluster.Snapshot) (cluster.Snapshot, error) {
	m.mu.Lock()
	peer, ok := m.clusters[address]
	m.mu.Unlock()
	if !ok {
		return cluster.Snapshot{}, errNoSuchPeer
	}
	return peer.Receive(local), nil
}

func TestGossipConvergesMembershipAcrossNodes(t *testing.T) {
	mesh := newMesh()

	cfg := cluster.Config{GossipInterval: 5 * time.Millisecond, GossipFanout: 2, HeartbeatInterval: time.Hour}

	n1 := cluster.New(cfg, "n1", cluster.NewStaticDiscovery(nil), mesh, nil)
	n2 := cluster.New(cfg, "n2", cluster.NewStaticDiscovery(nil), mesh, nil)
	n3 := cluster.New(cfg, "n3", cluster.NewStaticDiscovery(nil), mesh, nil)
	mesh.register("n1", n1)
	mesh.register("n2", n2)
	mesh.register("n3", n3)

	n1.Roster().Join("n2", "n2")
	n1.Roster().Join("n3", "n3")
	n2.Roster().Join("n1", "n1")
	n2.Roster().Join("n3", "n3")
	n3.Roster().Join("n1", "n1")
	n3.Roster().Join("n2", "n2")

	n1.Start()
	n2.Start()
	n3.Start()
	defer n1.Shutdown()
	defer n2.Shutdown()
	defer n3.Shutdown()

	require.Eventually(t, func() bool {
		return n1.Roster().Converged(n2.Roster().Snapshot()) && n2.Roster().Converged(n3.Roster().Snapshot())
	}, time.Second, 5*time.Millisecond)
}
