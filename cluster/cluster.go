package cluster

import (
	"sync"
	"time"

	"github.com/kestrelactor/kestrel/logging"
)

// Config is the cluster-level configuration. The placement fields
// (partition count, replicas, rebalance tuning) are consumed by the
// partition package; Cluster only needs the membership-facing ones.
type Config struct {
	Name string
	Host string
	Port int

	SeedNodes []string
	Discovery DiscoveryKind

	HeartbeatInterval time.Duration
	MissThreshold     int
	SuspectTimeout    time.Duration
	DeadTimeout       time.Duration

	GossipInterval time.Duration
	GossipFanout   int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.MissThreshold <= 0 {
		c.MissThreshold = 3
	}
	if c.SuspectTimeout <= 0 {
		c.SuspectTimeout = 5 * time.Second
	}
	if c.DeadTimeout <= 0 {
		c.DeadTimeout = 30 * time.Second
	}
	if c.GossipInterval <= 0 {
		c.GossipInterval = 800 * time.Millisecond
	}
	if c.GossipFanout <= 0 {
		c.GossipFanout = 3
	}
	return c
}

// Cluster runs the membership lifecycle: discovery intake, the failure
// detector sweep, and periodic gossip rounds, all as background
// goroutines stopped together by Shutdown.
type Cluster struct {
	cfg       Config
	roster    *Roster
	discovery Discovery
	transport Transporter
	log       logging.Logger

	onChange func([]Member)
	viewFn   func() PartitionView

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Cluster for the local node selfID/selfAddress. disc
// and transporter are collaborators: disc surfaces Join events
// (static/multicast/external), transporter carries gossip snapshots
// over whatever wire the deployment uses.
func New(cfg Config, selfID string, disc Discovery, transporter Transporter, log logging.Logger) *Cluster {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.Nop
	}
	return &Cluster{
		cfg:       cfg,
		roster:    NewRoster(selfID, cfg.Host),
		discovery: disc,
		transport: transporter,
		log:       log,
		viewFn:    func() PartitionView { return PartitionView{} },
		stop:      make(chan struct{}),
	}
}

// Roster exposes the membership table, e.g. for the partition package's
// ring builder to read Alive().
func (c *Cluster) Roster() *Roster { return c.roster }

// OnMembershipChange registers a callback invoked with every member
// whose status changed after a merge, the signal the partition
// rebalancer reacts to.
func (c *Cluster) OnMembershipChange(fn func([]Member)) { c.onChange = fn }

// SetPartitionView lets the partition package contribute its current
// owner map to every outgoing gossip snapshot, without cluster
// importing partition.
func (c *Cluster) SetPartitionView(fn func() PartitionView) { c.viewFn = fn }

// Start launches discovery intake, the failure detector sweep, and the
// gossip round loop.
func (c *Cluster) Start() {
	joins := c.discovery.Start()

	c.wg.Add(3)
	go c.runDiscoveryIntake(joins)
	go c.runFailureDetector()
	go c.runGossip()
}

func (c *Cluster) runDiscoveryIntake(joins <-chan Join) {
	defer c.wg.Done()
	for {
		select {
		case j, ok := <-joins:
			if !ok {
				return
			}
			c.roster.Join(j.ID, j.Address)
			c.log.Infow("cluster: member joined", "id", j.ID, "address", j.Address)
			c.notifyChange([]Member{{ID: j.ID, Address: j.Address, Status: Alive}})
		case <-c.stop:
			return
		}
	}
}

func (c *Cluster) runFailureDetector() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.roster.DetectFailures(c.cfg.HeartbeatInterval, c.cfg.SuspectTimeout, c.cfg.MissThreshold)
		case <-c.stop:
			return
		}
	}
}

func (c *Cluster) runGossip() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.gossipRound()
		case <-c.stop:
			return
		}
	}
}

// gossipRound pushes the local snapshot to gossip_fanout random peers
// and merges whatever each returns.
func (c *Cluster) gossipRound() {
	peers := c.roster.RandomPeers(c.cfg.GossipFanout)
	if len(peers) == 0 {
		return
	}
	local := Snapshot{Members: c.roster.Snapshot().Members, Partition: c.viewFn()}
	for _, peer := range peers {
		remote, err := c.transport.Exchange(peer.Address, local)
		if err != nil {
			c.log.Warnw("cluster: gossip exchange failed", "peer", peer.ID, "error", err)
			continue
		}
		if changed := c.roster.Merge(remote); len(changed) > 0 {
			c.notifyChange(changed)
		}
	}
}

// Receive applies an inbound gossip snapshot from a peer-initiated
// exchange (the passive side of Transporter.Exchange) and returns the
// local view in response.
func (c *Cluster) Receive(remote Snapshot) Snapshot {
	if changed := c.roster.Merge(remote); len(changed) > 0 {
		c.notifyChange(changed)
	}
	return Snapshot{Members: c.roster.Snapshot().Members, Partition: c.viewFn()}
}

func (c *Cluster) notifyChange(members []Member) {
	if c.onChange != nil {
		c.onChange(members)
	}
}

// Shutdown stops every background goroutine and discovery.
func (c *Cluster) Shutdown() {
	close(c.stop)
	c.discovery.Stop()
	c.wg.Wait()
}
