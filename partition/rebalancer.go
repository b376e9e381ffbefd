package partition

import (
	"fmt"
	"sync"
	"time"

	"github.com/kestrelactor/kestrel/logging"
)

// Migration protocol messages. The original protocol is a
// three-step, coordinator-driven handoff: prepare at the source, copy
// at the destination, then a cluster-wide ownership switch.
type (
	// PrepareMigration tells the current owner to suspend new
	// placements in the partition (step 1).
	PrepareMigration struct {
		Partition int
		To        string
	}
	// CopyPartitionData tells the new owner to pull any persistent
	// state for the partition from the old one (step 2). What "state"
	// means is the persistence collaborator's business; the kernel only
	// sequences the pull before the switch.
	CopyPartitionData struct {
		Partition int
		From      string
	}
	// SwitchOwnership is broadcast to every node (step 3); the old
	// owner re-homes the partition's actors on receipt (step 4).
	SwitchOwnership struct {
		Partition int
		From      string
		To        string
	}
)

// Courier carries migration protocol messages between cluster members.
// The deployment backs it with whatever wire it has (the remote
// transport, the gossip channel, an in-memory mesh in tests).
type Courier interface {
	SendToMember(memberID string, msg any) error
	Broadcast(msg any) error
}

// Rebalancer is the coordinator goroutine that steers the live
// assignment toward the desired ring: it wakes on a timer or a
// membership change, checks the imbalance score against the threshold,
// and executes the migration protocol one partition at a time. The
// coordinator shape (rather than peer-to-peer handoff) follows the
// original protocol's design.
type Rebalancer struct {
	cfg     Config
	mgr     *Manager
	courier Courier
	log     logging.Logger

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRebalancer wires a Rebalancer to its manager and courier. Call
// Start to launch the coordinator loop and Shutdown to stop it.
func NewRebalancer(cfg Config, mgr *Manager, courier Courier, log logging.Logger) *Rebalancer {
	if log == nil {
		log = logging.Nop
	}
	return &Rebalancer{
		cfg:     cfg.withDefaults(),
		mgr:     mgr,
		courier: courier,
		log:     log,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start launches the coordinator loop.
func (r *Rebalancer) Start() {
	r.wg.Add(1)
	go r.run()
}

// MembershipChanged nudges the coordinator to re-plan immediately, the
// hook cluster.OnMembershipChange is wired to. Safe to call from any
// goroutine; coalesces repeated nudges.
func (r *Rebalancer) MembershipChanged() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Rebalancer) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.RebalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if r.mgr.BalanceScore() > r.cfg.RebalanceThreshold {
				r.rebalanceOnce()
			}
		case <-r.kick:
			r.rebalanceOnce()
		case <-r.stop:
			return
		}
	}
}

// rebalanceOnce plans from the current epoch and executes the plan,
// aborting if membership moves underneath it. An aborted run is not an
// error condition: the next trigger recomputes from fresh membership.
func (r *Rebalancer) rebalanceOnce() {
	if err := r.Rebalance(); err != nil {
		r.log.Warnw("partition: rebalance did not complete", "error", err)
	}
}

// Rebalance runs one full planning + migration pass synchronously.
// Exported for deployments (and tests) that drive rebalancing
// explicitly instead of through the coordinator loop.
func (r *Rebalancer) Rebalance() error {
	moves, epoch := r.mgr.plan()
	for _, move := range moves {
		if r.mgr.Epoch() != epoch {
			return fmt.Errorf("%w: during partition %d", ErrRebalanceAborted, move.Partition)
		}
		if err := r.migrate(move); err != nil {
			return err
		}
	}
	return nil
}

// migrate executes the three-step protocol for one partition move. A
// source that is no longer alive cannot prepare or serve a copy; the
// switch is still broadcast so ownership converges on the survivor.
func (r *Rebalancer) migrate(move SwitchOwnership) error {
	fromAlive := move.From != "" && r.mgr.memberAlive(move.From)

	if fromAlive {
		if err := r.courier.SendToMember(move.From, PrepareMigration{Partition: move.Partition, To: move.To}); err != nil {
			return fmt.Errorf("partition: prepare for %d failed: %w", move.Partition, err)
		}
		if err := r.courier.SendToMember(move.To, CopyPartitionData{Partition: move.Partition, From: move.From}); err != nil {
			return fmt.Errorf("partition: copy for %d failed: %w", move.Partition, err)
		}
	}

	if err := r.courier.Broadcast(move); err != nil {
		return fmt.Errorf("partition: ownership switch for %d failed: %w", move.Partition, err)
	}
	r.log.Infow("partition: migrated", "partition", move.Partition, "from", move.From, "to", move.To)
	return nil
}

// Shutdown stops the coordinator loop.
func (r *Rebalancer) Shutdown() {
	close(r.stop)
	r.wg.Wait()
}
