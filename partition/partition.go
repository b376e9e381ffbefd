// Package partition implements consistent-hash placement and rebalance:
// the key space is split into a fixed number of partitions,
// each deterministically assigned a primary owner and replica set over
// the alive cluster members, with a coordinator-driven migration
// protocol for moving partitions between nodes. Placement ranking uses
// rendezvous (HRW) hashing via github.com/dgryski/go-rendezvous keyed by
// github.com/cespare/xxhash/v2 — the same pair the router package uses
// for consistent-hash routing, so one mental model covers per-node
// routing and cross-node placement.
package partition

import (
	"errors"
	"time"
)

// Errors from the cluster-failure taxonomy surfaced by this
// package.
var (
	ErrMemberNotFound    = errors.New("partition: member not found")
	ErrPartitionNotFound = errors.New("partition: partition not found")
	// ErrPlacementSuspended is returned by ActorOf while the target
	// partition is mid-migration (a PrepareMigration has suspended new
	// placements and the SwitchOwnership has not yet landed).
	ErrPlacementSuspended = errors.New("partition: placement suspended for migration")
	// ErrRebalanceAborted is returned when a rebalance overlaps a
	// membership change; the next trigger recomputes from current
	// membership.
	ErrRebalanceAborted = errors.New("partition: rebalance aborted by membership change")
)

// Config is the placement-facing slice of the cluster configuration;
// the membership-facing fields live in cluster.Config.
type Config struct {
	PartitionCount int
	MinReplicas    int
	MaxReplicas    int

	RebalanceInterval  time.Duration
	RebalanceThreshold float64
}

func (c Config) withDefaults() Config {
	if c.PartitionCount <= 0 {
		c.PartitionCount = 100
	}
	if c.MinReplicas <= 0 {
		c.MinReplicas = 1
	}
	if c.MaxReplicas < c.MinReplicas {
		c.MaxReplicas = c.MinReplicas + 1
	}
	if c.RebalanceInterval <= 0 {
		c.RebalanceInterval = 10 * time.Second
	}
	if c.RebalanceThreshold <= 0 {
		c.RebalanceThreshold = 0.1
	}
	return c
}
