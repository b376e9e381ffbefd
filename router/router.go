// Package router implements the Router component: a
// distinguished actor behavior that multiplexes one logical address
// across N routees per a selectable strategy. Consistent-hash routing
// ranks candidates with github.com/dgryski/go-rendezvous (rendezvous /
// HRW hashing), keyed by github.com/cespare/xxhash/v2 — the same
// hashing pair partition.Ring uses for cluster placement, so a single
// mental model covers both per-node routing and cross-node placement.
package router

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	rendezvous "github.com/dgryski/go-rendezvous"

	"github.com/kestrelactor/kestrel/actor"
	"github.com/kestrelactor/kestrel/pid"
)

// Strategy selects how a router picks target(s) for non-administrative
// traffic.
type Strategy int

const (
	Broadcast Strategy = iota
	Random
	RoundRobin
	ConsistentHash
	SmallestMailbox
)

// ErrNoRoutee is returned (as a Receive error, never panicking the
// router) when the routee set is empty, whatever the strategy.
var ErrNoRoutee = errors.New("router: no routee")

// Administrative messages a router's distinguished receive recognizes
// before falling through to strategy-based routing.
type AddRoutee struct{ ID pid.ID }
type RemoveRoutee struct{ ID pid.ID }
type GetRoutees struct{}

// RoutedEnvelope is what callers send through a router when the
// ConsistentHash strategy needs a key other than the payload's wire
// identity.
type RoutedEnvelope struct {
	HashKey string
	Payload any
}

// Config configures a new router behavior.
type Config struct {
	Strategy Strategy
	Routees  []pid.ID
}

// New returns an actor.Producer building a router behavior. It is
// spawned like any other actor — routers are actors with a
// distinguished receive, not a separate kernel concept.
func New(cfg Config) actor.Producer {
	return func() actor.Behavior {
		r := &router{strategy: cfg.Strategy}
		for _, id := range cfg.Routees {
			r.addRoutee(id)
		}
		return r
	}
}

type router struct {
	mu       sync.Mutex
	strategy Strategy
	routees  []pid.ID
	rrCursor uint64
	ring     *rendezvous.Rendezvous
}

func (r *router) Receive(ctx *actor.Context, payload any) error {
	switch msg := payload.(type) {
	case AddRoutee:
		r.addRoutee(msg.ID)
		return nil
	case RemoveRoutee:
		r.removeRoutee(msg.ID)
		return nil
	case GetRoutees:
		return ctx.Reply(r.snapshot())
	default:
		return r.route(ctx, payload)
	}
}

func (r *router) addRoutee(id pid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.routees {
		if existing == id {
			return // AddRoutee is idempotent per identity.
		}
	}
	r.routees = append(r.routees, id)
	r.rebuildRingLocked()
}

func (r *router) removeRoutee(id pid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.routees {
		if existing == id {
			r.routees = append(r.routees[:i], r.routees[i+1:]...)
			break
		}
	}
	r.rebuildRingLocked()
}

func (r *router) rebuildRingLocked() {
	if len(r.routees) == 0 {
		r.ring = nil
		return
	}
	nodes := make([]string, len(r.routees))
	for i, id := range r.routees {
		nodes[i] = id.String()
	}
	r.ring = rendezvous.New(nodes, xxhash.Sum64String)
}

func (r *router) snapshot() []pid.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pid.ID, len(r.routees))
	copy(out, r.routees)
	return out
}

func (r *router) route(ctx *actor.Context, payload any) error {
	r.mu.Lock()
	routees := make([]pid.ID, len(r.routees))
	copy(routees, r.routees)
	strategy := r.strategy
	ring := r.ring
	r.mu.Unlock()

	if len(routees) == 0 {
		return ErrNoRoutee // every strategy yields NoRoutee on an empty set
	}

	switch strategy {
	case Broadcast:
		var firstErr error
		for _, id := range routees {
			if err := ctx.Send(id, payload); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr

	case Random:
		target := routees[rand.Intn(len(routees))]
		return ctx.Send(target, payload)

	case RoundRobin:
		n := atomic.AddUint64(&r.rrCursor, 1)
		target := routees[n%uint64(len(routees))]
		return ctx.Send(target, payload)

	case ConsistentHash:
		key, unwrapped := hashKeyOf(payload)
		if key == "" || ring == nil {
			return ErrNoRoutee // unstable/absent key: fall back to NoRoutee.
		}
		winner := ring.Lookup(key)
		for _, id := range routees {
			if id.String() == winner {
				return ctx.Send(id, unwrapped)
			}
		}
		return ErrNoRoutee

	case SmallestMailbox:
		best := routees[0]
		bestLen, _ := ctx.MailboxLen(best)
		for _, id := range routees[1:] {
			if n, ok := ctx.MailboxLen(id); ok && n < bestLen {
				best, bestLen = id, n
			}
		}
		return ctx.Send(best, payload)

	default:
		return ErrNoRoutee
	}
}

func hashKeyOf(payload any) (string, any) {
	if re, ok := payload.(RoutedEnvelope); ok {
		return re.HashKey, re.Payload
	}
	return "", payload
}
