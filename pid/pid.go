// Package pid implements actor identity: the (address, id) pair used to
// name and resolve actors, a per-node sequence generator, and the
// concurrent registry mapping an id to its live process handle.
package pid

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Local is the sentinel address naming the current node.
const Local = "local"

// ID is the (address, id) pair that names an actor. Equality is
// structural; IDs are values and are freely copied. Holding an ID never
// extends the lifetime of the actor it names — resolving a handle for it
// goes through a Registry and may legitimately fail once the actor is gone.
type ID struct {
	Address string
	Local   string
}

// New builds an ID for the given address and local identifier.
func New(address, local string) ID {
	return ID{Address: address, Local: local}
}

// String renders the printable "id@address" form.
func (p ID) String() string {
	return fmt.Sprintf("%s@%s", p.Local, p.Address)
}

// IsZero reports whether p is the zero value, used as the "no sender"/"no
// target" marker in envelopes.
func (p ID) IsZero() bool {
	return p.Address == "" && p.Local == ""
}

// Generator yields process-unique local identifiers for a single node,
// in the form "local$N". It is safe for concurrent use.
type Generator struct {
	address string
	seq     atomic.Uint64
}

// NewGenerator returns a Generator that mints identifiers addressed to
// address (typically Local, or host:port once the node is network-joined).
func NewGenerator(address string) *Generator {
	if address == "" {
		address = Local
	}
	return &Generator{address: address}
}

// Reserve mints the next ID for this node.
func (g *Generator) Reserve() ID {
	n := g.seq.Add(1)
	return ID{Address: g.address, Local: fmt.Sprintf("local$%d", n)}
}

// ReserveNamed mints an ID using a caller-supplied prefix combined with a
// uuid tail, used where a human-readable prefix (e.g. a router's logical
// name) is wanted alongside collision-proof uniqueness.
func (g *Generator) ReserveNamed(prefix string) ID {
	return ID{Address: g.address, Local: fmt.Sprintf("%s-%s", prefix, uuid.NewString())}
}

// Handle is the opaque, cheaply-cloned reference to a live actor's
// mailbox producer endpoints. It is the only thing a Registry entry holds;
// everything above pid depends on this interface rather than on a
// concrete mailbox or cell type, breaking the import cycle between pid,
// mailbox and actor.
type Handle interface {
	// Enqueue delivers a user message envelope; err follows the mailbox
	// send-failure taxonomy (DeadLetter handled by the caller, not here).
	Enqueue(env any) error
	// EnqueueSystem delivers a system message, bypassing backpressure.
	EnqueueSystem(msg any) error
}

// DuplicatePid is returned by Attach when the slot is already occupied.
type DuplicatePid struct{ ID ID }

func (e *DuplicatePid) Error() string {
	return fmt.Sprintf("pid: duplicate id %s", e.ID)
}

// Registry is the concurrent id -> Handle map for a single node; any
// two successful spawns on one node produce distinct ids.
type Registry struct {
	mu      sync.RWMutex
	entries map[ID]Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[ID]Handle)}
}

// Attach binds id to handle, failing with *DuplicatePid if already bound.
func (r *Registry) Attach(id ID, handle Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return &DuplicatePid{ID: id}
	}
	r.entries[id] = handle
	return nil
}

// Lookup resolves id to its live handle, if any.
func (r *Registry) Lookup(id ID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.entries[id]
	return h, ok
}

// Detach removes id from the registry. It is idempotent: detaching an
// id that is absent is a no-op, never an error.
func (r *Registry) Detach(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, id)
}

// Len reports the number of live entries, mostly useful for tests and
// cluster inspection tooling.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Snapshot returns a copy of every registered id, in no particular order.
func (r *Registry) Snapshot() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
