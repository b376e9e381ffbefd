// Package dispatcher implements the worker-pool concurrency layer: a
// fixed number of goroutines service ready mailboxes, claimed one at a
// time (the cell enforces exclusivity via its mailbox's single-owner
// flag; the dispatcher only ever hands a Schedulable to one worker at a
// time).
package dispatcher

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Schedulable is anything the dispatcher can run a fairness quantum of
// work for. Actor cells are the only implementer in this module, but the
// interface is what breaks the actor <-> dispatcher import cycle.
type Schedulable interface {
	// RunQuantum processes up to the Schedulable's own throughput limit
	// of messages. It must not block beyond the Schedulable's own
	// suspension points: the dispatcher does not interrupt it.
	RunQuantum(ctx context.Context)
}

// Strategy selects which worker a newly-scheduled Schedulable lands on.
type Strategy int

const (
	RoundRobin Strategy = iota
	LeastBusy
	Random
)

// ErrShuttingDown is returned by Schedule once Shutdown has begun.
var ErrShuttingDown = errors.New("dispatcher: shutting down")

// Config configures a Dispatcher.
type Config struct {
	Workers         int // default: runtime.NumCPU()
	Strategy        Strategy
	ShutdownTimeout time.Duration // default 5s
}

// Dispatcher is a fixed-size worker pool running ready Schedulables.
type Dispatcher struct {
	cfg      Config
	workers  []*worker
	rrCursor atomic.Uint64
	rndMu    sync.Mutex
	rnd      *rand.Rand
	down     atomic.Bool
}

type worker struct {
	id       int
	queue    *unboundedQueue
	inFlight atomic.Int32
	done     chan struct{}
}

// New builds and starts a Dispatcher with cfg.Workers goroutines.
func New(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		cfg: cfg,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	d.workers = make([]*worker, cfg.Workers)
	for i := range d.workers {
		w := &worker{id: i, queue: newUnboundedQueue(), done: make(chan struct{})}
		d.workers[i] = w
		go d.runWorker(w)
	}
	return d
}

func (d *Dispatcher) runWorker(w *worker) {
	defer close(w.done)

	ctx := context.Background()
	for {
		s, ok := w.queue.pop()
		if !ok {
			return
		}
		w.inFlight.Add(1)
		s.RunQuantum(ctx)
		w.inFlight.Add(-1)
	}
}

// Schedule hands s to exactly one worker, chosen per Strategy.
func (d *Dispatcher) Schedule(s Schedulable) error {
	if d.down.Load() {
		return ErrShuttingDown
	}
	d.workers[d.pick()].queue.push(s)
	return nil
}

func (d *Dispatcher) pick() int {
	switch d.cfg.Strategy {
	case LeastBusy:
		best := 0
		bestLoad := int32(1<<31 - 1)
		for i, w := range d.workers {
			if l := w.inFlight.Load(); l < bestLoad {
				bestLoad = l
				best = i
			}
		}
		return best
	case Random:
		d.rndMu.Lock()
		i := d.rnd.Intn(len(d.workers))
		d.rndMu.Unlock()
		return i
	default: // RoundRobin
		n := d.rrCursor.Add(1)
		return int(n % uint64(len(d.workers)))
	}
}

// Shutdown stops accepting new Schedule calls, closes every worker's
// queue so in-flight work finishes naturally, and waits up to
// ShutdownTimeout. Workers that haven't drained by then are abandoned:
// Shutdown returns without waiting further, but those workers are not
// interrupted and keep running what is left in their queues. The caller
// is expected to have already told cells to stop (the System facade does
// this before calling Shutdown).
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.down.Store(true)
	for _, w := range d.workers {
		w.queue.close()
	}

	deadline := time.Now().Add(d.cfg.ShutdownTimeout)
	for _, w := range d.workers {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return context.DeadlineExceeded
		}
		select {
		case <-w.done:
		case <-time.After(remaining):
			return context.DeadlineExceeded
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// WorkerCount reports the configured pool size.
func (d *Dispatcher) WorkerCount() int {
	return len(d.workers)
}
