package dispatcher

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const numPriorityLevels = 5

// PriorityConfig configures a PriorityDispatcher.
type PriorityConfig struct {
	Workers         int
	ShutdownTimeout time.Duration

	// Throughput is the per-tick fairness quantum, measured in
	// Schedulable picks; each pick runs one Schedulable's own
	// message-level throughput internally.
	Throughput int
	// HighPriorityRatio is the fraction of each tick's quantum spent
	// draining HighPriorityLevels queues before falling through to the
	// rest (default 0.7).
	HighPriorityRatio float64
	// HighPriorityLevels is how many of the 5 priority levels (0 is
	// highest) count as "higher priority" for the ratio split (default 2:
	// levels 0 and 1).
	HighPriorityLevels int
}

func (c *PriorityConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.Throughput <= 0 {
		c.Throughput = 100
	}
	if c.HighPriorityRatio <= 0 {
		c.HighPriorityRatio = 0.7
	}
	if c.HighPriorityLevels <= 0 {
		c.HighPriorityLevels = 2
	}
}

// PriorityDispatcher is the priority-aware dispatcher variant: each
// worker keeps one ready queue per priority level and,
// every tick, spends ceil(throughput * high_priority_ratio) of its
// quantum on the higher levels before draining the rest.
type PriorityDispatcher struct {
	cfg      PriorityConfig
	workers  []*priorityWorker
	rrCursor atomic.Uint64
	down     atomic.Bool
}

type priorityWorker struct {
	id   int
	mu   sync.Mutex
	cond *sync.Cond
	// SchedulePriority selects the queue; the Schedulable carries no
	// priority of its own once enqueued.
	levels [numPriorityLevels][]Schedulable
	closed bool
	done   chan struct{}
}

// NewPriority builds and starts a PriorityDispatcher.
func NewPriority(cfg PriorityConfig) *PriorityDispatcher {
	cfg.applyDefaults()

	d := &PriorityDispatcher{cfg: cfg}
	d.workers = make([]*priorityWorker, cfg.Workers)
	for i := range d.workers {
		w := &priorityWorker{id: i, done: make(chan struct{})}
		w.cond = sync.NewCond(&w.mu)
		d.workers[i] = w
		go d.runWorker(w)
	}
	return d
}

// SchedulePriority hands s to a worker's queue for the given priority
// level (0..4, clamped).
func (d *PriorityDispatcher) SchedulePriority(s Schedulable, level int) error {
	if d.down.Load() {
		return ErrShuttingDown
	}
	if level < 0 {
		level = 0
	}
	if level >= numPriorityLevels {
		level = numPriorityLevels - 1
	}

	n := d.rrCursor.Add(1)
	w := d.workers[n%uint64(len(d.workers))]

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrShuttingDown
	}
	w.levels[level] = append(w.levels[level], s)
	w.mu.Unlock()
	w.cond.Signal()
	return nil
}

func (d *PriorityDispatcher) runWorker(w *priorityWorker) {
	defer close(w.done)

	ctx := context.Background()
	highBudget := int(math.Ceil(float64(d.cfg.Throughput) * d.cfg.HighPriorityRatio))
	highLevels := d.cfg.HighPriorityLevels

	for {
		batch, ok := w.nextBatch(highBudget, highLevels, d.cfg.Throughput)
		if !ok {
			return
		}
		for _, s := range batch {
			s.RunQuantum(ctx)
		}
	}
}

// nextBatch blocks until work is available (or the worker is closed),
// then drains up to `throughput` Schedulables for this tick: first up to
// `highBudget` from levels [0, highLevels), then the remainder from the
// rest.
func (w *priorityWorker) nextBatch(highBudget, highLevels, throughput int) ([]Schedulable, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.empty() && !w.closed {
		w.cond.Wait()
	}
	if w.empty() {
		return nil, false
	}

	var batch []Schedulable
	remaining := throughput

	take := func(budget int, from, to int) {
		for lvl := from; lvl < to && remaining > 0 && budget > 0; lvl++ {
			q := w.levels[lvl]
			n := len(q)
			if n > budget {
				n = budget
			}
			if n > remaining {
				n = remaining
			}
			if n > 0 {
				batch = append(batch, q[:n]...)
				w.levels[lvl] = q[n:]
				budget -= n
				remaining -= n
			}
		}
	}

	take(highBudget, 0, highLevels)
	take(remaining, highLevels, numPriorityLevels)

	return batch, true
}

func (w *priorityWorker) empty() bool {
	for _, q := range w.levels {
		if len(q) > 0 {
			return false
		}
	}
	return true
}

// Shutdown mirrors Dispatcher.Shutdown for the priority-aware variant.
func (d *PriorityDispatcher) Shutdown(ctx context.Context) error {
	d.down.Store(true)
	for _, w := range d.workers {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.cond.Broadcast()
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
func (d *PriorityDispatcher) WorkerCount() int {
	return len(d.workers)
}
