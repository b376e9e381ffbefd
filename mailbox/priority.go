package mailbox

import (
	"container/heap"
	"sync"
	"sync/atomic"
)

// envelopeHeap orders user envelopes by (priority, arrival_seq): lower
// Priority value sorts first (0 is highest), ties broken by arrival order.
type envelopeHeap []Envelope

func (h envelopeHeap) Len() int { return len(h) }
func (h envelopeHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h envelopeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *envelopeHeap) Push(x any)   { *h = append(*h, x.(Envelope)) }
func (h *envelopeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// PriorityConfig configures a priority mailbox. Capacity bounds the
// user heap exactly as BoundedConfig.Capacity bounds the FIFO variant;
// use NewUnbounded for a mailbox with no cap.
type PriorityConfig struct {
	Capacity     int
	Backpressure BackpressureConfig
}

// priority is a mailbox whose user queue is a single min-heap keyed by
// (priority, arrival_seq). The system queue remains a
// plain FIFO, strictly preceding user reads.
type priority struct {
	mu       sync.Mutex
	userQ    envelopeHeap
	sysQ     []SystemMessage
	capacity int
	status   atomic.Int32
	active   atomic.Bool
	pressure *pressureTracker

	enqueued   atomic.Uint64
	dropped    atomic.Uint64
	deadLetter atomic.Uint64
}

// NewPriority constructs a priority-queue mailbox.
func NewPriority(cfg PriorityConfig) Mailbox {
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}
	if cfg.Backpressure == (BackpressureConfig{}) {
		cfg.Backpressure = DefaultBackpressureConfig()
	}
	p := &priority{capacity: cfg.Capacity}
	p.pressure = newPressureTracker(cfg.Capacity, cfg.Backpressure)
	heap.Init(&p.userQ)
	return p
}

func (p *priority) Status() Status {
	return Status(p.status.Load())
}

func (p *priority) PushSystem(msg SystemMessage) error {
	if p.Status() == StatusClosed {
		return ErrMailboxClosed
	}
	msg.seq = nextSeq()

	p.mu.Lock()
	p.sysQ = append(p.sysQ, msg)
	p.mu.Unlock()
	p.enqueued.Add(1)
	return nil
}

func (p *priority) PushUser(env Envelope) error {
	if p.Status() == StatusClosed {
		p.deadLetter.Add(1)
		return ErrMailboxClosed
	}

	p.mu.Lock()
	n := p.userQ.Len()
	// Same zero-capacity rule as the bounded variant: capacity 0 is
	// permanently full, never "unbounded".
	if n >= p.capacity {
		p.mu.Unlock()
		p.dropped.Add(1)
		return ErrMailboxFull
	}
	if p.pressure.observe(n) {
		p.mu.Unlock()
		p.dropped.Add(1)
		return ErrBackPressure
	}
	env.seq = nextSeq()
	heap.Push(&p.userQ, env)
	p.mu.Unlock()

	p.enqueued.Add(1)
	return nil
}

func (p *priority) Suspend() {
	p.status.CompareAndSwap(int32(StatusOpen), int32(StatusSuspended))
}

func (p *priority) ResumeProcessing() {
	p.status.CompareAndSwap(int32(StatusSuspended), int32(StatusOpen))
}

func (p *priority) Close() []SystemMessage {
	p.status.Store(int32(StatusClosed))

	p.mu.Lock()
	defer p.mu.Unlock()

	pending := p.sysQ
	p.sysQ = nil
	p.deadLetter.Add(uint64(p.userQ.Len()))
	p.userQ = nil
	return pending
}

func (p *priority) DequeueSystem() (SystemMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sysQ) == 0 {
		return SystemMessage{}, false
	}
	msg := p.sysQ[0]
	p.sysQ = p.sysQ[1:]
	return msg, true
}

func (p *priority) DequeueUser() (Envelope, bool) {
	if p.Status() != StatusOpen {
		return Envelope{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.userQ.Len() == 0 {
		return Envelope{}, false
	}
	env := heap.Pop(&p.userQ).(Envelope)
	return env, true
}

func (p *priority) TryActivate() bool {
	return p.active.CompareAndSwap(false, true)
}

func (p *priority) Release() bool {
	p.mu.Lock()
	more := len(p.sysQ) > 0 || (p.Status() == StatusOpen && p.userQ.Len() > 0)
	p.mu.Unlock()

	p.active.Store(false)
	return more
}

func (p *priority) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		UserLen:    p.userQ.Len(),
		SystemLen:  len(p.sysQ),
		Capacity:   p.capacity,
		Status:     p.Status(),
		Enqueued:   p.enqueued.Load(),
		Dropped:    p.dropped.Load(),
		DeadLetter: p.deadLetter.Load(),
	}
}
