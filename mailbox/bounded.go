package mailbox

import (
	"sync"
	"sync/atomic"
)

// BoundedConfig configures a fixed-capacity mailbox.
type BoundedConfig struct {
	Capacity     int
	Backpressure BackpressureConfig
}

// bounded is a fixed-capacity FIFO mailbox. Sends beyond capacity fail
// with ErrMailboxFull; sends while under a sustained high-watermark
// breach fail with ErrBackPressure first.
type bounded struct {
	mu       sync.Mutex
	userQ    []Envelope
	sysQ     []SystemMessage
	capacity int
	status   atomic.Int32
	active   atomic.Bool
	pressure *pressureTracker

	enqueued   atomic.Uint64
	dropped    atomic.Uint64
	deadLetter atomic.Uint64
}

// NewBounded constructs a bounded mailbox of the given configuration.
func NewBounded(cfg BoundedConfig) Mailbox {
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}
	if cfg.Backpressure == (BackpressureConfig{}) {
		cfg.Backpressure = DefaultBackpressureConfig()
	}
	b := &bounded{capacity: cfg.Capacity}
	b.pressure = newPressureTracker(cfg.Capacity, cfg.Backpressure)
	return b
}

func (b *bounded) Status() Status {
	return Status(b.status.Load())
}

func (b *bounded) PushSystem(msg SystemMessage) error {
	if b.Status() == StatusClosed {
		return ErrMailboxClosed
	}
	msg.seq = nextSeq()

	b.mu.Lock()
	b.sysQ = append(b.sysQ, msg)
	b.mu.Unlock()

	b.enqueued.Add(1)
	return nil
}

func (b *bounded) PushUser(env Envelope) error {
	if b.Status() == StatusClosed {
		b.deadLetter.Add(1)
		return ErrMailboxClosed
	}

	b.mu.Lock()
	n := len(b.userQ)
	// A zero-capacity mailbox is permanently full: n >= 0 rejects the
	// very first send rather than falling through as "unbounded".
	if n >= b.capacity {
		b.mu.Unlock()
		b.dropped.Add(1)
		return ErrMailboxFull
	}
	if b.pressure.observe(n) {
		b.mu.Unlock()
		b.dropped.Add(1)
		return ErrBackPressure
	}
	env.seq = nextSeq()
	b.userQ = append(b.userQ, env)
	b.mu.Unlock()

	b.enqueued.Add(1)
	return nil
}

func (b *bounded) Suspend() {
	b.status.CompareAndSwap(int32(StatusOpen), int32(StatusSuspended))
}

func (b *bounded) ResumeProcessing() {
	b.status.CompareAndSwap(int32(StatusSuspended), int32(StatusOpen))
}

func (b *bounded) Close() []SystemMessage {
	b.status.Store(int32(StatusClosed))

	b.mu.Lock()
	defer b.mu.Unlock()

	pending := b.sysQ
	b.sysQ = nil
	b.deadLetter.Add(uint64(len(b.userQ)))
	b.userQ = nil
	return pending
}

func (b *bounded) DequeueSystem() (SystemMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.sysQ) == 0 {
		return SystemMessage{}, false
	}
	msg := b.sysQ[0]
	b.sysQ = b.sysQ[1:]
	return msg, true
}

func (b *bounded) DequeueUser() (Envelope, bool) {
	if b.Status() != StatusOpen {
		return Envelope{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.userQ) == 0 {
		return Envelope{}, false
	}
	env := b.userQ[0]
	b.userQ = b.userQ[1:]
	return env, true
}

func (b *bounded) TryActivate() bool {
	return b.active.CompareAndSwap(false, true)
}

func (b *bounded) Release() bool {
	b.mu.Lock()
	more := len(b.sysQ) > 0 || (b.Status() == StatusOpen && len(b.userQ) > 0)
	b.mu.Unlock()

	b.active.Store(false)
	return more
}

func (b *bounded) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		UserLen:    len(b.userQ),
		SystemLen:  len(b.sysQ),
		Capacity:   b.capacity,
		Status:     b.Status(),
		Enqueued:   b.enqueued.Load(),
		Dropped:    b.dropped.Load(),
		DeadLetter: b.deadLetter.Load(),
	}
}
