package mailbox

import (
	"sync"
	"sync/atomic"
)

// unbounded never rejects a user send for fullness; only a Closed status
// causes PushUser to fail, with ErrMailboxClosed.
type unbounded struct {
	mu     sync.Mutex
	userQ  []Envelope
	sysQ   []SystemMessage
	status atomic.Int32
	active atomic.Bool

	enqueued   atomic.Uint64
	deadLetter atomic.Uint64
}

// NewUnbounded constructs an unbounded mailbox.
func NewUnbounded() Mailbox {
	return &unbounded{}
}

func (u *unbounded) Status() Status {
	return Status(u.status.Load())
}

func (u *unbounded) PushSystem(msg SystemMessage) error {
	if u.Status() == StatusClosed {
		return ErrMailboxClosed
	}
	msg.seq = nextSeq()

	u.mu.Lock()
	u.sysQ = append(u.sysQ, msg)
	u.mu.Unlock()
	u.enqueued.Add(1)
	return nil
}

func (u *unbounded) PushUser(env Envelope) error {
	if u.Status() == StatusClosed {
		u.deadLetter.Add(1)
		return ErrMailboxClosed
	}
	env.seq = nextSeq()

	u.mu.Lock()
	u.userQ = append(u.userQ, env)
	u.mu.Unlock()
	u.enqueued.Add(1)
	return nil
}

func (u *unbounded) Suspend() {
	u.status.CompareAndSwap(int32(StatusOpen), int32(StatusSuspended))
}

func (u *unbounded) ResumeProcessing() {
	u.status.CompareAndSwap(int32(StatusSuspended), int32(StatusOpen))
}

func (u *unbounded) Close() []SystemMessage {
	u.status.Store(int32(StatusClosed))

	u.mu.Lock()
	defer u.mu.Unlock()

	pending := u.sysQ
	u.sysQ = nil
	u.deadLetter.Add(uint64(len(u.userQ)))
	u.userQ = nil
	return pending
}

func (u *unbounded) DequeueSystem() (SystemMessage, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.sysQ) == 0 {
		return SystemMessage{}, false
	}
	msg := u.sysQ[0]
	u.sysQ = u.sysQ[1:]
	return msg, true
}

func (u *unbounded) DequeueUser() (Envelope, bool) {
	if u.Status() != StatusOpen {
		return Envelope{}, false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.userQ) == 0 {
		return Envelope{}, false
	}
	env := u.userQ[0]
	u.userQ = u.userQ[1:]
	return env, true
}

func (u *unbounded) TryActivate() bool {
	return u.active.CompareAndSwap(false, true)
}

func (u *unbounded) Release() bool {
	u.mu.Lock()
	more := len(u.sysQ) > 0 || (u.Status() == StatusOpen && len(u.userQ) > 0)
	u.mu.Unlock()

	u.active.Store(false)
	return more
}

func (u *unbounded) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()

	return Stats{
		UserLen:    len(u.userQ),
		SystemLen:  len(u.sysQ),
		Status:     u.Status(),
		Enqueued:   u.enqueued.Load(),
		DeadLetter: u.deadLetter.Load(),
	}
}
