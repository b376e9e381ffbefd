// Package mailbox implements the per-cell queue pair (user + system)
// with capacity, priority and backpressure semantics.
//
// Three variants are provided: Bounded, Unbounded and Priority. All three
// share the invariant that system-queue reads strictly precede user-queue
// reads within any processing batch, and that a Closed mailbox rejects
// sends with a terminal error rather than silently dropping them.
package mailbox

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kestrelactor/kestrel/pid"
)

// Errors returned by Push*. Part of the send-failure taxonomy; callers
// compare them with errors.Is.
var (
	ErrMailboxFull   = errors.New("mailbox: full")
	ErrMailboxClosed = errors.New("mailbox: closed")
	ErrBackPressure  = errors.New("mailbox: under backpressure")
)

// Status is the lifecycle state of a mailbox.
type Status int32

const (
	StatusOpen Status = iota
	StatusSuspended
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusSuspended:
		return "suspended"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// SystemKind enumerates the closed set of system messages.
type SystemKind int

const (
	SysStop SystemKind = iota
	SysRestart
	SysResume
	SysSuspend
	SysWatch
	SysUnwatch
	SysTerminated
	SysFailure
)

func (k SystemKind) String() string {
	switch k {
	case SysStop:
		return "Stop"
	case SysRestart:
		return "Restart"
	case SysResume:
		return "Resume"
	case SysSuspend:
		return "Suspend"
	case SysWatch:
		return "Watch"
	case SysUnwatch:
		return "Unwatch"
	case SysTerminated:
		return "Terminated"
	case SysFailure:
		return "Failure"
	default:
		return fmt.Sprintf("sysmsg(%d)", k)
	}
}

// SystemMessage is the closed set of control messages a cell processes
// ahead of any user traffic.
type SystemMessage struct {
	Kind   SystemKind
	Target pid.ID // Watch(id), Unwatch(id), Terminated(id)
	Reason error  // Restart{reason}, Failure(reason)
	seq    uint64
}

// Envelope carries a user payload plus routing metadata.
type Envelope struct {
	Payload  any
	Sender   pid.ID
	Headers  map[string]string
	Priority int // 0..4, 0 highest
	seq      uint64
}

// Stats reports point-in-time mailbox occupancy, used by backpressure and
// by SmallestMailbox routing.
type Stats struct {
	UserLen    int
	SystemLen  int
	Capacity   int // 0 for the unbounded variant
	Status     Status
	Enqueued   uint64
	Dropped    uint64
	DeadLetter uint64
}

// Mailbox is the queue pair a dispatcher schedules and a cell drains.
// TryActivate/Release implement the single-owner flag: a dispatcher
// worker must call TryActivate before draining a batch and Release when
// it yields; Release reports whether the mailbox has more work and should
// be rescheduled immediately.
type Mailbox interface {
	PushUser(Envelope) error
	PushSystem(SystemMessage) error

	Suspend()
	ResumeProcessing()
	// Close transitions the mailbox to Closed and returns any system
	// messages still queued, for the caller to dead-letter.
	Close() []SystemMessage

	Status() Status
	Stats() Stats

	TryActivate() bool
	Release() (needsReschedule bool)

	DequeueSystem() (SystemMessage, bool)
	// DequeueUser returns nothing when the mailbox is Suspended or
	// Closed, even if user messages remain queued.
	DequeueUser() (Envelope, bool)
}

var seqCounter atomic.Uint64

func nextSeq() uint64 {
	return seqCounter.Add(1)
}
