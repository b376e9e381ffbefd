package actor

import (
	"github.com/kestrelactor/kestrel/dispatcher"
	"github.com/kestrelactor/kestrel/logging"
	"github.com/kestrelactor/kestrel/mailbox"
	"github.com/kestrelactor/kestrel/metrics"
	"github.com/kestrelactor/kestrel/pid"
)

// Scheduler is the subset of a dispatcher a Cell needs: hand itself off
// to be run, at an optional priority. *dispatcher.Dispatcher and
// *dispatcher.PriorityDispatcher are adapted to this by the system
// package, which is the only thing that knows which one is configured.
type Scheduler interface {
	Schedule(s dispatcher.Schedulable, priority int) error
}

// Kernel is the set of system-level services a Cell depends on, supplied
// by the System facade. Defining it here (rather than importing the
// system package) is what breaks the actor <-> system import cycle.
type Kernel interface {
	Registry() *pid.Registry
	Scheduler(dispatcherID string) (Scheduler, error)
	NextID(prefix string) pid.ID
	DeadLetter(env mailbox.Envelope, target pid.ID, reason string)
	Logger() logging.Logger
	Metrics() metrics.Sink

	// Send resolves target (local registry lookup or remote transport
	// hand-off) and delivers env.
	Send(target pid.ID, env mailbox.Envelope) error
	// SendSystem is Send's system-message counterpart.
	SendSystem(target pid.ID, msg mailbox.SystemMessage) error
	// MailboxLen reports a locally-resolvable actor's current user
	// queue depth, the signal the SmallestMailbox routing strategy
	// needs. ok is false for unresolvable or remote ids.
	MailboxLen(id pid.ID) (n int, ok bool)
}
