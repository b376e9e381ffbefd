package actor

import (
	"time"

	"github.com/kestrelactor/kestrel/mailbox"
	"github.com/kestrelactor/kestrel/supervisor"
)

// MailboxKind selects which mailbox.Mailbox variant a cell is built with.
type MailboxKind int

const (
	MailboxBounded MailboxKind = iota
	MailboxUnbounded
	MailboxPriority
)

// Props is the spawn configuration for an actor.
type Props struct {
	Producer Producer // required

	MailboxKind     MailboxKind
	MailboxCapacity int // used by Bounded and Priority; default 1000
	Backpressure    mailbox.BackpressureConfig

	Throughput   int    // messages processed per claimed batch, default 100
	DispatcherID string // default "default"

	Supervisor supervisor.Strategy // strategy THIS cell applies to ITS children; a root-level cell also applies it to its own failures

	Middleware []Middleware
}

// WithDefaults fills in the stock defaults for any zero-valued field.
func (p Props) WithDefaults() Props {
	if p.MailboxCapacity <= 0 {
		p.MailboxCapacity = 1000
	}
	if p.Backpressure == (mailbox.BackpressureConfig{}) {
		p.Backpressure = mailbox.DefaultBackpressureConfig()
	}
	if p.Throughput <= 0 {
		p.Throughput = 100
	}
	if p.DispatcherID == "" {
		p.DispatcherID = "default"
	}
	if p.Supervisor.Within == time.Duration(0) && p.Supervisor.MaxRetries == 0 && p.Supervisor.Decide == nil {
		p.Supervisor = supervisor.Default()
	}
	return p
}

// NewMailbox builds the mailbox variant this Props asks for.
func (p Props) NewMailbox() mailbox.Mailbox {
	switch p.MailboxKind {
	case MailboxUnbounded:
		return mailbox.NewUnbounded()
	case MailboxPriority:
		return mailbox.NewPriority(mailbox.PriorityConfig{Capacity: p.MailboxCapacity, Backpressure: p.Backpressure})
	default:
		return mailbox.NewBounded(mailbox.BoundedConfig{Capacity: p.MailboxCapacity, Backpressure: p.Backpressure})
	}
}

// FromProducer is the common-case constructor: defaults everywhere
// except the behavior producer.
func FromProducer(producer Producer) Props {
	return Props{Producer: producer}.WithDefaults()
}
