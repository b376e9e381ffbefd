package actor

import (
	"context"

	"github.com/kestrelactor/kestrel/logging"
	"github.com/kestrelactor/kestrel/mailbox"
	"github.com/kestrelactor/kestrel/pid"
)

// Context is passed to every Behavior hook. It carries the cancellation
// token the application should read to cut in-flight work short, and
// the operations a behavior uses to interact
// with the rest of the tree: sending, spawning children, watching other
// actors, and stopping.
type Context struct {
	cell   *Cell
	goCtx  context.Context
	sender pid.ID
}

// Self returns the identifier of the actor this context belongs to.
func (c *Context) Self() pid.ID { return c.cell.id }

// Parent returns the identifier of the spawning actor, or the zero ID
// for a root-level actor.
func (c *Context) Parent() pid.ID { return c.cell.parentID }

// Sender returns the sender of the message currently being handled, or
// the zero ID for lifecycle hooks and system-triggered calls that carry
// no sender.
func (c *Context) Sender() pid.ID { return c.sender }

// Done returns the cancellation token for the current message. Restart
// and Stop cancel it; long-running Receive implementations should
// select on it to cut work short.
func (c *Context) Done() context.Context { return c.goCtx }

// Logger returns the system-wide logger.
func (c *Context) Logger() logging.Logger { return c.cell.kernel.Logger() }

// Send delivers payload to target, resolving local vs remote addressing
// through the kernel (system facade) exactly as the public Send surface
// does.
func (c *Context) Send(target pid.ID, payload any) error {
	return c.cell.kernel.Send(target, mailbox.Envelope{Payload: payload, Sender: c.cell.id})
}

// Reply sends payload back to the sender of the message being handled.
// It is a no-op returning nil if there is no sender (e.g. the message
// was sent with SendSystem, or arrived through a lifecycle hook).
func (c *Context) Reply(payload any) error {
	if c.sender.IsZero() {
		return nil
	}
	return c.cell.kernel.Send(c.sender, mailbox.Envelope{Payload: payload, Sender: c.cell.id})
}

// Spawn creates a child of the current actor.
func (c *Context) Spawn(props Props) (pid.ID, error) {
	return spawnChild(c.cell, props)
}

// Stop asks target to stop. It is the cancellation primitive;
// the recipient finishes its current message before transitioning.
func (c *Context) Stop(target pid.ID) error {
	return c.cell.kernel.SendSystem(target, mailbox.SystemMessage{Kind: mailbox.SysStop})
}

// Watch registers the current actor as a watcher of target. If target
// is already gone, an immediate synthetic Terminated is delivered
// instead. Watching oneself is legal and a no-op beyond the normal
// bookkeeping: the self-watch is recorded, but the cell's own
// Terminated is not delivered, because its mailbox is closed before
// watchers are notified.
func (c *Context) Watch(target pid.ID) {
	if target == c.cell.id {
		c.cell.addWatcher(target)
		return
	}
	if err := c.cell.kernel.SendSystem(target, mailbox.SystemMessage{Kind: mailbox.SysWatch, Target: c.cell.id}); err != nil {
		// target is already gone: synthesize the Terminated the watcher
		// would otherwise never receive.
		c.cell.enqueueSystemSelf(mailbox.SystemMessage{Kind: mailbox.SysTerminated, Target: target})
	}
}

// Unwatch cancels a prior Watch. It is a best-effort send; an error
// (target already gone) is not reported since there is nothing left to
// unwatch.
func (c *Context) Unwatch(target pid.ID) {
	if target == c.cell.id {
		c.cell.removeWatcher(target)
		return
	}
	_ = c.cell.kernel.SendSystem(target, mailbox.SystemMessage{Kind: mailbox.SysUnwatch, Target: c.cell.id})
}

// Children returns a snapshot of the current actor's child identifiers.
func (c *Context) Children() []pid.ID {
	return c.cell.childSnapshot()
}

// MailboxLen reports id's current user-queue depth, used by routers
// implementing the SmallestMailbox strategy.
func (c *Context) MailboxLen(id pid.ID) (int, bool) {
	return c.cell.kernel.MailboxLen(id)
}
