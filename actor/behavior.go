// Package actor implements the actor cell: per-actor state machine,
// message dispatch, middleware chain, and supervision bookkeeping. A
// cell is scheduled by a dispatcher rather than owning a goroutine, so
// many cells share a small worker pool.
package actor

import "github.com/kestrelactor/kestrel/pid"

// Behavior is the user-supplied object a cell wraps. Receive is called
// once per user message that survives the middleware chain; returning an
// error reports a runtime failure to the parent's supervisor.
type Behavior interface {
	Receive(ctx *Context, payload any) error
}

// Starter lets a Behavior run setup logic before any user message is
// processed. It runs as the first message the cell's own loop handles,
// not inline during spawn.
type Starter interface {
	Started(ctx *Context) error
}

// Stopper lets a Behavior run cleanup around both a deliberate stop and a
// restart (Restart is semantically stopping -> discard -> Started).
type Stopper interface {
	Stopping(ctx *Context) error
	Stopped(ctx *Context)
}

// Watcher lets a Behavior react to a watched actor's termination. It is
// invoked directly from system-message handling, bypassing the
// middleware chain, since Terminated is a system message.
type Watcher interface {
	Terminated(ctx *Context, id pid.ID)
}

// Producer constructs a fresh Behavior, used on spawn and on every
// Restart.
type Producer func() Behavior
