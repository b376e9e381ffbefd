package actor

import "github.com/kestrelactor/kestrel/mailbox"

// Next is the continuation a Middleware may invoke to proceed down the
// chain. The last link always invokes the behavior's Receive.
type Next func(ctx *Context, env mailbox.Envelope) error

// Middleware interposes around a cell's Receive call. It may
// short-circuit by not calling next, transform the envelope before
// calling next, or simply observe timing around it. A returned error
// propagates up the chain exactly as a Receive error would.
type Middleware func(ctx *Context, env mailbox.Envelope, next Next) error

// chain composes an ordered list of Middleware around a terminal Next,
// in the order given: mw[0] runs first and wraps everything after it.
func chain(mw []Middleware, terminal Next) Next {
	next := terminal
	for i := len(mw) - 1; i >= 0; i-- {
		link := mw[i]
		downstream := next
		next = func(ctx *Context, env mailbox.Envelope) error {
			return link(ctx, env, downstream)
		}
	}
	return next
}
