// Package supervisor translates child-actor faults into directives
// (resume/restart/stop/escalate). It is pure decision
// logic: no goroutines, no mailboxes — the actor package consults a
// Strategy synchronously, on the failing child's own call stack, when
// that child reports a failure.
package supervisor

import (
	"fmt"
	"time"
)

// Directive is what a parent's strategy decides to do about a failing
// child.
type Directive int

const (
	// Resume drops the faulting message and lets the child continue;
	// only the in-flight message is discarded, never other queued
	// state.
	Resume Directive = iota
	// Restart discards and reconstructs the child's behavior; mailbox
	// and identity are preserved, restart stats are not reset.
	Restart
	// Stop is terminal for the child.
	Stop
	// Escalate re-raises the failure to the grandparent, as though the
	// escalating cell itself had failed.
	Escalate
)

func (d Directive) String() string {
	switch d {
	case Resume:
		return "Resume"
	case Restart:
		return "Restart"
	case Stop:
		return "Stop"
	case Escalate:
		return "Escalate"
	default:
		return fmt.Sprintf("directive(%d)", d)
	}
}

// Scope controls which siblings a directive applies to.
type Scope int

const (
	// OneForOne applies the directive to the failing child alone.
	OneForOne Scope = iota
	// OneForAll applies the directive to every child of the parent,
	// including the one that failed.
	OneForAll
	// AllForOne stops every child, then restarts every child in
	// original spawn order, whenever the resolved directive is Restart.
	// A resolved Stop still stops every child; Resume is applied
	// per-child without the stop/restart cascade.
	AllForOne
)

// Stats is the restart bookkeeping for one child. The window resets on
// wall-clock quiescence, never on a successful message: a child that
// keeps limping along under load still runs out of retries.
type Stats struct {
	FailureCount   int
	FirstFailureAt time.Time
	LastFailureAt  time.Time
	RestartCount   int
}

// DirectiveFunc maps a failure reason to the directive the user wants,
// before restart-window bookkeeping can override it to Stop.
type DirectiveFunc func(reason error) Directive

// AlwaysRestart is the default mapping: every reason kind restarts.
func AlwaysRestart(error) Directive { return Restart }

// Strategy is a parent's configured supervision policy for its children.
type Strategy struct {
	Scope      Scope
	MaxRetries int
	Within     time.Duration
	Decide     DirectiveFunc
}

// Default returns the stock policy: OneForOne, max_retries=10,
// within=10s, every reason -> Restart.
func Default() Strategy {
	return Strategy{
		Scope:      OneForOne,
		MaxRetries: 10,
		Within:     10 * time.Second,
		Decide:     AlwaysRestart,
	}
}

func (s Strategy) decide() DirectiveFunc {
	if s.Decide != nil {
		return s.Decide
	}
	return AlwaysRestart
}

// Evaluate applies the restart-window bookkeeping and returns the
// directive to apply. If no failure has been recorded for Within, the
// window resets before this failure is counted. Once FailureCount
// exceeds MaxRetries within the window, the directive is forced to Stop
// regardless of what Decide returns.
func (s Strategy) Evaluate(stats *Stats, reason error, now time.Time) Directive {
	if stats.LastFailureAt.IsZero() || now.Sub(stats.LastFailureAt) > s.Within {
		stats.FirstFailureAt = now
		stats.FailureCount = 0
	}
	stats.LastFailureAt = now
	stats.FailureCount++

	if stats.FailureCount > s.MaxRetries {
		return Stop
	}
	return s.decide()(reason)
}

// NoteRestart increments RestartCount, called once a Restart directive
// has actually been carried out.
func (s *Stats) NoteRestart() {
	s.RestartCount++
}
