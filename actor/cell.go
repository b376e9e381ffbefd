package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelactor/kestrel/mailbox"
	"github.com/kestrelactor/kestrel/pid"
	"github.com/kestrelactor/kestrel/supervisor"
)

// State is the cell's lifecycle state machine.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateSuspended
	StateRestarting
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateSuspended:
		return "Suspended"
	case StateRestarting:
		return "Restarting"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// ErrInvalidProps is returned by spawn when Props.Producer is nil.
var ErrInvalidProps = fmt.Errorf("actor: invalid props: producer is required")

// Cell is the runtime wrapper around a Behavior: mailbox, lifecycle
// state machine, middleware chain, children and watchers. A cell never
// owns a goroutine; it runs only while a dispatcher worker holds its
// mailbox's single-owner flag.
type Cell struct {
	id       pid.ID
	parentID pid.ID
	parent   *Cell // nil for a root-level actor
	kernel   Kernel
	props    Props
	mb       mailbox.Mailbox
	next     Next // middleware chain, terminating in behavior.Receive

	scheduler Scheduler

	stateMu  sync.Mutex
	state    State
	behavior Behavior

	firstRun atomic.Bool

	childrenMu  sync.Mutex
	children    map[pid.ID]*Cell
	childOrder  []pid.ID
	pendingStop int

	watchersMu sync.Mutex
	watchers   map[pid.ID]struct{}

	restartStats supervisor.Stats

	cancel context.CancelFunc
	ctx    context.Context
}

// spawnRoot builds a top-level cell with no parent, used by the system
// facade for actors spawned without an explicit parent.
func spawnRoot(k Kernel, props Props) (pid.ID, error) {
	return spawn(k, nil, props)
}

// spawnChild builds a cell whose parent is the given cell: reserve an
// id, build a mailbox and cell, register it, and issue Started via the
// child's own loop rather than inline.
func spawnChild(parent *Cell, props Props) (pid.ID, error) {
	return spawn(parent.kernel, parent, props)
}

func spawn(k Kernel, parent *Cell, props Props) (pid.ID, error) {
	if props.Producer == nil {
		return pid.ID{}, ErrInvalidProps
	}
	props = props.WithDefaults()

	sched, err := k.Scheduler(props.DispatcherID)
	if err != nil {
		return pid.ID{}, err
	}

	id := k.NextID("actor")
	ctx, cancel := context.WithCancel(context.Background())

	c := &Cell{
		id:        id,
		kernel:    k,
		props:     props,
		mb:        props.NewMailbox(),
		scheduler: sched,
		state:     StateStarting,
		children:  make(map[pid.ID]*Cell),
		watchers:  make(map[pid.ID]struct{}),
		cancel:    cancel,
		ctx:       ctx,
	}
	c.next = chain(props.Middleware, c.invokeReceive)

	if parent != nil {
		c.parent = parent
		c.parentID = parent.id
		parent.childrenMu.Lock()
		parent.children[id] = c
		parent.childOrder = append(parent.childOrder, id)
		parent.childrenMu.Unlock()
		// The parent implicitly watches every child so its own Stop
		// sequence can wait on child termination via the normal
		// Terminated fan-out.
		c.addWatcher(parent.id)
	}

	if err := k.Registry().Attach(id, c); err != nil {
		return pid.ID{}, err
	}

	// Force the first RunQuantum even with an empty mailbox so Started
	// runs as the first thing the child's own loop processes, rather
	// than inline on the spawning goroutine.
	if c.mb.TryActivate() {
		if err := c.scheduler.Schedule(c, 0); err != nil {
			c.mb.Release()
		}
	}

	return id, nil
}

// pid.Handle implementation.

func (c *Cell) Enqueue(env any) error {
	e, ok := env.(mailbox.Envelope)
	if !ok {
		e = mailbox.Envelope{Payload: env}
	}
	err := c.mb.PushUser(e)
	if err == nil {
		c.scheduleIfIdle(e.Priority)
	}
	return err
}

func (c *Cell) EnqueueSystem(msg any) error {
	m, ok := msg.(mailbox.SystemMessage)
	if !ok {
		return fmt.Errorf("actor: EnqueueSystem requires mailbox.SystemMessage, got %T", msg)
	}
	err := c.mb.PushSystem(m)
	if err == nil {
		c.scheduleIfIdle(0)
	}
	return err
}

func (c *Cell) enqueueSystemSelf(msg mailbox.SystemMessage) {
	_ = c.EnqueueSystem(msg)
}

// scheduleIfIdle claims the single-owner flag and hands the cell to the
// dispatcher, but only if no worker currently owns it; a worker already
// running the cell will see the new work via Release's reschedule check.
func (c *Cell) scheduleIfIdle(priority int) {
	if c.mb.TryActivate() {
		if err := c.scheduler.Schedule(c, priority); err != nil {
			c.mb.Release()
		}
	}
}

// RunQuantum implements dispatcher.Schedulable. It drains system
// messages, then (if Open) up to Throughput user messages, then
// releases the single-owner flag and reschedules itself if more work
// arrived meanwhile.
func (c *Cell) RunQuantum(goCtx context.Context) {
	defer func() {
		if c.mb.Release() {
			c.scheduleIfIdle(0)
		}
	}()

	if c.firstRun.CompareAndSwap(false, true) {
		c.runStarted()
	}

	const maxSystemDrain = 4096
	for i := 0; i < maxSystemDrain; i++ {
		msg, ok := c.mb.DequeueSystem()
		if !ok {
			break
		}
		c.handleSystem(msg)
		if c.currentState() == StateStopped {
			return
		}
	}

	if c.mb.Status() != mailbox.StatusOpen || c.currentState() != StateRunning {
		return
	}

	for i := 0; i < c.props.Throughput; i++ {
		env, ok := c.mb.DequeueUser()
		if !ok {
			break
		}
		c.handleUser(env)
		if c.currentState() != StateRunning {
			break
		}
	}
}

func (c *Cell) currentState() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Cell) runStarted() {
	c.stateMu.Lock()
	b := c.behavior
	if b == nil {
		b = c.props.Producer()
		c.behavior = b
	}
	c.stateMu.Unlock()

	if s, ok := b.(Starter); ok {
		if err := s.Started(c.context(pid.ID{})); err != nil {
			c.reportFailure(err)
			return
		}
	}
	c.stateMu.Lock()
	c.state = StateRunning
	c.stateMu.Unlock()
}

func (c *Cell) context(sender pid.ID) *Context {
	return &Context{cell: c, goCtx: c.ctx, sender: sender}
}

func (c *Cell) invokeReceive(ctx *Context, env mailbox.Envelope) error {
	return c.behavior.Receive(ctx, env.Payload)
}

func (c *Cell) handleUser(env mailbox.Envelope) {
	err := c.next(c.context(env.Sender), env)
	if err != nil {
		c.reportFailure(err)
	}
}

func (c *Cell) handleSystem(msg mailbox.SystemMessage) {
	switch msg.Kind {
	case mailbox.SysStop:
		c.initiateStop()
	case mailbox.SysRestart:
		c.restart(msg.Reason)
	case mailbox.SysResume:
		c.resume()
	case mailbox.SysSuspend:
		c.suspend()
	case mailbox.SysWatch:
		c.addWatcher(msg.Target)
	case mailbox.SysUnwatch:
		c.removeWatcher(msg.Target)
	case mailbox.SysTerminated:
		c.handleTerminated(msg.Target)
	case mailbox.SysFailure:
		c.reportFailure(msg.Reason)
	}
}

// --- supervision: resume / restart / stop directives ---

func (c *Cell) resume() {
	c.stateMu.Lock()
	if c.state == StateSuspended || c.state == StateStarting {
		c.state = StateRunning
	}
	c.stateMu.Unlock()
	c.mb.ResumeProcessing()
}

func (c *Cell) suspend() {
	c.stateMu.Lock()
	if c.state == StateRunning {
		c.state = StateSuspended
	}
	c.stateMu.Unlock()
	c.mb.Suspend()
}

// restart discards and reconstructs the behavior via the producer,
// preserving mailbox and identity; restart stats are not reset.
// Since this always runs inside the target cell's own RunQuantum call
// stack (reportFailure applies directives synchronously, and it is only
// ever invoked from the failing cell's own loop), Started runs directly
// rather than via a re-scheduled kickoff.
func (c *Cell) restart(reason error) {
	c.stateMu.Lock()
	c.state = StateRestarting
	old := c.behavior
	c.stateMu.Unlock()

	if s, ok := old.(Stopper); ok {
		s.Stopping(c.context(pid.ID{}))
	}

	c.cancel()
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx, c.cancel = ctx, cancel

	next := c.props.Producer()

	c.stateMu.Lock()
	c.behavior = next
	c.restartStats.NoteRestart()
	c.stateMu.Unlock()
	c.kernel.Metrics().RestartTotal(c.id.String())

	if s, ok := next.(Starter); ok {
		if err := s.Started(c.context(pid.ID{})); err != nil {
			c.reportFailure(err)
			return
		}
	}

	c.stateMu.Lock()
	c.state = StateRunning
	c.stateMu.Unlock()
	c.mb.ResumeProcessing()
}

// initiateStop begins the Stop sequence: suspends user
// processing, forwards Stop to every child, and waits for their
// Terminated notifications (via the implicit parent-watch set up at
// spawn) before running its own stopping/stopped hooks. Idempotent:
// a second Stop while already stopping/stopped is a no-op.
func (c *Cell) initiateStop() {
	c.stateMu.Lock()
	if c.state == StateStopping || c.state == StateStopped {
		c.stateMu.Unlock()
		return
	}
	c.state = StateStopping
	c.stateMu.Unlock()
	c.mb.Suspend()

	children := c.childSnapshot()
	c.childrenMu.Lock()
	c.pendingStop = len(children)
	c.childrenMu.Unlock()

	if len(children) == 0 {
		c.finishStopping()
		return
	}
	for _, childID := range children {
		_ = c.kernel.SendSystem(childID, mailbox.SystemMessage{Kind: mailbox.SysStop})
	}
}

func (c *Cell) handleTerminated(target pid.ID) {
	c.childrenMu.Lock()
	_, wasChild := c.children[target]
	if wasChild {
		delete(c.children, target)
	}
	stopping := c.currentState() == StateStopping
	var done bool
	if wasChild && stopping {
		c.pendingStop--
		done = c.pendingStop <= 0
	}
	c.childrenMu.Unlock()

	if b, ok := c.behavior.(Watcher); ok {
		b.Terminated(c.context(pid.ID{}), target)
	}

	if done {
		c.finishStopping()
	}
}

func (c *Cell) finishStopping() {
	c.stateMu.Lock()
	b := c.behavior
	c.stateMu.Unlock()

	if s, ok := b.(Stopper); ok {
		s.Stopping(c.context(pid.ID{}))
	}

	c.cancel()
	for _, pending := range c.mb.Close() {
		c.kernel.DeadLetter(mailbox.Envelope{}, c.id, pending.Kind.String())
	}

	if s, ok := b.(Stopper); ok {
		s.Stopped(c.context(pid.ID{}))
	}

	c.stateMu.Lock()
	c.state = StateStopped
	c.stateMu.Unlock()

	c.kernel.Registry().Detach(c.id)

	for _, watcherID := range c.watcherSnapshot() {
		_ = c.kernel.SendSystem(watcherID, mailbox.SystemMessage{Kind: mailbox.SysTerminated, Target: c.id})
	}
}

// --- watchers ---

func (c *Cell) addWatcher(id pid.ID) {
	c.watchersMu.Lock()
	c.watchers[id] = struct{}{}
	c.watchersMu.Unlock()
}

func (c *Cell) removeWatcher(id pid.ID) {
	c.watchersMu.Lock()
	delete(c.watchers, id)
	c.watchersMu.Unlock()
}

func (c *Cell) watcherSnapshot() []pid.ID {
	c.watchersMu.Lock()
	defer c.watchersMu.Unlock()

	out := make([]pid.ID, 0, len(c.watchers))
	for id := range c.watchers {
		out = append(out, id)
	}
	return out
}

func (c *Cell) childSnapshot() []pid.ID {
	c.childrenMu.Lock()
	defer c.childrenMu.Unlock()

	out := make([]pid.ID, 0, len(c.children))
	for _, id := range c.childOrder {
		if _, ok := c.children[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// --- fault escalation ---

// reportFailure is called by the cell that just failed (its own Receive
// or a middleware link returned err, or its Started hook failed). The
// failure is never returned to the original sender; it is converted to
// a supervisor consultation at the cell's parent.
func (c *Cell) reportFailure(err error) {
	if c.parent == nil {
		// A top-level actor has no parent to consult, so its own
		// configured strategy governs it: a root Counter with the stock
		// OneForOne policy restarts in place, keeping identity and
		// mailbox. Escalate has nowhere to go and degrades to Stop,
		// dead-lettering any further in-flight work.
		directive := c.props.Supervisor.Evaluate(&c.restartStats, err, time.Now())
		if directive == supervisor.Escalate {
			directive = supervisor.Stop
		}
		c.applyDirective(c, directive)
		return
	}
	c.parent.consultSupervisor(c, err)
}

// consultSupervisor is invoked on the PARENT with the failing child.
// It runs synchronously on the failing child's own call stack (the
// failure happened inside the child's RunQuantum), so no cross-worker
// messaging is needed to keep per-cell execution single-threaded
// everywhere the directive is applied.
func (c *Cell) consultSupervisor(child *Cell, err error) {
	strategy := c.props.Supervisor
	directive := strategy.Evaluate(&child.restartStats, err, time.Now())

	switch strategy.Scope {
	case supervisor.OneForOne:
		c.applyDirective(child, directive)
	case supervisor.OneForAll:
		for _, sibling := range c.childrenList() {
			c.applyDirective(sibling, directive)
		}
	case supervisor.AllForOne:
		siblings := c.childrenList()
		if directive == supervisor.Restart {
			for _, sibling := range siblings {
				sibling.stopForRestart()
			}
			for _, sibling := range siblings {
				sibling.restartAfterGroupStop()
			}
		} else {
			for _, sibling := range siblings {
				c.applyDirective(sibling, directive)
			}
		}
	}

	if directive == supervisor.Escalate {
		if c.parent == nil {
			// No grandparent to escalate to: the buck stops here.
			c.applyDirective(c, supervisor.Stop)
			return
		}
		c.parent.consultSupervisor(c, err)
	}
}

func (c *Cell) applyDirective(target *Cell, d supervisor.Directive) {
	switch d {
	case supervisor.Resume:
		target.resume()
	case supervisor.Restart:
		target.restart(nil)
	case supervisor.Stop:
		target.initiateStop()
	case supervisor.Escalate:
		// handled by the caller after applying to the relevant scope
	}
}

// stopForRestart/restartAfterGroupStop split AllForOne's two-phase
// "stop all, then restart all in spawn order" into steps a caller can
// sequence across the whole sibling set.
func (c *Cell) stopForRestart() {
	c.stateMu.Lock()
	c.state = StateRestarting
	old := c.behavior
	c.stateMu.Unlock()
	if s, ok := old.(Stopper); ok {
		s.Stopping(c.context(pid.ID{}))
	}
	c.mb.Suspend()
}

func (c *Cell) restartAfterGroupStop() {
	next := c.props.Producer()
	c.stateMu.Lock()
	c.behavior = next
	c.restartStats.NoteRestart()
	c.stateMu.Unlock()
	c.kernel.Metrics().RestartTotal(c.id.String())

	if s, ok := next.(Starter); ok {
		if err := s.Started(c.context(pid.ID{})); err != nil {
			c.reportFailure(err)
			return
		}
	}
	c.stateMu.Lock()
	c.state = StateRunning
	c.stateMu.Unlock()
	c.mb.ResumeProcessing()
}

func (c *Cell) childrenList() []*Cell {
	c.childrenMu.Lock()
	defer c.childrenMu.Unlock()

	out := make([]*Cell, 0, len(c.children))
	for _, id := range c.childOrder {
		if cell, ok := c.children[id]; ok {
			out = append(out, cell)
		}
	}
	return out
}

// ID returns the cell's identifier.
func (c *Cell) ID() pid.ID { return c.id }

// MailboxLen reports the current user-queue depth, the signal
// router.SmallestMailbox needs.
func (c *Cell) MailboxLen() int { return c.mb.Stats().UserLen }

// State returns the cell's current lifecycle state.
func (c *Cell) State() State { return c.currentState() }

// Stats returns a copy of the cell's restart bookkeeping, used by tests
// and cluster/system inspection tooling.
func (c *Cell) Stats() supervisor.Stats {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.restartStats
}

// SpawnRoot is the exported entry point the system facade uses for
// actors with no parent cell.
func SpawnRoot(k Kernel, props Props) (pid.ID, error) {
	return spawnRoot(k, props)
}
