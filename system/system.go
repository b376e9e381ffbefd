// Package system implements the System Facade: the public
// entry point for spawning and stopping actors, resolving addresses,
// and orchestrating shutdown. It is the Kernel implementation the actor
// package's Cell depends on, and the only place that knows about every
// other kernel package (dispatcher, transport, eventstream, metrics).
package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelactor/kestrel/actor"
	"github.com/kestrelactor/kestrel/dispatcher"
	"github.com/kestrelactor/kestrel/eventstream"
	"github.com/kestrelactor/kestrel/logging"
	"github.com/kestrelactor/kestrel/mailbox"
	"github.com/kestrelactor/kestrel/metrics"
	"github.com/kestrelactor/kestrel/pid"
	"github.com/kestrelactor/kestrel/transport"
)

// Errors from the spawn/send taxonomy not already defined closer to
// their owning package.
var (
	ErrSystemShuttingDown = errors.New("system: shutting down")
	ErrNoRemoteAvailable  = errors.New("system: no remote transport configured")
	ErrUnknownDispatcher  = errors.New("system: unknown dispatcher id")
)

// Config is the system-level configuration.
type Config struct {
	Host string
	Port int

	// Dispatchers maps dispatcher_id -> configuration. "default" is
	// created automatically with dispatcher.Config{} zero-value
	// (CPU-count workers) if not present and PriorityDispatchers is
	// empty; otherwise no "default" is added.
	Dispatchers map[string]dispatcher.Config
	// PriorityDispatchers maps dispatcher_id -> priority-aware
	// dispatcher configuration, disjoint from Dispatchers.
	PriorityDispatchers map[string]dispatcher.PriorityConfig

	DeadLetterTimeout time.Duration
	ShutdownTimeout   time.Duration

	Logger    logging.Logger
	Transport transport.Transport
	Metrics   metrics.Sink

	// RegistrySampleInterval governs how often Metrics.RegistrySize is
	// sampled when Metrics is set; default 5s.
	RegistrySampleInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = pid.Local
	}
	if c.Dispatchers == nil {
		c.Dispatchers = map[string]dispatcher.Config{}
	}
	if _, ok := c.Dispatchers["default"]; !ok && len(c.PriorityDispatchers) == 0 {
		c.Dispatchers["default"] = dispatcher.Config{}
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.DeadLetterTimeout <= 0 {
		c.DeadLetterTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.Nop
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Nop
	}
	if c.RegistrySampleInterval <= 0 {
		c.RegistrySampleInterval = 5 * time.Second
	}
	return c
}

// scheduler is the common shape both dispatcher variants are adapted to
// so actor.Cell never needs to know which one backs its dispatcher_id.
type scheduler interface {
	Schedule(s dispatcher.Schedulable, priority int) error
	Shutdown(ctx context.Context) error
}

type plainAdapter struct{ d *dispatcher.Dispatcher }

func (a plainAdapter) Schedule(s dispatcher.Schedulable, _ int) error { return a.d.Schedule(s) }
func (a plainAdapter) Shutdown(ctx context.Context) error             { return a.d.Shutdown(ctx) }

type priorityAdapter struct {
	d *dispatcher.PriorityDispatcher
}

func (a priorityAdapter) Schedule(s dispatcher.Schedulable, p int) error {
	return a.d.SchedulePriority(s, p)
}
func (a priorityAdapter) Shutdown(ctx context.Context) error { return a.d.Shutdown(ctx) }

// System is the runtime facade: spawn, stop, send, and shutdown
// orchestration, plus the Kernel surface every actor.Cell is built
// against.
type System struct {
	cfg Config

	registry *pid.Registry
	gen      *pid.Generator

	dispatchersMu sync.RWMutex
	dispatchers   map[string]scheduler

	events *eventstream.Stream

	transportMu sync.Mutex
	conns       map[string]transport.Connection

	extensionsMu sync.Mutex
	extensions   map[string]any

	shuttingDown atomic.Bool
	stopSampling chan struct{}
}

// New constructs a System and its default dispatcher(s). Call Shutdown
// when done to release dispatcher workers.
func New(cfg Config) *System {
	cfg = cfg.withDefaults()

	s := &System{
		cfg:          cfg,
		registry:     pid.NewRegistry(),
		gen:          pid.NewGenerator(cfg.Host),
		dispatchers:  make(map[string]scheduler),
		events:       eventstream.New(eventstream.DefaultRecentCapacity),
		conns:        make(map[string]transport.Connection),
		extensions:   make(map[string]any),
		stopSampling: make(chan struct{}),
	}

	for id, dc := range cfg.Dispatchers {
		s.dispatchers[id] = plainAdapter{dispatcher.New(dc)}
	}
	for id, pc := range cfg.PriorityDispatchers {
		s.dispatchers[id] = priorityAdapter{dispatcher.NewPriority(pc)}
	}

	if cfg.Transport != nil {
		_ = cfg.Transport.Start(transport.Config{Host: cfg.Host, Port: cfg.Port})
	}

	go s.sampleRegistrySize()

	return s
}

func (s *System) sampleRegistrySize() {
	ticker := time.NewTicker(s.cfg.RegistrySampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ids := s.registry.Snapshot()
			s.cfg.Metrics.RegistrySize(len(ids))
			for _, id := range ids {
				if n, ok := s.MailboxLen(id); ok {
					s.cfg.Metrics.MailboxDepth(id.String(), n)
				}
			}
		case <-s.stopSampling:
			return
		}
	}
}

// Events is the system-wide dead-letter / lifecycle event stream;
// subscribers observe abandoned deliveries without ever blocking a
// sender.
func (s *System) Events() *eventstream.Stream { return s.events }

// Extension looks up a named singleton in the system's typed keyed
// bag.
func (s *System) Extension(name string) (any, bool) {
	s.extensionsMu.Lock()
	defer s.extensionsMu.Unlock()
	v, ok := s.extensions[name]
	return v, ok
}

// RegisterExtension installs a named singleton.
func (s *System) RegisterExtension(name string, value any) {
	s.extensionsMu.Lock()
	s.extensions[name] = value
	s.extensionsMu.Unlock()
}

// Spawn creates a new root-level actor. To spawn a child of
// an existing actor, use the Context passed into that actor's Behavior
// instead — Spawn here is only for top-level actors with no parent
// cell.
func (s *System) Spawn(props actor.Props) (pid.ID, error) {
	if s.shuttingDown.Load() {
		return pid.ID{}, ErrSystemShuttingDown
	}
	return actor.SpawnRoot(s, props)
}

// Stop asks id to stop; see Context.Stop for the
// cancellation semantics.
func (s *System) Stop(id pid.ID) error {
	return s.SendSystem(id, mailbox.SystemMessage{Kind: mailbox.SysStop})
}

// Send delivers env to id, with whatever Sender env carries. Most callers
// reach this indirectly through Context.Send from inside a Behavior.
func (s *System) Send(id pid.ID, env mailbox.Envelope) error {
	if id.Address == pid.Local || id.Address == s.cfg.Host || id.Address == "" {
		h, ok := s.registry.Lookup(id)
		if !ok {
			s.DeadLetter(env, id, "no such actor")
			return fmt.Errorf("system: %w: %s", errDeadLetter, id)
		}
		err := h.Enqueue(env)
		if err != nil {
			s.DeadLetter(env, id, err.Error())
		}
		return err
	}
	return s.sendRemote(id, env)
}

// SendSystem is Send's system-message counterpart.
func (s *System) SendSystem(id pid.ID, msg mailbox.SystemMessage) error {
	if id.Address == pid.Local || id.Address == s.cfg.Host || id.Address == "" {
		h, ok := s.registry.Lookup(id)
		if !ok {
			return fmt.Errorf("system: %w: %s", errDeadLetter, id)
		}
		return h.EnqueueSystem(msg)
	}
	return s.sendSystemRemote(id, msg)
}

var errDeadLetter = errors.New("dead letter")

func (s *System) sendRemote(id pid.ID, env mailbox.Envelope) error {
	if s.cfg.Transport == nil {
		return ErrNoRemoteAvailable
	}
	conn, err := s.connFor(id.Address)
	if err != nil {
		return err
	}
	return conn.Send(id, env)
}

func (s *System) sendSystemRemote(id pid.ID, msg mailbox.SystemMessage) error {
	if s.cfg.Transport == nil {
		return ErrNoRemoteAvailable
	}
	conn, err := s.connFor(id.Address)
	if err != nil {
		return err
	}
	return conn.SendSystem(id, msg)
}

func (s *System) connFor(address string) (transport.Connection, error) {
	s.transportMu.Lock()
	defer s.transportMu.Unlock()

	if c, ok := s.conns[address]; ok {
		return c, nil
	}
	c, err := s.cfg.Transport.Connect(address)
	if err != nil {
		return nil, err
	}
	s.conns[address] = c
	return c, nil
}

// --- actor.Kernel implementation ---

func (s *System) Registry() *pid.Registry { return s.registry }

func (s *System) Scheduler(dispatcherID string) (actor.Scheduler, error) {
	s.dispatchersMu.RLock()
	defer s.dispatchersMu.RUnlock()

	sch, ok := s.dispatchers[dispatcherID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDispatcher, dispatcherID)
	}
	return kernelScheduler{s: sch, dispatcherID: dispatcherID, metrics: s.cfg.Metrics}, nil
}

type kernelScheduler struct {
	s            scheduler
	dispatcherID string
	metrics      metrics.Sink
}

func (k kernelScheduler) Schedule(s dispatcher.Schedulable, priority int) error {
	start := time.Now()
	err := k.s.Schedule(s, priority)
	k.metrics.ScheduleLatency(k.dispatcherID, time.Since(start))
	return err
}

func (s *System) NextID(prefix string) pid.ID {
	return s.gen.ReserveNamed(prefix)
}

func (s *System) DeadLetter(env mailbox.Envelope, target pid.ID, reason string) {
	s.events.Publish(eventstream.DeadLetter{
		Target:          target,
		Sender:          env.Sender,
		PayloadTypeName: typeName(env.Payload),
		Reason:          reason,
	})
	s.cfg.Metrics.DeadLetterTotal(reason)
}

func (s *System) Logger() logging.Logger { return s.cfg.Logger }

func (s *System) Metrics() metrics.Sink { return s.cfg.Metrics }

func (s *System) MailboxLen(id pid.ID) (int, bool) {
	h, ok := s.registry.Lookup(id)
	if !ok {
		return 0, false
	}
	sizer, ok := h.(interface{ MailboxLen() int })
	if !ok {
		return 0, false
	}
	return sizer.MailboxLen(), true
}

// Shutdown orchestrates system-wide teardown: stop
// accepting spawns, Stop every registered actor, wait for the registry
// to drain (bounded by ShutdownTimeout), then shut down every
// dispatcher.
func (s *System) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)
	close(s.stopSampling)

	deadline := time.Now().Add(s.cfg.ShutdownTimeout)

	for _, id := range s.registry.Snapshot() {
		_ = s.Stop(id)
	}

	for s.registry.Len() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.dispatchersMu.RLock()
	defer s.dispatchersMu.RUnlock()
	for _, sch := range s.dispatchers {
		if err := sch.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v)
}
