// Package transport defines the remote transport contract the kernel
// hands non-local traffic to: wire framing, compression and rate limiting
// are owned by whatever implements Transport; the kernel only needs to
// hand it (identifier, envelope) pairs and get delivery or a terminal
// error back. CircuitBreaker wraps any Transport with per-address
// circuit breaking via github.com/sony/gobreaker, so a node that starts
// failing stops being hammered with connection attempts.
package transport

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kestrelactor/kestrel/mailbox"
	"github.com/kestrelactor/kestrel/pid"
)

// Config configures a Transport implementation's listener.
type Config struct {
	Host string
	Port int
}

// Connection is a single outbound link to one remote node.
type Connection interface {
	Send(target pid.ID, env mailbox.Envelope) error
	SendSystem(target pid.ID, msg mailbox.SystemMessage) error
	Recv() (mailbox.Envelope, pid.ID, error)
	Close() error
}

// Transport is the collaborator contract the system facade hands
// (identifier, envelope) pairs to for any non-local address.
type Transport interface {
	Start(cfg Config) error
	Connect(address string) (Connection, error)
}

// BreakerConfig tunes the circuit breaker wrapping each address.
type BreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// WithCircuitBreaker wraps inner so that Connect and every Send/SendSystem
// on the resulting Connection trip a per-address breaker after
// repeated failures, instead of retrying a node that is down on every
// single message.
func WithCircuitBreaker(inner Transport, cfg BreakerConfig) Transport {
	return &breakerTransport{inner: inner, cfg: cfg.withDefaults(), breakers: map[string]*gobreaker.CircuitBreaker[any]{}}
}

type breakerTransport struct {
	inner Transport
	cfg   BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func (t *breakerTransport) Start(cfg Config) error { return t.inner.Start(cfg) }

func (t *breakerTransport) Connect(address string) (Connection, error) {
	cb := t.breakerFor(address)
	conn, err := cb.Execute(func() (any, error) {
		return t.inner.Connect(address)
	})
	if err != nil {
		return nil, err
	}
	return &breakerConnection{inner: conn.(Connection), cb: cb}, nil
}

func (t *breakerTransport) breakerFor(address string) *gobreaker.CircuitBreaker[any] {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cb, ok := t.breakers[address]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "transport:" + address,
		MaxRequests: t.cfg.MaxRequests,
		Interval:    t.cfg.Interval,
		Timeout:     t.cfg.Timeout,
	})
	t.breakers[address] = cb
	return cb
}

type breakerConnection struct {
	inner Connection
	cb    *gobreaker.CircuitBreaker[any]
}

func (c *breakerConnection) Send(target pid.ID, env mailbox.Envelope) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.inner.Send(target, env)
	})
	return err
}

func (c *breakerConnection) SendSystem(target pid.ID, msg mailbox.SystemMessage) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.inner.SendSystem(target, msg)
	})
	return err
}

func (c *breakerConnection) Recv() (mailbox.Envelope, pid.ID, error) { return c.inner.Recv() }
func (c *breakerConnection) Close() error                            { return c.inner.Close() }
