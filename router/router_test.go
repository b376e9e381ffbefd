package router_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kestrelactor/kestrel/actor"
	"github.com/kestrelactor/kestrel/dispatcher"
	"github.com/kestrelactor/kestrel/logging"
	"github.com/kestrelactor/kestrel/mailbox"
	"github.com/kestrelactor/kestrel/metrics"
	"github.com/kestrelactor/kestrel/pid"
	"github.com/kestrelactor/kestrel/router"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testKernel mirrors actor_test's testKernel (package-local, unexported
// there); routing tests need their own kernel stand-in for the same
// reason: keep the dependency direction one-way, actor/router -> no
// system import.
type testKernel struct {
	reg  *pid.Registry
	gen  *pid.Generator
	disp *dispatcher.Dispatcher
}

func newTestKernel() *testKernel {
	return &testKernel{
		reg:  pid.NewRegistry(),
		gen:  pid.NewGenerator(pid.Local),
		disp: dispatcher.New(dispatcher.Config{Workers: 4}),
	}
}

func (k *testKernel) Registry() *pid.Registry { return k.reg }
func (k *testKernel) Scheduler(string) (actor.Scheduler, error) {
	return schedAdapter{k.disp}, nil
}
func (k *testKernel) NextID(prefix string) pid.ID                 { return k.gen.ReserveNamed(prefix) }
func (k *testKernel) DeadLetter(mailbox.Envelope, pid.ID, string) {}
func (k *testKernel) Logger() logging.Logger                      { return logging.Nop }
func (k *testKernel) Metrics() metrics.Sink                       { return metrics.Nop }

func (k *testKernel) Send(target pid.ID, env mailbox.Envelope) error {
	h, ok := k.reg.Lookup(target)
	if !ok {
		return mailbox.ErrMailboxClosed
	}
	return h.Enqueue(env)
}

func (k *testKernel) SendSystem(target pid.ID, msg mailbox.SystemMessage) error {
	h, ok := k.reg.Lookup(target)
	if !ok {
		return mailbox.ErrMailboxClosed
	}
	return h.EnqueueSystem(msg)
}

func (k *testKernel) MailboxLen(id pid.ID) (int, bool) {
	h, ok := k.reg.Lookup(id)
	if !ok {
		return 0, false
	}
	sizer, ok := h.(interface{ MailboxLen() int })
	if !ok {
		return 0, false
	}
	return sizer.MailboxLen(), true
}

func (k *testKernel) shutdown() { _ = k.disp.Shutdown(context.Background()) }

type schedAdapter struct{ d *dispatcher.Dispatcher }

func (a schedAdapter) Schedule(s dispatcher.Schedulable, _ int) error { return a.d.Schedule(s) }

// sinkBehavior records every payload it receives, identified by which
// routee instance got it.
type sinkBehavior struct {
	mu  sync.Mutex
	log []any
}

func (s *sinkBehavior) Receive(ctx *actor.Context, payload any) error {
	s.mu.Lock()
	s.log = append(s.log, payload)
	s.mu.Unlock()
	return nil
}

func (s *sinkBehavior) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

func spawnSink(t *testing.T, k *testKernel) (pid.ID, *sinkBehavior) {
	t.Helper()
	sink := &sinkBehavior{}
	id, err := actor.SpawnRoot(k, actor.FromProducer(func() actor.Behavior { return sink }))
	require.NoError(t, err)
	return id, sink
}

func eventually(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, fn(), "condition not met within %s", timeout)
}

func TestBroadcastDeliversToEveryRoutee(t *testing.T) {
	k := newTestKernel()
	defer k.shutdown()

	a, sinkA := spawnSink(t, k)
	b, sinkB := spawnSink(t, k)

	rid, err := actor.SpawnRoot(k, actor.FromProducer(router.New(router.Config{
		Strategy: router.Broadcast,
		Routees:  []pid.ID{a, b},
	})))
	require.NoError(t, err)

	h, ok := k.Registry().Lookup(rid)
	require.True(t, ok)
	require.NoError(t, h.Enqueue(mailbox.Envelope{Payload: "hi"}))

	eventually(t, time.Second, func() bool { return sinkA.count() == 1 && sinkB.count() == 1 })
}

func TestNoRouteeErrorsRatherThanPanicking(t *testing.T) {
	k := newTestKernel()
	defer k.shutdown()

	rid, err := actor.SpawnRoot(k, actor.FromProducer(router.New(router.Config{Strategy: router.RoundRobin})))
	require.NoError(t, err)

	h, ok := k.Registry().Lookup(rid)
	require.True(t, ok)
	require.NoError(t, h.Enqueue(mailbox.Envelope{Payload: "hi"}))

	// The router's Receive returns router.ErrNoRoutee internally; this
	// cannot panic the dispatcher worker. Give it a moment and confirm
	// the router cell is still alive and reachable.
	time.Sleep(20 * time.Millisecond)
	_, ok = k.Registry().Lookup(rid)
	require.True(t, ok)
}

func TestRoundRobinCyclesThroughRoutees(t *testing.T) {
	k := newTestKernel()
	defer k.shutdown()

	a, sinkA := spawnSink(t, k)
	b, sinkB := spawnSink(t, k)

	rid, err := actor.SpawnRoot(k, actor.FromProducer(router.New(router.Config{
		Strategy: router.RoundRobin,
		Routees:  []pid.ID{a, b},
	})))
	require.NoError(t, err)

	h, ok := k.Registry().Lookup(rid)
	require.True(t, ok)
	for i := 0; i < 4; i++ {
		require.NoError(t, h.Enqueue(mailbox.Envelope{Payload: i}))
	}

	eventually(t, time.Second, func() bool {
		return sinkA.count()+sinkB.count() == 4
	})
	require.Equal(t, 2, sinkA.count())
	require.Equal(t, 2, sinkB.count())
}

func TestConsistentHashRoutesSameKeyToSameRoutee(t *testing.T) {
	k := newTestKernel()
	defer k.shutdown()

	a, sinkA := spawnSink(t, k)
	b, sinkB := spawnSink(t, k)

	rid, err := actor.SpawnRoot(k, actor.FromProducer(router.New(router.Config{
		Strategy: router.ConsistentHash,
		Routees:  []pid.ID{a, b},
	})))
	require.NoError(t, err)

	h, ok := k.Registry().Lookup(rid)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Enqueue(mailbox.Envelope{
			Payload: router.RoutedEnvelope{HashKey: "tenant-42", Payload: i},
		}))
	}

	// A stable key must pin every send to one routee; which one it is
	// depends only on the hash.
	eventually(t, time.Second, func() bool { return sinkA.count()+sinkB.count() == 5 })
	require.True(t, sinkA.count() == 5 || sinkB.count() == 5,
		"a single hash key must never split across routees")
}

func TestAddRouteeIsIdempotent(t *testing.T) {
	k := newTestKernel()
	defer k.shutdown()

	a, _ := spawnSink(t, k)

	rid, err := actor.SpawnRoot(k, actor.FromProducer(router.New(router.Config{Strategy: router.Broadcast})))
	require.NoError(t, err)

	h, ok := k.Registry().Lookup(rid)
	require.True(t, ok)

	reportCh := make(chan []pid.ID, 1)
	require.NoError(t, h.Enqueue(mailbox.Envelope{Payload: router.AddRoutee{ID: a}}))
	require.NoError(t, h.Enqueue(mailbox.Envelope{Payload: router.AddRoutee{ID: a}}))

	watcherID, err := actor.SpawnRoot(k, actor.FromProducer(func() actor.Behavior {
		return getRouteesWatcher{reportCh}
	}))
	require.NoError(t, err)

	require.NoError(t, k.Send(rid, mailbox.Envelope{Payload: router.GetRoutees{}, Sender: watcherID}))

	select {
	case routees := <-reportCh:
		require.Len(t, routees, 1, "AddRoutee must be idempotent per identity")
	case <-time.After(time.Second):
		t.Fatal("GetRoutees never replied")
	}
}

type getRouteesWatcher struct{ ch chan []pid.ID }

func (g getRouteesWatcher) Receive(ctx *actor.Context, payload any) error {
	if routees, ok := payload.([]pid.ID); ok {
		select {
		case g.ch <- routees:
		default:
		}
	}
	return nil
}
