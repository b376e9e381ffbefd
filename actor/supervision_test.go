package actor_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelactor/kestrel/actor"
	"github.com/kestrelactor/kestrel/mailbox"
	"github.com/kestrelactor/kestrel/pid"
	"github.com/kestrelactor/kestrel/supervisor"
)

// failOnDemand fails its Receive for failMsg payloads.
type failOnDemand struct{}

func (f *failOnDemand) Receive(ctx *actor.Context, payload any) error {
	if _, ok := payload.(failMsg); ok {
		return errors.New("induced failure")
	}
	return nil
}

// spawnerBehavior spawns one child with the given props in Started and
// reports the child's id.
type spawnerBehavior struct {
	childProps actor.Props
	childID    chan pid.ID
}

func (s *spawnerBehavior) Started(ctx *actor.Context) error {
	id, err := ctx.Spawn(s.childProps)
	if err != nil {
		return err
	}
	select {
	case s.childID <- id:
	default:
	}
	return nil
}

func (s *spawnerBehavior) Receive(ctx *actor.Context, payload any) error { return nil }

func TestEscalationClimbsToGrandparent(t *testing.T) {
	k := newTestKernel()
	defer k.shutdown()

	var mu sync.Mutex
	var grandparentSaw []error
	parentStarts := 0
	childIDCh := make(chan pid.ID, 1)

	// C fails on demand.
	childProps := actor.FromProducer(func() actor.Behavior { return &failOnDemand{} })

	// P spawns C and escalates every failure; its producer count exposes
	// restarts applied to P itself.
	parentProps := actor.Props{
		Producer: func() actor.Behavior {
			mu.Lock()
			parentStarts++
			mu.Unlock()
			return &spawnerBehavior{childProps: childProps, childID: childIDCh}
		},
		Supervisor: supervisor.Strategy{
			Scope:      supervisor.OneForOne,
			MaxRetries: 10,
			Within:     10 * time.Second,
			Decide:     func(error) supervisor.Directive { return supervisor.Escalate },
		},
	}.WithDefaults()

	// G records the reason it is consulted with and restarts P.
	grandProps := actor.Props{
		Producer: func() actor.Behavior {
			return &spawnerBehavior{childProps: parentProps, childID: make(chan pid.ID, 1)}
		},
		Supervisor: supervisor.Strategy{
			Scope:      supervisor.OneForOne,
			MaxRetries: 10,
			Within:     10 * time.Second,
			Decide: func(reason error) supervisor.Directive {
				mu.Lock()
				grandparentSaw = append(grandparentSaw, reason)
				mu.Unlock()
				return supervisor.Restart
			},
		},
	}.WithDefaults()

	_, err := actor.SpawnRoot(k, grandProps)
	require.NoError(t, err)

	var childID pid.ID
	select {
	case childID = <-childIDCh:
	case <-time.After(time.Second):
		t.Fatal("child was never spawned")
	}

	mu.Lock()
	startsBefore := parentStarts
	mu.Unlock()

	require.NoError(t, k.Send(childID, mailbox.Envelope{Payload: failMsg{}}))

	eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(grandparentSaw) == 1
	})

	mu.Lock()
	require.ErrorContains(t, grandparentSaw[0], "induced failure",
		"grandparent must be consulted with the original reason")
	mu.Unlock()

	// G's Restart directive lands on P, so P's producer runs again.
	eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return parentStarts > startsBefore
	})
}

// A top-level actor has no parent; its own strategy decides what a
// failure does to it.
func TestRootActorRestartsPerOwnStrategy(t *testing.T) {
	k := newTestKernel()
	defer k.shutdown()

	var mu sync.Mutex
	builds := 0
	props := actor.Props{
		Producer: func() actor.Behavior {
			mu.Lock()
			builds++
			mu.Unlock()
			return &failOnDemand{}
		},
	}.WithDefaults()

	id, err := actor.SpawnRoot(k, props)
	require.NoError(t, err)

	require.NoError(t, k.Send(id, mailbox.Envelope{Payload: failMsg{}}))

	eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return builds == 2
	})

	_, ok := k.Registry().Lookup(id)
	require.True(t, ok, "a restarted root actor keeps its registry entry")
}

func TestRootActorEscalateDegradesToStop(t *testing.T) {
	k := newTestKernel()
	defer k.shutdown()

	props := actor.Props{
		Producer: func() actor.Behavior { return &failOnDemand{} },
		Supervisor: supervisor.Strategy{
			Scope:      supervisor.OneForOne,
			MaxRetries: 10,
			Within:     10 * time.Second,
			Decide:     func(error) supervisor.Directive { return supervisor.Escalate },
		},
	}.WithDefaults()

	id, err := actor.SpawnRoot(k, props)
	require.NoError(t, err)

	require.NoError(t, k.Send(id, mailbox.Envelope{Payload: failMsg{}}))

	eventually(t, 2*time.Second, func() bool {
		_, ok := k.Registry().Lookup(id)
		return !ok
	})
}

// watchCmd asks the receiving behavior to watch the carried identifier.
type watchCmd struct{ target pid.ID }

type watchingBehavior struct {
	terminated chan pid.ID
}

func (w *watchingBehavior) Receive(ctx *actor.Context, payload any) error {
	if cmd, ok := payload.(watchCmd); ok {
		ctx.Watch(cmd.target)
	}
	return nil
}

func (w *watchingBehavior) Terminated(ctx *actor.Context, id pid.ID) {
	select {
	case w.terminated <- id:
	default:
	}
}

func TestWatchAfterTerminationSynthesizesTerminated(t *testing.T) {
	k := newTestKernel()
	defer k.shutdown()

	targetID, err := actor.SpawnRoot(k, actor.FromProducer(func() actor.Behavior { return noopBehavior{} }))
	require.NoError(t, err)

	require.NoError(t, k.SendSystem(targetID, mailbox.SystemMessage{Kind: mailbox.SysStop}))
	eventually(t, time.Second, func() bool {
		_, ok := k.Registry().Lookup(targetID)
		return !ok
	})

	w := &watchingBehavior{terminated: make(chan pid.ID, 1)}
	watcherID, err := actor.SpawnRoot(k, actor.FromProducer(func() actor.Behavior { return w }))
	require.NoError(t, err)

	require.NoError(t, k.Send(watcherID, mailbox.Envelope{Payload: watchCmd{target: targetID}}))

	select {
	case id := <-w.terminated:
		require.Equal(t, targetID, id, "watching a dead actor must synthesize exactly one Terminated")
	case <-time.After(time.Second):
		t.Fatal("no synthetic Terminated arrived")
	}
}

func TestMultipleStopsYieldOneStoppedTransition(t *testing.T) {
	k := newTestKernel()
	defer k.shutdown()

	stopped := make(chan struct{}, 4)
	id, err := actor.SpawnRoot(k, actor.FromProducer(func() actor.Behavior {
		return &stopRecorder{stopped: stopped}
	}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		// Later Stops may race the registry detach; either delivery or a
		// lookup failure is acceptable, never a second Stopped.
		_ = k.SendSystem(id, mailbox.SystemMessage{Kind: mailbox.SysStop})
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("actor never stopped")
	}

	select {
	case <-stopped:
		t.Fatal("Stopped hook ran more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

type stopRecorder struct {
	stopped chan struct{}
}

func (s *stopRecorder) Receive(ctx *actor.Context, payload any) error { return nil }
func (s *stopRecorder) Stopping(ctx *actor.Context) error             { return nil }
func (s *stopRecorder) Stopped(ctx *actor.Context)                    { s.stopped <- struct{}{} }
