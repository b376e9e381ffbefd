package actor_test

import (
	"context"
	"sync"

	"github.com/kestrelactor/kestrel/actor"
	"github.com/kestrelactor/kestrel/dispatcher"
	"github.com/kestrelactor/kestrel/logging"
	"github.com/kestrelactor/kestrel/mailbox"
	"github.com/kestrelactor/kestrel/metrics"
	"github.com/kestrelactor/kestrel/pid"
)

// testKernel is a minimal actor.Kernel good enough to exercise a cell
// tree in isolation, without pulling in the system package (which in
// turn depends on actor — this keeps the dependency direction one-way
// for tests).
type testKernel struct {
	reg  *pid.Registry
	gen  *pid.Generator
	disp *dispatcher.Dispatcher

	mu          sync.Mutex
	deadLetters []deadLetterRecord
}

type deadLetterRecord struct {
	target pid.ID
	reason string
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
	return dispatcherAdapter{k.disp}, nil
}

func (k *testKernel) NextID(prefix string) pid.ID { return k.gen.ReserveNamed(prefix) }

func (k *testKernel) DeadLetter(_ mailbox.Envelope, target pid.ID, reason string) {
	k.mu.Lock()
	k.deadLetters = append(k.deadLetters, deadLetterRecord{target: target, reason: reason})
	k.mu.Unlock()
}

func (k *testKernel) Logger() logging.Logger { return logging.Nop }

func (k *testKernel) Metrics() metrics.Sink { return metrics.Nop }

func (k *testKernel) Send(target pid.ID, env mailbox.Envelope) error {
	h, ok := k.reg.Lookup(target)
	if !ok {
		k.DeadLetter(env, target, "no such actor")
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

func (k *testKernel) shutdown() {
	_ = k.disp.Shutdown(context.Background())
}

type dispatcherAdapter struct {
	d *dispatcher.Dispatcher
}

func (a dispatcherAdapter) Schedule(s dispatcher.Schedulable, _ int) error {
	return a.d.Schedule(s)
}
