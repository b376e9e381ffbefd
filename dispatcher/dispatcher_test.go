package dispatcher_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kestrelactor/kestrel/dispatcher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingSchedulable struct {
	runs  atomic.Int32
	done  chan struct{}
	onRun func()
}

func (c *countingSchedulable) RunQuantum(ctx context.Context) {
	c.runs.Add(1)
	if c.onRun != nil {
		c.onRun()
	}
	if c.done != nil {
		select {
		case c.done <- struct{}{}:
		default:
		}
	}
}

func TestScheduleRunsOnExactlyOneWorker(t *testing.T) {
	d := dispatcher.New(dispatcher.Config{Workers: 4})
	defer d.Shutdown(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	s := &countingSchedulable{onRun: wg.Done}

	require.NoError(t, d.Schedule(s))
	wg.Wait()

	require.Equal(t, int32(1), s.runs.Load())
}

func TestRoundRobinRunsEveryScheduledItem(t *testing.T) {
	d := dispatcher.New(dispatcher.Config{Workers: 4, Strategy: dispatcher.RoundRobin})
	defer d.Shutdown(context.Background())

	var wg sync.WaitGroup
	const n = 40
	wg.Add(n)

	seenWorkers := make(chan int, n)
	for i := 0; i < n; i++ {
		s := &countingSchedulable{onRun: func() {
			wg.Done()
			seenWorkers <- 1
		}}
		require.NoError(t, d.Schedule(s))
	}
	wg.Wait()
	close(seenWorkers)

	total := 0
	for range seenWorkers {
		total++
	}
	require.Equal(t, n, total)
}

func TestShutdownRejectsFurtherSchedule(t *testing.T) {
	d := dispatcher.New(dispatcher.Config{Workers: 2})
	require.NoError(t, d.Shutdown(context.Background()))

	err := d.Schedule(&countingSchedulable{})
	require.ErrorIs(t, err, dispatcher.ErrShuttingDown)
}

func TestShutdownWaitsForInFlightWithinTimeout(t *testing.T) {
	d := dispatcher.New(dispatcher.Config{Workers: 1, ShutdownTimeout: time.Second})

	started := make(chan struct{})
	release := make(chan struct{})
	s := &countingSchedulable{onRun: func() {
		close(started)
		<-release
	}}
	require.NoError(t, d.Schedule(s))

	<-started
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	require.NoError(t, d.Shutdown(context.Background()))
	require.Equal(t, int32(1), s.runs.Load())
}

func TestPriorityDispatcherDrainsHighBeforeLow(t *testing.T) {
	d := dispatcher.NewPriority(dispatcher.PriorityConfig{
		Workers:            1,
		Throughput:         10,
		HighPriorityRatio:  0.8,
		HighPriorityLevels: 1,
	})
	defer d.Shutdown(context.Background())

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	total := 10
	wg.Add(total)

	record := func(level int) func() {
		return func() {
			mu.Lock()
			order = append(order, level)
			mu.Unlock()
			wg.Done()
		}
	}

	// A blocking warmup item pins the single worker on one tick while we
	// enqueue the real burst underneath it, so the burst is fully queued
	// before the next nextBatch() call evaluates the ratio split —
	// otherwise the test would race the worker's wakeup.
	warmupStarted := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, d.SchedulePriority(&countingSchedulable{onRun: func() {
		close(warmupStarted)
		<-release
	}}, 0))
	<-warmupStarted

	for i := 0; i < 5; i++ {
		require.NoError(t, d.SchedulePriority(&countingSchedulable{onRun: record(4)}, 4))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, d.SchedulePriority(&countingSchedulable{onRun: record(0)}, 0))
	}
	close(release)

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	// the first entries processed should skew toward priority 0
	highCountInFirstHalf := 0
	for _, lvl := range order[:5] {
		if lvl == 0 {
			highCountInFirstHalf++
		}
	}
	require.GreaterOrEqual(t, highCountInFirstHalf, 4)
}
