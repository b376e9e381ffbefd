package supervisor_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kestrelactor/kestrel/supervisor"
)

var errBoom = errors.New("boom")

func TestDefaultStrategyRestartsUntilMaxRetries(t *testing.T) {
	s := supervisor.Default()
	stats := &supervisor.Stats{}
	now := time.Unix(0, 0)

	for i := 0; i < s.MaxRetries; i++ {
		d := s.Evaluate(stats, errBoom, now)
		require.Equal(t, supervisor.Restart, d, "retry %d should restart", i)
		now = now.Add(time.Millisecond)
	}

	// the (max_retries+1)-th failure within the window stops.
	d := s.Evaluate(stats, errBoom, now)
	require.Equal(t, supervisor.Stop, d)
}

func TestRestartWindowResetsAfterQuiescence(t *testing.T) {
	s := supervisor.Strategy{Scope: supervisor.OneForOne, MaxRetries: 1, Within: time.Second, Decide: supervisor.AlwaysRestart}
	stats := &supervisor.Stats{}
	now := time.Unix(0, 0)

	require.Equal(t, supervisor.Restart, s.Evaluate(stats, errBoom, now))
	// second failure inside the window exceeds MaxRetries=1 -> Stop
	require.Equal(t, supervisor.Stop, s.Evaluate(stats, errBoom, now.Add(100*time.Millisecond)))

	// but a failure after the window has quiesced restarts fresh
	later := now.Add(2 * time.Second)
	require.Equal(t, supervisor.Restart, s.Evaluate(stats, errBoom, later))
}

func TestUserMappingConsultedWithinBudget(t *testing.T) {
	mapping := func(reason error) supervisor.Directive {
		if errors.Is(reason, errBoom) {
			return supervisor.Resume
		}
		return supervisor.Restart
	}
	s := supervisor.Strategy{MaxRetries: 10, Within: time.Minute, Decide: mapping}
	stats := &supervisor.Stats{}

	d := s.Evaluate(stats, errBoom, time.Now())
	require.Equal(t, supervisor.Resume, d)
}

// Within any Within window, a child is restarted at most MaxRetries
// times; the (MaxRetries+1)-th failure yields Stop.
func TestRapidSupervisorRestartBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRetries := rapid.IntRange(0, 20).Draw(t, "maxRetries")
		failures := rapid.IntRange(0, 40).Draw(t, "failures")

		s := supervisor.Strategy{
			MaxRetries: maxRetries,
			Within:     time.Hour, // never quiesces across this test
			Decide:     supervisor.AlwaysRestart,
		}
		stats := &supervisor.Stats{}
		now := time.Unix(0, 0)

		for i := 1; i <= failures; i++ {
			d := s.Evaluate(stats, errBoom, now)
			if i <= maxRetries+1 {
				if i <= maxRetries {
					require.Equal(t, supervisor.Restart, d)
				} else {
					require.Equal(t, supervisor.Stop, d)
				}
			} else {
				// once stopped, further evaluation in this test's
				// simplified model keeps returning Stop since the
				// count never resets.
				require.Equal(t, supervisor.Stop, d)
			}
			now = now.Add(time.Millisecond)
		}
	})
}

func TestDefaultStrategyShape(t *testing.T) {
	s := supervisor.Default()
	require.Equal(t, supervisor.OneForOne, s.Scope)
	require.Equal(t, 10, s.MaxRetries)
	require.Equal(t, 10*time.Second, s.Within)
}
