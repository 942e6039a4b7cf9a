package timesync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stamped struct {
	id string
	at time.Time
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return base.Add(time.Duration(sec * float64(time.Second)))
}

type pair struct{ a, b string }

func newTestSync(cfg Config) (*Synchronizer[stamped, stamped], *[]pair) {
	s := New(cfg,
		func(v stamped) time.Time { return v.at },
		func(v stamped) time.Time { return v.at },
	)
	var got []pair
	s.RegisterCallback(func(a, b stamped) { got = append(got, pair{a.id, b.id}) })
	return s, &got
}

func TestSynchronizer_PoseThenPlanWithinTolerance(t *testing.T) {
	s, got := newTestSync(DefaultConfig())

	s.AddFirst(stamped{"pose", at(10.0)})
	assert.Empty(t, *got)

	s.AddSecond(stamped{"plan", at(10.05)})
	require.Equal(t, []pair{{"pose", "plan"}}, *got)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Pairs)
	assert.Equal(t, 0, st.PendingFirst)
	assert.Equal(t, 0, st.PendingSecond)
}

func TestSynchronizer_OutsideToleranceIsSilent(t *testing.T) {
	s, got := newTestSync(DefaultConfig())

	s.AddFirst(stamped{"pose", at(10.0)})
	s.AddSecond(stamped{"plan", at(10.5)})

	assert.Empty(t, *got)
	assert.Equal(t, uint64(0), s.Stats().Pairs)
}

func TestSynchronizer_ToleranceBoundaryIsInclusive(t *testing.T) {
	s, got := newTestSync(Config{Tolerance: 100 * time.Millisecond, QueueSize: 10, Horizon: time.Second})

	s.AddFirst(stamped{"pose", base})
	s.AddSecond(stamped{"plan", base.Add(100 * time.Millisecond)})

	assert.Len(t, *got, 1)
}

func TestSynchronizer_PicksMostRecentWithinWindow(t *testing.T) {
	s, got := newTestSync(DefaultConfig())

	s.AddFirst(stamped{"p1", at(10.00)})
	s.AddFirst(stamped{"p2", at(10.04)})
	s.AddFirst(stamped{"p3", at(10.08)})
	s.AddSecond(stamped{"plan", at(10.05)})

	require.Equal(t, []pair{{"p3", "plan"}}, *got)

	// Older poses are discarded with the emitted pair.
	st := s.Stats()
	assert.Equal(t, uint64(2), st.DroppedFirst)
	assert.Equal(t, 0, st.PendingFirst)
}

func TestSynchronizer_TieBreakPrefersLaterOlderStamp(t *testing.T) {
	s, got := newTestSync(DefaultConfig())

	// Both candidate pairs share the newer stamp (the plan at 10.10); the
	// pose at 10.06 is later than the one at 10.02 and wins.
	s.AddFirst(stamped{"early", at(10.02)})
	s.AddFirst(stamped{"late", at(10.06)})
	s.AddSecond(stamped{"plan", at(10.10)})

	require.Equal(t, []pair{{"late", "plan"}}, *got)
}

func TestSynchronizer_OutOfOrderArrival(t *testing.T) {
	s, got := newTestSync(DefaultConfig())

	s.AddSecond(stamped{"plan", at(20.00)})
	s.AddFirst(stamped{"newer", at(20.03)})
	s.AddFirst(stamped{"older", at(19.98)})

	// The first pose already paired with the plan; the late older pose has
	// no partner left.
	require.Equal(t, []pair{{"newer", "plan"}}, *got)
	assert.Equal(t, 1, s.Stats().PendingFirst)
}

func TestSynchronizer_ConsumedSamplesNotReused(t *testing.T) {
	s, got := newTestSync(DefaultConfig())

	s.AddFirst(stamped{"pose", at(10.0)})
	s.AddSecond(stamped{"plan1", at(10.01)})
	s.AddSecond(stamped{"plan2", at(10.02)})

	assert.Equal(t, []pair{{"pose", "plan1"}}, *got)

	s.AddFirst(stamped{"pose2", at(10.03)})
	assert.Equal(t, []pair{{"pose", "plan1"}, {"pose2", "plan2"}}, *got)
}

func TestSynchronizer_HorizonDropsStaleSamples(t *testing.T) {
	s, got := newTestSync(Config{Tolerance: 100 * time.Millisecond, QueueSize: 10, Horizon: 500 * time.Millisecond})

	s.AddFirst(stamped{"stale", at(10.0)})
	s.AddFirst(stamped{"fresh", at(11.0)})

	st := s.Stats()
	assert.Equal(t, uint64(1), st.DroppedFirst)
	assert.Equal(t, 1, st.PendingFirst)

	// The pose this plan would have matched is gone.
	s.AddSecond(stamped{"late", at(10.05)})
	assert.Empty(t, *got)

	// The next plan ages the late one out and pairs with the fresh pose.
	s.AddSecond(stamped{"plan", at(11.0)})
	require.Equal(t, []pair{{"fresh", "plan"}}, *got)
	assert.Equal(t, uint64(1), s.Stats().DroppedSecond)
	assert.Equal(t, 0, s.Stats().PendingSecond)
}

func TestSynchronizer_RecoversFromStampOutliers(t *testing.T) {
	tests := []struct {
		name    string
		outlier func(s *Synchronizer[stamped, stamped])
	}{
		{"future plan", func(s *Synchronizer[stamped, stamped]) { s.AddSecond(stamped{"bogus", at(3600)}) }},
		{"future pose", func(s *Synchronizer[stamped, stamped]) { s.AddFirst(stamped{"bogus", at(3600)}) }},
		{"past plan", func(s *Synchronizer[stamped, stamped]) { s.AddSecond(stamped{"bogus", at(-3600)}) }},
		{"past pose", func(s *Synchronizer[stamped, stamped]) { s.AddFirst(stamped{"bogus", at(-3600)}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, got := newTestSync(DefaultConfig())

			tt.outlier(s)
			const cycles = 100
			for i := 0; i < cycles; i++ {
				stamp := at(10.0 + float64(i)*0.1)
				s.AddFirst(stamped{"pose", stamp})
				s.AddSecond(stamped{"plan", stamp})
			}

			assert.Len(t, *got, cycles)
			for _, p := range *got {
				assert.NotEqual(t, "bogus", p.a)
				assert.NotEqual(t, "bogus", p.b)
			}
		})
	}
}

func TestSynchronizer_FarPastSampleDoesNotStall(t *testing.T) {
	s, got := newTestSync(DefaultConfig())

	s.AddFirst(stamped{"p1", at(10.0)})
	s.AddFirst(stamped{"rewind", at(-50.0)})
	s.AddFirst(stamped{"p2", at(10.1)})
	s.AddSecond(stamped{"plan", at(10.1)})

	require.Equal(t, []pair{{"p2", "plan"}}, *got)
}

func TestSynchronizer_QueueSizeBound(t *testing.T) {
	s, _ := newTestSync(Config{Tolerance: time.Millisecond, QueueSize: 3, Horizon: time.Minute})

	for i := 0; i < 5; i++ {
		s.AddFirst(stamped{"pose", at(float64(i))})
	}

	st := s.Stats()
	assert.Equal(t, 3, st.PendingFirst)
	assert.Equal(t, uint64(2), st.DroppedFirst)
}

func TestSynchronizer_Reset(t *testing.T) {
	s, got := newTestSync(DefaultConfig())

	s.AddFirst(stamped{"pose", at(10.0)})
	s.Reset()
	s.AddSecond(stamped{"plan", at(10.0)})

	assert.Empty(t, *got)
	assert.Equal(t, 1, s.Stats().PendingSecond)
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := New(Config{Tolerance: -time.Second},
		func(v stamped) time.Time { return v.at },
		func(v stamped) time.Time { return v.at },
	)
	cfg := s.Config()
	assert.Equal(t, time.Duration(0), cfg.Tolerance)
	assert.Equal(t, 10, cfg.QueueSize)
	assert.Equal(t, time.Second, cfg.Horizon)
}

func TestSynchronizer_CallbackMayReenter(t *testing.T) {
	s := New(DefaultConfig(),
		func(v stamped) time.Time { return v.at },
		func(v stamped) time.Time { return v.at },
	)
	var stats Stats
	s.RegisterCallback(func(a, b stamped) {
		// Must not deadlock: the lock is released before the callback.
		stats = s.Stats()
	})

	s.AddFirst(stamped{"pose", at(1)})
	s.AddSecond(stamped{"plan", at(1)})

	assert.Equal(t, uint64(1), stats.Pairs)
}

func TestSynchronizer_ConcurrentAdds(t *testing.T) {
	s := New(Config{Tolerance: 10 * time.Millisecond, QueueSize: 10, Horizon: time.Second},
		func(v stamped) time.Time { return v.at },
		func(v stamped) time.Time { return v.at },
	)
	var mu sync.Mutex
	pairs := 0
	s.RegisterCallback(func(a, b stamped) {
		mu.Lock()
		pairs++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.AddFirst(stamped{"pose", base.Add(time.Duration(i) * 50 * time.Millisecond)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.AddSecond(stamped{"plan", base.Add(time.Duration(i) * 50 * time.Millisecond)})
		}
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(pairs), s.Stats().Pairs)
	assert.LessOrEqual(t, pairs, 200)
}
