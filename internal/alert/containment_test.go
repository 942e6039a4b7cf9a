package alert

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/banshee-data/trajectory.follower/internal/msgs"
	"github.com/banshee-data/trajectory.follower/internal/shutdown"
	"github.com/banshee-data/trajectory.follower/internal/timeutil"
)

type recordingSender struct {
	mu     sync.Mutex
	alerts []msgs.SystemAlert
	gate   *shutdown.Gate
	// stateAtSend records the gate state observed when each alert was sent.
	stateAtSend []shutdown.State
	err         error
}

func (s *recordingSender) SendAlert(a msgs.SystemAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	if s.gate != nil {
		s.stateAtSend = append(s.stateAtSend, s.gate.State())
	}
	return s.err
}

func (s *recordingSender) sent() []msgs.SystemAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]msgs.SystemAlert(nil), s.alerts...)
}

func newTestContainment(t *testing.T, sender *recordingSender) (*Containment, *shutdown.Gate, *timeutil.MockClock) {
	t.Helper()
	gate := shutdown.NewGate()
	sender.gate = gate
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	c := NewContainment("pure_pursuit_wrapper_node", sender, gate,
		WithClock(clock),
		WithLogger(zap.NewNop()),
	)
	return c, gate, clock
}

func TestGuard_SuccessDoesNothing(t *testing.T) {
	sender := &recordingSender{}
	c, gate, clock := newTestContainment(t, sender)

	ok := c.Guard("paired event", func() error { return nil })

	assert.True(t, ok)
	assert.Empty(t, sender.sent())
	assert.Equal(t, shutdown.Running, gate.State())
	assert.Empty(t, clock.Sleeps())
	assert.Equal(t, uint64(0), c.Faults())
}

func TestGuard_ErrorSendsOneFatalThenShutsDown(t *testing.T) {
	sender := &recordingSender{}
	c, gate, clock := newTestContainment(t, sender)

	ok := c.Guard("paired event", func() error { return errors.New("bad trajectory") })
	require.False(t, ok)

	alerts := sender.sent()
	require.Len(t, alerts, 1)
	assert.Equal(t, msgs.AlertFatal, alerts[0].Type)
	assert.Contains(t, alerts[0].Description, "pure_pursuit_wrapper_node")
	assert.Contains(t, alerts[0].Description, "bad trajectory")
	assert.Equal(t, "pure_pursuit_wrapper_node", alerts[0].Source)

	// The alert goes out before the transition, separated by the grace sleep.
	assert.Equal(t, []shutdown.State{shutdown.Running}, sender.stateAtSend)
	assert.Equal(t, []time.Duration{DefaultGracePeriod}, clock.Sleeps())
	assert.Equal(t, shutdown.ShuttingDown, gate.State())
	assert.Equal(t, alerts[0].Description, gate.Reason())
}

func TestGuard_RecoversPanic(t *testing.T) {
	sender := &recordingSender{}
	c, gate, _ := newTestContainment(t, sender)

	var ok bool
	assert.NotPanics(t, func() {
		ok = c.Guard("publish", func() error { panic("index out of range") })
	})
	assert.False(t, ok)

	alerts := sender.sent()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Description, "index out of range")
	assert.Contains(t, alerts[0].Description, "publish")
	assert.True(t, gate.ShuttingDown())
}

func TestContain_OnlyFirstFailureBroadcast(t *testing.T) {
	sender := &recordingSender{}
	c, gate, clock := newTestContainment(t, sender)

	c.Contain("publish", errors.New("first"))
	c.Contain("publish", errors.New("second"))
	c.Guard("alert", func() error { return errors.New("third") })

	assert.Len(t, sender.sent(), 1)
	assert.Equal(t, uint64(3), c.Faults())
	assert.Len(t, clock.Sleeps(), 1)
	assert.True(t, c.Raised())
	assert.Contains(t, gate.Reason(), "first")
}

func TestContain_SendFailureStillShutsDown(t *testing.T) {
	sender := &recordingSender{err: errors.New("channel closed")}
	c, gate, _ := newTestContainment(t, sender)

	c.Contain("publish", errors.New("boom"))

	assert.Len(t, sender.sent(), 1)
	assert.True(t, gate.ShuttingDown())
}

func TestContain_NilErrorIgnored(t *testing.T) {
	sender := &recordingSender{}
	c, gate, _ := newTestContainment(t, sender)

	c.Contain("noop", nil)

	assert.Empty(t, sender.sent())
	assert.False(t, gate.ShuttingDown())
}

func TestWithGracePeriod(t *testing.T) {
	sender := &recordingSender{}
	gate := shutdown.NewGate()
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	c := NewContainment("node", sender, gate, WithClock(clock), WithGracePeriod(-time.Second), WithLogger(zap.NewNop()))
	c.Contain("step", errors.New("x"))
	assert.Empty(t, clock.Sleeps())

	gate2 := shutdown.NewGate()
	clock2 := timeutil.NewMockClock(time.Unix(0, 0))
	c2 := NewContainment("node", &recordingSender{}, gate2, WithClock(clock2), WithGracePeriod(200*time.Millisecond), WithLogger(zap.NewNop()))
	c2.Contain("step", errors.New("x"))
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, clock2.Sleeps())
}

func TestContain_ConcurrentFailures(t *testing.T) {
	sender := &recordingSender{}
	c, gate, _ := newTestContainment(t, sender)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Guard("paired event", func() error { return errors.New("fail") })
		}()
	}
	wg.Wait()

	assert.Len(t, sender.sent(), 1)
	assert.Equal(t, uint64(16), c.Faults())
	assert.True(t, gate.ShuttingDown())
}

func TestFatalDescription(t *testing.T) {
	got := FatalDescription("pp_node", "publish", errors.New("closed"))
	assert.Equal(t, "Unhandled failure in pp_node during publish: closed", got)
}

func TestSenderFunc(t *testing.T) {
	var got msgs.SystemAlert
	s := SenderFunc(func(a msgs.SystemAlert) error { got = a; return nil })
	require.NoError(t, s.SendAlert(msgs.SystemAlert{Description: "x"}))
	assert.Equal(t, "x", got.Description)
}
