package purepursuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/banshee-data/trajectory.follower/internal/bus"
	"github.com/banshee-data/trajectory.follower/internal/config"
	"github.com/banshee-data/trajectory.follower/internal/msgs"
	"github.com/banshee-data/trajectory.follower/internal/shutdown"
	"github.com/banshee-data/trajectory.follower/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return epoch.Add(time.Duration(sec * float64(time.Second)))
}

// failingBus fails the first n publishes on one topic.
type failingBus struct {
	*bus.MemoryBus
	topic string

	mu        sync.Mutex
	remaining int
}

func (b *failingBus) Publish(topic string, data []byte, latched bool) error {
	b.mu.Lock()
	fail := topic == b.topic && b.remaining > 0
	if fail {
		b.remaining--
	}
	b.mu.Unlock()
	if fail {
		return bus.ErrClosed
	}
	return b.MemoryBus.Publish(topic, data, latched)
}

type fakeRecorder struct {
	mu     sync.Mutex
	alerts []string
	lanes  int
	err    error
}

func (r *fakeRecorder) RecordAlert(a msgs.SystemAlert, direction string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, direction+":"+a.Type.String())
	return r.err
}

func (r *fakeRecorder) RecordLane(msgs.Lane) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lanes++
	return r.err
}

type harness struct {
	t       *testing.T
	mem     *bus.MemoryBus
	w       *Wrapper
	clock   *timeutil.MockClock
	cancel  context.CancelFunc
	stopped chan struct{}
	runErr  error
	lanes   bus.Subscription
	alerts  bus.Subscription
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	mem := bus.NewMemoryBus()
	t.Cleanup(func() { _ = mem.Close() })

	h := &harness{t: t, mem: mem, clock: timeutil.NewMockClock(at(10.06))}
	opts := Options{
		Config: config.DefaultNodeConfig(),
		Bus:    mem,
		Clock:  h.clock,
		Logger: zap.NewNop(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	w, err := New(opts)
	require.NoError(t, err)
	h.w = w

	h.lanes, err = mem.Subscribe(config.TopicFinalWaypoints, 16)
	require.NoError(t, err)
	h.alerts, err = mem.Subscribe(config.TopicSystemAlert, 16)
	require.NoError(t, err)
	return h
}

func (h *harness) start() {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.stopped = make(chan struct{})
	go func() {
		h.runErr = h.w.Run(ctx)
		close(h.stopped)
	}()
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.stopped:
		case <-time.After(2 * time.Second):
		}
	})

	select {
	case <-h.w.Ready():
	case <-h.stopped:
		h.t.Fatalf("Run exited early: %v", h.runErr)
	case <-time.After(2 * time.Second):
		h.t.Fatal("wrapper never became ready")
	}
}

func (h *harness) publish(topic string, v any) {
	h.t.Helper()
	require.NoError(h.t, bus.NewPublisher(h.mem).Publish(topic, v, false))
}

func (h *harness) waitStopped() {
	h.t.Helper()
	select {
	case <-h.stopped:
		require.NoError(h.t, h.runErr)
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return after shutdown")
	}
}

func (h *harness) nextLane() msgs.Lane {
	h.t.Helper()
	select {
	case msg := <-h.lanes.Messages():
		var lane msgs.Lane
		require.NoError(h.t, bus.Decode(msg, &lane))
		return lane
	case <-time.After(2 * time.Second):
		h.t.Fatal("no lane published")
		return msgs.Lane{}
	}
}

// drainAlerts returns every alert queued on the system alert topic.
func (h *harness) drainAlerts() []msgs.SystemAlert {
	h.t.Helper()
	var out []msgs.SystemAlert
	for {
		select {
		case msg := <-h.alerts.Messages():
			var a msgs.SystemAlert
			require.NoError(h.t, bus.Decode(msg, &a))
			out = append(out, a)
		default:
			return out
		}
	}
}

func fatalAlerts(alerts []msgs.SystemAlert) []msgs.SystemAlert {
	var out []msgs.SystemAlert
	for _, a := range alerts {
		if a.Type == msgs.AlertFatal {
			out = append(out, a)
		}
	}
	return out
}

func testPose(sec float64) msgs.PoseStamped {
	return msgs.PoseStamped{
		Header: msgs.Header{Stamp: at(sec), FrameID: "map"},
		Pose:   msgs.Pose{Orientation: msgs.Quaternion{W: 1}},
	}
}

func testPlan(sec float64, n int) msgs.TrajectoryPlan {
	plan := msgs.TrajectoryPlan{
		Header:       msgs.Header{Seq: 42, Stamp: at(sec), FrameID: "map"},
		TrajectoryID: "traj",
	}
	for i := 0; i < n; i++ {
		plan.TrajectoryPoints = append(plan.TrajectoryPoints, msgs.TrajectoryPlanPoint{
			TargetTime: at(sec + float64(i)),
			X:          float64(i) * 2,
			LaneID:     "l1",
		})
	}
	return plan
}

func TestNew_RequiresBus(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	bad := -1
	cfg := config.EmptyNodeConfig()
	cfg.SyncQueueSize = &bad
	_, err := New(Options{Bus: bus.NewMemoryBus(), Config: cfg})
	assert.Error(t, err)
}

func TestRun_PairedEventPublishesLane(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	pose := testPose(10.0)
	plan := testPlan(10.05, 4)
	h.publish(config.TopicCurrentPose, pose)
	h.publish(config.TopicPlanTrajectory, plan)

	lane := h.nextLane()
	require.Len(t, lane.Waypoints, 2)
	assert.Equal(t, plan.Header.Seq, lane.Header.Seq)
	assert.True(t, plan.Header.Stamp.Equal(lane.Header.Stamp))
	for i, wp := range lane.Waypoints {
		assert.Equal(t, i+1, wp.Gid)
		assert.Equal(t, plan.TrajectoryPoints[i+1].X, wp.Pose.Position.X)
		assert.True(t, plan.Header.Stamp.Equal(wp.Header.Stamp))
	}

	require.Eventually(t, func() bool { return h.w.Status().LanesPublished == 1 }, 2*time.Second, 5*time.Millisecond)
	st := h.w.Status()
	assert.Equal(t, "running", st.State)
	assert.Equal(t, uint64(1), st.Sync.Pairs)
	assert.Equal(t, 2, st.LastLaneSize)
	assert.Empty(t, fatalAlerts(h.drainAlerts()))
}

func TestRun_TwoPointPlanPublishesEmptyLane(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.publish(config.TopicCurrentPose, testPose(10.0))
	h.publish(config.TopicPlanTrajectory, testPlan(10.0, 2))

	lane := h.nextLane()
	assert.Empty(t, lane.Waypoints)
	assert.False(t, h.w.Gate().ShuttingDown())
}

func TestRun_UncorrelatedInputsAreDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.publish(config.TopicCurrentPose, testPose(10.0))
	h.publish(config.TopicPlanTrajectory, testPlan(12.0, 4))

	require.Eventually(t, func() bool {
		st := h.w.Status().Sync
		return st.PendingSecond+int(st.DroppedSecond) == 1
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-h.lanes.Messages():
		t.Fatal("lane published for uncorrelated samples")
	default:
	}
	assert.Equal(t, shutdown.Running, h.w.Gate().State())
}

func TestRun_PublishFailureRaisesOneFatalAndStops(t *testing.T) {
	rec := &fakeRecorder{}
	var fb *failingBus
	h := newHarness(t, func(o *Options) {
		fb = &failingBus{MemoryBus: o.Bus.(*bus.MemoryBus), topic: config.TopicFinalWaypoints, remaining: 1}
		o.Bus = fb
		o.Recorder = rec
	})
	h.start()

	pose, plan := testPose(10.0), testPlan(10.05, 4)
	h.publish(config.TopicCurrentPose, pose)
	h.publish(config.TopicPlanTrajectory, plan)
	h.waitStopped()

	fatals := fatalAlerts(h.drainAlerts())
	require.Len(t, fatals, 1)
	assert.Contains(t, fatals[0].Description, config.DefaultNodeName)
	assert.Contains(t, fatals[0].Description, "bus closed")
	assert.Equal(t, config.DefaultNodeName, fatals[0].Source)

	assert.True(t, h.w.Gate().ShuttingDown())
	assert.Equal(t, []time.Duration{config.DefaultFaultGracePeriod}, h.clock.Sleeps())

	// The transport is healthy again, but nothing more leaves the node.
	require.NoError(t, h.w.HandlePaired(pose, plan))
	h.publish(config.TopicCurrentPose, testPose(11.0))
	h.publish(config.TopicPlanTrajectory, testPlan(11.0, 4))
	select {
	case <-h.lanes.Messages():
		t.Fatal("waypoints published after shutdown")
	default:
	}
	assert.Equal(t, uint64(0), h.w.Status().LanesPublished)
	assert.Equal(t, shutdown.ShuttingDown, h.w.Gate().State())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.alerts, "out:FATAL")
}

func TestRun_ConversionFailureRaisesFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	plan := testPlan(10.0, 4)
	plan.TrajectoryPoints[2].TargetTime = plan.TrajectoryPoints[1].TargetTime
	h.publish(config.TopicCurrentPose, testPose(10.0))
	h.publish(config.TopicPlanTrajectory, plan)
	h.waitStopped()

	fatals := fatalAlerts(h.drainAlerts())
	require.Len(t, fatals, 1)
	assert.Contains(t, fatals[0].Description, "strictly increasing")
}

func TestRun_RepeatedShutdownAlertsAreIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	transitions := 0
	h.w.Gate().OnShutdown(func(string) { transitions++ })

	for i := 0; i < 3; i++ {
		h.publish(config.TopicSystemAlert, msgs.SystemAlert{
			Type:        msgs.AlertShutdown,
			Description: "mission complete",
			Source:      "guidance",
		})
	}
	h.waitStopped()

	assert.Equal(t, 1, transitions)
	assert.Equal(t, shutdown.ShuttingDown, h.w.Gate().State())
	assert.Contains(t, h.w.Gate().Reason(), "guidance")

	// SHUTDOWN is consumed, never re-broadcast, and is not a fault.
	alerts := h.drainAlerts()
	assert.Empty(t, fatalAlerts(alerts))
	for _, a := range alerts {
		assert.Equal(t, "guidance", a.Source)
	}

	// Direct re-delivery after shutdown is still harmless.
	require.NoError(t, h.w.SystemAlertHandler(msgs.SystemAlert{Type: msgs.AlertShutdown}))
	assert.Equal(t, 1, transitions)
}

func TestRun_OtherAlertKindsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	for _, typ := range []msgs.AlertType{msgs.AlertInfo, msgs.AlertWarn, msgs.AlertFatal} {
		h.publish(config.TopicSystemAlert, msgs.SystemAlert{Type: typ, Source: "other"})
	}
	require.Eventually(t, func() bool { return h.w.Status().AlertsReceived == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.w.Gate().ShuttingDown())
}

func TestRun_InvalidAlertEscalatesToFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.publish(config.TopicSystemAlert, msgs.SystemAlert{Type: msgs.AlertType(99), Source: "rogue"})
	h.waitStopped()

	fatals := fatalAlerts(h.drainAlerts())
	require.Len(t, fatals, 1)
	assert.Contains(t, fatals[0].Description, "invalid alert type")
}

func TestRun_MalformedPayloadEscalatesToFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	require.NoError(t, h.mem.Publish(config.TopicPlanTrajectory, []byte{0xc1}, false))
	h.waitStopped()

	fatals := fatalAlerts(h.drainAlerts())
	require.Len(t, fatals, 1)
	assert.Contains(t, fatals[0].Description, "trajectory plan")
}

func TestRun_ContextCancelShutsDown(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.cancel()
	h.waitStopped()

	assert.True(t, h.w.Gate().ShuttingDown())
	assert.Contains(t, h.w.Gate().Reason(), "signal")
	assert.Empty(t, fatalAlerts(h.drainAlerts()))
}

func TestRun_ExternalShutdownStopsLoop(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	assert.True(t, h.w.Shutdown("operator"))
	assert.False(t, h.w.Shutdown("again"))
	h.waitStopped()
	assert.Equal(t, "operator", h.w.Gate().Reason())
}

func TestRun_BusClosedIsContained(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	require.NoError(t, h.mem.Close())
	h.waitStopped()

	st := h.w.Status()
	assert.Equal(t, "shutting_down", st.State)
	assert.True(t, st.FatalRaised)
	assert.GreaterOrEqual(t, st.Faults, uint64(1))
}

func TestRun_PluginDiscovery(t *testing.T) {
	cfg := config.DefaultNodeConfig()
	interval := "1s"
	cfg.DiscoveryInterval = &interval

	h := newHarness(t, func(o *Options) {
		o.Config = cfg
		o.VersionID = "v2.3.4"
	})
	disc, err := h.mem.Subscribe(config.TopicPluginDiscovery, 4)
	require.NoError(t, err)
	h.start()

	want := msgs.Plugin{
		Name:       "Pure Pursuit",
		VersionID:  "v2.3.4",
		Type:       msgs.PluginControl,
		Capability: "control_pure_pursuit_plan/plan_controls",
		Available:  true,
		Activated:  true,
	}

	var got msgs.Plugin
	require.NoError(t, bus.Decode(<-disc.Messages(), &got))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("plugin mismatch (-want +got):\n%s", diff)
	}

	h.clock.Advance(time.Second)
	select {
	case msg := <-disc.Messages():
		require.NoError(t, bus.Decode(msg, &got))
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no periodic discovery announcement")
	}
}

func TestRecorderErrorsAreNotFatal(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("disk full")}
	h := newHarness(t, func(o *Options) { o.Recorder = rec })
	h.start()

	h.publish(config.TopicCurrentPose, testPose(10.0))
	h.publish(config.TopicPlanTrajectory, testPlan(10.0, 3))
	h.nextLane()

	require.Eventually(t, func() bool { return h.w.Status().RecordErrors >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.w.Gate().ShuttingDown())
	assert.Empty(t, fatalAlerts(h.drainAlerts()))
}

func TestPublishWaypoints_RecordLanesDisabled(t *testing.T) {
	rec := &fakeRecorder{}
	cfg := config.DefaultNodeConfig()
	off := false
	cfg.RecordLanes = &off

	w, err := New(Options{Config: cfg, Bus: bus.NewMemoryBus(), Recorder: rec, Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, w.PublishWaypoints(msgs.Lane{}))

	assert.Equal(t, 0, rec.lanes)
	lane, ok := w.LastLane()
	assert.True(t, ok)
	assert.Empty(t, lane.Waypoints)
}

func TestNewPlugin_Overrides(t *testing.T) {
	no := false
	p := NewPlugin(config.DiscoveryConfig{Name: "PP", Capability: "cap", Available: &no}, "")

	assert.Equal(t, "PP", p.Name)
	assert.Equal(t, "cap", p.Capability)
	assert.Equal(t, PluginVersion, p.VersionID)
	assert.False(t, p.Available)
	assert.True(t, p.Activated)
	assert.Equal(t, msgs.PluginControl, p.Type)
}
