// Package purepursuit wires the pure pursuit wrapper node: it pairs pose and
// trajectory plan samples, converts each pair into a waypoint lane for the
// path-tracking controller and takes part in the system alert protocol.
package purepursuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/trajectory.follower/internal/alert"
	"github.com/banshee-data/trajectory.follower/internal/bus"
	"github.com/banshee-data/trajectory.follower/internal/config"
	"github.com/banshee-data/trajectory.follower/internal/monitoring"
	"github.com/banshee-data/trajectory.follower/internal/msgs"
	"github.com/banshee-data/trajectory.follower/internal/shutdown"
	"github.com/banshee-data/trajectory.follower/internal/timesync"
	"github.com/banshee-data/trajectory.follower/internal/timeutil"
	"github.com/banshee-data/trajectory.follower/internal/waypoint"
)

// Alert directions passed to Recorder.RecordAlert.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	// ErrInvalidAlert is returned for inbound alerts of an unknown kind.
	ErrInvalidAlert = errors.New("invalid alert type")
	// ErrSubscriptionClosed is returned when the transport ends a
	// subscription while the node is still running.
	ErrSubscriptionClosed = errors.New("subscription closed by transport")
)

// Recorder persists alerts and lanes for later inspection. Recording is
// best effort; its errors are logged and never escalate.
type Recorder interface {
	RecordAlert(a msgs.SystemAlert, direction string) error
	RecordLane(lane msgs.Lane) error
}

// Options configures a Wrapper.
type Options struct {
	Config   *config.NodeConfig
	Bus      bus.Bus
	Clock    timeutil.Clock
	Logger   *zap.Logger
	Recorder Recorder
	// VersionID is announced in plugin discovery.
	VersionID string
}

// Wrapper is the pure pursuit wrapper node.
type Wrapper struct {
	name     string
	cfg      *config.NodeConfig
	topics   config.TopicConfig
	bus      bus.Bus
	pub      *bus.Publisher
	clock    timeutil.Clock
	log      *zap.Logger
	recorder Recorder
	plugin   msgs.Plugin

	gate    *shutdown.Gate
	contain *alert.Containment
	sync    *timesync.Synchronizer[msgs.PoseStamped, msgs.TrajectoryPlan]

	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.RWMutex
	lastLane *msgs.Lane

	lanesPublished atomic.Uint64
	alertsReceived atomic.Uint64
	recordErrors   atomic.Uint64
}

// New builds a Wrapper from opts. Config and Bus are required.
func New(opts Options) (*Wrapper, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("purepursuit: bus is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultNodeConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("purepursuit: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = monitoring.L()
	}

	name := cfg.GetNodeName()
	w := &Wrapper{
		name:     name,
		cfg:      cfg,
		topics:   cfg.GetTopics(),
		bus:      opts.Bus,
		pub:      bus.NewPublisher(opts.Bus),
		clock:    clock,
		log:      logger.With(zap.String("node", name)),
		recorder: opts.Recorder,
		plugin:   NewPlugin(cfg.GetDiscovery(), opts.VersionID),
		gate:     shutdown.NewGate(),
		ready:    make(chan struct{}),
	}
	w.contain = alert.NewContainment(name, w, w.gate,
		alert.WithClock(clock),
		alert.WithGracePeriod(cfg.GetFaultGracePeriod()),
		alert.WithLogger(logger),
	)

	w.sync = timesync.New(timesync.Config{
		Tolerance: cfg.GetSyncTolerance(),
		QueueSize: cfg.GetSyncQueueSize(),
		Horizon:   cfg.GetSyncHorizon(),
	},
		func(p msgs.PoseStamped) time.Time { return p.Header.Stamp },
		func(p msgs.TrajectoryPlan) time.Time { return p.Header.Stamp },
	)
	w.sync.RegisterCallback(func(pose msgs.PoseStamped, plan msgs.TrajectoryPlan) {
		w.contain.Guard("trajectory plan handling", func() error {
			return w.HandlePaired(pose, plan)
		})
	})

	return w, nil
}

// Name returns the node name.
func (w *Wrapper) Name() string { return w.name }

// Gate returns the node's shutdown gate.
func (w *Wrapper) Gate() *shutdown.Gate { return w.gate }

// Plugin returns the discovery descriptor.
func (w *Wrapper) Plugin() msgs.Plugin { return w.plugin }

// Ready is closed once Run has subscribed to its inputs.
func (w *Wrapper) Ready() <-chan struct{} { return w.ready }

// HandlePaired converts one correlated (pose, plan) pair and publishes the
// resulting lane. It does nothing once the node is shutting down.
func (w *Wrapper) HandlePaired(pose msgs.PoseStamped, plan msgs.TrajectoryPlan) error {
	if w.gate.ShuttingDown() {
		return nil
	}
	lane, err := waypoint.Convert(w.clock.Now(), pose, plan)
	if err != nil {
		return fmt.Errorf("convert trajectory plan: %w", err)
	}
	return w.PublishWaypoints(lane)
}

// PublishWaypoints sends lane on the latched final_waypoints topic.
// Transport errors are returned unchanged in kind; they are not retried.
func (w *Wrapper) PublishWaypoints(lane msgs.Lane) error {
	if err := w.pub.Publish(w.topics.FinalWaypoints, lane, true); err != nil {
		return fmt.Errorf("publish waypoints: %w", err)
	}
	w.lanesPublished.Add(1)

	w.mu.Lock()
	w.lastLane = &lane
	w.mu.Unlock()

	if w.recorder != nil && w.cfg.GetRecordLanes() {
		w.record("lane", w.recorder.RecordLane(lane))
	}
	return nil
}

// SendAlert publishes a on the latched system alert topic. It makes the
// Wrapper the alert.Sender of its own containment.
func (w *Wrapper) SendAlert(a msgs.SystemAlert) error {
	if err := w.pub.Publish(w.topics.SystemAlert, a, true); err != nil {
		return err
	}
	if w.recorder != nil {
		w.record("alert", w.recorder.RecordAlert(a, DirectionOut))
	}
	return nil
}

// SystemAlertHandler inspects an inbound alert. SHUTDOWN triggers the
// shutdown gate; other valid kinds are ignored. Unknown kinds are an error.
func (w *Wrapper) SystemAlertHandler(a msgs.SystemAlert) error {
	w.alertsReceived.Add(1)
	if w.recorder != nil {
		w.record("alert", w.recorder.RecordAlert(a, DirectionIn))
	}

	if !a.Type.Valid() {
		return fmt.Errorf("%w %d from %q", ErrInvalidAlert, uint8(a.Type), a.Source)
	}
	if a.Type != msgs.AlertShutdown {
		w.log.Debug("ignoring system alert",
			zap.Stringer("type", a.Type), zap.String("source", a.Source))
		return nil
	}

	reason := fmt.Sprintf("SHUTDOWN alert from %s: %s", a.Source, a.Description)
	if w.Shutdown(reason) {
		w.log.Info("shutdown requested", zap.String("source", a.Source), zap.String("description", a.Description))
	}
	return nil
}

// Shutdown moves the node to ShuttingDown. It reports whether this call
// performed the transition.
func (w *Wrapper) Shutdown(reason string) bool {
	return w.gate.Trigger(reason)
}

// PublishPluginDiscovery announces the node's capability.
func (w *Wrapper) PublishPluginDiscovery() error {
	return w.pub.Publish(w.topics.PluginDiscovery, w.plugin, false)
}

// LastLane returns the most recently published lane.
func (w *Wrapper) LastLane() (msgs.Lane, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.lastLane == nil {
		return msgs.Lane{}, false
	}
	return *w.lastLane, true
}

func (w *Wrapper) record(kind string, err error) {
	if err == nil {
		return
	}
	w.recordErrors.Add(1)
	w.log.Warn("flight recorder write failed", zap.String("kind", kind), zap.Error(err))
}

// Run subscribes to the node's inputs and processes them until the node
// shuts down. Cancelling ctx triggers shutdown. Run returns nil once the
// gate is ShuttingDown.
func (w *Wrapper) Run(ctx context.Context) error {
	queue := w.cfg.GetSubscriberQueueSize()

	alertSub, err := w.bus.Subscribe(w.topics.SystemAlert, queue)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.topics.SystemAlert, err)
	}
	defer alertSub.Unsubscribe()
	poseSub, err := w.bus.Subscribe(w.topics.CurrentPose, queue)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.topics.CurrentPose, err)
	}
	defer poseSub.Unsubscribe()
	planSub, err := w.bus.Subscribe(w.topics.PlanTrajectory, queue)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.topics.PlanTrajectory, err)
	}
	defer planSub.Unsubscribe()

	if err := w.PublishPluginDiscovery(); err != nil {
		w.log.Warn("plugin discovery failed", zap.Error(err))
	}

	var tick <-chan time.Time
	if interval := w.cfg.GetDiscoveryInterval(); interval > 0 {
		ticker := w.clock.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	w.log.Info("pure pursuit wrapper running",
		zap.String("pose_topic", w.topics.CurrentPose),
		zap.String("plan_topic", w.topics.PlanTrajectory),
		zap.Duration("sync_tolerance", w.cfg.GetSyncTolerance()))
	w.readyOnce.Do(func() { close(w.ready) })

	alerts, poses, plans := alertSub.Messages(), poseSub.Messages(), planSub.Messages()
	for !w.gate.ShuttingDown() {
		select {
		case <-ctx.Done():
			w.Shutdown("signal: " + ctx.Err().Error())

		case <-w.gate.Done():

		case msg, ok := <-alerts:
			if !ok {
				w.contain.Contain("system alert", fmt.Errorf("%w: %s", ErrSubscriptionClosed, w.topics.SystemAlert))
				alerts = nil
				continue
			}
			w.contain.Guard("system alert", func() error {
				var a msgs.SystemAlert
				if err := bus.Decode(msg, &a); err != nil {
					return err
				}
				return w.SystemAlertHandler(a)
			})

		case msg, ok := <-poses:
			if !ok {
				w.contain.Contain("current pose", fmt.Errorf("%w: %s", ErrSubscriptionClosed, w.topics.CurrentPose))
				poses = nil
				continue
			}
			w.contain.Guard("current pose", func() error {
				var p msgs.PoseStamped
				if err := bus.Decode(msg, &p); err != nil {
					return err
				}
				w.sync.AddFirst(p)
				return nil
			})

		case msg, ok := <-plans:
			if !ok {
				w.contain.Contain("trajectory plan", fmt.Errorf("%w: %s", ErrSubscriptionClosed, w.topics.PlanTrajectory))
				plans = nil
				continue
			}
			w.contain.Guard("trajectory plan", func() error {
				var p msgs.TrajectoryPlan
				if err := bus.Decode(msg, &p); err != nil {
					return err
				}
				w.sync.AddSecond(p)
				return nil
			})

		case <-tick:
			if err := w.PublishPluginDiscovery(); err != nil {
				w.log.Warn("plugin discovery failed", zap.Error(err))
			}
		}
	}

	w.log.Info("pure pursuit wrapper stopped", zap.String("reason", w.gate.Reason()))
	return nil
}
