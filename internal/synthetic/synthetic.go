// Package synthetic generates pose and trajectory-plan streams for running
// the node without a vehicle: a car circling at constant speed with the
// planner asking it to keep circling.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/trajectory.follower/internal/bus"
	"github.com/banshee-data/trajectory.follower/internal/monitoring"
	"github.com/banshee-data/trajectory.follower/internal/msgs"
	"github.com/banshee-data/trajectory.follower/internal/timeutil"
)

// Generator produces synthetic poses and plans relative to a start time.
type Generator struct {
	start   time.Time
	poseSeq atomic.Uint32
	planSeq atomic.Uint32

	// Configuration
	FrameID    string        // frame of every message
	Radius     float64       // metres, radius of the circular path
	SpeedMPS   float64       // metres per second along the path
	PlanPoints int           // points per plan
	PlanStep   time.Duration // time between plan points
	PoseRate   float64       // poses per second
	PlanRate   float64       // plans per second
	NoiseM     float64       // std-dev of position noise in metres

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator whose vehicle is at (Radius, 0) at start.
func NewGenerator(start time.Time) *Generator {
	return &Generator{
		start:      start,
		FrameID:    "map",
		Radius:     20.0,
		SpeedMPS:   5.0,
		PlanPoints: 10,
		PlanStep:   500 * time.Millisecond,
		PoseRate:   10.0,
		PlanRate:   2.0,
		rng:        rand.New(rand.NewSource(start.UnixNano())),
	}
}

// position returns the point on the circle and the tangent heading at t.
func (g *Generator) position(t time.Time) (x, y, yaw float64) {
	elapsed := t.Sub(g.start).Seconds()
	angle := elapsed * g.SpeedMPS / g.Radius
	return g.Radius * math.Cos(angle), g.Radius * math.Sin(angle), angle + math.Pi/2
}

func (g *Generator) noise() float64 {
	if g.NoiseM <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.NormFloat64() * g.NoiseM
}

// NextPose returns the vehicle pose at t.
func (g *Generator) NextPose(t time.Time) msgs.PoseStamped {
	x, y, yaw := g.position(t)
	return msgs.PoseStamped{
		Header: msgs.Header{Seq: g.poseSeq.Add(1), Stamp: t, FrameID: g.FrameID},
		Pose: msgs.Pose{
			Position:    msgs.Point{X: x + g.noise(), Y: y + g.noise()},
			Orientation: msgs.Quaternion{Z: math.Sin(yaw / 2), W: math.Cos(yaw / 2)},
		},
	}
}

// NextPlan returns a plan stamped t whose points continue around the
// circle, PlanStep apart starting at t.
func (g *Generator) NextPlan(t time.Time) msgs.TrajectoryPlan {
	seq := g.planSeq.Add(1)
	plan := msgs.TrajectoryPlan{
		Header:           msgs.Header{Seq: seq, Stamp: t, FrameID: g.FrameID},
		TrajectoryID:     fmt.Sprintf("synthetic-%d", seq),
		TrajectoryPoints: make([]msgs.TrajectoryPlanPoint, 0, g.PlanPoints),
	}
	for i := 0; i < g.PlanPoints; i++ {
		target := t.Add(time.Duration(i) * g.PlanStep)
		x, y, _ := g.position(target)
		plan.TrajectoryPoints = append(plan.TrajectoryPoints, msgs.TrajectoryPlanPoint{
			TargetTime:       target,
			X:                x,
			Y:                y,
			LaneID:           "synthetic-loop",
			ControllerPlugin: "Pure Pursuit",
			PlannerPlugin:    "synthetic",
		})
	}
	return plan
}

// Topics names where Run publishes.
type Topics struct {
	Pose string
	Plan string
}

// Run publishes poses and plans on b at the configured rates until ctx is
// done or a publish fails.
func (g *Generator) Run(ctx context.Context, b bus.Bus, clock timeutil.Clock, topics Topics) error {
	if g.PoseRate <= 0 || g.PlanRate <= 0 {
		return fmt.Errorf("synthetic rates must be positive: pose=%g plan=%g", g.PoseRate, g.PlanRate)
	}
	pub := bus.NewPublisher(b)
	poseTicker := clock.NewTicker(time.Duration(float64(time.Second) / g.PoseRate))
	defer poseTicker.Stop()
	planTicker := clock.NewTicker(time.Duration(float64(time.Second) / g.PlanRate))
	defer planTicker.Stop()

	monitoring.Logf("[Synthetic] publishing %s at %.1f Hz and %s at %.1f Hz", topics.Pose, g.PoseRate, topics.Plan, g.PlanRate)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poseTicker.C():
			if err := pub.Publish(topics.Pose, g.NextPose(clock.Now()), false); err != nil {
				return err
			}
		case <-planTicker.C():
			if err := pub.Publish(topics.Plan, g.NextPlan(clock.Now()), false); err != nil {
				return err
			}
		}
	}
}
