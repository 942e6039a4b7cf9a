// Package waypoint converts trajectory plans into the waypoint lanes
// consumed by the path-tracking controller.
package waypoint

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/trajectory.follower/internal/msgs"
	"github.com/banshee-data/trajectory.follower/internal/units"
)

// MinPlanPoints is the smallest plan that yields any waypoints: the first
// point is the vehicle reference and the last only serves as a successor.
const MinPlanPoints = 3

var (
	// ErrNonFinitePoint is returned when a trajectory point has a NaN or
	// infinite coordinate.
	ErrNonFinitePoint = errors.New("trajectory point has non-finite coordinates")
	// ErrNonIncreasingTime is returned when a point's target time is not
	// after its predecessor's.
	ErrNonIncreasingTime = errors.New("trajectory target times must be strictly increasing")
	// ErrInvalidOrientation is returned when the vehicle pose orientation
	// cannot be interpreted.
	ErrInvalidOrientation = errors.New("vehicle pose orientation is not finite")
)

// Convert builds the lane for one paired (pose, plan) event. For a plan of
// n >= 3 points it returns n-2 waypoints built from the pairs (i, i+1) for
// i = 1..n-2, in plan order. Shorter plans yield an empty lane. The lane and
// every waypoint carry the plan's header.
func Convert(now time.Time, pose msgs.PoseStamped, plan msgs.TrajectoryPlan) (msgs.Lane, error) {
	lane := msgs.Lane{
		Header:    plan.Header,
		Waypoints: []msgs.Waypoint{},
	}

	n := len(plan.TrajectoryPoints)
	if n < MinPlanPoints {
		return lane, nil
	}

	lane.Waypoints = make([]msgs.Waypoint, 0, n-2)
	for i := 1; i < n-1; i++ {
		wp, err := PointToWaypoint(now, pose, plan.TrajectoryPoints[i], plan.TrajectoryPoints[i+1])
		if err != nil {
			return msgs.Lane{}, fmt.Errorf("trajectory %s point %d: %w", plan.TrajectoryID, i, err)
		}
		wp.Header = plan.Header
		wp.Gid = i
		lane.Waypoints = append(lane.Waypoints, wp)
	}
	return lane, nil
}

// PointToWaypoint derives one waypoint targeting p1, using p2 to obtain the
// direction and speed of travel through p1.
func PointToWaypoint(now time.Time, pose msgs.PoseStamped, p1, p2 msgs.TrajectoryPlanPoint) (msgs.Waypoint, error) {
	if !finite(p1.X, p1.Y, p2.X, p2.Y) {
		return msgs.Waypoint{}, ErrNonFinitePoint
	}
	dt := p2.TargetTime.Sub(p1.TargetTime)
	if dt <= 0 {
		return msgs.Waypoint{}, fmt.Errorf("%w: %s then %s", ErrNonIncreasingTime,
			p1.TargetTime.Format(time.RFC3339Nano), p2.TargetTime.Format(time.RFC3339Nano))
	}

	vehicleYaw, err := Yaw(pose.Pose.Orientation)
	if err != nil {
		return msgs.Waypoint{}, err
	}

	from := r2.Vec{X: p1.X, Y: p1.Y}
	to := r2.Vec{X: p2.X, Y: p2.Y}
	delta := r2.Sub(to, from)
	dist := r2.Norm(delta)

	heading := vehicleYaw
	if dist > 0 {
		heading = math.Atan2(delta.Y, delta.X)
	}

	vehicle := r2.Vec{X: pose.Pose.Position.X, Y: pose.Pose.Position.Y}

	return msgs.Waypoint{
		Pose: msgs.Pose{
			Position: msgs.Point{
				X: p1.X,
				Y: p1.Y,
				Z: pose.Pose.Position.Z,
			},
			Orientation: YawQuaternion(heading),
		},
		Heading:             heading,
		Speed:               dist / dt.Seconds(),
		RelativeHeading:     units.WrapAngle(heading - vehicleYaw),
		DistanceFromVehicle: r2.Norm(r2.Sub(from, vehicle)),
		TargetTime:          p1.TargetTime,
		TimeToReach:         p1.TargetTime.Sub(now),
		LaneID:              p1.LaneID,
	}, nil
}

// Yaw returns the rotation about Z of q in radians. A zero quaternion is
// read as identity.
func Yaw(q msgs.Quaternion) (float64, error) {
	if !finite(q.X, q.Y, q.Z, q.W) {
		return 0, ErrInvalidOrientation
	}
	n := quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
	abs := quat.Abs(n)
	if abs == 0 {
		return 0, nil
	}
	n = quat.Scale(1/abs, n)
	siny := 2 * (n.Real*n.Kmag + n.Imag*n.Jmag)
	cosy := 1 - 2*(n.Jmag*n.Jmag+n.Kmag*n.Kmag)
	return math.Atan2(siny, cosy), nil
}

// YawQuaternion returns the unit quaternion for a rotation of yaw radians
// about Z.
func YawQuaternion(yaw float64) msgs.Quaternion {
	half := yaw / 2
	return msgs.Quaternion{Z: math.Sin(half), W: math.Cos(half)}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
