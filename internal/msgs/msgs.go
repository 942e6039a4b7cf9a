// Package msgs defines the messages exchanged on the node's topics. All
// messages are encoded with msgpack on the wire and with JSON on the debug
// API.
package msgs

import (
	"time"
)

// Header is the metadata shared by stamped messages.
type Header struct {
	Seq     uint32    `msgpack:"seq" json:"seq"`
	Stamp   time.Time `msgpack:"stamp" json:"stamp"`
	FrameID string    `msgpack:"frame_id" json:"frame_id"`
}

// Point is a position in metres.
type Point struct {
	X float64 `msgpack:"x" json:"x"`
	Y float64 `msgpack:"y" json:"y"`
	Z float64 `msgpack:"z" json:"z"`
}

// Quaternion is an orientation. The zero value is treated as identity by
// consumers.
type Quaternion struct {
	X float64 `msgpack:"x" json:"x"`
	Y float64 `msgpack:"y" json:"y"`
	Z float64 `msgpack:"z" json:"z"`
	W float64 `msgpack:"w" json:"w"`
}

// Pose is a position and orientation.
type Pose struct {
	Position    Point      `msgpack:"position" json:"position"`
	Orientation Quaternion `msgpack:"orientation" json:"orientation"`
}

// PoseStamped is one vehicle pose sample.
type PoseStamped struct {
	Header Header `msgpack:"header" json:"header"`
	Pose   Pose   `msgpack:"pose" json:"pose"`
}

// TrajectoryPlanPoint is one target position/time along a planned path.
type TrajectoryPlanPoint struct {
	TargetTime       time.Time `msgpack:"target_time" json:"target_time"`
	X                float64   `msgpack:"x" json:"x"`
	Y                float64   `msgpack:"y" json:"y"`
	LaneID           string    `msgpack:"lane_id" json:"lane_id"`
	ControllerPlugin string    `msgpack:"controller_plugin" json:"controller_plugin"`
	PlannerPlugin    string    `msgpack:"planner_plugin" json:"planner_plugin"`
}

// TrajectoryPlan is an ordered list of trajectory points from the planner.
type TrajectoryPlan struct {
	Header           Header                `msgpack:"header" json:"header"`
	TrajectoryID     string                `msgpack:"trajectory_id" json:"trajectory_id"`
	TrajectoryPoints []TrajectoryPlanPoint `msgpack:"trajectory_points" json:"trajectory_points"`
}

// Waypoint is a single target handed to the path-tracking controller.
type Waypoint struct {
	Header              Header        `msgpack:"header" json:"header"`
	Gid                 int           `msgpack:"gid" json:"gid"`
	Pose                Pose          `msgpack:"pose" json:"pose"`
	Heading             float64       `msgpack:"heading" json:"heading"` // radians, map frame
	Speed               float64       `msgpack:"speed" json:"speed"`     // m/s
	RelativeHeading     float64       `msgpack:"relative_heading" json:"relative_heading"`
	DistanceFromVehicle float64       `msgpack:"distance_from_vehicle" json:"distance_from_vehicle"`
	TargetTime          time.Time     `msgpack:"target_time" json:"target_time"`
	TimeToReach         time.Duration `msgpack:"time_to_reach" json:"time_to_reach"`
	LaneID              string        `msgpack:"lane_id" json:"lane_id"`
}

// Lane is the ordered waypoint sequence published on final_waypoints.
type Lane struct {
	Header    Header     `msgpack:"header" json:"header"`
	Waypoints []Waypoint `msgpack:"waypoints" json:"waypoints"`
}

// RobotEnabled reports controller driver status.
type RobotEnabled struct {
	Header       Header `msgpack:"header" json:"header"`
	RobotActive  bool   `msgpack:"robot_active" json:"robot_active"`
	RobotEnabled bool   `msgpack:"robot_enabled" json:"robot_enabled"`
}

// VehicleCmd is a low-level command sent to the controller driver.
type VehicleCmd struct {
	Header         Header  `msgpack:"header" json:"header"`
	LinearVelocity float64 `msgpack:"linear_velocity" json:"linear_velocity"`
	SteeringAngle  float64 `msgpack:"steering_angle" json:"steering_angle"`
}
