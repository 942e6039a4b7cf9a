package serialmux

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/trajectory.follower/internal/msgs"
)

var ErrNotPose = errors.New("line is not a pose fix")

// poseLine is one JSON fix from the receiver. T is seconds since the Unix
// epoch; Yaw is radians in the map frame.
type poseLine struct {
	T       *float64 `json:"t"`
	X       *float64 `json:"x"`
	Y       *float64 `json:"y"`
	Z       float64  `json:"z"`
	Yaw     float64  `json:"yaw"`
	FrameID string   `json:"frame_id"`
}

// ParsePoseLine decodes a receiver line such as
//
//	{"t":1767322800.25,"x":12.5,"y":-3.0,"z":0.1,"yaw":1.57,"frame_id":"map"}
//
// into a stamped pose. t, x and y are required. A missing frame_id
// defaults to "map".
func ParsePoseLine(line string) (msgs.PoseStamped, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return msgs.PoseStamped{}, ErrNotPose
	}
	var pl poseLine
	if err := json.Unmarshal([]byte(line), &pl); err != nil {
		return msgs.PoseStamped{}, fmt.Errorf("failed to decode pose line: %w", err)
	}
	if pl.T == nil || pl.X == nil || pl.Y == nil {
		return msgs.PoseStamped{}, fmt.Errorf("%w: missing t, x or y", ErrNotPose)
	}
	if pl.FrameID == "" {
		pl.FrameID = "map"
	}

	sec, frac := math.Modf(*pl.T)
	stamp := time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
	return msgs.PoseStamped{
		Header: msgs.Header{Stamp: stamp, FrameID: pl.FrameID},
		Pose: msgs.Pose{
			Position:    msgs.Point{X: *pl.X, Y: *pl.Y, Z: pl.Z},
			Orientation: msgs.Quaternion{Z: math.Sin(pl.Yaw / 2), W: math.Cos(pl.Yaw / 2)},
		},
	}, nil
}
