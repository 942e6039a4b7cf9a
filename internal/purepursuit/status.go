package purepursuit

import (
	"time"

	"github.com/banshee-data/trajectory.follower/internal/msgs"
	"github.com/banshee-data/trajectory.follower/internal/timesync"
)

// Status is a point-in-time view of the node for the debug API.
type Status struct {
	Node           string         `json:"node"`
	State          string         `json:"state"`
	Reason         string         `json:"reason,omitempty"`
	Faults         uint64         `json:"faults"`
	FatalRaised    bool           `json:"fatal_raised"`
	LanesPublished uint64         `json:"lanes_published"`
	AlertsReceived uint64         `json:"alerts_received"`
	RecordErrors   uint64         `json:"record_errors"`
	Sync           timesync.Stats `json:"sync"`
	LastLaneStamp  *time.Time     `json:"last_lane_stamp,omitempty"`
	LastLaneSize   int            `json:"last_lane_size"`
	Plugin         msgs.Plugin    `json:"plugin"`
}

// Status returns the node's current status.
func (w *Wrapper) Status() Status {
	st := Status{
		Node:           w.name,
		State:          w.gate.State().String(),
		Reason:         w.gate.Reason(),
		Faults:         w.contain.Faults(),
		FatalRaised:    w.contain.Raised(),
		LanesPublished: w.lanesPublished.Load(),
		AlertsReceived: w.alertsReceived.Load(),
		RecordErrors:   w.recordErrors.Load(),
		Sync:           w.sync.Stats(),
		Plugin:         w.plugin,
	}
	if lane, ok := w.LastLane(); ok {
		stamp := lane.Header.Stamp
		st.LastLaneStamp = &stamp
		st.LastLaneSize = len(lane.Waypoints)
	}
	return st
}
