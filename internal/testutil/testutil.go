// Package testutil provides shared test fixtures: poses, plans and HTTP
// assertions.
package testutil

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/trajectory.follower/internal/msgs"
)

// Epoch is a fixed reference time for fixtures.
var Epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// DecodeJSON decodes the recorded body into v, failing the test on error.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// Serve runs handler against a request built from method and path.
func Serve(handler http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

// PoseAt returns a map-frame pose at (x, y) facing yaw radians.
func PoseAt(stamp time.Time, x, y, yaw float64) msgs.PoseStamped {
	return msgs.PoseStamped{
		Header: msgs.Header{Stamp: stamp, FrameID: "map"},
		Pose: msgs.Pose{
			Position:    msgs.Point{X: x, Y: y},
			Orientation: msgs.Quaternion{Z: math.Sin(yaw / 2), W: math.Cos(yaw / 2)},
		},
	}
}

// StraightPlan returns n points along +x, spacing metres apart and
// step apart in time, starting one step after stamp.
func StraightPlan(stamp time.Time, n int, spacing float64, step time.Duration) msgs.TrajectoryPlan {
	plan := msgs.TrajectoryPlan{
		Header:           msgs.Header{Stamp: stamp, FrameID: "map"},
		TrajectoryID:     fmt.Sprintf("straight-%d", n),
		TrajectoryPoints: make([]msgs.TrajectoryPlanPoint, 0, n),
	}
	for i := 0; i < n; i++ {
		plan.TrajectoryPoints = append(plan.TrajectoryPoints, msgs.TrajectoryPlanPoint{
			TargetTime: stamp.Add(time.Duration(i+1) * step),
			X:          float64(i) * spacing,
			LaneID:     "lane-1",
		})
	}
	return plan
}
