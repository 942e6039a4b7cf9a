package testutil

import (
	"math"
	"net/http"
	"testing"
	"time"
)

func TestAssertStatusCode(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestAssertNoError(t *testing.T) {
	AssertNoError(t, nil)
}

func TestServeAndDecode(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"method":"` + r.Method + `"}`))
	})
	rec := Serve(h, http.MethodPost, "/x")
	AssertStatusCode(t, rec.Code, http.StatusOK)

	var body map[string]string
	DecodeJSON(t, rec, &body)
	if body["method"] != http.MethodPost {
		t.Errorf("method = %q", body["method"])
	}
}

func TestPoseAt(t *testing.T) {
	p := PoseAt(Epoch, 1, 2, math.Pi/2)
	if p.Pose.Position.X != 1 || p.Pose.Position.Y != 2 {
		t.Errorf("position = %+v", p.Pose.Position)
	}
	q := p.Pose.Orientation
	if math.Abs(q.Z*q.Z+q.W*q.W-1) > 1e-12 {
		t.Errorf("orientation not unit: %+v", q)
	}
	if !p.Header.Stamp.Equal(Epoch) {
		t.Errorf("stamp = %v", p.Header.Stamp)
	}
}

func TestStraightPlan(t *testing.T) {
	plan := StraightPlan(Epoch, 4, 2, 500*time.Millisecond)
	if len(plan.TrajectoryPoints) != 4 {
		t.Fatalf("points = %d, want 4", len(plan.TrajectoryPoints))
	}
	last := plan.TrajectoryPoints[3]
	if last.X != 6 {
		t.Errorf("last.X = %v, want 6", last.X)
	}
	if want := Epoch.Add(2 * time.Second); !last.TargetTime.Equal(want) {
		t.Errorf("last.TargetTime = %v, want %v", last.TargetTime, want)
	}
}
