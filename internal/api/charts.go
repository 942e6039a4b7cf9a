package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/trajectory.follower/internal/httputil"
	"github.com/banshee-data/trajectory.follower/internal/monitoring"
	"github.com/banshee-data/trajectory.follower/internal/msgs"
	"github.com/banshee-data/trajectory.follower/internal/units"
)

// AttachDebugRoutes registers the lane plot on the /debug/ index of mux.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("lane.png", "Plot of the last published lane", http.HandlerFunc(s.handleLanePlot))
}

// handleLaneSpeedChart renders the speed profile of the last lane as an
// HTML line chart. Query params:
//   - units (optional; default mps)
func (s *Server) handleLaneSpeedChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	unit, err := units.ParseSpeedUnit(r.URL.Query().Get("units"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	lane, ok := s.node.LastLane()
	if !ok {
		httputil.NotFound(w, "no lane published yet")
		return
	}

	x := make([]string, 0, len(lane.Waypoints))
	speeds := make([]opts.LineData, 0, len(lane.Waypoints))
	for _, wp := range lane.Waypoints {
		x = append(x, strconv.Itoa(wp.Gid))
		speeds = append(speeds, opts.LineData{Value: units.ConvertSpeed(wp.Speed, unit)})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Lane speed profile", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Lane speed profile",
			Subtitle: fmt.Sprintf("seq=%d waypoints=%d", lane.Header.Seq, len(lane.Waypoints)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "gid", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "speed (" + unit + ")", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).AddSeries("speed", speeds)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		monitoring.Logf("[API] failed to render speed chart: %v", err)
		httputil.InternalServerError(w, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleLanePlot(w http.ResponseWriter, r *http.Request) {
	lane, ok := s.node.LastLane()
	if !ok || len(lane.Waypoints) == 0 {
		http.Error(w, "no waypoints to plot", http.StatusNotFound)
		return
	}
	buf, err := plotLane(lane)
	if err != nil {
		monitoring.Logf("[API] failed to plot lane: %v", err)
		http.Error(w, "failed to plot lane", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

// plotLane draws the waypoint positions of lane in the map frame.
func plotLane(lane msgs.Lane) (*bytes.Buffer, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Lane seq %d (%s)", lane.Header.Seq, lane.Header.FrameID)
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(lane.Waypoints))
	for i, wp := range lane.Waypoints {
		pts[i].X = wp.Pose.Position.X
		pts[i].Y = wp.Pose.Position.Y
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build lane line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line, points)

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to create png writer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return &buf, nil
}
