// Package api serves the node's debug HTTP interface: status, the last
// published lane, recorded alerts and a couple of lane visualisations.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/trajectory.follower/internal/db"
	"github.com/banshee-data/trajectory.follower/internal/httputil"
	"github.com/banshee-data/trajectory.follower/internal/monitoring"
	"github.com/banshee-data/trajectory.follower/internal/msgs"
	"github.com/banshee-data/trajectory.follower/internal/purepursuit"
	"github.com/banshee-data/trajectory.follower/internal/units"
)

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"

	defaultAlertLimit = 50
	maxAlertLimit     = 1000
)

// Node is the part of the wrapper the API reads from.
type Node interface {
	Status() purepursuit.Status
	LastLane() (msgs.Lane, bool)
	PublishPluginDiscovery() error
}

// AlertStore lists recorded alerts.
type AlertStore interface {
	RecentAlerts(limit int) ([]db.AlertRecord, error)
}

type Server struct {
	node   Node
	alerts AlertStore
}

// NewServer returns an API server for node. alerts may be nil when the
// flight recorder is disabled.
func NewServer(node Node, alerts AlertStore) *Server {
	return &Server{node: node, alerts: alerts}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with the API routes and the /debug/lane.png plot.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/lane", s.handleLane)
	mux.HandleFunc("/api/lane/speed", s.handleLaneSpeedChart)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/discovery", s.handleDiscovery)
	s.AttachDebugRoutes(mux)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.node.Status())
}

// LaneResponse is the /api/lane body. Speeds are in Units.
type LaneResponse struct {
	Units string    `json:"units"`
	Lane  msgs.Lane `json:"lane"`
}

func (s *Server) handleLane(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	unit := units.MPS
	if u := r.URL.Query().Get("units"); u != "" {
		parsed, err := units.ParseSpeedUnit(u)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		unit = parsed
	}
	lane, ok := s.node.LastLane()
	if !ok {
		httputil.NotFound(w, "no lane published yet")
		return
	}
	httputil.WriteJSONOK(w, LaneResponse{Units: unit, Lane: convertLane(lane, unit)})
}

// convertLane returns a copy of lane with speeds in unit.
func convertLane(lane msgs.Lane, unit string) msgs.Lane {
	out := msgs.Lane{Header: lane.Header, Waypoints: make([]msgs.Waypoint, len(lane.Waypoints))}
	for i, wp := range lane.Waypoints {
		wp.Speed = units.ConvertSpeed(wp.Speed, unit)
		out.Waypoints[i] = wp
	}
	return out
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.alerts == nil {
		httputil.NotFound(w, "flight recorder disabled")
		return
	}
	limit, err := httputil.ParseLimit(r, defaultAlertLimit, maxAlertLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	records, err := s.alerts.RecentAlerts(limit)
	if err != nil {
		monitoring.Logf("[API] failed to list alerts: %v", err)
		httputil.InternalServerError(w, "failed to list alerts")
		return
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.node.PublishPluginDiscovery(); err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "published"})
}
