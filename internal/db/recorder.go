package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/trajectory.follower/internal/msgs"
)

// AlertRecord is one recorded alert.
type AlertRecord struct {
	ID        int64            `json:"id"`
	Direction string           `json:"direction"`
	TypeName  string           `json:"type_name"`
	Alert     msgs.SystemAlert `json:"alert"`
}

// LaneRecord summarises one recorded lane.
type LaneRecord struct {
	ID            int64       `json:"id"`
	Header        msgs.Header `json:"header"`
	WaypointCount int         `json:"waypoint_count"`
}

// RecordAlert stores an inbound ("in") or outbound ("out") alert.
func (db *DB) RecordAlert(a msgs.SystemAlert, direction string) error {
	_, err := db.Exec(
		`INSERT INTO alerts (direction, alert_type, type_name, description, source, stamp_unix_nanos)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		direction, int(a.Type), a.Type.String(), a.Description, a.Source, toNanos(a.Stamp),
	)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (db *DB) RecentAlerts(limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT alert_id, direction, alert_type, type_name, description, source, stamp_unix_nanos
		 FROM alerts ORDER BY alert_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	records := []AlertRecord{}
	for rows.Next() {
		var (
			r       AlertRecord
			typ     int
			stampNs int64
		)
		if err := rows.Scan(&r.ID, &r.Direction, &typ, &r.TypeName, &r.Alert.Description, &r.Alert.Source, &stampNs); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		r.Alert.Type = msgs.AlertType(typ)
		r.Alert.Stamp = fromNanos(stampNs)
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordLane stores a lane and its waypoints in one transaction.
func (db *DB) RecordLane(lane msgs.Lane) error {
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin lane transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO lanes (seq, frame_id, stamp_unix_nanos, waypoint_count) VALUES (?, ?, ?, ?)`,
		lane.Header.Seq, lane.Header.FrameID, toNanos(lane.Header.Stamp), len(lane.Waypoints))
	if err != nil {
		return fmt.Errorf("failed to insert lane: %w", err)
	}
	laneID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read lane id: %w", err)
	}

	if len(lane.Waypoints) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO lane_waypoints (
				lane_id, idx, gid, x, y, z, qz, qw, heading, speed, relative_heading,
				distance_from_vehicle, target_time_unix_nanos, time_to_reach_nanos, lane_ref
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare waypoint insert: %w", err)
		}
		defer stmt.Close()

		for i, wp := range lane.Waypoints {
			p := wp.Pose.Position
			q := wp.Pose.Orientation
			if _, err := stmt.ExecContext(ctx,
				laneID, i, wp.Gid, p.X, p.Y, p.Z, q.Z, q.W, wp.Heading, wp.Speed, wp.RelativeHeading,
				wp.DistanceFromVehicle, toNanos(wp.TargetTime), int64(wp.TimeToReach), wp.LaneID,
			); err != nil {
				return fmt.Errorf("failed to insert waypoint %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lane: %w", err)
	}
	return nil
}

// RecentLanes returns up to limit lane summaries, newest first.
func (db *DB) RecentLanes(limit int) ([]LaneRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT lane_id, seq, frame_id, stamp_unix_nanos, waypoint_count
		 FROM lanes ORDER BY lane_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query lanes: %w", err)
	}
	defer rows.Close()

	records := []LaneRecord{}
	for rows.Next() {
		var (
			r       LaneRecord
			stampNs int64
		)
		if err := rows.Scan(&r.ID, &r.Header.Seq, &r.Header.FrameID, &stampNs, &r.WaypointCount); err != nil {
			return nil, fmt.Errorf("failed to scan lane: %w", err)
		}
		r.Header.Stamp = fromNanos(stampNs)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Lane loads a recorded lane with its waypoints. Every waypoint carries
// the lane header, as it did when published.
func (db *DB) Lane(id int64) (msgs.Lane, error) {
	var (
		lane    msgs.Lane
		stampNs int64
	)
	err := db.QueryRow(`SELECT seq, frame_id, stamp_unix_nanos FROM lanes WHERE lane_id = ?`, id).
		Scan(&lane.Header.Seq, &lane.Header.FrameID, &stampNs)
	if err == sql.ErrNoRows {
		return msgs.Lane{}, fmt.Errorf("lane %d not found: %w", id, err)
	}
	if err != nil {
		return msgs.Lane{}, fmt.Errorf("failed to query lane %d: %w", id, err)
	}
	lane.Header.Stamp = fromNanos(stampNs)

	rows, err := db.Query(
		`SELECT gid, x, y, z, qz, qw, heading, speed, relative_heading,
			distance_from_vehicle, target_time_unix_nanos, time_to_reach_nanos, lane_ref
		 FROM lane_waypoints WHERE lane_id = ? ORDER BY idx`, id)
	if err != nil {
		return msgs.Lane{}, fmt.Errorf("failed to query waypoints: %w", err)
	}
	defer rows.Close()

	lane.Waypoints = []msgs.Waypoint{}
	for rows.Next() {
		var (
			wp       msgs.Waypoint
			targetNs int64
			reachNs  int64
		)
		p := &wp.Pose.Position
		q := &wp.Pose.Orientation
		if err := rows.Scan(&wp.Gid, &p.X, &p.Y, &p.Z, &q.Z, &q.W, &wp.Heading, &wp.Speed, &wp.RelativeHeading,
			&wp.DistanceFromVehicle, &targetNs, &reachNs, &wp.LaneID); err != nil {
			return msgs.Lane{}, fmt.Errorf("failed to scan waypoint: %w", err)
		}
		wp.Header = lane.Header
		wp.TargetTime = fromNanos(targetNs)
		wp.TimeToReach = time.Duration(reachNs)
		lane.Waypoints = append(lane.Waypoints, wp)
	}
	return lane, rows.Err()
}
