package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical node defaults file.
const DefaultConfigPath = "config/node.defaults.json"

// Default values used when a field is omitted from the config file.
const (
	DefaultNodeName            = "pure_pursuit_wrapper_node"
	DefaultSyncTolerance       = 100 * time.Millisecond
	DefaultSyncQueueSize       = 10
	DefaultSyncHorizon         = time.Second
	DefaultFaultGracePeriod    = 50 * time.Millisecond
	DefaultSubscriberQueueSize = 10
	DefaultLogLevel            = "info"
)

// Default topic names.
const (
	TopicCurrentPose     = "current_pose"
	TopicPlanTrajectory  = "plan_trajectory"
	TopicSystemAlert     = "system_alert"
	TopicFinalWaypoints  = "final_waypoints"
	TopicPluginDiscovery = "plugin_discovery"
	TopicVehicleCmd      = "vehicle_cmd"
	TopicRobotStatus     = "robot_status"
)

// NodeConfig is the root configuration of the pure pursuit wrapper node.
// Pointer fields distinguish "unset" from zero values; the Get* methods
// supply defaults for anything left out of the file.
type NodeConfig struct {
	NodeName *string `json:"node_name,omitempty" yaml:"node_name,omitempty"`
	LogLevel *string `json:"log_level,omitempty" yaml:"log_level,omitempty"`

	// Pose / plan correlation
	SyncTolerance *string `json:"sync_tolerance,omitempty" yaml:"sync_tolerance,omitempty"` // duration string like "100ms"
	SyncQueueSize *int    `json:"sync_queue_size,omitempty" yaml:"sync_queue_size,omitempty"`
	SyncHorizon   *string `json:"sync_horizon,omitempty" yaml:"sync_horizon,omitempty"`

	// Fault containment
	FaultGracePeriod *string `json:"fault_grace_period,omitempty" yaml:"fault_grace_period,omitempty"`

	SubscriberQueueSize *int    `json:"subscriber_queue_size,omitempty" yaml:"subscriber_queue_size,omitempty"`
	DiscoveryInterval   *string `json:"discovery_interval,omitempty" yaml:"discovery_interval,omitempty"` // "0s" disables periodic announcements
	RecordLanes         *bool   `json:"record_lanes,omitempty" yaml:"record_lanes,omitempty"`

	Topics    *TopicConfig     `json:"topics,omitempty" yaml:"topics,omitempty"`
	Discovery *DiscoveryConfig `json:"discovery,omitempty" yaml:"discovery,omitempty"`
}

// TopicConfig names the topics the node talks on. Empty fields fall back to
// the Topic* defaults.
type TopicConfig struct {
	CurrentPose     string `json:"current_pose,omitempty" yaml:"current_pose,omitempty"`
	PlanTrajectory  string `json:"plan_trajectory,omitempty" yaml:"plan_trajectory,omitempty"`
	SystemAlert     string `json:"system_alert,omitempty" yaml:"system_alert,omitempty"`
	FinalWaypoints  string `json:"final_waypoints,omitempty" yaml:"final_waypoints,omitempty"`
	PluginDiscovery string `json:"plugin_discovery,omitempty" yaml:"plugin_discovery,omitempty"`
	VehicleCmd      string `json:"vehicle_cmd,omitempty" yaml:"vehicle_cmd,omitempty"`
	RobotStatus     string `json:"robot_status,omitempty" yaml:"robot_status,omitempty"`
}

// DiscoveryConfig overrides fields of the plugin discovery announcement.
type DiscoveryConfig struct {
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Capability string `json:"capability,omitempty" yaml:"capability,omitempty"`
	Available  *bool  `json:"available,omitempty" yaml:"available,omitempty"`
	Activated  *bool  `json:"activated,omitempty" yaml:"activated,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// EmptyNodeConfig returns a NodeConfig with all fields set to nil.
func EmptyNodeConfig() *NodeConfig {
	return &NodeConfig{}
}

// DefaultNodeConfig returns a fully populated config matching the built-in
// defaults. It is used when no config file is given.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		NodeName:            ptrString(DefaultNodeName),
		LogLevel:            ptrString(DefaultLogLevel),
		SyncTolerance:       ptrString(DefaultSyncTolerance.String()),
		SyncQueueSize:       ptrInt(DefaultSyncQueueSize),
		SyncHorizon:         ptrString(DefaultSyncHorizon.String()),
		FaultGracePeriod:    ptrString(DefaultFaultGracePeriod.String()),
		SubscriberQueueSize: ptrInt(DefaultSubscriberQueueSize),
		DiscoveryInterval:   ptrString("0s"),
		RecordLanes:         ptrBool(true),
	}
}

// LoadNodeConfig loads a NodeConfig from a JSON or YAML file, chosen by
// extension. Fields omitted from the file keep their defaults, so partial
// configs are safe.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyNodeConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *NodeConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadNodeConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *NodeConfig) Validate() error {
	if c.NodeName != nil && *c.NodeName == "" {
		return fmt.Errorf("node_name must not be empty")
	}

	durations := []struct {
		name     string
		value    *string
		positive bool
	}{
		{"sync_tolerance", c.SyncTolerance, false},
		{"sync_horizon", c.SyncHorizon, true},
		{"fault_grace_period", c.FaultGracePeriod, false},
		{"discovery_interval", c.DiscoveryInterval, false},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 || (d.positive && v == 0) {
			return fmt.Errorf("%s must be positive, got %s", d.name, v)
		}
	}

	if c.SyncQueueSize != nil && *c.SyncQueueSize < 1 {
		return fmt.Errorf("sync_queue_size must be at least 1, got %d", *c.SyncQueueSize)
	}
	if c.SubscriberQueueSize != nil && *c.SubscriberQueueSize < 1 {
		return fmt.Errorf("subscriber_queue_size must be at least 1, got %d", *c.SubscriberQueueSize)
	}

	if c.SyncTolerance != nil && c.SyncHorizon != nil && *c.SyncTolerance != "" && *c.SyncHorizon != "" {
		if c.GetSyncTolerance() > c.GetSyncHorizon() {
			return fmt.Errorf("sync_tolerance (%s) must not exceed sync_horizon (%s)", *c.SyncTolerance, *c.SyncHorizon)
		}
	}

	return nil
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetNodeName returns the node name or the default.
func (c *NodeConfig) GetNodeName() string {
	if c.NodeName == nil || *c.NodeName == "" {
		return DefaultNodeName
	}
	return *c.NodeName
}

// GetLogLevel returns the log level name or the default.
func (c *NodeConfig) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return DefaultLogLevel
	}
	return *c.LogLevel
}

// GetSyncTolerance returns the pose/plan pairing tolerance.
func (c *NodeConfig) GetSyncTolerance() time.Duration {
	return parseDurationOr(c.SyncTolerance, DefaultSyncTolerance)
}

// GetSyncQueueSize returns the per-stream synchronizer queue size.
func (c *NodeConfig) GetSyncQueueSize() int {
	if c.SyncQueueSize == nil {
		return DefaultSyncQueueSize
	}
	return *c.SyncQueueSize
}

// GetSyncHorizon returns how long unpaired samples are buffered.
func (c *NodeConfig) GetSyncHorizon() time.Duration {
	return parseDurationOr(c.SyncHorizon, DefaultSyncHorizon)
}

// GetFaultGracePeriod returns the delay between sending a FATAL alert and
// shutting down.
func (c *NodeConfig) GetFaultGracePeriod() time.Duration {
	return parseDurationOr(c.FaultGracePeriod, DefaultFaultGracePeriod)
}

// GetSubscriberQueueSize returns the inbound subscription queue size.
func (c *NodeConfig) GetSubscriberQueueSize() int {
	if c.SubscriberQueueSize == nil {
		return DefaultSubscriberQueueSize
	}
	return *c.SubscriberQueueSize
}

// GetDiscoveryInterval returns the periodic discovery interval. Zero means
// the announcement is only sent at startup and on demand.
func (c *NodeConfig) GetDiscoveryInterval() time.Duration {
	return parseDurationOr(c.DiscoveryInterval, 0)
}

// GetRecordLanes reports whether published lanes go to the flight recorder.
func (c *NodeConfig) GetRecordLanes() bool {
	if c.RecordLanes == nil {
		return true
	}
	return *c.RecordLanes
}

// GetTopics returns the topic names with defaults filled in.
func (c *NodeConfig) GetTopics() TopicConfig {
	t := TopicConfig{}
	if c.Topics != nil {
		t = *c.Topics
	}
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&t.CurrentPose, TopicCurrentPose)
	fill(&t.PlanTrajectory, TopicPlanTrajectory)
	fill(&t.SystemAlert, TopicSystemAlert)
	fill(&t.FinalWaypoints, TopicFinalWaypoints)
	fill(&t.PluginDiscovery, TopicPluginDiscovery)
	fill(&t.VehicleCmd, TopicVehicleCmd)
	fill(&t.RobotStatus, TopicRobotStatus)
	return t
}

// GetDiscovery returns the discovery overrides, never nil.
func (c *NodeConfig) GetDiscovery() DiscoveryConfig {
	if c.Discovery == nil {
		return DiscoveryConfig{}
	}
	return *c.Discovery
}
