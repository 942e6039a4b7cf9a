package purepursuit

import (
	"github.com/banshee-data/trajectory.follower/internal/config"
	"github.com/banshee-data/trajectory.follower/internal/msgs"
)

// Plugin discovery defaults.
const (
	PluginName       = "Pure Pursuit"
	PluginVersion    = "v1.0"
	PluginCapability = "control_pure_pursuit_plan/plan_controls"
)

// NewPlugin builds the static discovery descriptor, applying any overrides
// from d. An empty versionID falls back to PluginVersion.
func NewPlugin(d config.DiscoveryConfig, versionID string) msgs.Plugin {
	p := msgs.Plugin{
		Name:       PluginName,
		VersionID:  PluginVersion,
		Type:       msgs.PluginControl,
		Capability: PluginCapability,
		Available:  true,
		Activated:  true,
	}
	if versionID != "" {
		p.VersionID = versionID
	}
	if d.Name != "" {
		p.Name = d.Name
	}
	if d.Capability != "" {
		p.Capability = d.Capability
	}
	if d.Available != nil {
		p.Available = *d.Available
	}
	if d.Activated != nil {
		p.Activated = *d.Activated
	}
	return p
}
