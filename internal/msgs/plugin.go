package msgs

// PluginType classifies a plugin in discovery announcements.
type PluginType uint8

// Plugin types.
const (
	PluginUnknown PluginType = iota
	PluginStrategic
	PluginTactical
	PluginControl
)

func (p PluginType) String() string {
	switch p {
	case PluginStrategic:
		return "STRATEGIC"
	case PluginTactical:
		return "TACTICAL"
	case PluginControl:
		return "CONTROL"
	default:
		return "UNKNOWN"
	}
}

// Plugin is the capability descriptor published on plugin_discovery.
type Plugin struct {
	Name       string     `msgpack:"name" json:"name"`
	VersionID  string     `msgpack:"version_id" json:"version_id"`
	Type       PluginType `msgpack:"type" json:"type"`
	Capability string     `msgpack:"capability" json:"capability"`
	Available  bool       `msgpack:"available" json:"available"`
	Activated  bool       `msgpack:"activated" json:"activated"`
}
