package msgs

import (
	"fmt"
	"strings"
	"time"
)

// AlertType is the kind of a SystemAlert.
type AlertType uint8

// Alert kinds. The zero value is reserved so an unset type never reads as
// a valid alert.
const (
	AlertInfo AlertType = iota + 1
	AlertWarn
	AlertShutdown
	AlertFatal
)

var alertTypeNames = map[AlertType]string{
	AlertInfo:     "INFO",
	AlertWarn:     "WARN",
	AlertShutdown: "SHUTDOWN",
	AlertFatal:    "FATAL",
}

// String returns the upper-case name of the alert type.
func (a AlertType) String() string {
	if name, ok := alertTypeNames[a]; ok {
		return name
	}
	return fmt.Sprintf("AlertType(%d)", uint8(a))
}

// Valid reports whether a is one of the known alert kinds.
func (a AlertType) Valid() bool {
	_, ok := alertTypeNames[a]
	return ok
}

// ParseAlertType parses a case-insensitive alert type name.
func ParseAlertType(s string) (AlertType, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for t, name := range alertTypeNames {
		if name == want {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown alert type %q", s)
}

// SystemAlert is a fleet-wide fault or lifecycle signal.
type SystemAlert struct {
	Type        AlertType `msgpack:"type" json:"type"`
	Description string    `msgpack:"description" json:"description"`
	Source      string    `msgpack:"source" json:"source"`
	Stamp       time.Time `msgpack:"stamp" json:"stamp"`
}
