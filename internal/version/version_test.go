package version

import (
	"strings"
	"testing"
)

func TestPluginVersion(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "dev"
	if got := PluginVersion(); got != "v1.0-dev" {
		t.Errorf("PluginVersion() = %q, want v1.0-dev", got)
	}

	Version = "v1.2.0"
	if got := PluginVersion(); got != "v1.2.0" {
		t.Errorf("PluginVersion() = %q, want v1.2.0", got)
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.Contains(s, Version) || !strings.Contains(s, GitSHA) {
		t.Errorf("String() = %q missing build fields", s)
	}
}
