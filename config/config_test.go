package config

import (
	"testing"
	"time"

	"github.com/noisymesh/bitchat/session"
)

func TestZeroValueConfigFallsBackToDefaults(t *testing.T) {
	var c Config
	sc := c.Session.ToSessionConfig()
	want := session.DefaultConfig()
	if sc != want {
		t.Fatalf("zero-value SessionConfig = %+v, want defaults %+v", sc, want)
	}
}

func TestExplicitValuesOverrideDefaults(t *testing.T) {
	c := Config{Session: SessionConfig{HandshakeTimeoutSecs: 5}}
	sc := c.Session.ToSessionConfig()
	if sc.HandshakeTimeout != 5*time.Second {
		t.Fatalf("HandshakeTimeout = %v, want 5s", sc.HandshakeTimeout)
	}
	if sc.IdleTimeout != session.DefaultConfig().IdleTimeout {
		t.Fatalf("IdleTimeout should still fall back to default when unset")
	}
}

func TestGetConfigByKind(t *testing.T) {
	cfg, err := GetConfigByKind("Config")
	if err != nil {
		t.Fatalf("GetConfigByKind: %v", err)
	}
	if cfg.GetKind() != "Config" || cfg.GetAPIVersion() != ApiVersion {
		t.Fatalf("unexpected kind/apiVersion: %q/%q", cfg.GetKind(), cfg.GetAPIVersion())
	}
	if _, err := GetConfigByKind("Bogus"); err == nil {
		t.Fatalf("GetConfigByKind(Bogus) succeeded, want error")
	}
}
