package runtimecfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultControllerConfigRequiresBrokerURL(t *testing.T) {
	cfg := DefaultControllerConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected defaults alone (no mqtt_broker_url) to be invalid")
	}
	cfg.MQTTBrokerURL = "tcp://localhost:1883"
	if err := cfg.Validate(); err != nil {
		t.Errorf("got %v, want no error once mqtt_broker_url is set", err)
	}
}

func TestControllerConfigValidateAggregatesErrors(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.AdjustmentRate = 0
	cfg.SampleRate = 0
	err := cfg.Validate()
	me, ok := err.(MultiError)
	if !ok {
		t.Fatalf("got %T, want MultiError", err)
	}
	if len(me) < 2 {
		t.Errorf("got %d errors, want at least 2", len(me))
	}
}

func TestAgentConfigValidateRequiresDeviceID(t *testing.T) {
	cfg := DefaultAgentConfig("")
	cfg.MQTTBrokerURL = "tcp://localhost:1883"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected empty device_id to be invalid")
	}
}

func TestLoadControllerConfigAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transmitterd.yaml")
	yaml := "mqtt_broker_url: tcp://broker:1883\nsync_tolerance_ms: 25\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadControllerConfig(path)
	if err != nil {
		t.Fatalf("LoadControllerConfig: %v", err)
	}

	want := DefaultControllerConfig()
	want.MQTTBrokerURL = "tcp://broker:1883"
	want.SyncToleranceMS = 25
	if !cmp.Equal(cfg, want) {
		t.Errorf("got %+v, want %+v (diff: %s)", cfg, want, cmp.Diff(want, cfg))
	}
}

func TestLoadControllerConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transmitterd.yaml")
	if err := os.WriteFile(path, []byte("adjustment_rate: 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadControllerConfig(path); err == nil {
		t.Fatal("expected an error for an invalid config (adjustment_rate=0, no mqtt_broker_url)")
	}
}

func TestAgentConfigReceiverConfigCarriesDeviceType(t *testing.T) {
	cfg := DefaultAgentConfig("dev1")
	cfg.DeviceType = "chromecast"
	rc := cfg.ReceiverConfig()
	if rc.DeviceID != "dev1" {
		t.Errorf("got device id %q, want %q", rc.DeviceID, "dev1")
	}
	if rc.DeviceType != "chromecast" {
		t.Errorf("got device type %q, want %q", rc.DeviceType, "chromecast")
	}
}
