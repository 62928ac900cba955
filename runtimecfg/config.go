// Package runtimecfg loads and validates the plain configuration
// structs every component in this module is built from (spec.md §9,
// "Dynamic config" — tunables are values passed at construction, never
// hidden attribute mutation). Loading follows revid/config's YAML-file
// convention, swapping BurntSushi/toml-flavored hand parsing for
// gopkg.in/yaml.v3, and field errors are collected the way
// device.MultiError aggregates multiple device-configuration problems.
package runtimecfg

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/HunterSees/sourcesync/devicestate"
	"github.com/HunterSees/sourcesync/drift"
	"github.com/HunterSees/sourcesync/protocol"
	"github.com/HunterSees/sourcesync/receiver"
	"github.com/HunterSees/sourcesync/sync"
)

// ControllerConfig is the transmitter-side configuration surface
// (spec.md §6, "Configuration (recognized options)").
type ControllerConfig struct {
	SyncToleranceMS        float32 `yaml:"sync_tolerance_ms"`
	AdjustmentRate         float32 `yaml:"adjustment_rate"`
	MinSyncIntervalSeconds float64 `yaml:"min_sync_interval_seconds"`
	SweepIntervalSeconds   float64 `yaml:"sweep_interval_seconds"`

	DriftHistoryMaxLen   int     `yaml:"drift_history_maxlen"`
	RecentDriftsWindow   int     `yaml:"recent_drifts_window"`
	OnlineTimeoutSeconds float64 `yaml:"online_timeout_seconds"`

	StabilityMaxVariance         float64 `yaml:"stability_max_variance"`
	StabilityMinMeasurements     int     `yaml:"stability_min_measurements"`
	StabilityMinConnectionQuality float64 `yaml:"stability_min_connection_quality"`

	BufferSeconds float64 `yaml:"buffer_seconds"`
	SampleRate    uint    `yaml:"sample_rate"`
	Channels      uint    `yaml:"channels"`

	MQTTBrokerURL string `yaml:"mqtt_broker_url"`
	MQTTClientID  string `yaml:"mqtt_client_id"`

	LogPath  string `yaml:"log_path"`
	LogLevel int8   `yaml:"log_level"`
}

// DefaultControllerConfig returns the spec's documented defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		SyncToleranceMS:               10,
		AdjustmentRate:                0.1,
		MinSyncIntervalSeconds:        1,
		SweepIntervalSeconds:          5,
		DriftHistoryMaxLen:            50,
		RecentDriftsWindow:            10,
		OnlineTimeoutSeconds:          30,
		StabilityMaxVariance:          25,
		StabilityMinMeasurements:      5,
		StabilityMinConnectionQuality: 0.5,
		BufferSeconds:                 30,
		SampleRate:                    44100,
		Channels:                      2,
		MQTTClientID:                  "sourcesync-transmitter",
		LogPath:                       "transmitterd.log",
	}
}

// Validate reports every field-level problem, aggregated as a
// device.MultiError-style slice-of-errors value.
func (c ControllerConfig) Validate() error {
	var errs []error
	if c.AdjustmentRate <= 0 || c.AdjustmentRate > 1 {
		errs = append(errs, errors.New("adjustment_rate must be in (0,1]"))
	}
	if c.SyncToleranceMS < 0 {
		errs = append(errs, errors.New("sync_tolerance_ms must be >= 0"))
	}
	if c.MinSyncIntervalSeconds <= 0 {
		errs = append(errs, errors.New("min_sync_interval_seconds must be > 0"))
	}
	if c.DriftHistoryMaxLen <= 0 {
		errs = append(errs, errors.New("drift_history_maxlen must be > 0"))
	}
	if c.SampleRate == 0 {
		errs = append(errs, errors.New("sample_rate must be > 0"))
	}
	if c.MQTTBrokerURL == "" {
		errs = append(errs, errors.New("mqtt_broker_url must not be empty"))
	}
	if len(errs) == 0 {
		return nil
	}
	return MultiError(errs)
}

// SyncConfig converts the loaded options into sync.Config.
func (c ControllerConfig) SyncConfig() sync.Config {
	return sync.Config{
		Device: devicestate.Config{
			HistoryMaxLen:        c.DriftHistoryMaxLen,
			RecentWindow:         c.RecentDriftsWindow,
			StabilityMinSamples:  c.StabilityMinMeasurements,
			StabilityMaxVariance: c.StabilityMaxVariance,
			StabilityMinQuality:  c.StabilityMinConnectionQuality,
			OfflineTimeout:       secondsToDuration(c.OnlineTimeoutSeconds),
		},
		SyncToleranceMS: c.SyncToleranceMS,
		AdjustmentRate:  c.AdjustmentRate,
		MinSyncInterval: secondsToDuration(c.MinSyncIntervalSeconds),
		SweepInterval:   secondsToDuration(c.SweepIntervalSeconds),
	}
}

// AgentConfig is the receiver-side configuration surface.
type AgentConfig struct {
	DeviceID      string   `yaml:"device_id"`
	DeviceName    string   `yaml:"device_name"`
	DeviceType    string   `yaml:"device_type"`
	Location      string   `yaml:"location"`
	SyncGroup     string   `yaml:"sync_group"`
	BaseLatencyMS float32  `yaml:"base_latency_ms"`
	Capabilities  []string `yaml:"capabilities"`
	Version       string   `yaml:"version"`

	DriftIntervalSeconds   float64 `yaml:"drift_interval_seconds"`
	CorrelationWindowS     float64 `yaml:"correlation_window_s"`
	HeartbeatIntervalS     float64 `yaml:"heartbeat_interval_s"`
	StatusIntervalSeconds  float64 `yaml:"status_interval_seconds"`
	ReferenceOffsetSeconds float64 `yaml:"reference_offset_seconds"`

	MinCorrelation float64 `yaml:"min_correlation"`
	MaxDriftMS     float64 `yaml:"max_drift_ms"`
	HighPassHz     float64 `yaml:"high_pass_hz"`
	MaxJumpMS      float64 `yaml:"max_jump_ms"`

	MQTTBrokerURL string `yaml:"mqtt_broker_url"`

	LogPath  string `yaml:"log_path"`
	LogLevel int8   `yaml:"log_level"`
}

// DefaultAgentConfig returns the spec's documented defaults for id.
func DefaultAgentConfig(id string) AgentConfig {
	return AgentConfig{
		DeviceID:               id,
		DeviceName:             id,
		DeviceType:             "alsa",
		SyncGroup:              "default",
		Version:                "1.0",
		Capabilities:           []string{},
		DriftIntervalSeconds:   5,
		CorrelationWindowS:     2,
		HeartbeatIntervalS:     30,
		StatusIntervalSeconds:  30,
		ReferenceOffsetSeconds: -0.5,
		MinCorrelation:         0.7,
		MaxDriftMS:             1000,
		HighPassHz:             100,
		MaxJumpMS:              100,
		LogPath:                "receiverd.log",
	}
}

// Validate reports every field-level problem with c.
func (c AgentConfig) Validate() error {
	var errs []error
	if c.DeviceID == "" {
		errs = append(errs, errors.New("device_id must not be empty"))
	}
	if c.DriftIntervalSeconds <= 0 {
		errs = append(errs, errors.New("drift_interval_seconds must be > 0"))
	}
	if c.MinCorrelation < 0 || c.MinCorrelation > 1 {
		errs = append(errs, errors.New("min_correlation must be in [0,1]"))
	}
	if c.MQTTBrokerURL == "" {
		errs = append(errs, errors.New("mqtt_broker_url must not be empty"))
	}
	if len(errs) == 0 {
		return nil
	}
	return MultiError(errs)
}

// ReceiverConfig converts the loaded options into receiver.Config.
func (c AgentConfig) ReceiverConfig() receiver.Config {
	rc := receiver.DefaultConfig(c.DeviceID, c.DeviceName, protocol.DeviceType(c.DeviceType))
	rc.Location = c.Location
	rc.SyncGroup = c.SyncGroup
	rc.BaseLatencyMS = c.BaseLatencyMS
	rc.Capabilities = c.Capabilities
	rc.Version = c.Version
	rc.PDrift = secondsToDuration(c.DriftIntervalSeconds)
	rc.WCorr = secondsToDuration(c.CorrelationWindowS)
	rc.PHb = secondsToDuration(c.HeartbeatIntervalS)
	rc.PStatus = secondsToDuration(c.StatusIntervalSeconds)
	rc.ReferenceOffsetS = c.ReferenceOffsetSeconds
	rc.Drift = drift.Config{
		HighPassHz:     c.HighPassHz,
		MinCorrelation: c.MinCorrelation,
		MaxDriftMS:     c.MaxDriftMS,
		MaxJumpMS:      c.MaxJumpMS,
	}
	return rc
}

// MultiError aggregates independent configuration problems, the way
// device.MultiError aggregates per-device configuration errors.
type MultiError []error

func (me MultiError) Error() string {
	if len(me) == 0 {
		panic("runtimecfg: invalid use of MultiError")
	}
	return fmt.Sprintf("%v", []error(me))
}

// LoadControllerConfig reads and validates a ControllerConfig from a
// YAML file at path, starting from DefaultControllerConfig so unset
// fields keep their documented defaults.
func LoadControllerConfig(path string) (ControllerConfig, error) {
	cfg := DefaultControllerConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return ControllerConfig{}, errors.Wrap(err, "runtimecfg: could not read controller config")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return ControllerConfig{}, errors.Wrap(err, "runtimecfg: could not parse controller config")
	}
	if err := cfg.Validate(); err != nil {
		return ControllerConfig{}, errors.Wrap(err, "runtimecfg: invalid controller config")
	}
	return cfg, nil
}

// LoadAgentConfig reads and validates an AgentConfig from a YAML file
// at path.
func LoadAgentConfig(path string) (AgentConfig, error) {
	cfg := DefaultAgentConfig("")
	b, err := os.ReadFile(path)
	if err != nil {
		return AgentConfig{}, errors.Wrap(err, "runtimecfg: could not read agent config")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return AgentConfig{}, errors.Wrap(err, "runtimecfg: could not parse agent config")
	}
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, errors.Wrap(err, "runtimecfg: invalid agent config")
	}
	return cfg, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
