// Package config provides a viper-based loader for a meshchain node's
// configuration file and environment overrides, grounded on the teacher's
// pkg/config/config.go (same viper defaults/AutomaticEnv/Unmarshal shape,
// reading an explicit file via SetConfigFile, generalized from a multi-subsystem blockchain config down to the
// handful of knobs a mesh node actually has: see SPEC_FULL.md §4.6).
package config

import (
	"time"

	"github.com/spf13/viper"

	"meshchain/internal/errs"
)

// Config is the unified configuration for one meshchain node.
type Config struct {
	Node struct {
		LogLevel      string `mapstructure:"log_level" json:"log_level"`
		ControlSocket string `mapstructure:"control_socket" json:"control_socket"`
	} `mapstructure:"node" json:"node"`

	Round struct {
		RoundSeconds                int `mapstructure:"round_seconds" json:"round_seconds"`
		PulseTimeoutSeconds         int `mapstructure:"pulse_timeout_seconds" json:"pulse_timeout_seconds"`
		ElectionWaitSeconds         int `mapstructure:"election_wait_seconds" json:"election_wait_seconds"`
		DiscoveryWaitSeconds        int `mapstructure:"discovery_wait_seconds" json:"discovery_wait_seconds"`
		BroadcastPropagationMillis  int `mapstructure:"broadcast_propagation_millis" json:"broadcast_propagation_millis"`
		EmptyMeshRetrySeconds       int `mapstructure:"empty_mesh_retry_seconds" json:"empty_mesh_retry_seconds"`
	} `mapstructure:"round" json:"round"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"metrics" json:"metrics"`
}

// AppConfig holds the configuration loaded by Load.
var AppConfig Config

// setDefaults seeds every knob with the values spec.md §4.3 names, so a node
// started without a config file still runs with the documented timings.
func setDefaults() {
	viper.SetDefault("node.log_level", "info")
	viper.SetDefault("node.control_socket", "/tmp/meshchain.sock")

	viper.SetDefault("round.round_seconds", 15)
	viper.SetDefault("round.pulse_timeout_seconds", 5)
	viper.SetDefault("round.election_wait_seconds", 70)
	viper.SetDefault("round.discovery_wait_seconds", 5)
	viper.SetDefault("round.broadcast_propagation_millis", 500)
	viper.SetDefault("round.empty_mesh_retry_seconds", 5)

	viper.SetDefault("metrics.listen_addr", ":9090")
}

// Load reads a YAML config file at path and merges in any MESH_-prefixed
// environment overrides, e.g. MESH_NODE_LOG_LEVEL. An empty path skips the
// file and relies on defaults plus environment; a non-empty path that
// cannot be read is an error.
func Load(path string) (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("MESH")
	viper.AutomaticEnv()

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errs.Wrap(err, "load config")
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, errs.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// RoundTimings converts the loaded duration knobs into core.Timings-shaped
// values. Returned as plain time.Durations to keep this package independent
// of core's import graph; callers assemble core.Timings themselves.
func (c *Config) RoundTimings() (round, pulseTimeout, electionWait, discoveryWait, broadcastPropagation, emptyMeshRetry time.Duration) {
	return time.Duration(c.Round.RoundSeconds) * time.Second,
		time.Duration(c.Round.PulseTimeoutSeconds) * time.Second,
		time.Duration(c.Round.ElectionWaitSeconds) * time.Second,
		time.Duration(c.Round.DiscoveryWaitSeconds) * time.Second,
		time.Duration(c.Round.BroadcastPropagationMillis) * time.Millisecond,
		time.Duration(c.Round.EmptyMeshRetrySeconds) * time.Second
}
