// Package config loads daemon configuration: built-in defaults, an optional
// YAML file, then environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Thresholds are the configurable detection cutoffs. Zero values fall back
// to the built-in defaults; the evolver may replace them at runtime.
type Thresholds struct {
	RatePPS          float64 `yaml:"rate_pps"`
	HandshakeCount   float64 `yaml:"handshake_count"`
	UniqueDests      float64 `yaml:"unique_dests"`
	EntropyBits      float64 `yaml:"entropy_bits"`
	ByteRate         float64 `yaml:"byte_rate"`
	ConfidenceCutoff float64 `yaml:"confidence_cutoff"`
}

// Config is the full daemon configuration surface.
type Config struct {
	HTTPPort int    `yaml:"http_port"`
	LogLevel string `yaml:"log_level"`

	TickIntervalSeconds  int `yaml:"tick_interval_seconds"`
	WindowHorizonSeconds int `yaml:"window_horizon_seconds"`
	DetectorTrials       int `yaml:"detector_trials"`
	PropagationTrials    int `yaml:"propagation_trials"`

	EarlyWarningCutoff float64 `yaml:"early_warning_cutoff"`
	PreemptiveGate     float64 `yaml:"preemptive_gate"`
	ConfirmGate        float64 `yaml:"confirm_gate"`

	AutoUnblockSeconds      int    `yaml:"auto_unblock_seconds"`
	PreemptiveExpireSeconds int    `yaml:"preemptive_expire_seconds"`
	SweepIntervalSeconds    int    `yaml:"sweep_interval_seconds"`
	LiveEnforcement         bool   `yaml:"live_enforcement"`
	RedisAddr               string `yaml:"redis_addr"`

	OutcomeLogPath  string `yaml:"outcome_log_path"`
	StrategyPath    string `yaml:"strategy_path"`
	ActionStorePath string `yaml:"action_store_path"`
	EvolveSchedule  string `yaml:"evolve_schedule"`

	ScreenMinConfidence float64 `yaml:"screen_min_confidence"`
	TrafficProfile      string  `yaml:"traffic_profile"`

	Thresholds Thresholds `yaml:"thresholds"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTPPort:                8090,
		LogLevel:                "info",
		TickIntervalSeconds:     2,
		WindowHorizonSeconds:    60,
		DetectorTrials:          1000,
		PropagationTrials:       1000,
		EarlyWarningCutoff:      0.40,
		PreemptiveGate:          0.40,
		ConfirmGate:             0.60,
		AutoUnblockSeconds:      300,
		PreemptiveExpireSeconds: 60,
		SweepIntervalSeconds:    5,
		LiveEnforcement:         false,
		OutcomeLogPath:          "data/outcomes.jsonl",
		StrategyPath:            "data/strategy.json",
		ActionStorePath:         "data/actions.db",
		EvolveSchedule:          "@every 10m",
		ScreenMinConfidence:     0.60,
		TrafficProfile:          "mixed",
	}
}

// Load reads path (if non-empty and present) over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getenvInt("SWARMSHIELD_PORT", c.HTTPPort)
	c.LogLevel = getenv("SWARMSHIELD_LOG_LEVEL", c.LogLevel)
	c.TickIntervalSeconds = getenvInt("SWARMSHIELD_TICK_SECONDS", c.TickIntervalSeconds)
	c.WindowHorizonSeconds = getenvInt("SWARMSHIELD_WINDOW_SECONDS", c.WindowHorizonSeconds)
	c.DetectorTrials = getenvInt("SWARMSHIELD_DETECTOR_TRIALS", c.DetectorTrials)
	c.PropagationTrials = getenvInt("SWARMSHIELD_PROPAGATION_TRIALS", c.PropagationTrials)
	c.PreemptiveGate = getenvFloat("SWARMSHIELD_PREEMPTIVE_GATE", c.PreemptiveGate)
	c.ConfirmGate = getenvFloat("SWARMSHIELD_CONFIRM_GATE", c.ConfirmGate)
	c.AutoUnblockSeconds = getenvInt("SWARMSHIELD_AUTO_UNBLOCK_SECONDS", c.AutoUnblockSeconds)
	c.PreemptiveExpireSeconds = getenvInt("SWARMSHIELD_PREEMPTIVE_EXPIRE_SECONDS", c.PreemptiveExpireSeconds)
	c.SweepIntervalSeconds = getenvInt("SWARMSHIELD_SWEEP_SECONDS", c.SweepIntervalSeconds)
	c.LiveEnforcement = getenvBool("SWARMSHIELD_LIVE_MODE", c.LiveEnforcement)
	c.RedisAddr = getenv("SWARMSHIELD_REDIS_ADDR", c.RedisAddr)
	c.OutcomeLogPath = getenv("SWARMSHIELD_OUTCOME_LOG", c.OutcomeLogPath)
	c.StrategyPath = getenv("SWARMSHIELD_STRATEGY_PATH", c.StrategyPath)
	c.ActionStorePath = getenv("SWARMSHIELD_ACTION_STORE", c.ActionStorePath)
	c.EvolveSchedule = getenv("SWARMSHIELD_EVOLVE_SCHEDULE", c.EvolveSchedule)
	c.TrafficProfile = getenv("SWARMSHIELD_TRAFFIC_PROFILE", c.TrafficProfile)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
