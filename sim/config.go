package sim

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VisionFilterConfig approximates ego's sensing range on the outbound snapshot.
type VisionFilterConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Radius       float64 `yaml:"radius"`        // planar radius around ego (m)
	AltitudeBand float64 `yaml:"altitude_band"` // max |z - ego z| (m); 0 disables the altitude test
}

// FCWConfig groups forward-collision-warning parameters.
type FCWConfig struct {
	Radius       float64 `yaml:"radius"`        // vehicles farther than this from ego are skipped (m)
	TTCThreshold float64 `yaml:"ttc_threshold"` // warn when time-to-collision drops below this (s)
}

// RunConfig is the run-wide configuration resolved once when an orchestrator is built.
// It is shared by pointer and never mutated afterwards.
type RunConfig struct {
	EgoGroup        string             `yaml:"ego_group"` // group supplying the frame-reference leader; empty = first leader
	Workers         int                `yaml:"workers"`   // worker-pool width; 0 = GOMAXPROCS
	VisionFilter    VisionFilterConfig `yaml:"vision_filter"`
	FCW             FCWConfig          `yaml:"fcw"`
	StallPolicy     StallPolicy        `yaml:"stall_policy"`
	Audit           bool               `yaml:"audit"`
	HistoryLength   int                `yaml:"history_length"`   // ego kinematic ring size
	PerceptionRange float64            `yaml:"perception_range"` // ego neighborhood radius (m)
	Sketch          bool               `yaml:"sketch"`
}

// DefaultRunConfig returns the configuration used when no file is given.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		VisionFilter:    VisionFilterConfig{Radius: 150, AltitudeBand: 10},
		FCW:             FCWConfig{Radius: 100, TTCThreshold: 2.5},
		HistoryLength:   defaultHistory,
		PerceptionRange: 120,
	}
}

// LoadRunConfig reads a YAML run configuration on top of DefaultRunConfig. Unknown keys are
// rejected.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run config: %w", err)
	}
	cfg := DefaultRunConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing run config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all fields are usable.
func (c *RunConfig) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.VisionFilter.Enabled && c.VisionFilter.Radius <= 0 {
		return fmt.Errorf("vision_filter.radius must be positive when enabled, got %f", c.VisionFilter.Radius)
	}
	if c.VisionFilter.AltitudeBand < 0 {
		return fmt.Errorf("vision_filter.altitude_band must be >= 0, got %f", c.VisionFilter.AltitudeBand)
	}
	if c.FCW.Radius < 0 || c.FCW.TTCThreshold < 0 {
		return fmt.Errorf("fcw radius and ttc_threshold must be >= 0, got %f and %f", c.FCW.Radius, c.FCW.TTCThreshold)
	}
	if c.StallPolicy.Enabled && c.StallPolicy.Threshold <= 0 {
		return fmt.Errorf("stall_policy.threshold must be positive when enabled, got %f", c.StallPolicy.Threshold)
	}
	if c.HistoryLength < 1 {
		return fmt.Errorf("history_length must be >= 1, got %d", c.HistoryLength)
	}
	if c.PerceptionRange <= 0 {
		return fmt.Errorf("perception_range must be positive, got %f", c.PerceptionRange)
	}
	return nil
}
