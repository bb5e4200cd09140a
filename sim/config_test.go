package sim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultRunConfig_IsValid(t *testing.T) {
	cfg := DefaultRunConfig()
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.StallPolicy.Enabled)
	assert.False(t, cfg.VisionFilter.Enabled)
}

func TestLoadRunConfig_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
workers: 4
audit: true
vision_filter:
  enabled: true
  radius: 80
stall_policy:
  enabled: true
  threshold: 12.5
`)
	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Audit)
	assert.Equal(t, 80.0, cfg.VisionFilter.Radius)
	assert.Equal(t, 10.0, cfg.VisionFilter.AltitudeBand, "nested keys not named keep their defaults")
	assert.Equal(t, 12.5, cfg.StallPolicy.Threshold)
	assert.Equal(t, 2.5, cfg.FCW.TTCThreshold, "untouched defaults survive")
}

func TestLoadRunConfig_RejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "workerz: 3\n")
	_, err := LoadRunConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workerz")
}

func TestLoadRunConfig_MissingFile(t *testing.T) {
	_, err := LoadRunConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunConfig)
		wantErr string
	}{
		{"negative workers", func(c *RunConfig) { c.Workers = -1 }, "workers"},
		{"vision filter without radius", func(c *RunConfig) { c.VisionFilter = VisionFilterConfig{Enabled: true} }, "vision_filter.radius"},
		{"negative altitude band", func(c *RunConfig) { c.VisionFilter.AltitudeBand = -1 }, "altitude_band"},
		{"negative ttc", func(c *RunConfig) { c.FCW.TTCThreshold = -1 }, "fcw"},
		{"stall policy without threshold", func(c *RunConfig) { c.StallPolicy = StallPolicy{Enabled: true} }, "stall_policy"},
		{"zero history", func(c *RunConfig) { c.HistoryLength = 0 }, "history_length"},
		{"zero perception range", func(c *RunConfig) { c.PerceptionRange = 0 }, "perception_range"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.wantErr), "got %q", err)
		})
	}
}
