package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testdata(t *testing.T, parts ...string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(append([]string{filepath.Dir(thisFile), "..", "testdata"}, parts...)...)
}

// captureStdout runs fn and returns what it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	fn()
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func parsedFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	fresh := &cobra.Command{Use: "run"}
	addSceneFlags(fresh)
	fresh.Flags().Bool("audit", false, "")
	fresh.Flags().Bool("sketch", false, "")
	fresh.Flags().String("trace", "none", "")
	require.NoError(t, fresh.ParseFlags(args))
	return fresh
}

func TestResolveOptions_Defaults(t *testing.T) {
	c := parsedFlags(t, "--scene", "x.yaml")

	opts, err := resolveOptions(c.Flags())

	require.NoError(t, err)
	assert.Equal(t, 200, opts.Frames)
	assert.Equal(t, 0.05, opts.Dt)
	assert.Equal(t, -1, opts.Workers)
	assert.True(t, opts.Shadow)
}

func TestResolveOptions_EnvironmentOverride(t *testing.T) {
	t.Setenv("TRAFFICSIM_FRAMES", "7")
	t.Setenv("TRAFFICSIM_EGO_GROUP", "convoy")
	c := parsedFlags(t, "--scene", "x.yaml")

	opts, err := resolveOptions(c.Flags())

	require.NoError(t, err)
	assert.Equal(t, 7, opts.Frames)
	assert.Equal(t, "convoy", opts.EgoGroup)
}

func TestResolveOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing scene", nil},
		{"zero frames", []string{"--scene", "x", "--frames", "0"}},
		{"negative dt", []string{"--scene", "x", "--dt", "-1"}},
		{"bad trace level", []string{"--scene", "x", "--trace", "verbose"}},
		{"bad log level", []string{"--scene", "x", "--log", "loud"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolveOptions(parsedFlags(t, tc.args...).Flags())
			assert.Error(t, err)
		})
	}
}

func TestRunConfig_FileAndOverrides(t *testing.T) {
	opts := options{ConfigPath: testdata(t, "run.yaml"), Workers: 2, EgoGroup: "ego", Audit: true}

	cfg, err := opts.runConfig()

	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers, "flag beats file")
	assert.True(t, cfg.Sketch, "file value kept")
	assert.True(t, cfg.Audit)
	assert.Equal(t, 20, cfg.HistoryLength)
}

func TestRunScene_PrintsMetricsAndDominantTag(t *testing.T) {
	// GIVEN the example scene run with the sketch engine
	opts := options{
		ScenePath:  testdata(t, "scenes", "highway.yaml"),
		Frames:     60,
		Dt:         0.05,
		Workers:    2,
		Shadow:     true,
		Sketch:     true,
		TraceLevel: "frames",
		LogLevel:   "error",
	}

	// WHEN it runs
	res, err := runScene(opts)
	require.NoError(t, err)
	out := captureStdout(t, res.Print)

	// THEN the metrics block and the vote are reported
	assert.Contains(t, out, "=== Simulation Metrics ===")
	assert.Contains(t, out, "Frames               : 60")
	assert.Contains(t, out, "Traced Frames        : 60")
	assert.Contains(t, out, "Dominant Scenario    : "+res.Dominant.String())
	assert.Contains(t, out, "=== Scenario Sketch ===")
}

func TestRunScene_MissingScene(t *testing.T) {
	_, err := runScene(options{ScenePath: filepath.Join(t.TempDir(), "none.yaml"), Frames: 1, Dt: 0.1, LogLevel: "error", TraceLevel: "none"})
	assert.Error(t, err)
}
