package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides: TRAFFICSIM_FRAMES, TRAFFICSIM_DT, ...
const envPrefix = "TRAFFICSIM"

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "traffic-sim",
	Short: "Frame-stepped traffic simulator for autonomous-driving evaluation",
}

// runCmd runs a scene for a fixed number of frames and prints the run statistics
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scene",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := resolveOptions(cmd.Flags())
		if err != nil {
			return err
		}
		res, err := runScene(opts)
		if err != nil {
			return err
		}
		res.Print()
		logrus.Info("Simulation complete.")
		return nil
	},
}

// voteCmd runs a scene with the sketch engine and prints only the dominant scenario tag
var voteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Print the dominant scenario tag of a scene",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := resolveOptions(cmd.Flags())
		if err != nil {
			return err
		}
		opts.Sketch = true
		res, err := runScene(opts)
		if err != nil {
			return err
		}
		fmt.Println(res.Dominant)
		return nil
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newViper layers flags over TRAFFICSIM_* environment variables.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	return v, nil
}

func addSceneFlags(c *cobra.Command) {
	c.Flags().String("scene", "", "Scene YAML file")
	c.Flags().String("config", "", "Run configuration YAML file (defaults apply when empty)")
	c.Flags().Int("frames", 200, "Number of frames to run")
	c.Flags().Float64("dt", 0.05, "Frame period (s)")
	c.Flags().Float64("start", 0, "Absolute time of the first frame (s)")
	c.Flags().Int("workers", -1, "Worker-pool width; 0 = GOMAXPROCS, negative keeps the config value")
	c.Flags().String("ego-group", "", "Ego group supplying the frame-reference leader")
	c.Flags().Bool("shadow", true, "Attach the scene's shadow block as an overlay layer when present")
	c.Flags().String("log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
}

// init sets up CLI flags and subcommands
func init() {
	addSceneFlags(runCmd)
	runCmd.Flags().Bool("audit", false, "Record and print the per-vehicle audit dump")
	runCmd.Flags().Bool("sketch", false, "Evaluate scenario predicates every frame")
	runCmd.Flags().String("trace", "none", "Trace level (none, frames, audit)")

	addSceneFlags(voteCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(voteCmd)
}
