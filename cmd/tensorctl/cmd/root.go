package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tensorgraph/engine/pkg/config"
	"github.com/tensorgraph/engine/pkg/telemetry"
	"github.com/tensorgraph/engine/pkg/utils"
)

var (
	// Global flags
	verbose    bool
	configPath string
	logger     utils.Logger

	// telemetry shutdown, set by PersistentPreRunE
	telemetryShutdown telemetry.ShutdownFunc

	// loaded configuration, set by PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tensorctl",
	Short: "A command-line tensor engine",
	Long: `tensorctl drives a lazy, node-addressed automatic-differentiation
engine: tensors are handles into a compute graph, operations build the
graph without running it, and Execute/Backward materialize it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := utils.LevelInfo
		if verbose {
			logLevel = utils.LevelDebug
		}
		logger = utils.NewDefaultLogger(logLevel, os.Stdout)

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		telemetry.SetEngineInfo(cfg.Engine.Backend, cfg.Engine.TensorDim)

		shutdown, err := telemetry.Init(context.Background())
		if err != nil {
			logger.Warn("telemetry init failed, continuing without tracing: %v", err)
			shutdown = func(context.Context) error { return nil }
		}
		telemetryShutdown = shutdown

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if telemetryShutdown != nil {
			return telemetryShutdown(context.Background())
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	binName := BinName()
	rootCmd.Example = `  # List the backends this build was compiled with
  ` + binName + ` backends

  # Run the built-in demo graph and print its forward/backward results
  ` + binName + ` demo

  # Run the demo with gradients disabled
  ` + binName + ` demo --no-grad`
}

// GetLogger returns the configured logger.
func GetLogger() utils.Logger {
	return logger
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return cfg
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}
