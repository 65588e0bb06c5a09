package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msto63/mediaprep/pkg/core/config"
	"github.com/msto63/mediaprep/pkg/core/logging"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mediaprep",
	Short: "mediaprep - media preprocessing and augmentation",
	Long: `mediaprep runs configurable preprocessing and augmentation
pipelines over text, images, audio and 3D meshes.

Operations:
  text/preprocess   text/augment
  image/preprocess  image/augment
  audio/preprocess  audio/augment
  mesh/preprocess   mesh/augment   (alias: 3d)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		printError("mediaprep", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the --config file or the default locations and applies
// the logging settings.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}

	level := cfg.General.LogLevel
	if verbose {
		level = "debug"
	}
	logging.Configure(level, cfg.General.LogFormat)
	return cfg, nil
}

func printError(msg string, err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+msg+": "+err.Error()))
}
