package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/fluentdrill/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "fluentdrill",
	Short: "Pronunciation practice from the terminal or a browser",
	Long: `FluentDrill generates short phrase sets in the language you are learning,
records you saying each phrase, plays the take back and asks a scoring
service how close you were.

Run 'fluentdrill practice' for an interactive session in the terminal or
'fluentdrill serve' to drive a session over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// Listing languages needs no configuration
		if cmd.Name() == "languages" {
			return nil
		}

		var err error
		cfg, err = config.LoadWithProfile(resolveConfigPath(), profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.Debug("Configuration loaded", "profile", cfg.Profile, "provider", cfg.Generation.Provider)

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fluentdrill.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output")

	rootCmd.AddCommand(practiceCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(languagesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// resolveConfigPath returns the --config value, or the default path when a
// file exists there. An empty result means defaults and environment only.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	path := config.DefaultConfigPath()
	if _, err := os.Stat(path); err != nil {
		slog.Debug("No config file found, using defaults", "path", path)
		return ""
	}
	return path
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// ffmpeg reads its own log level from the environment
	if level >= 2 {
		os.Setenv("FFMPEG_LOGLEVEL", "debug")
	}
}
