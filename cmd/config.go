package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/fluentdrill/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage FluentDrill configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.Generation.APIKey != "" {
			shown.Generation.APIKey = "********"
		}
		out, err := yaml.Marshal(&shown)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		if cfg.Profile != "" {
			fmt.Printf("# profile: %s\n", cfg.Profile)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}

		configPath := cfgFile
		if configPath == "" {
			configPath = config.DefaultConfigPath()
		}
		fmt.Printf("Opening %s with %s...\n", configPath, editor)

		edit := exec.Command(editor, configPath)
		edit.Stdin = os.Stdin
		edit.Stdout = os.Stdout
		edit.Stderr = os.Stderr
		if err := edit.Run(); err != nil {
			return fmt.Errorf("editor exited with error: %w", err)
		}

		if _, err := config.LoadWithProfile(configPath, profile); err != nil {
			return fmt.Errorf("edited configuration is invalid: %w", err)
		}
		fmt.Println("✅ Configuration is valid")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
}
