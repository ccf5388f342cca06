package cmd

import (
	"fmt"

	"github.com/audiolibrelab/fluentdrill/internal/exercise"

	"github.com/spf13/cobra"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List practice languages and difficulty levels",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("🌍 Languages (%d):\n", len(exercise.Languages))
		for _, lang := range exercise.Languages {
			fmt.Printf("  %-8s %s\n", lang.Code, lang.Label)
		}

		fmt.Printf("\n📈 Difficulties:\n")
		for _, d := range exercise.Difficulties {
			fmt.Printf("  • %s\n", d)
		}
		return nil
	},
}
