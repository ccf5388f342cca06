package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/audiolibrelab/fluentdrill/internal/exercise"
	"github.com/audiolibrelab/fluentdrill/internal/service"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an exercise set",
	Long: `Ask the configured generator for an exercise set and print it, or store
it as YAML so it can be practised later with 'fluentdrill practice --file'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags(cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")

		generator, err := service.NewGenerator(cfg.Generation)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		slog.Info("Generating exercises", "topic", req.Topic, "difficulty", req.Difficulty, "language", req.Language)
		set, err := generator.Generate(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to generate exercises: %w", err)
		}

		if output != "" {
			if err := exercise.WriteSetFile(output, set); err != nil {
				return err
			}
			fmt.Printf("✅ %d exercises written to %s\n", set.Len(), output)
			return nil
		}

		fmt.Printf("📚 %s · %s · %s\n\n", set.Topic, set.Difficulty, set.LanguageLabel)
		for i, ex := range set.Exercises {
			fmt.Printf("%2d. %s\n", i+1, ex.Native)
			if ex.Romanized != "" && ex.Romanized != ex.Native {
				fmt.Printf("    %s\n", ex.Romanized)
			}
			fmt.Printf("    → %s\n", ex.Translation)
		}
		return nil
	},
}

func init() {
	addRequestFlags(generateCmd)
	generateCmd.Flags().StringP("output", "o", "", "write the set to this YAML file instead of printing it")
}

func addRequestFlags(c *cobra.Command) {
	c.Flags().StringP("topic", "t", "", "topic of the exercises (e.g. 'ordering food')")
	c.Flags().StringP("difficulty", "d", string(exercise.DifficultyBeginner), "beginner, elementary, intermediate, advanced or fluent")
	c.Flags().StringP("language", "l", "", "practice language, as a label or locale code (see 'fluentdrill languages')")
}

func requestFromFlags(c *cobra.Command) (exercise.Request, error) {
	topic, _ := c.Flags().GetString("topic")
	language, _ := c.Flags().GetString("language")
	level, _ := c.Flags().GetString("difficulty")

	difficulty, err := exercise.ParseDifficulty(level)
	if err != nil {
		return exercise.Request{}, err
	}
	return exercise.Request{Topic: topic, Difficulty: difficulty, Language: language}, nil
}
