package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/audiolibrelab/fluentdrill/internal/practice"
	"github.com/audiolibrelab/fluentdrill/internal/service"

	"github.com/spf13/cobra"
)

const practiceHelp = `Commands:
  r          start recording          s   stop recording
  p          play / pause the take    v N set volume (0-1)
  u          submit for scoring       x   discard and re-record
  n / b      next / previous          g N go to exercise N
  t          toggle romanized display ?   this help
  q          quit`

var practiceCmd = &cobra.Command{
	Use:   "practice",
	Short: "Practice pronunciation interactively in the terminal",
	Long: `Generate an exercise set (or load one with --file) and work through it:
record each phrase, listen to the take and submit it for scoring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file != "" {
			cfg.Generation.Provider = "file"
			cfg.Generation.ExercisesFile = file
		}

		req, err := requestFromFlags(cmd)
		if err != nil {
			return err
		}

		svc, err := service.NewFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Println("⏳ Preparing exercises...")
		if _, err := svc.GenerateExercises(ctx, req); err != nil {
			return fmt.Errorf("failed to generate exercises: %w", err)
		}

		fmt.Println(practiceHelp)
		render(svc)

		lines := readLines(os.Stdin)
		for {
			fmt.Print("> ")
			line, ok := nextLine(ctx, lines)
			if !ok {
				fmt.Println()
				return nil
			}

			fields := strings.Fields(line)
			if len(fields) == 0 {
				render(svc)
				continue
			}
			if fields[0] == "q" {
				return nil
			}
			if err := dispatch(ctx, svc, fields); err != nil {
				fmt.Printf("❌ %v\n", err)
			}
			render(svc)
		}
	},
}

func init() {
	addRequestFlags(practiceCmd)
	practiceCmd.Flags().StringP("file", "f", "", "practice a set stored with 'fluentdrill generate --output'")
}

// readLines feeds stdin lines to a channel so the loop can also wait on
// an interrupt. The channel closes at end of input.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			slog.Debug("Stopped reading commands", "error", err)
		}
	}()
	return lines
}

// nextLine waits for the next command line. It reports false on interrupt or
// end of input.
func nextLine(ctx context.Context, lines <-chan string) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-lines:
		return line, ok
	}
}

// dispatch runs one REPL command. Background scoring failures are shown by
// render through the service notice.
func dispatch(ctx context.Context, svc service.Service, fields []string) error {
	switch fields[0] {
	case "r":
		return svc.BeginCapture(ctx)
	case "s":
		return svc.EndCapture()
	case "x":
		return svc.ReRecord()
	case "p":
		view, err := svc.View()
		if err != nil {
			return err
		}
		if view.Playback.IsPlaying {
			return svc.Pause()
		}
		return svc.Play()
	case "v":
		if len(fields) < 2 {
			fmt.Println("usage: v <0-1>")
			return nil
		}
		volume, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("invalid volume %q", fields[1])
		}
		return svc.SetVolume(volume)
	case "u":
		fmt.Println("⏳ Scoring...")
		_, err := svc.Submit(ctx)
		return err
	case "n":
		return svc.Next()
	case "b":
		return svc.Previous()
	case "g":
		if len(fields) < 2 {
			fmt.Println("usage: g <exercise number>")
			return nil
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("invalid exercise number %q", fields[1])
		}
		return svc.Navigate(n - 1)
	case "t":
		svc.SetRomanized(!svc.Romanized())
	case "?", "h", "help":
		fmt.Println(practiceHelp)
	default:
		fmt.Printf("unknown command %q, type ? for help\n", fields[0])
	}
	return nil
}

func render(svc service.Service) {
	view, err := svc.View()
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}

	fmt.Printf("\n── %d/%d · %s · %s ──\n", view.Index+1, view.Total, view.Topic, view.Language)
	fmt.Printf("  🗣  %s\n", view.Reference)
	if view.Exercise.Translation != "" {
		fmt.Printf("  → %s\n", view.Exercise.Translation)
	}

	session := view.Session
	switch session.State {
	case practice.StateRecording:
		fmt.Printf("  🔴 recording %ds\n", session.Elapsed)
	case practice.StateRecorded, practice.StateSubmitting, practice.StateCompleted:
		icon := "⏸"
		if view.Playback.IsPlaying {
			icon = "▶️"
		}
		fmt.Printf("  %s %.1fs / %.1fs  vol %.0f%%  [%s]\n",
			icon, view.Playback.Position, view.Playback.Duration, view.Playback.Volume*100, session.State)
	default:
		fmt.Printf("  ⚪ %s\n", session.State)
	}

	if result := session.Assessment; result != nil {
		o := result.Overall
		fmt.Printf("  📊 pronunciation %.0f · accuracy %.0f · fluency %.0f · completeness %.0f · prosody %.0f\n",
			o.Pronunciation, o.Accuracy, o.Fluency, o.Completeness, o.Prosody)
		for _, w := range result.Words {
			fmt.Printf("     %-16s %5.0f", w.Word, w.WordAccuracy)
			if w.Feedback != nil && w.Feedback.WordTip != "" {
				fmt.Printf("  💡 %s", w.Feedback.WordTip)
			}
			fmt.Println()
		}
	}

	if view.Notice != nil {
		fmt.Printf("  ⚠️  %s\n", view.Notice.Message)
	}
}
