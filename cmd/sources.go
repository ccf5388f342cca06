package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/fluentdrill/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long: `List the PipeWire ports that can feed a recording and check that the
configured capture device is among them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("🎙  Audio Sources (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		sources, err := audio.NewPipeWire().ListSources()
		if err != nil {
			return fmt.Errorf("failed to get PipeWire sources: %w", err)
		}

		fmt.Printf("📋 PIPEWIRE SOURCES (%d found):\n", len(sources))
		for i, source := range sources {
			fmt.Printf("  %d. %s\n", i+1, source)
		}

		fmt.Printf("\n🔧 Configured device (%s): %s\n", cfg.Capture.InputFormat, cfg.Capture.Device)
		if cfg.Capture.InputFormat == "pulse" || cfg.Capture.InputFormat == "pipewire" {
			if err := audio.ValidateSource(cfg.Capture.Device, sources); err != nil {
				fmt.Printf("  ⚠️  %v\n", err)
			} else {
				fmt.Printf("  ✅ available\n")
			}
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • Set capture.device to a port name, or \"default\" for the system microphone\n")
		fmt.Printf("  • Example: \"alsa_input.usb-Blue_Yeti-00.analog-stereo:capture_FL\"\n\n")

		return nil
	},
}
