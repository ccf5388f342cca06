package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected defaults to load, got %v", err)
	}

	if cfg.Assessment.Timeout != 60*time.Second {
		t.Errorf("Expected 60s assessment timeout, got %v", cfg.Assessment.Timeout)
	}
	if cfg.Capture.TickInterval != time.Second || cfg.Playback.PollInterval != 100*time.Millisecond {
		t.Errorf("Unexpected timer defaults: tick=%v poll=%v", cfg.Capture.TickInterval, cfg.Playback.PollInterval)
	}
	if cfg.Capture.Codec != "libopus" || cfg.Capture.SampleRate != 48000 {
		t.Errorf("Unexpected capture defaults: %+v", cfg.Capture)
	}
	if !cfg.Display.ShowRomanized() {
		t.Error("Expected romanized display by default")
	}
	if cfg.Playback.Volume != 1.0 {
		t.Errorf("Expected full volume by default, got %v", cfg.Playback.Volume)
	}
}

func TestLoad_FileAndProfile(t *testing.T) {
	content := `
active_profile: offline

assessment:
  endpoint: http://scoring.local/api/assess-pronunciation
  timeout: 30s

display:
  romanized: true

profiles:
  offline:
    generation:
      provider: file
      exercises_file: ~/drills/greetings.yaml
    display:
      romanized: false
    playback:
      volume: 0.5
`
	configFile := createTempConfig(t, content)

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Expected config to load, got %v", err)
	}

	if cfg.Profile != "offline" {
		t.Errorf("Expected active profile 'offline', got %q", cfg.Profile)
	}
	if cfg.Assessment.Endpoint != "http://scoring.local/api/assess-pronunciation" || cfg.Assessment.Timeout != 30*time.Second {
		t.Errorf("Expected base assessment section, got %+v", cfg.Assessment)
	}
	if cfg.Generation.Provider != "file" || cfg.Generation.Model != "gpt-4o-mini" {
		t.Errorf("Expected provider from profile and model inherited, got %+v", cfg.Generation)
	}
	home, _ := os.UserHomeDir()
	if cfg.Generation.ExercisesFile != filepath.Join(home, "drills", "greetings.yaml") {
		t.Errorf("Expected tilde expanded, got %s", cfg.Generation.ExercisesFile)
	}
	if cfg.Display.ShowRomanized() {
		t.Error("Expected profile to switch off romanized display")
	}
	if cfg.Playback.Volume != 0.5 {
		t.Errorf("Expected profile volume 0.5, got %v", cfg.Playback.Volume)
	}
}

func TestLoad_UnknownProfile(t *testing.T) {
	configFile := createTempConfig(t, "assessment:\n  timeout: 10s\n")

	_, err := LoadWithProfile(configFile, "studio")
	if err == nil || !strings.Contains(err.Error(), "profile 'studio' not found") {
		t.Errorf("Expected unknown profile error, got %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FLUENTDRILL_ASSESSMENT_ENDPOINT", "https://env.example.com/assess")
	t.Setenv("FLUENTDRILL_SERVER_PORT", "9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected config to load, got %v", err)
	}
	if cfg.Assessment.Endpoint != "https://env.example.com/assess" {
		t.Errorf("Expected endpoint from env, got %s", cfg.Assessment.Endpoint)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port from env, got %d", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for an explicit config file that does not exist")
	}
}

func TestMergeConfigs_SelectionAndFallback(t *testing.T) {
	romanized := true
	base := &Config{
		Assessment: AssessmentConfig{Endpoint: "http://base/assess", Timeout: time.Minute},
		Capture:    CaptureConfig{FFmpeg: "ffmpeg", Device: "default", SampleRate: 48000},
		Display:    DisplayConfig{Romanized: &romanized},
		Server:     ServerConfig{Port: 8080, AllowedOrigins: []string{"http://localhost:5173"}},
	}

	off := false
	profile := &Config{
		Capture: CaptureConfig{Device: "alsa_input.usb-mic"},
		Display: DisplayConfig{Romanized: &off},
		Server:  ServerConfig{AllowedOrigins: []string{"https://drill.example.com"}, GenerateRateLimit: 3},
	}

	result := mergeConfigs(base, profile)

	if result.Capture.Device != "alsa_input.usb-mic" || result.Capture.FFmpeg != "ffmpeg" || result.Capture.SampleRate != 48000 {
		t.Errorf("Capture not merged: %+v", result.Capture)
	}
	if result.Assessment.Endpoint != "http://base/assess" {
		t.Errorf("Expected endpoint inherited, got %s", result.Assessment.Endpoint)
	}
	if result.Display.ShowRomanized() {
		t.Error("Expected explicit false to override base")
	}
	if result.Server.Port != 8080 || len(result.Server.AllowedOrigins) != 1 || result.Server.AllowedOrigins[0] != "https://drill.example.com" {
		t.Errorf("Server not merged: %+v", result.Server)
	}
	if result.Server.GenerateRateLimit != 3 {
		t.Errorf("Expected profile rate limit, got %d", result.Server.GenerateRateLimit)
	}

	result.Server.AllowedOrigins[0] = "mutated"
	if profile.Server.AllowedOrigins[0] != "https://drill.example.com" {
		t.Error("Expected merged config not to alias profile slices")
	}
	if !*base.Display.Romanized {
		t.Error("Expected merge not to modify base")
	}
}

func TestMergeConfigs_EmptyProfile(t *testing.T) {
	base := &Config{Server: ServerConfig{Port: 8080}}

	result := mergeConfigs(base, &Config{})
	if result.Server.Port != 8080 {
		t.Errorf("Expected base preserved, got %+v", result.Server)
	}

	result = mergeConfigs(nil, base)
	if result.Server.Port != 8080 {
		t.Errorf("Expected profile applied over empty base, got %+v", result.Server)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := expandPath("~/sets/a.yaml"); got != filepath.Join(home, "sets", "a.yaml") {
		t.Errorf("Expected home expansion, got %s", got)
	}
	if got := expandPath("/abs/a.yaml"); got != "/abs/a.yaml" {
		t.Errorf("Expected absolute path untouched, got %s", got)
	}
}
