package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/audiolibrelab/fluentdrill/internal/validate"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// FLUENTDRILL_ASSESSMENT_ENDPOINT.
const EnvPrefix = "FLUENTDRILL"

type RootConfig struct {
	ActiveProfile string             `mapstructure:"active_profile" yaml:"active_profile,omitempty"`
	Config        `mapstructure:",squash" yaml:",inline"`
	Profiles      map[string]*Config `mapstructure:"profiles" yaml:"profiles,omitempty"`
}

type Config struct {
	Assessment AssessmentConfig `mapstructure:"assessment" yaml:"assessment"`
	Generation GenerationConfig `mapstructure:"generation" yaml:"generation"`
	Capture    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	Playback   PlaybackConfig   `mapstructure:"playback" yaml:"playback"`
	Display    DisplayConfig    `mapstructure:"display" yaml:"display"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`

	// Profile is the name of the profile merged over the base sections.
	Profile string `mapstructure:"-" yaml:"-"`
}

type AssessmentConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint" validate:"required,url"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

type GenerationConfig struct {
	Provider      string  `mapstructure:"provider" yaml:"provider" validate:"oneof=openai file"`
	Model         string  `mapstructure:"model" yaml:"model" validate:"required_if=Provider openai"`
	APIKey        string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL       string  `mapstructure:"base_url" yaml:"base_url,omitempty" validate:"omitempty,url"`
	MaxTokens     int     `mapstructure:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	Temperature   float32 `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	ExercisesFile string  `mapstructure:"exercises_file" yaml:"exercises_file,omitempty" validate:"required_if=Provider file"`
}

type CaptureConfig struct {
	FFmpeg       string        `mapstructure:"ffmpeg" yaml:"ffmpeg" validate:"required"`
	InputFormat  string        `mapstructure:"input_format" yaml:"input_format" validate:"required"`
	Device       string        `mapstructure:"device" yaml:"device" validate:"required"`
	Codec        string        `mapstructure:"codec" yaml:"codec" validate:"required"`
	SampleRate   int           `mapstructure:"sample_rate" yaml:"sample_rate" validate:"oneof=8000 12000 16000 24000 48000"`
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval" validate:"gt=0"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout" validate:"gt=0"`
}

type PlaybackConfig struct {
	FFplay       string        `mapstructure:"ffplay" yaml:"ffplay" validate:"required"`
	FFprobe      string        `mapstructure:"ffprobe" yaml:"ffprobe"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	Volume       float64       `mapstructure:"volume" yaml:"volume" validate:"gte=0,lte=1"`
}

type DisplayConfig struct {
	// Romanized selects the romanized form as displayed and scored reference.
	// A pointer so that profiles can switch it off.
	Romanized *bool `mapstructure:"romanized" yaml:"romanized"`
}

// ShowRomanized reports whether the romanized form is displayed. It defaults
// to true.
func (d DisplayConfig) ShowRomanized() bool {
	return d.Romanized == nil || *d.Romanized
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port" validate:"gte=1,lte=65535"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" validate:"dive,required"`

	// GenerateRateLimit caps generation requests per client IP and minute.
	// Zero disables the limit.
	GenerateRateLimit int `mapstructure:"generate_rate_limit" yaml:"generate_rate_limit" validate:"gte=0"`
}

// DefaultConfigPath is where the CLI looks when --config is not given.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fluentdrill.yaml"
	}
	return filepath.Join(home, ".config", "fluentdrill.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("assessment.endpoint", "http://localhost:8000/api/assess-pronunciation")
	v.SetDefault("assessment.timeout", 60*time.Second)

	v.SetDefault("generation.provider", "openai")
	v.SetDefault("generation.model", "gpt-4o-mini")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.base_url", "")
	v.SetDefault("generation.max_tokens", 1024)
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.exercises_file", "")

	v.SetDefault("capture.ffmpeg", "ffmpeg")
	v.SetDefault("capture.input_format", "pulse")
	v.SetDefault("capture.device", "default")
	v.SetDefault("capture.codec", "libopus")
	v.SetDefault("capture.sample_rate", 48000)
	v.SetDefault("capture.tick_interval", time.Second)
	v.SetDefault("capture.stop_timeout", 5*time.Second)

	v.SetDefault("playback.ffplay", "ffplay")
	v.SetDefault("playback.ffprobe", "ffprobe")
	v.SetDefault("playback.poll_interval", 100*time.Millisecond)
	v.SetDefault("playback.volume", 1.0)

	v.SetDefault("display.romanized", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.generate_rate_limit", 10)
}

// Load reads configFile, applies environment overrides and validates the
// result. An empty configFile yields the defaults.
func Load(configFile string) (*Config, error) {
	return LoadWithProfile(configFile, "")
}

// LoadWithProfile is Load with the named profile merged over the base
// sections. An empty profile selects active_profile from the file.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(expandPath(configFile))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	cfg := &root.Config
	profileName := profile
	if profileName == "" {
		profileName = root.ActiveProfile
	}
	if profileName != "" {
		selected, exists := root.Profiles[profileName]
		if !exists {
			return nil, fmt.Errorf("configuration profile '%s' not found", profileName)
		}
		cfg = mergeConfigs(cfg, selected)
		cfg.Profile = profileName
	}

	if cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.Generation.ExercisesFile = expandPath(cfg.Generation.ExercisesFile)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every section against its constraints.
func (c *Config) Validate() error {
	return validate.NewValidator().Struct(c)
}

// mergeConfigs overlays the non-zero fields of profile on base.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	if base != nil {
		*result = *base
		result.Server.AllowedOrigins = append([]string(nil), base.Server.AllowedOrigins...)
	}
	if profile == nil {
		return result
	}

	if profile.Assessment.Endpoint != "" {
		result.Assessment.Endpoint = profile.Assessment.Endpoint
	}
	if profile.Assessment.Timeout != 0 {
		result.Assessment.Timeout = profile.Assessment.Timeout
	}

	if profile.Generation.Provider != "" {
		result.Generation.Provider = profile.Generation.Provider
	}
	if profile.Generation.Model != "" {
		result.Generation.Model = profile.Generation.Model
	}
	if profile.Generation.APIKey != "" {
		result.Generation.APIKey = profile.Generation.APIKey
	}
	if profile.Generation.BaseURL != "" {
		result.Generation.BaseURL = profile.Generation.BaseURL
	}
	if profile.Generation.MaxTokens != 0 {
		result.Generation.MaxTokens = profile.Generation.MaxTokens
	}
	if profile.Generation.Temperature != 0 {
		result.Generation.Temperature = profile.Generation.Temperature
	}
	if profile.Generation.ExercisesFile != "" {
		result.Generation.ExercisesFile = profile.Generation.ExercisesFile
	}

	if profile.Capture.FFmpeg != "" {
		result.Capture.FFmpeg = profile.Capture.FFmpeg
	}
	if profile.Capture.InputFormat != "" {
		result.Capture.InputFormat = profile.Capture.InputFormat
	}
	if profile.Capture.Device != "" {
		result.Capture.Device = profile.Capture.Device
	}
	if profile.Capture.Codec != "" {
		result.Capture.Codec = profile.Capture.Codec
	}
	if profile.Capture.SampleRate != 0 {
		result.Capture.SampleRate = profile.Capture.SampleRate
	}
	if profile.Capture.TickInterval != 0 {
		result.Capture.TickInterval = profile.Capture.TickInterval
	}
	if profile.Capture.StopTimeout != 0 {
		result.Capture.StopTimeout = profile.Capture.StopTimeout
	}

	if profile.Playback.FFplay != "" {
		result.Playback.FFplay = profile.Playback.FFplay
	}
	if profile.Playback.FFprobe != "" {
		result.Playback.FFprobe = profile.Playback.FFprobe
	}
	if profile.Playback.PollInterval != 0 {
		result.Playback.PollInterval = profile.Playback.PollInterval
	}
	if profile.Playback.Volume != 0 {
		result.Playback.Volume = profile.Playback.Volume
	}

	if profile.Display.Romanized != nil {
		romanized := *profile.Display.Romanized
		result.Display.Romanized = &romanized
	}

	if profile.Server.Port != 0 {
		result.Server.Port = profile.Server.Port
	}
	if profile.Server.GenerateRateLimit != 0 {
		result.Server.GenerateRateLimit = profile.Server.GenerateRateLimit
	}
	if len(profile.Server.AllowedOrigins) > 0 {
		result.Server.AllowedOrigins = append([]string(nil), profile.Server.AllowedOrigins...)
	}

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
