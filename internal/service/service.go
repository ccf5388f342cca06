package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/fluentdrill/internal/assessment"
	"github.com/audiolibrelab/fluentdrill/internal/audio"
	"github.com/audiolibrelab/fluentdrill/internal/config"
	"github.com/audiolibrelab/fluentdrill/internal/errors"
	"github.com/audiolibrelab/fluentdrill/internal/exercise"
	"github.com/audiolibrelab/fluentdrill/internal/practice"
)

// Service represents the core fluentdrill service interface
type Service interface {
	// Exercise set operations
	GenerateExercises(ctx context.Context, req exercise.Request) (*exercise.Set, error)
	LoadSet(set *exercise.Set) error
	Sessions() []practice.RecordingSession

	// Navigation
	Navigate(index int) error
	Next() error
	Previous() error

	// Recording operations on the active exercise
	BeginCapture(ctx context.Context) error
	EndCapture() error
	ReRecord() error
	Submit(ctx context.Context) (*assessment.Result, error)
	SubmitAsync() (int, error)

	// Playback operations on the active exercise
	Play() error
	Pause() error
	SetVolume(v float64) error

	// Presentation
	View() (*SessionView, error)
	SetRomanized(romanized bool)
	Romanized() bool

	GetConfig() *config.Config
	GetLastError() *Notice
	Close()
}

// Notice is a background failure reported to the learner once.
type Notice struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// SessionView is the active exercise as presented, with any pending notice.
type SessionView struct {
	practice.View
	Romanized bool    `json:"romanized"`
	Notice    *Notice `json:"notice,omitempty"`
}

// Options are the ports a service is assembled from.
type Options struct {
	Generator exercise.Generator
	Assessor  practice.Assessor
	Devices   practice.Devices
}

// FluentDrillService is the main service implementation
type FluentDrillService struct {
	cfg        *config.Config
	generator  exercise.Generator
	controller *practice.Controller

	displayMutex sync.RWMutex
	romanized    bool

	// Error tracking
	lastError      *Notice
	lastErrorMutex sync.Mutex

	// Background submissions
	baseCtx context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// New creates a service from explicit ports.
func New(cfg *config.Config, opts Options) Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &FluentDrillService{
		cfg:        cfg,
		generator:  opts.Generator,
		controller: practice.NewController(opts.Devices, opts.Assessor, cfg.Playback.Volume),
		romanized:  cfg.Display.ShowRomanized(),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// NewFromConfig wires the platform adapters named by cfg: ffmpeg capture,
// ffplay playback, the HTTP scoring client and the configured generator.
func NewFromConfig(cfg *config.Config) (Service, error) {
	generator, err := NewGenerator(cfg.Generation)
	if err != nil {
		return nil, err
	}

	devices := practice.Devices{
		Input: audio.NewFFmpegInput(audio.FFmpegOptions{
			Binary:      cfg.Capture.FFmpeg,
			InputFormat: cfg.Capture.InputFormat,
			Device:      cfg.Capture.Device,
			Codec:       cfg.Capture.Codec,
			SampleRate:  cfg.Capture.SampleRate,
			StopTimeout: cfg.Capture.StopTimeout,
		}),
		Output: audio.NewFFplayOutput(audio.FFplayOptions{
			Player: cfg.Playback.FFplay,
			Probe:  cfg.Playback.FFprobe,
		}),
		CaptureTick:  cfg.Capture.TickInterval,
		PollInterval: cfg.Playback.PollInterval,
	}

	return New(cfg, Options{
		Generator: generator,
		Assessor:  assessment.NewClient(cfg.Assessment.Endpoint, cfg.Assessment.Timeout),
		Devices:   devices,
	}), nil
}

// NewGenerator builds the exercise generator selected by the provider.
func NewGenerator(cfg config.GenerationConfig) (exercise.Generator, error) {
	switch cfg.Provider {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, errors.Validation("generation.api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
		return exercise.NewOpenAIGenerator(exercise.OpenAIOptions{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil
	case "file":
		return exercise.NewFileGenerator(cfg.ExercisesFile), nil
	default:
		return nil, errors.Validation(fmt.Sprintf("unknown generation provider %q", cfg.Provider))
	}
}

// GenerateExercises asks the generator for a set and loads it.
func (s *FluentDrillService) GenerateExercises(ctx context.Context, req exercise.Request) (*exercise.Set, error) {
	slog.Debug("Service.GenerateExercises called", "topic", req.Topic, "difficulty", req.Difficulty, "language", req.Language)

	set, err := s.generator.Generate(ctx, req)
	if err != nil {
		slog.Warn("Failed to generate exercises", "error", err)
		return nil, err
	}
	if err := s.LoadSet(set); err != nil {
		return nil, err
	}
	return set, nil
}

// LoadSet replaces the exercise set and clears any pending notice.
func (s *FluentDrillService) LoadSet(set *exercise.Set) error {
	if err := s.controller.LoadSet(set); err != nil {
		return err
	}
	s.clearLastError()
	return nil
}

func (s *FluentDrillService) Sessions() []practice.RecordingSession {
	return s.controller.Sessions()
}

func (s *FluentDrillService) Navigate(index int) error {
	return s.controller.Navigate(index)
}

func (s *FluentDrillService) Next() error {
	return s.controller.Next()
}

func (s *FluentDrillService) Previous() error {
	return s.controller.Previous()
}

func (s *FluentDrillService) BeginCapture(ctx context.Context) error {
	return s.controller.BeginCapture(ctx)
}

func (s *FluentDrillService) EndCapture() error {
	return s.controller.EndCapture()
}

func (s *FluentDrillService) ReRecord() error {
	return s.controller.ReRecord()
}

// Submit scores the active exercise and waits for the result.
func (s *FluentDrillService) Submit(ctx context.Context) (*assessment.Result, error) {
	return s.controller.Submit(ctx, s.form())
}

// SubmitAsync reserves the active exercise's take and scores it in the
// background, returning its index. A failed outcome becomes the pending
// notice unless the exercise set was replaced in the meantime.
func (s *FluentDrillService) SubmitAsync() (int, error) {
	sub, err := s.controller.PrepareSubmit(s.form())
	if err != nil {
		return 0, err
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		_, err := sub.Complete(s.baseCtx)
		switch {
		case err == nil:
		case practice.Discarded(err):
			slog.Debug("Background assessment outlived its exercise set", "index", sub.Index())
		default:
			s.report("Failed to assess recording", err)
		}
	}()

	return sub.Index(), nil
}

func (s *FluentDrillService) Play() error {
	return s.controller.Play()
}

func (s *FluentDrillService) Pause() error {
	return s.controller.Pause()
}

func (s *FluentDrillService) SetVolume(v float64) error {
	return s.controller.SetVolume(v)
}

// View returns the active exercise and consumes the pending notice.
func (s *FluentDrillService) View() (*SessionView, error) {
	romanized := s.Romanized()
	view, err := s.controller.View(s.form())
	if err != nil {
		return nil, err
	}
	return &SessionView{
		View:      *view,
		Romanized: romanized,
		Notice:    s.GetLastError(),
	}, nil
}

// SetRomanized switches the displayed, and therefore scored, reference form.
func (s *FluentDrillService) SetRomanized(romanized bool) {
	s.displayMutex.Lock()
	defer s.displayMutex.Unlock()
	s.romanized = romanized
}

func (s *FluentDrillService) Romanized() bool {
	s.displayMutex.RLock()
	defer s.displayMutex.RUnlock()
	return s.romanized
}

// GetConfig returns the current configuration
func (s *FluentDrillService) GetConfig() *config.Config {
	return s.cfg
}

// GetLastError returns and clears the pending notice.
func (s *FluentDrillService) GetLastError() *Notice {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	notice := s.lastError
	s.lastError = nil
	return notice
}

// Close cancels background submissions, waits for them and releases every
// device.
func (s *FluentDrillService) Close() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("Background submissions did not finish before shutdown")
	}

	s.controller.Close()
}

func (s *FluentDrillService) form() exercise.ReferenceForm {
	if s.Romanized() {
		return exercise.FormRomanized
	}
	return exercise.FormNative
}

// report records the failure of a background operation as the pending notice.
// Synchronous commands return their errors instead.
func (s *FluentDrillService) report(action string, err error) {
	s.setLastError(&Notice{Code: errors.CodeOf(err), Message: fmt.Sprintf("%s: %v", action, err)})
}

func (s *FluentDrillService) setLastError(notice *Notice) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = notice

	slog.Error("Service error occurred", "code", notice.Code, "error_message", notice.Message)
}

func (s *FluentDrillService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = nil
}
