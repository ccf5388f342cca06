package practice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/fluentdrill/internal/assessment"
	"github.com/audiolibrelab/fluentdrill/internal/audio"
	"github.com/audiolibrelab/fluentdrill/internal/errors"
	"github.com/audiolibrelab/fluentdrill/internal/exercise"
)

// State is the recording lifecycle position of one exercise.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateRecorded   State = "recorded"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
)

func (s State) String() string { return string(s) }

// stateDisposed is reported for commands reaching a machine whose exercise
// set has been replaced.
const stateDisposed State = "disposed"

// Assessor scores one recording against its reference text.
type Assessor interface {
	Submit(ctx context.Context, audio []byte, referenceText, languageCode string) (*assessment.Result, error)
}

// Devices are the platform ports a machine records from and plays back to.
type Devices struct {
	Input        audio.InputDevice
	Output       audio.OutputDevice
	CaptureTick  time.Duration
	PollInterval time.Duration
}

// RecordingSession is a snapshot of one exercise's recording state.
type RecordingSession struct {
	Index      int                `json:"index"`
	State      State              `json:"state"`
	Elapsed    int                `json:"elapsed_seconds"`
	AudioBytes int                `json:"audio_bytes"`
	Audio      []byte             `json:"-"`
	Assessment *assessment.Result `json:"assessment,omitempty"`
}

// Machine drives capture, playback and assessment for a single exercise.
// It is the only writer of its recording session.
type Machine struct {
	index        int
	exercise     exercise.Exercise
	languageCode string
	devices      Devices
	assessor     Assessor

	mutex    sync.Mutex
	state    State
	capture  *audio.CaptureSession
	buffer   []byte
	elapsed  int
	result   *assessment.Result
	playback *audio.PlaybackSession
	volume   float64
	disposed bool
}

// NewMachine creates an idle machine for the exercise at index.
func NewMachine(index int, ex exercise.Exercise, languageCode string, devices Devices, assessor Assessor, volume float64) *Machine {
	return &Machine{
		index:        index,
		exercise:     ex,
		languageCode: languageCode,
		devices:      devices,
		assessor:     assessor,
		state:        StateIdle,
		volume:       audio.ClampVolume(volume),
	}
}

// Index returns the exercise index the machine belongs to.
func (m *Machine) Index() int {
	return m.index
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// BeginCapture opens the microphone and starts recording. A device failure
// leaves the machine idle.
func (m *Machine) BeginCapture(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.guardLocked("begin capture", StateIdle); err != nil {
		return err
	}

	m.disposePlaybackLocked()

	capture := audio.NewCaptureSession(m.devices.Input, m.devices.CaptureTick)
	if err := capture.Open(ctx); err != nil {
		slog.Warn("Microphone unavailable", "index", m.index, "error", err)
		return err
	}
	if err := capture.Start(); err != nil {
		capture.Release()
		slog.Warn("Failed to start capture", "index", m.index, "error", err)
		return err
	}

	m.capture = capture
	m.elapsed = 0
	m.state = StateRecording
	slog.Info("Recording started", "index", m.index)
	return nil
}

// EndCapture stops recording and keeps the take, replacing any earlier one.
func (m *Machine) EndCapture() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.endCaptureLocked()
}

func (m *Machine) endCaptureLocked() error {
	if err := m.guardLocked("end capture", StateRecording); err != nil {
		return err
	}

	buffer, err := m.capture.Stop()
	elapsed := m.capture.Elapsed()
	if err != nil {
		m.capture.Release()
		m.capture = nil
		m.state = StateIdle
		m.elapsed = 0
		return err
	}

	m.capture = nil
	m.buffer = buffer
	m.elapsed = elapsed
	m.state = StateRecorded
	slog.Info("Recording stopped", "index", m.index, "bytes", len(buffer), "elapsed", elapsed)
	return nil
}

// ReRecord discards the take and any assessment and returns to idle.
func (m *Machine) ReRecord() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.guardLocked("re-record", StateRecorded, StateCompleted); err != nil {
		return err
	}

	m.disposePlaybackLocked()
	m.buffer = nil
	m.result = nil
	m.elapsed = 0
	m.state = StateIdle
	slog.Debug("Recording discarded", "index", m.index)
	return nil
}

// Submission is a take reserved for scoring. Its machine stays submitting
// until Complete stores the outcome.
type Submission struct {
	machine   *Machine
	audio     []byte
	reference string
}

// Index returns the exercise index the take belongs to.
func (s *Submission) Index() int {
	return s.machine.index
}

// BeginSubmit reserves the take for scoring using the given written form of
// the exercise as reference text. Only one submission per take can be
// outstanding, so a second call fails with InvalidState until the first
// completes.
func (m *Machine) BeginSubmit(form exercise.ReferenceForm) (*Submission, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.guardLocked("submit", StateRecorded); err != nil {
		return nil, err
	}
	if len(m.buffer) == 0 {
		return nil, errors.InvalidState("submit empty recording", m.state)
	}

	m.state = StateSubmitting
	return &Submission{
		machine:   m,
		audio:     cloneBytes(m.buffer),
		reference: m.exercise.Reference(form),
	}, nil
}

// Complete sends the reserved take to the scoring service and stores the
// result. It blocks until the service answers but holds no lock while
// waiting. On failure the take is kept unchanged.
func (s *Submission) Complete(ctx context.Context) (*assessment.Result, error) {
	m := s.machine

	slog.Info("Submitting recording", "index", m.index, "reference", s.reference, "language", m.languageCode)
	result, err := m.assessor.Submit(ctx, s.audio, s.reference, m.languageCode)
	if err == nil && result == nil {
		err = errors.AssessmentService("empty assessment", nil)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.disposed {
		slog.Debug("Discarding assessment for replaced exercise set", "index", m.index)
		return nil, errors.InvalidState("store assessment", stateDisposed)
	}

	if err != nil {
		m.state = StateRecorded
		if !errors.HasCode(err, errors.ErrAssessmentService) {
			err = errors.AssessmentService("assessment failed", err)
		}
		slog.Warn("Assessment failed", "index", m.index, "error", err)
		return nil, err
	}

	m.result = result.Clone()
	m.state = StateCompleted
	slog.Info("Assessment stored", "index", m.index, "pronunciation", result.Overall.Pronunciation)
	return result.Clone(), nil
}

// Submit reserves the take and scores it.
func (m *Machine) Submit(ctx context.Context, form exercise.ReferenceForm) (*assessment.Result, error) {
	sub, err := m.BeginSubmit(form)
	if err != nil {
		return nil, err
	}
	return sub.Complete(ctx)
}

// Discarded reports whether err means the machine's exercise set was replaced
// before the command or result reached it.
func Discarded(err error) bool {
	appErr, ok := errors.As(err)
	if !ok || appErr.Code != errors.ErrInvalidState {
		return false
	}
	return appErr.Details["state"] == stateDisposed.String()
}

// Play starts reviewing the take, loading it on first use.
func (m *Machine) Play() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.guardLocked("play", StateRecorded, StateSubmitting, StateCompleted); err != nil {
		return err
	}

	if m.playback == nil {
		playback := audio.NewPlaybackSession(m.devices.Output, m.devices.PollInterval, m.volume)
		if err := playback.Load(m.buffer); err != nil {
			playback.Dispose()
			return err
		}
		m.playback = playback
	}

	return m.playback.Play()
}

// Pause halts review and keeps the position.
func (m *Machine) Pause() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.guardLocked("pause", StateRecorded, StateSubmitting, StateCompleted); err != nil {
		return err
	}
	if m.playback == nil {
		return nil
	}
	return m.playback.Pause()
}

// SetVolume clamps v to [0,1] and applies it to any running review.
func (m *Machine) SetVolume(v float64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.disposed {
		return errors.InvalidState("set volume", stateDisposed)
	}

	m.volume = audio.ClampVolume(v)
	if m.playback != nil {
		return m.playback.SetVolume(m.volume)
	}
	return nil
}

// Playback returns the review state. Without a loaded take it reports only
// the volume.
func (m *Machine) Playback() audio.PlaybackState {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.playback == nil {
		return audio.PlaybackState{Volume: m.volume}
	}
	return m.playback.State()
}

// Snapshot returns a copy of the recording session.
func (m *Machine) Snapshot() RecordingSession {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	elapsed := m.elapsed
	if m.capture != nil {
		elapsed = m.capture.Elapsed()
	}

	return RecordingSession{
		Index:      m.index,
		State:      m.state,
		Elapsed:    elapsed,
		AudioBytes: len(m.buffer),
		Audio:      cloneBytes(m.buffer),
		Assessment: m.result.Clone(),
	}
}

// Deactivate is called when the exercise stops being the active one. A running
// capture is ended and kept, and review is released.
func (m *Machine) Deactivate() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var err error
	if m.state == StateRecording {
		err = m.endCaptureLocked()
	}
	m.disposePlaybackLocked()
	return err
}

// Dispose releases every resource and forgets the take. An assessment that
// arrives afterwards is dropped.
func (m *Machine) Dispose() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.disposed {
		return
	}
	m.disposed = true

	if m.capture != nil {
		m.capture.Release()
		m.capture = nil
	}
	m.disposePlaybackLocked()
	m.buffer = nil
	m.result = nil
	m.elapsed = 0
	m.state = StateIdle
}

func (m *Machine) guardLocked(operation string, allowed ...State) error {
	if m.disposed {
		return errors.InvalidState(operation, stateDisposed)
	}
	for _, s := range allowed {
		if m.state == s {
			return nil
		}
	}
	return errors.InvalidState(operation, m.state)
}

func (m *Machine) disposePlaybackLocked() {
	if m.playback != nil {
		m.playback.Dispose()
		m.playback = nil
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
