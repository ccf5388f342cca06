package practice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/fluentdrill/internal/assessment"
	"github.com/audiolibrelab/fluentdrill/internal/audio"
	"github.com/audiolibrelab/fluentdrill/internal/errors"
	"github.com/audiolibrelab/fluentdrill/internal/exercise"
)

// View is everything the presentation layer shows for the active exercise.
type View struct {
	Index     int                 `json:"index"`
	Total     int                 `json:"total"`
	Topic     string              `json:"topic"`
	Language  string              `json:"language"`
	Exercise  exercise.Exercise   `json:"exercise"`
	Reference string              `json:"reference"`
	Session   RecordingSession    `json:"session"`
	Playback  audio.PlaybackState `json:"playback"`
}

// Controller owns the exercise set and one machine per exercise. Only the
// active exercise can record or play back; other exercises keep their state
// untouched.
type Controller struct {
	devices  Devices
	assessor Assessor

	mutex    sync.Mutex
	set      *exercise.Set
	machines []*Machine
	active   int
	volume   float64
}

// NewController creates a controller with no exercise set loaded.
func NewController(devices Devices, assessor Assessor, volume float64) *Controller {
	return &Controller{
		devices:  devices,
		assessor: assessor,
		volume:   audio.ClampVolume(volume),
	}
}

// LoadSet replaces the exercise set. Every machine of the previous set is
// disposed and the active index returns to 0.
func (c *Controller) LoadSet(set *exercise.Set) error {
	if set.Len() == 0 {
		return errors.Validation("exercise set is empty")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.disposeAllLocked()
	c.set = set.Clone()
	c.machines = make([]*Machine, set.Len())
	c.active = 0

	slog.Info("Exercise set loaded", "topic", set.Topic, "difficulty", set.Difficulty, "language", set.LanguageCode, "exercises", set.Len())
	return nil
}

// Set returns a copy of the loaded set, or nil.
func (c *Controller) Set() *exercise.Set {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.set.Clone()
}

// Active returns the active exercise index.
func (c *Controller) Active() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.active
}

// Navigate makes index the active exercise. A capture running on the
// previous exercise is ended and kept, and its review is released.
func (c *Controller) Navigate(index int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.navigateLocked(index)
}

// Next moves to the following exercise.
func (c *Controller) Next() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.navigateLocked(c.active + 1)
}

// Previous moves to the preceding exercise.
func (c *Controller) Previous() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.navigateLocked(c.active - 1)
}

func (c *Controller) navigateLocked(index int) error {
	if index < 0 || index >= c.set.Len() {
		return errors.OutOfRange(index, c.set.Len())
	}
	if index == c.active {
		return nil
	}

	if previous := c.machines[c.active]; previous != nil {
		if err := previous.Deactivate(); err != nil {
			slog.Warn("Failed to end capture on navigation", "index", c.active, "error", err)
		}
	}

	slog.Debug("Active exercise changed", "from", c.active, "to", index)
	c.active = index
	return nil
}

// Machine returns the machine for index, creating it on first access.
func (c *Controller) Machine(index int) (*Machine, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.machineLocked(index)
}

func (c *Controller) machineLocked(index int) (*Machine, error) {
	if index < 0 || index >= c.set.Len() {
		return nil, errors.OutOfRange(index, c.set.Len())
	}
	if c.machines[index] == nil {
		ex, _ := c.set.At(index)
		c.machines[index] = NewMachine(index, ex, c.set.LanguageCode, c.devices, c.assessor, c.volume)
	}
	return c.machines[index], nil
}

func (c *Controller) activeLocked() (*Machine, error) {
	if c.set == nil {
		return nil, errors.InvalidState("use exercise", State("no exercise set"))
	}
	return c.machineLocked(c.active)
}

// BeginCapture starts recording on the active exercise.
func (c *Controller) BeginCapture(ctx context.Context) error {
	return c.withActive(func(m *Machine) error { return m.BeginCapture(ctx) })
}

// EndCapture stops recording on the active exercise.
func (c *Controller) EndCapture() error {
	return c.withActive(func(m *Machine) error { return m.EndCapture() })
}

// ReRecord discards the active exercise's take.
func (c *Controller) ReRecord() error {
	return c.withActive(func(m *Machine) error { return m.ReRecord() })
}

// Play starts review of the active exercise's take.
func (c *Controller) Play() error {
	return c.withActive(func(m *Machine) error { return m.Play() })
}

// Pause halts review of the active exercise's take.
func (c *Controller) Pause() error {
	return c.withActive(func(m *Machine) error { return m.Pause() })
}

// SetVolume sets the review volume. The value is kept for exercises visited
// later.
func (c *Controller) SetVolume(v float64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.volume = audio.ClampVolume(v)
	if c.set == nil {
		return nil
	}
	m, err := c.activeLocked()
	if err != nil {
		return err
	}
	return m.SetVolume(c.volume)
}

// Volume returns the current volume preference.
func (c *Controller) Volume() float64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.volume
}

// Submit scores the active exercise's take. The controller lock is released
// before the scoring call, so other exercises stay usable while it runs and
// the result lands on the exercise that submitted it.
func (c *Controller) Submit(ctx context.Context, form exercise.ReferenceForm) (*assessment.Result, error) {
	c.mutex.Lock()
	m, err := c.activeLocked()
	c.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	return m.Submit(ctx, form)
}

// PrepareSubmit reserves the active exercise's take for a scoring call the
// caller runs in the background. The take is submitting when it returns, so
// a concurrent second submission is rejected with InvalidState.
func (c *Controller) PrepareSubmit(form exercise.ReferenceForm) (*Submission, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	m, err := c.activeLocked()
	if err != nil {
		return nil, err
	}
	return m.BeginSubmit(form)
}

// View returns the active exercise with its recording and review state.
func (c *Controller) View(form exercise.ReferenceForm) (*View, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	m, err := c.activeLocked()
	if err != nil {
		return nil, err
	}
	ex, _ := c.set.At(c.active)

	return &View{
		Index:     c.active,
		Total:     c.set.Len(),
		Topic:     c.set.Topic,
		Language:  c.set.LanguageLabel,
		Exercise:  ex,
		Reference: ex.Reference(form),
		Session:   m.Snapshot(),
		Playback:  m.Playback(),
	}, nil
}

// Sessions returns a snapshot for every exercise of the set. Exercises never
// visited report idle.
func (c *Controller) Sessions() []RecordingSession {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	sessions := make([]RecordingSession, c.set.Len())
	for i := range sessions {
		if m := c.machines[i]; m != nil {
			sessions[i] = m.Snapshot()
		} else {
			sessions[i] = RecordingSession{Index: i, State: StateIdle}
		}
	}
	return sessions
}

// Close disposes every machine and forgets the set.
func (c *Controller) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.disposeAllLocked()
	c.set = nil
	c.machines = nil
	c.active = 0
}

func (c *Controller) withActive(fn func(m *Machine) error) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	m, err := c.activeLocked()
	if err != nil {
		return err
	}
	return fn(m)
}

func (c *Controller) disposeAllLocked() {
	for _, m := range c.machines {
		if m != nil {
			m.Dispose()
		}
	}
}
