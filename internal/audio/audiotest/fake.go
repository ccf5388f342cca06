// Package audiotest provides in-memory input and output devices for tests.
package audiotest

import (
	"context"
	"sync"

	"github.com/audiolibrelab/fluentdrill/internal/audio"
	"github.com/audiolibrelab/fluentdrill/internal/errors"
)

// Microphone is an InputDevice that emits fixed chunks.
type Microphone struct {
	// Chunks are emitted when capture starts.
	Chunks [][]byte
	// Final is emitted while stopping, like the last encoder flush.
	Final []byte
	// OpenErr makes Open fail.
	OpenErr error

	mutex  sync.Mutex
	active bool
	opens  int
}

// Open acquires the fake device. A second concurrent Open is refused.
func (m *Microphone) Open(ctx context.Context) (audio.InputStream, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.active {
		return nil, errors.DeviceUnavailable("microphone is already in use", nil)
	}
	m.active = true
	m.opens++
	return &micStream{mic: m}, nil
}

// Active reports whether a stream currently holds the device.
func (m *Microphone) Active() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.active
}

// Opens returns how many times the device was acquired.
func (m *Microphone) Opens() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.opens
}

func (m *Microphone) release() {
	m.mutex.Lock()
	m.active = false
	m.mutex.Unlock()
}

type micStream struct {
	mic  *Microphone
	emit func([]byte)
}

func (s *micStream) Start(emit func(chunk []byte)) error {
	s.emit = emit
	for _, c := range s.mic.Chunks {
		emit(c)
	}
	return nil
}

func (s *micStream) Stop() error {
	if s.emit != nil && len(s.mic.Final) > 0 {
		s.emit(s.mic.Final)
	}
	s.mic.release()
	return nil
}

func (s *micStream) Close() error {
	s.mic.release()
	return nil
}

// Speaker is an OutputDevice whose tracks advance only when told to.
type Speaker struct {
	Duration   float64
	PrepareErr error
	StartErr   error
	VolumeErr  error

	mutex  sync.Mutex
	tracks []*Track
}

// Prepare returns a new fake track for buffer.
func (s *Speaker) Prepare(buffer []byte) (audio.Track, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.PrepareErr != nil {
		return nil, s.PrepareErr
	}
	t := &Track{speaker: s, buffer: append([]byte(nil), buffer...), duration: s.Duration}
	s.tracks = append(s.tracks, t)
	return t, nil
}

// Last returns the most recently prepared track, or nil.
func (s *Speaker) Last() *Track {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.tracks) == 0 {
		return nil
	}
	return s.tracks[len(s.tracks)-1]
}

// Tracks returns every track prepared so far.
func (s *Speaker) Tracks() []*Track {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]*Track(nil), s.tracks...)
}

// Track is a fake prepared buffer.
type Track struct {
	speaker  *Speaker
	buffer   []byte
	duration float64

	mutex    sync.Mutex
	playing  bool
	position float64
	ended    bool
	volume   float64
	starts   int
	closed   bool
}

func (t *Track) Duration() float64 { return t.duration }

func (t *Track) Start(from, volume float64) error {
	t.speaker.mutex.Lock()
	err := t.speaker.StartErr
	t.speaker.mutex.Unlock()
	if err != nil {
		return err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.playing = true
	t.ended = false
	t.position = from
	t.volume = volume
	t.starts++
	return nil
}

func (t *Track) Stop() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.playing = false
	return nil
}

func (t *Track) SetVolume(volume float64) error {
	t.speaker.mutex.Lock()
	err := t.speaker.VolumeErr
	t.speaker.mutex.Unlock()
	if err != nil {
		return err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.volume = volume
	return nil
}

func (t *Track) Progress() audio.Progress {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return audio.Progress{Position: t.position, Ended: t.ended}
}

func (t *Track) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.playing = false
	t.closed = true
	return nil
}

// Advance moves the output forward by seconds, ending it at the duration.
func (t *Track) Advance(seconds float64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if !t.playing {
		return
	}
	t.position += seconds
	if t.duration > 0 && t.position >= t.duration {
		t.position = t.duration
		t.ended = true
	}
}

// Playing reports whether output is running.
func (t *Track) Playing() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.playing
}

// Volume returns the last applied volume.
func (t *Track) Volume() float64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.volume
}

// Closed reports whether the track was released.
func (t *Track) Closed() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.closed
}

// Buffer returns the bytes the track was prepared with.
func (t *Track) Buffer() []byte {
	return append([]byte(nil), t.buffer...)
}
