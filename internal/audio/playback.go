package audio

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/audiolibrelab/fluentdrill/internal/errors"
)

// OutputDevice prepares encoded buffers for playback.
type OutputDevice interface {
	Prepare(buffer []byte) (Track, error)
}

// Track is a prepared buffer on an output device.
type Track interface {
	// Duration is the length in seconds, zero when unknown.
	Duration() float64
	// Start begins output at from seconds with the given volume in [0,1].
	Start(from, volume float64) error
	// Stop halts output. It is a no-op when nothing is playing.
	Stop() error
	// SetVolume changes the volume of running output.
	SetVolume(volume float64) error
	// Progress reports the position of running output.
	Progress() Progress
	Close() error
}

// Progress is one sample of a running track.
type Progress struct {
	Position float64
	Ended    bool
}

// PlaybackState is the reviewable state of the active exercise's recording.
type PlaybackState struct {
	IsPlaying bool    `json:"is_playing" yaml:"is_playing"`
	Position  float64 `json:"position_seconds" yaml:"position_seconds"`
	Duration  float64 `json:"duration_seconds" yaml:"duration_seconds"`
	Volume    float64 `json:"volume" yaml:"volume"`
}

type playbackPhase string

const (
	playbackEmpty    playbackPhase = "EMPTY"
	playbackLoaded   playbackPhase = "LOADED"
	playbackDisposed playbackPhase = "DISPOSED"
)

func (p playbackPhase) String() string { return string(p) }

// DefaultPollInterval is how often the position of running output is sampled.
const DefaultPollInterval = 100 * time.Millisecond

// ClampVolume bounds v to [0,1].
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PlaybackSession plays back one captured buffer with position and volume
// control.
type PlaybackSession struct {
	device OutputDevice
	poll   time.Duration

	mutex sync.Mutex
	phase playbackPhase
	track Track
	state PlaybackState

	// generation invalidates samples from a poller that was halted while it
	// was waiting for the lock.
	generation uint64
	pollStop   chan struct{}
	pollDone   chan struct{}
}

// NewPlaybackSession creates an empty session with the given initial volume.
func NewPlaybackSession(device OutputDevice, poll time.Duration, volume float64) *PlaybackSession {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &PlaybackSession{
		device: device,
		poll:   poll,
		phase:  playbackEmpty,
		state:  PlaybackState{Volume: ClampVolume(volume)},
	}
}

// Load prepares buffer for playback. A session holds one buffer for its
// lifetime; dispose it and create a new one to review another take.
func (p *PlaybackSession) Load(buffer []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.phase != playbackEmpty {
		return errors.InvalidState("load playback", p.phase)
	}
	if len(buffer) == 0 {
		return errors.Playback("nothing to play back", nil)
	}

	track, err := p.device.Prepare(cloneBytes(buffer))
	if err != nil {
		return errors.Playback("failed to prepare recording", err)
	}

	p.track = track
	p.phase = playbackLoaded
	p.state.Position = 0
	p.state.Duration = track.Duration()
	return nil
}

// Play starts output from the current position. Playing again is a no-op.
func (p *PlaybackSession) Play() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.phase != playbackLoaded {
		return errors.InvalidState("play", p.phase)
	}
	if p.state.IsPlaying {
		return nil
	}

	if p.state.Duration > 0 && p.state.Position >= p.state.Duration {
		p.state.Position = 0
	}

	if err := p.track.Start(p.state.Position, p.state.Volume); err != nil {
		p.state.IsPlaying = false
		return errors.Playback("failed to start playback", err)
	}

	p.state.IsPlaying = true
	p.generation++
	p.pollStop = make(chan struct{})
	p.pollDone = make(chan struct{})
	go p.runPoll(p.generation, p.pollStop, p.pollDone)

	slog.Debug("Playback started", "position", p.state.Position, "volume", p.state.Volume)
	return nil
}

// Pause halts output and polling and keeps the position.
func (p *PlaybackSession) Pause() error {
	done, err := p.pause()
	waitDone(done)
	return err
}

func (p *PlaybackSession) pause() (<-chan struct{}, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.phase != playbackLoaded {
		return nil, errors.InvalidState("pause", p.phase)
	}
	if !p.state.IsPlaying {
		return nil, nil
	}

	done := p.haltPollingLocked()
	if ended := p.sampleLocked(); ended {
		p.state.Position = 0
	}
	if err := p.track.Stop(); err != nil {
		slog.Debug("Failed to stop output", "error", err)
	}
	p.state.IsPlaying = false
	slog.Debug("Playback paused", "position", p.state.Position)
	return done, nil
}

// SetVolume clamps v to [0,1] and applies it immediately.
func (p *PlaybackSession) SetVolume(v float64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	v = ClampVolume(v)
	if v == p.state.Volume {
		return nil
	}
	p.state.Volume = v

	if p.state.IsPlaying && p.track != nil {
		if err := p.track.SetVolume(v); err != nil {
			p.state.IsPlaying = false
			done := p.haltPollingLocked()
			p.track.Stop()
			go waitDone(done)
			return errors.Playback("failed to change volume", err)
		}
	}
	return nil
}

// Dispose stops output and releases the track. Safe to call repeatedly.
func (p *PlaybackSession) Dispose() {
	done := p.dispose()
	waitDone(done)
}

func (p *PlaybackSession) dispose() <-chan struct{} {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.phase == playbackDisposed {
		return nil
	}

	done := p.haltPollingLocked()
	if p.track != nil {
		if p.state.IsPlaying {
			p.track.Stop()
		}
		if err := p.track.Close(); err != nil {
			slog.Debug("Failed to close track", "error", err)
		}
		p.track = nil
	}

	p.phase = playbackDisposed
	p.state.IsPlaying = false
	p.state.Position = 0
	p.state.Duration = 0
	return done
}

// State returns a snapshot of the playback state.
func (p *PlaybackSession) State() PlaybackState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}

func (p *PlaybackSession) runPoll(generation uint64, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !p.observe(generation) {
				return
			}
		}
	}
}

// observe samples the track once and reports whether polling should go on.
func (p *PlaybackSession) observe(generation uint64) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if generation != p.generation || !p.state.IsPlaying {
		return false
	}

	if ended := p.sampleLocked(); ended {
		p.track.Stop()
		p.state.IsPlaying = false
		p.state.Position = 0
		p.generation++
		slog.Debug("Playback reached end of recording")
		return false
	}
	return true
}

// sampleLocked advances the position from the track without ever moving it
// backwards and reports end of media.
func (p *PlaybackSession) sampleLocked() bool {
	progress := p.track.Progress()
	if progress.Ended {
		return true
	}
	position := progress.Position
	if p.state.Duration > 0 && position > p.state.Duration {
		position = p.state.Duration
	}
	if position > p.state.Position {
		p.state.Position = position
	}
	return false
}

// haltPollingLocked signals the poller to stop and returns its done channel.
// The caller waits on it only after releasing the lock.
func (p *PlaybackSession) haltPollingLocked() <-chan struct{} {
	p.generation++
	if p.pollStop == nil {
		return nil
	}
	close(p.pollStop)
	done := p.pollDone
	p.pollStop = nil
	p.pollDone = nil
	return done
}

func waitDone(done <-chan struct{}) {
	if done != nil {
		<-done
	}
}
