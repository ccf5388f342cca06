package audio

import (
	"bytes"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFplayOptions configures playback through ffplay.
type FFplayOptions struct {
	Player string
	Probe  string
}

// FFplayOutput plays buffers by streaming them to an ffplay child process.
type FFplayOutput struct {
	opts FFplayOptions
}

// NewFFplayOutput creates an output device, filling unset options with
// defaults.
func NewFFplayOutput(opts FFplayOptions) *FFplayOutput {
	if opts.Player == "" {
		opts.Player = "ffplay"
	}
	if opts.Probe == "" {
		opts.Probe = "ffprobe"
	}
	return &FFplayOutput{opts: opts}
}

// Prepare checks that a player is available and probes the buffer duration.
func (o *FFplayOutput) Prepare(buffer []byte) (Track, error) {
	if _, err := exec.LookPath(o.opts.Player); err != nil {
		return nil, fmt.Errorf("no suitable audio player found: %w", err)
	}

	duration := o.probeDuration(buffer)
	slog.Debug("Prepared recording for playback", "bytes", len(buffer), "duration", duration)

	return &ffplayTrack{
		player:   o.opts.Player,
		buffer:   buffer,
		duration: duration,
	}, nil
}

// probeDuration returns zero when ffprobe is missing or the container carries
// no duration, which is common for streamed WebM.
func (o *FFplayOutput) probeDuration(buffer []byte) float64 {
	if _, err := exec.LookPath(o.opts.Probe); err != nil {
		return 0
	}

	cmd := exec.Command(o.opts.Probe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(buffer)
	output, err := cmd.Output()
	if err != nil {
		slog.Debug("Failed to probe duration", "error", err)
		return 0
	}

	return parseProbeDuration(string(output))
}

func parseProbeDuration(output string) float64 {
	value := strings.TrimSpace(output)
	if value == "" || value == "N/A" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}

type ffplayTrack struct {
	player   string
	buffer   []byte
	duration float64

	mutex     sync.Mutex
	cmd       *exec.Cmd
	exited    chan struct{}
	stopping  bool
	offset    float64
	startedAt time.Time
	volume    float64
}

func (t *ffplayTrack) Duration() float64 {
	return t.duration
}

func (t *ffplayTrack) Start(from, volume float64) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.startLocked(from, volume)
}

func (t *ffplayTrack) startLocked(from, volume float64) error {
	if t.cmd != nil {
		return nil
	}

	args := []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(from, 'f', 3, 64),
		"-volume", strconv.Itoa(int(ClampVolume(volume)*100 + 0.5)),
		"-i", "pipe:0",
	}

	cmd := exec.Command(t.player, args...)
	cmd.Stdin = bytes.NewReader(t.buffer)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", t.player, err)
	}

	exited := make(chan struct{})
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("Player exited", "error", err)
		}
		close(exited)
	}()

	t.cmd = cmd
	t.exited = exited
	t.stopping = false
	t.offset = from
	t.startedAt = time.Now()
	t.volume = volume
	return nil
}

func (t *ffplayTrack) Stop() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.stopLocked()
	return nil
}

func (t *ffplayTrack) stopLocked() {
	if t.cmd == nil {
		return
	}
	t.stopping = true
	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	<-t.exited
	t.offset = t.positionLocked()
	t.cmd = nil
}

// SetVolume restarts the player at the current position since ffplay takes
// its volume only on the command line.
func (t *ffplayTrack) SetVolume(volume float64) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.cmd == nil {
		t.volume = volume
		return nil
	}
	position := t.positionLocked()
	t.stopLocked()
	return t.startLocked(position, volume)
}

func (t *ffplayTrack) Progress() Progress {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.cmd == nil {
		return Progress{Position: t.offset}
	}

	select {
	case <-t.exited:
		if !t.stopping {
			return Progress{Position: t.duration, Ended: true}
		}
	default:
	}
	return Progress{Position: t.positionLocked()}
}

func (t *ffplayTrack) positionLocked() float64 {
	if t.startedAt.IsZero() {
		return t.offset
	}
	position := t.offset + time.Since(t.startedAt).Seconds()
	if t.duration > 0 && position > t.duration {
		position = t.duration
	}
	return position
}

func (t *ffplayTrack) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.stopLocked()
	t.buffer = nil
	return nil
}
