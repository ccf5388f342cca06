package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/fluentdrill/internal/errors"
)

// FFmpegOptions configures microphone capture through ffmpeg.
type FFmpegOptions struct {
	Binary      string
	InputFormat string
	Device      string
	Codec       string
	SampleRate  int
	StopTimeout time.Duration
}

// FFmpegInput captures from PulseAudio/PipeWire with an ffmpeg child process
// writing Opus in WebM to stdout.
type FFmpegInput struct {
	opts FFmpegOptions

	mutex sync.Mutex
	inUse bool
}

// NewFFmpegInput creates an input device, filling unset options with defaults.
func NewFFmpegInput(opts FFmpegOptions) *FFmpegInput {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.InputFormat == "" {
		opts.InputFormat = "pulse"
	}
	if opts.Device == "" {
		opts.Device = "default"
	}
	if opts.Codec == "" {
		opts.Codec = "libopus"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	return &FFmpegInput{opts: opts}
}

// Open acquires the microphone. Only one stream may hold it at a time.
func (f *FFmpegInput) Open(ctx context.Context) (InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.DeviceUnavailable("capture cancelled", err)
	}

	if _, err := exec.LookPath(f.opts.Binary); err != nil {
		return nil, errors.DeviceUnavailable(fmt.Sprintf("%s not found", f.opts.Binary), err)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.inUse {
		return nil, errors.DeviceUnavailable("microphone is already in use", nil)
	}
	f.inUse = true

	return &ffmpegStream{input: f}, nil
}

func (f *FFmpegInput) release() {
	f.mutex.Lock()
	f.inUse = false
	f.mutex.Unlock()
}

func (f *FFmpegInput) args() []string {
	logLevel := os.Getenv("FFMPEG_LOGLEVEL")
	if logLevel == "" {
		logLevel = "error"
	}
	return []string{
		"-hide_banner",
		"-loglevel", logLevel,
		"-f", f.opts.InputFormat,
		"-i", f.opts.Device,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", f.opts.SampleRate),
		"-c:a", f.opts.Codec,
		"-f", "webm",
		"pipe:1",
	}
}

type ffmpegStream struct {
	input *FFmpegInput

	mutex     sync.Mutex
	cmd       *exec.Cmd
	readDone  chan struct{}
	stderrBuf strings.Builder
	released  bool
}

func (s *ffmpegStream) Start(emit func(chunk []byte)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cmd != nil {
		return fmt.Errorf("capture already started")
	}

	args := s.input.args()
	slog.Info("Starting FFmpeg capture", "command", s.input.opts.Binary+" "+strings.Join(args, " "))

	cmd := exec.Command(s.input.opts.Binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	s.cmd = cmd
	s.readDone = make(chan struct{})

	go s.readChunks(stdout, emit)
	go s.readOutput(stderr)

	return nil
}

// readChunks forwards stdout as it arrives. The final chunk is flushed when
// ffmpeg closes the pipe after SIGINT.
func (s *ffmpegStream) readChunks(pipe io.ReadCloser, emit func(chunk []byte)) {
	defer close(s.readDone)

	buf := make([]byte, 16*1024)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			emit(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("FFmpeg stdout closed", "error", err)
			}
			return
		}
	}
}

func (s *ffmpegStream) readOutput(pipe io.ReadCloser) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		s.mutex.Lock()
		s.stderrBuf.WriteString(line + "\n")
		s.mutex.Unlock()
		slog.Debug("FFmpeg output", "stream", "stderr", "line", line)
	}
}

func (s *ffmpegStream) Stop() error {
	s.mutex.Lock()
	cmd := s.cmd
	readDone := s.readDone
	s.mutex.Unlock()

	defer s.releaseDevice()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	slog.Debug("Sending SIGINT to FFmpeg process")
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to FFmpeg, falling back to SIGKILL", "error", err)
		cmd.Process.Kill()
	}

	select {
	case <-readDone:
	case <-time.After(s.input.opts.StopTimeout):
		slog.Warn("FFmpeg did not flush within timeout, force killing")
		cmd.Process.Kill()
		<-readDone
	}

	err := cmd.Wait()
	s.mutex.Lock()
	s.cmd = nil
	stderrOut := s.stderrBuf.String()
	s.mutex.Unlock()

	if err != nil && !interruptedExit(err) {
		slog.Debug("FFmpeg stderr", "output", stderrOut)
		return fmt.Errorf("FFmpeg process failed: %w", err)
	}
	slog.Debug("FFmpeg capture exited")
	return nil
}

func (s *ffmpegStream) Close() error {
	s.mutex.Lock()
	cmd := s.cmd
	readDone := s.readDone
	s.cmd = nil
	s.mutex.Unlock()

	defer s.releaseDevice()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		<-readDone
		cmd.Wait()
	}
	return nil
}

func (s *ffmpegStream) releaseDevice() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.released {
		s.released = true
		s.input.release()
	}
}

// interruptedExit reports whether err is ffmpeg exiting because it was told
// to stop.
func interruptedExit(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	if exitErr.ExitCode() == 255 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		return state == "signal: interrupt" || state == "signal: killed"
	}
	return false
}
