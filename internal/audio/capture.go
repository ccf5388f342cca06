package audio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/fluentdrill/internal/errors"
)

// InputDevice grants exclusive access to a microphone.
type InputDevice interface {
	// Open acquires the device. It fails when access is denied or no device
	// is present and is never retried by the caller.
	Open(ctx context.Context) (InputStream, error)
}

// InputStream is an acquired microphone producing encoded chunks.
type InputStream interface {
	// Start begins delivering encoded chunks to emit. emit may be called from
	// any goroutine until Stop returns.
	Start(emit func(chunk []byte)) error
	// Stop ends capture, blocks until the final chunk has been delivered and
	// releases the device.
	Stop() error
	// Close releases the device without waiting for pending chunks.
	Close() error
}

// CapturePhase is the lifecycle position of a CaptureSession.
type CapturePhase string

const (
	CaptureIdle      CapturePhase = "IDLE"
	CaptureOpen      CapturePhase = "OPEN"
	CaptureRecording CapturePhase = "RECORDING"
	CaptureStopped   CapturePhase = "STOPPED"
	CaptureReleased  CapturePhase = "RELEASED"
)

func (p CapturePhase) String() string { return string(p) }

// CaptureSession is one microphone recording lifecycle. It accumulates the
// encoded chunks of a single take and finalizes them into one buffer.
type CaptureSession struct {
	device InputDevice
	tick   time.Duration

	mutex  sync.Mutex
	phase  CapturePhase
	stream InputStream
	buffer []byte

	chunkMutex sync.Mutex
	chunks     [][]byte

	// elapsed is read without the session lock so the view never waits on a
	// stopping device.
	elapsed atomic.Int64

	counterStop chan struct{}
	counterDone chan struct{}
}

// NewCaptureSession creates a session on device. tick is the resolution of the
// elapsed counter; one second unless overridden.
func NewCaptureSession(device InputDevice, tick time.Duration) *CaptureSession {
	if tick <= 0 {
		tick = time.Second
	}
	return &CaptureSession{
		device: device,
		tick:   tick,
		phase:  CaptureIdle,
	}
}

// Open acquires exclusive access to the input device.
func (s *CaptureSession) Open(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.phase != CaptureIdle {
		return errors.InvalidState("open capture", s.phase)
	}

	stream, err := s.device.Open(ctx)
	if err != nil {
		if errors.HasCode(err, errors.ErrDeviceUnavailable) {
			return err
		}
		return errors.DeviceUnavailable("microphone unavailable", err)
	}

	s.stream = stream
	s.phase = CaptureOpen
	slog.Debug("Capture device acquired")
	return nil
}

// Start begins accumulating chunks and resets the elapsed counter.
func (s *CaptureSession) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.phase != CaptureOpen {
		return errors.InvalidState("start capture", s.phase)
	}

	s.chunkMutex.Lock()
	s.chunks = nil
	s.chunkMutex.Unlock()
	s.elapsed.Store(0)

	if err := s.stream.Start(s.appendChunk); err != nil {
		s.stream.Close()
		s.stream = nil
		s.phase = CaptureReleased
		return errors.DeviceUnavailable("failed to start capture", err)
	}

	s.counterStop = make(chan struct{})
	s.counterDone = make(chan struct{})
	go s.runCounter(s.counterStop, s.counterDone)

	s.phase = CaptureRecording
	slog.Debug("Capture started")
	return nil
}

// Stop finalizes the recorded chunks into a single buffer, stops the counter
// and releases the device. Calling Stop again returns the same bytes. Before
// Open and after Release there is nothing to stop and Stop returns nil.
func (s *CaptureSession) Stop() ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch s.phase {
	case CaptureIdle, CaptureReleased:
		return nil, nil
	case CaptureStopped:
		return cloneBytes(s.buffer), nil
	case CaptureOpen:
		s.stream.Close()
		s.stream = nil
		s.buffer = []byte{}
		s.phase = CaptureStopped
		return []byte{}, nil
	case CaptureRecording:
	default:
		return nil, errors.InvalidState("stop capture", s.phase)
	}

	s.stopCounter()

	if err := s.stream.Stop(); err != nil {
		// Whatever was delivered before the failure is still a usable take.
		slog.Warn("Capture device did not stop cleanly", "error", err)
	}
	s.stream = nil

	s.chunkMutex.Lock()
	size := 0
	for _, c := range s.chunks {
		size += len(c)
	}
	buffer := make([]byte, 0, size)
	for _, c := range s.chunks {
		buffer = append(buffer, c...)
	}
	s.chunks = nil
	s.chunkMutex.Unlock()

	s.buffer = buffer
	s.phase = CaptureStopped
	slog.Debug("Capture stopped", "bytes", len(buffer), "elapsed", s.elapsed.Load())
	return cloneBytes(buffer), nil
}

// Release abandons the take and frees the device. Safe in any phase.
func (s *CaptureSession) Release() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.phase == CaptureRecording {
		s.stopCounter()
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			slog.Debug("Failed to close capture stream", "error", err)
		}
		s.stream = nil
	}

	s.chunkMutex.Lock()
	s.chunks = nil
	s.chunkMutex.Unlock()

	s.buffer = nil
	s.phase = CaptureReleased
}

// Elapsed returns the whole seconds recorded so far.
func (s *CaptureSession) Elapsed() int {
	return int(s.elapsed.Load())
}

// Recording reports whether the device indicator is live.
func (s *CaptureSession) Recording() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.phase == CaptureRecording
}

// Phase returns the current lifecycle phase.
func (s *CaptureSession) Phase() CapturePhase {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.phase
}

func (s *CaptureSession) appendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.chunkMutex.Lock()
	s.chunks = append(s.chunks, cloneBytes(chunk))
	s.chunkMutex.Unlock()
}

func (s *CaptureSession) runCounter(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.elapsed.Add(1)
		}
	}
}

// stopCounter must be called with the session lock held. The counter
// goroutine never takes the lock, so waiting here is safe.
func (s *CaptureSession) stopCounter() {
	if s.counterStop != nil {
		close(s.counterStop)
		<-s.counterDone
		s.counterStop = nil
		s.counterDone = nil
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
