package pipeline

import (
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	xerrors "github.com/mdobak/go-xerrors"
	"gocv.io/x/gocv"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/lgr"
)

// StreamState is owned exclusively by one source instance.
type StreamState int32

const (
	StateDisconnected StreamState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s StreamState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// captureHandle is the slice of gocv.VideoCapture the source needs,
// kept narrow so tests can substitute a scripted capture.
type captureHandle interface {
	Read(m *gocv.Mat) bool
	Close() error
}

type captureOpener func(cfg model.Source) (captureHandle, error)

// openVideoCapture opens the underlying gocv capture for any locator
// kind: a numeric string is a local device index, anything else is a
// URL or file path.
func openVideoCapture(cfg model.Source) (captureHandle, error) {
	var capture *gocv.VideoCapture
	var err error

	if deviceID, convErr := strconv.Atoi(cfg.Locator); convErr == nil {
		capture, err = gocv.OpenVideoCapture(deviceID)
	} else {
		capture, err = gocv.OpenVideoCapture(cfg.Locator)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}
	// Keep the driver buffer shallow so frames are near-live.
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	return capture, nil
}

// source wraps one capture handle with the reconnection state machine
// of network streams. All methods are called from the owning pump
// goroutine; only the state word is read concurrently (Manager.Info).
type source struct {
	cfg          model.Source
	open         captureOpener
	handle       captureHandle
	state        atomic.Int32
	lastGood     time.Time
	frameTimeout time.Duration
	backoffDelay time.Duration
	reconnects   int
	clock        func() time.Time
}

func newSource(cfg model.Source, frameTimeout, backoffDelay time.Duration, open captureOpener) *source {
	return &source{
		cfg:          cfg,
		open:         open,
		frameTimeout: frameTimeout,
		backoffDelay: backoffDelay,
		clock:        time.Now,
	}
}

func (s *source) State() StreamState {
	return StreamState(s.state.Load())
}

func (s *source) setState(state StreamState) {
	s.state.Store(int32(state))
}

// Connect opens the handle and validates it with one test read. On any
// failure the handle is released and the source stays Disconnected, so
// a source that cannot be opened never holds partial state.
func (s *source) Connect() error {
	s.setState(StateConnecting)

	handle, err := s.open(s.cfg)
	if err != nil {
		s.setState(StateDisconnected)
		return xerrors.New("error opening capture for " + s.cfg.MaskedLocator() + ": " + err.Error())
	}

	probe := gocv.NewMat()
	defer probe.Close()
	if ok := handle.Read(&probe); !ok || probe.Empty() {
		handle.Close()
		s.setState(StateDisconnected)
		return xerrors.New("test read failed for " + s.cfg.MaskedLocator())
	}

	s.handle = handle
	s.lastGood = s.clock()
	s.setState(StateConnected)

	lgr.Logger.Info(
		"source connected",
		slog.String("source", s.cfg.ID),
		slog.String("locator", s.cfg.MaskedLocator()),
	)
	return nil
}

// Read pulls one frame into img. On success the last-good-frame time is
// refreshed. On failure from a network source, the elapsed time since
// the last good frame is checked against the stale timeout and the
// source transitions to Reconnecting once it is exceeded; local devices
// are left Connected for the pump's immediate retry.
func (s *source) Read(img *gocv.Mat) bool {
	if s.handle == nil || s.State() != StateConnected {
		return false
	}

	if ok := s.handle.Read(img); ok && !img.Empty() {
		s.lastGood = s.clock()
		return true
	}

	if s.cfg.IsNetwork() && s.clock().Sub(s.lastGood) > s.frameTimeout {
		lgr.Logger.Warn(
			"stale network source, entering reconnect",
			slog.String("source", s.cfg.ID),
			slog.Duration("timeout", s.frameTimeout),
		)
		s.release()
		s.setState(StateReconnecting)
	}
	return false
}

// Reconnect performs one reconnection attempt: the handle was already
// released on the Reconnecting transition and the pump has waited the
// backoff delay. Success returns to Connected; failure stays
// Reconnecting for the caller's next attempt. Retries are unbounded by
// policy.
func (s *source) Reconnect() bool {
	if err := s.Connect(); err != nil {
		s.setState(StateReconnecting)
		return false
	}
	s.reconnects++
	return true
}

// BackoffDelay is the fixed wait the pump applies between reconnection
// attempts.
func (s *source) BackoffDelay() time.Duration {
	return s.backoffDelay
}

func (s *source) Reconnects() int {
	return s.reconnects
}

func (s *source) release() {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
}

// Close releases the capture handle and returns to Disconnected.
func (s *source) Close() {
	s.release()
	s.setState(StateDisconnected)
}
