package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	xerrors "github.com/mdobak/go-xerrors"
	"gocv.io/x/gocv"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/config"
	"github.com/sentryvision/sv-go/service/lgr"
)

// health holds the per-source counters exposed for an external health
// monitor. A repeatedly failing pump is never auto-removed; acting on
// these numbers is the monitor's call.
type health struct {
	frames        atomic.Int64
	errors        atomic.Int64
	handlerErrors atomic.Int64
	reconnects    atomic.Int64
	lastFrameUnix atomic.Int64
}

// SourceInfo is the introspection view of one registered source.
type SourceInfo struct {
	Config  model.Source
	State   StreamState
	Running bool
}

type registration struct {
	cfg      model.Source
	source   *source
	handlers []Handler
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	health   *health
}

// Manager owns the registry of active sources and runs one independent
// pump goroutine per started source. It is constructed once at process
// startup and passed by reference to whatever needs it.
type Manager struct {
	cfgSvc      config.IService
	errorStream chan interface{}
	statsStream chan interface{}

	opener captureOpener

	mu       sync.Mutex
	registry map[string]*registration
}

func NewManager(cfgSvc config.IService, errorStream, statsStream chan interface{}) *Manager {
	return &Manager{
		cfgSvc:      cfgSvc,
		errorStream: errorStream,
		statsStream: statsStream,
		opener:      openVideoCapture,
		registry:    map[string]*registration{},
	}
}

// AddSource opens the capture handle and validates it with one test
// read. On failure the handle is released and the registry is left
// untouched. Adding an already-registered identity is rejected.
func (m *Manager) AddSource(cfg model.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.registry[cfg.ID]; exists {
		return xerrors.New("source already registered: " + cfg.ID)
	}

	src := newSource(cfg,
		time.Duration(m.cfgSvc.GetFrameTimeout())*time.Second,
		time.Duration(m.cfgSvc.GetReconnectDelay())*time.Second,
		m.opener)

	if err := src.Connect(); err != nil {
		return err
	}

	m.registry[cfg.ID] = &registration{
		cfg:    cfg,
		source: src,
		health: &health{},
	}

	lgr.Logger.Info(
		"source added",
		slog.String("source", cfg.ID),
		slog.String("name", cfg.Name),
	)
	return nil
}

// RemoveSource stops the pump if running, releases the capture handle
// and deregisters all handlers. A subsequent AddSource with the same
// config starts from a clean slate.
func (m *Manager) RemoveSource(id string) error {
	m.mu.Lock()
	reg, exists := m.registry[id]
	if !exists {
		m.mu.Unlock()
		return xerrors.New("source not registered: " + id)
	}
	delete(m.registry, id)
	m.mu.Unlock()

	m.stopRegistration(reg)
	reg.source.Close()

	lgr.Logger.Info("source removed", slog.String("source", id))
	return nil
}

// RegisterCallback appends a handler to the source's dispatch list.
// Dispatch order is registration order.
func (m *Manager) RegisterCallback(id string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, exists := m.registry[id]
	if !exists {
		return xerrors.New("source not registered: " + id)
	}
	reg.handlers = append(reg.handlers, handler)
	return nil
}

// Start spawns the pump loop for the source. Starting an already
// running source is a no-op.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, exists := m.registry[id]
	if !exists {
		return xerrors.New("source not registered: " + id)
	}
	if reg.running {
		return nil
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	reg.cancel = cancel
	reg.done = make(chan struct{})
	reg.running = true

	go m.pump(pumpCtx, reg)
	return nil
}

// Stop requests a cooperative stop. The cancellation is observed at
// the top of the pump's next iteration, so an in-flight frame finishes
// dispatching first: stop may complete up to one full frame cycle after
// it is issued. Stop blocks until the pump has exited.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	reg, exists := m.registry[id]
	m.mu.Unlock()
	if !exists {
		return xerrors.New("source not registered: " + id)
	}

	m.stopRegistration(reg)
	return nil
}

func (m *Manager) stopRegistration(reg *registration) {
	m.mu.Lock()
	running := reg.running
	cancel := reg.cancel
	done := reg.done
	reg.running = false
	m.mu.Unlock()

	if !running {
		return
	}
	cancel()
	<-done
}

// StopAll stops every running pump.
func (m *Manager) StopAll() {
	m.mu.Lock()
	regs := make([]*registration, 0, len(m.registry))
	for _, reg := range m.registry {
		regs = append(regs, reg)
	}
	m.mu.Unlock()

	for _, reg := range regs {
		m.stopRegistration(reg)
	}
}

// Info returns the source config plus its live state.
func (m *Manager) Info(id string) (SourceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, exists := m.registry[id]
	if !exists {
		return SourceInfo{}, xerrors.New("source not registered: " + id)
	}
	return SourceInfo{
		Config:  reg.cfg,
		State:   reg.source.State(),
		Running: reg.running,
	}, nil
}

// Health snapshots the pump counters for one source.
func (m *Manager) Health(id string) (model.PumpStats, error) {
	m.mu.Lock()
	reg, exists := m.registry[id]
	m.mu.Unlock()
	if !exists {
		return model.PumpStats{}, xerrors.New("source not registered: " + id)
	}

	return model.PumpStats{
		Name:       "pump",
		Source:     id,
		Frames:     int(reg.health.frames.Load()),
		Errors:     int(reg.health.errors.Load() + reg.health.handlerErrors.Load()),
		Reconnects: int(reg.health.reconnects.Load()),
		Timestamp:  reg.health.lastFrameUnix.Load(),
	}, nil
}

// pump is the per-source read loop: read one frame, recover from read
// failures per source type, dispatch to handlers in registration order
// with per-handler isolation, then sleep the pacing interval.
func (m *Manager) pump(ctx context.Context, reg *registration) {
	defer close(reg.done)

	pumpID := uuid.NewString()
	fps := reg.cfg.FPS
	if fps <= 0 {
		fps = 10
	}
	pacing := time.Second / time.Duration(fps)

	lgr.Logger.Info(
		"pump starting",
		slog.String("pumpID", pumpID),
		slog.String("source", reg.cfg.ID),
		slog.String("locator", reg.cfg.MaskedLocator()),
		slog.Int("fps", fps),
	)

	var startTime = time.Now().Unix()
	var frames, errors int
	var seq uint64

	defer func() {
		uptime := time.Now().Unix() - startTime
		stats := model.PumpStats{
			Name:       "pump",
			Source:     reg.cfg.ID,
			Frames:     frames,
			Errors:     errors,
			Reconnects: reg.source.Reconnects(),
			Uptime:     uptime,
		}
		if uptime > 0 {
			stats.FPS = int(float64(frames) / float64(uptime))
		}
		select {
		case m.statsStream <- stats:
		default:
		}
	}()

	img := gocv.NewMat()
	defer img.Close()

	statsEvery := time.Duration(m.cfgSvc.GetStatsPeriodicTimeout()) * time.Second
	lastStats := time.Now()

	for {
		select {
		case <-ctx.Done():
			lgr.Logger.Info(
				"pump context cancelled",
				slog.String("source", reg.cfg.ID),
			)
			return
		default:
		}

		if ok := reg.source.Read(&img); !ok {
			errors++
			reg.health.errors.Add(1)

			// Network sources that went stale get the backoff-then-
			// reconnect treatment; local devices retry immediately.
			if reg.source.State() == StateReconnecting {
				select {
				case <-ctx.Done():
					return
				case <-time.After(reg.source.BackoffDelay()):
				}
				if reg.source.Reconnect() {
					reg.health.reconnects.Add(1)
				}
			}
			continue
		}

		seq++
		frames++
		reg.health.frames.Add(1)
		reg.health.lastFrameUnix.Store(time.Now().Unix())

		frame := FrameData{Mat: img, Seq: seq, Timestamp: time.Now()}
		for _, handler := range m.handlersSnapshot(reg) {
			m.dispatch(reg, handler, frame)
		}

		if time.Since(lastStats) >= statsEvery {
			lastStats = time.Now()
			uptime := time.Now().Unix() - startTime
			stats := model.PumpStats{
				Name:       "pump",
				Source:     reg.cfg.ID,
				Frames:     frames,
				Errors:     errors,
				Reconnects: reg.source.Reconnects(),
				Uptime:     uptime,
			}
			if uptime > 0 {
				stats.FPS = int(float64(frames) / float64(uptime))
			}
			select {
			case <-ctx.Done():
				return
			case m.statsStream <- stats:
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pacing):
		}
	}
}

func (m *Manager) handlersSnapshot(reg *registration) []Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	handlers := make([]Handler, len(reg.handlers))
	copy(handlers, reg.handlers)
	return handlers
}

// dispatch invokes one handler with panic isolation: a failing handler
// is reported and counted but never aborts the loop or its siblings.
func (m *Manager) dispatch(reg *registration, handler Handler, frame FrameData) {
	defer func() {
		if r := recover(); r != nil {
			reg.health.handlerErrors.Add(1)
			m.reportError(model.GenError("pump",
				xerrors.New("handler panic"),
				map[string]interface{}{"source": reg.cfg.ID, "panic": r},
				"handler panicked on frame %d", frame.Seq))
		}
	}()

	if err := handler(reg.cfg.ID, frame); err != nil {
		reg.health.handlerErrors.Add(1)
		m.reportError(model.GenError("pump",
			err,
			map[string]interface{}{"source": reg.cfg.ID},
			"handler error on frame %d", frame.Seq))
	}
}

func (m *Manager) reportError(err model.CustomError) {
	select {
	case m.errorStream <- err:
	default:
		lgr.Logger.Error(
			"error stream full, dropping",
			slog.String("processor", err.Processor),
			slog.String("message", err.Message),
		)
	}
}
