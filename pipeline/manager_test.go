package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/config"
)

func newTestManager() (*Manager, chan interface{}, chan interface{}) {
	errorStream := make(chan interface{}, 100)
	statsStream := make(chan interface{}, 100)
	m := NewManager(config.NewEnv(), errorStream, statsStream)
	m.opener = scriptedOpener(&fakeCapture{loop: true}, nil)
	return m, errorStream, statsStream
}

func testSource(id string) model.Source {
	// High FPS keeps the pacing interval short for the pump tests.
	return model.Source{ID: id, Name: id, Locator: "rtsp://host/" + id, FPS: 100}
}

func TestAddSourceDuplicateRejected(t *testing.T) {
	m, _, _ := newTestManager()

	if err := m.AddSource(testSource("cam1")); err != nil {
		t.Fatalf("AddSource() error = %v", err)
	}
	if err := m.AddSource(testSource("cam1")); err == nil {
		t.Fatal("expected duplicate AddSource to be rejected")
	}
}

func TestAddSourceConnectFailure(t *testing.T) {
	m, _, _ := newTestManager()
	m.opener = scriptedOpener(&fakeCapture{script: []bool{false}}, nil)

	if err := m.AddSource(testSource("cam1")); err == nil {
		t.Fatal("expected AddSource to fail on connect validation")
	}
	if _, err := m.Info("cam1"); err == nil {
		t.Fatal("failed AddSource must leave no registry entry")
	}
}

func TestRemoveSourceAndReAdd(t *testing.T) {
	m, _, _ := newTestManager()

	if err := m.AddSource(testSource("cam1")); err != nil {
		t.Fatalf("AddSource() error = %v", err)
	}
	if err := m.RemoveSource("cam1"); err != nil {
		t.Fatalf("RemoveSource() error = %v", err)
	}
	if err := m.RemoveSource("cam1"); err == nil {
		t.Fatal("expected second RemoveSource to fail")
	}
	if err := m.AddSource(testSource("cam1")); err != nil {
		t.Fatalf("re-AddSource() error = %v", err)
	}
}

func TestRegisterCallbackUnknownSource(t *testing.T) {
	m, _, _ := newTestManager()
	err := m.RegisterCallback("ghost", func(_ string, _ FrameData) error { return nil })
	if err == nil {
		t.Fatal("expected RegisterCallback on unknown source to fail")
	}
}

func TestPumpDeliversOrderedFrames(t *testing.T) {
	m, _, _ := newTestManager()
	if err := m.AddSource(testSource("cam1")); err != nil {
		t.Fatalf("AddSource() error = %v", err)
	}

	seqs := make(chan uint64, 200)
	err := m.RegisterCallback("cam1", func(sourceID string, frame FrameData) error {
		if sourceID != "cam1" {
			t.Errorf("handler sourceID = %q, want cam1", sourceID)
		}
		select {
		case seqs <- frame.Seq:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RegisterCallback() error = %v", err)
	}

	if err := m.Start(context.Background(), "cam1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Second start is a no-op.
	if err := m.Start(context.Background(), "cam1"); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	defer m.StopAll()

	var last uint64
	for i := 0; i < 5; i++ {
		select {
		case seq := <-seqs:
			if seq != last+1 {
				t.Fatalf("frame seq = %d, want %d", seq, last+1)
			}
			last = seq
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for frame %d", last+1)
		}
	}

	health, err := m.Health("cam1")
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if health.Frames < 5 {
		t.Errorf("health frames = %d, want >= 5", health.Frames)
	}

	info, err := m.Info("cam1")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if !info.Running || info.State != StateConnected {
		t.Errorf("Info() = %+v, want running and connected", info)
	}
}

func TestHandlerPanicIsolation(t *testing.T) {
	m, errorStream, _ := newTestManager()
	if err := m.AddSource(testSource("cam1")); err != nil {
		t.Fatalf("AddSource() error = %v", err)
	}

	m.RegisterCallback("cam1", func(_ string, _ FrameData) error {
		panic("handler exploded")
	})

	delivered := make(chan struct{}, 10)
	m.RegisterCallback("cam1", func(_ string, _ FrameData) error {
		select {
		case delivered <- struct{}{}:
		default:
		}
		return nil
	})

	if err := m.Start(context.Background(), "cam1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.StopAll()

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("sibling handler never ran after panic")
	}

	select {
	case e := <-errorStream:
		custom, ok := e.(model.CustomError)
		if !ok {
			t.Fatalf("error stream carried %T, want model.CustomError", e)
		}
		if custom.Processor != "pump" {
			t.Errorf("error processor = %q, want pump", custom.Processor)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("panic was never reported on the error stream")
	}
}

func TestStopIsCooperative(t *testing.T) {
	m, _, _ := newTestManager()
	if err := m.AddSource(testSource("cam1")); err != nil {
		t.Fatalf("AddSource() error = %v", err)
	}

	delivered := make(chan struct{}, 10)
	m.RegisterCallback("cam1", func(_ string, _ FrameData) error {
		select {
		case delivered <- struct{}{}:
		default:
		}
		return nil
	})

	if err := m.Start(context.Background(), "cam1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("pump never delivered a frame")
	}

	done := make(chan struct{})
	go func() {
		m.Stop("cam1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}

	// Stopping again is a no-op.
	if err := m.Stop("cam1"); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	info, _ := m.Info("cam1")
	if info.Running {
		t.Error("source still reports running after Stop")
	}
}
