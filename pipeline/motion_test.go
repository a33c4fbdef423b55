package pipeline

import (
	"testing"

	"gocv.io/x/gocv"
)

func TestMotionGateFirstFrameAlwaysPasses(t *testing.T) {
	gate := NewMotionGate(25.0)
	defer gate.Close()

	frame := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()

	if !gate.HasMotion(frame) {
		t.Error("first frame must always report motion")
	}
}

func TestMotionGateStaticScene(t *testing.T) {
	gate := NewMotionGate(25.0)
	defer gate.Close()

	a := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer a.Close()
	b := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer b.Close()

	gate.HasMotion(a)
	if gate.HasMotion(b) {
		t.Error("identical frames must not report motion")
	}
}

func TestMotionGateSceneChange(t *testing.T) {
	gate := NewMotionGate(25.0)
	defer gate.Close()

	dark := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer dark.Close()
	bright := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer bright.Close()
	bright.SetTo(gocv.NewScalar(255, 255, 255, 0))

	gate.HasMotion(dark)
	if !gate.HasMotion(bright) {
		t.Error("full-frame change must report motion")
	}
}

func TestMotionGateResolutionChange(t *testing.T) {
	gate := NewMotionGate(25.0)
	defer gate.Close()

	small := gocv.NewMatWithSize(50, 50, gocv.MatTypeCV8UC3)
	defer small.Close()
	large := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer large.Close()

	gate.HasMotion(small)
	if !gate.HasMotion(large) {
		t.Error("resolution change must report motion")
	}
}
