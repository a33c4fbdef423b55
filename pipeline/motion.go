package pipeline

import (
	"image"

	"gocv.io/x/gocv"
)

// MotionGate is the cheap frame-difference pre-filter that lets the
// pump skip the detection pipeline on static scenes. It is owned by one
// source's handler and needs no synchronization.
type MotionGate struct {
	threshold float64
	prev      gocv.Mat
	primed    bool
}

func NewMotionGate(threshold float64) *MotionGate {
	return &MotionGate{
		threshold: threshold,
	}
}

// HasMotion reports whether the frame differs enough from the previous
// one. The first call always reports motion (nothing to compare
// against) and the stored frame is updated on every call regardless of
// the result.
func (g *MotionGate) HasMotion(frame gocv.Mat) bool {
	gray := gocv.NewMat()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(gray, &gray, image.Pt(21, 21), 0, 0, gocv.BorderDefault)

	if !g.primed {
		g.prev = gray
		g.primed = true
		return true
	}

	// Resolution changes (source renegotiation) make the diff
	// meaningless; treat them as motion.
	if g.prev.Cols() != gray.Cols() || g.prev.Rows() != gray.Rows() {
		g.prev.Close()
		g.prev = gray
		return true
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(g.prev, gray, &diff)
	meanDiff := diff.Mean().Val1

	g.prev.Close()
	g.prev = gray

	return meanDiff > g.threshold
}

func (g *MotionGate) Close() {
	if g.primed {
		g.prev.Close()
		g.primed = false
	}
}
