package provider

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/sentryvision/sv-go/model"
)

// Face is one located face candidate.
type Face struct {
	Box        image.Rectangle
	Confidence float64
}

// IService is the stage-provider capability contract consumed by the
// detection pipeline. Every method is a pure function of its inputs:
// image in, result or absent out. Absence is (zero value, nil error);
// a non-nil error means the stage itself failed and the caller applies
// its per-stage degradation policy.
//
// Implementations must be fully initialized by their constructor; the
// pipeline assumes a returned IService is ready for concurrent use
// across source pumps.
type IService interface {
	LocateFaces(img gocv.Mat) ([]Face, error)
	CheckLiveness(img gocv.Mat, box image.Rectangle) (bool, float64, error)
	ExtractEmbedding(img gocv.Mat, box image.Rectangle) ([]float32, error)
	EstimateEmotion(face gocv.Mat) (string, error)
	EstimateAge(face gocv.Mat) (int, error)
	EstimatePose(img gocv.Mat) (*model.PoseData, error)
	Close() error
}
