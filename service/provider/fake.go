package provider

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/sentryvision/sv-go/model"
)

// Fake is a canned provider for tests and model-less dev runs. Zero
// values mean absent results; set fields to shape the outcome.
type Fake struct {
	Faces     []Face
	FacesErr  error
	Live      bool
	LiveScore float64
	LiveErr   error
	Embedding []float32
	EmbedErr  error
	Emotion   string
	EmotionErr error
	Age       int
	AgeErr    error
	Pose      *model.PoseData
	PoseErr   error

	// Call counters let tests assert which stages ran.
	LocateCalls  int
	LiveCalls    int
	EmbedCalls   int
	EmotionCalls int
	AgeCalls     int
	PoseCalls    int
}

func NewFake() *Fake {
	return &Fake{
		Live:      true,
		LiveScore: 1.0,
	}
}

func (svc *Fake) LocateFaces(_ gocv.Mat) ([]Face, error) {
	svc.LocateCalls++
	return svc.Faces, svc.FacesErr
}

func (svc *Fake) CheckLiveness(_ gocv.Mat, _ image.Rectangle) (bool, float64, error) {
	svc.LiveCalls++
	return svc.Live, svc.LiveScore, svc.LiveErr
}

func (svc *Fake) ExtractEmbedding(_ gocv.Mat, _ image.Rectangle) ([]float32, error) {
	svc.EmbedCalls++
	return svc.Embedding, svc.EmbedErr
}

func (svc *Fake) EstimateEmotion(_ gocv.Mat) (string, error) {
	svc.EmotionCalls++
	return svc.Emotion, svc.EmotionErr
}

func (svc *Fake) EstimateAge(_ gocv.Mat) (int, error) {
	svc.AgeCalls++
	return svc.Age, svc.AgeErr
}

func (svc *Fake) EstimatePose(_ gocv.Mat) (*model.PoseData, error) {
	svc.PoseCalls++
	return svc.Pose, svc.PoseErr
}

func (svc *Fake) Close() error {
	return nil
}
