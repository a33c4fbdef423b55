package provider

import (
	"fmt"
	"image"
	"math"

	xerrors "github.com/mdobak/go-xerrors"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/config"
)

const (
	embedSize    = 112
	embedDim     = 512
	livenessSize = 80
	emotionSize  = 64
	ageSize      = 224
)

// FER+ emotion head order, folded to the label set the decision policy
// keys on.
var emotionLabels = []string{"neutral", "happy", "surprise", "sad", "angry", "disgust", "fear", "contempt"}

// Age bucket midpoints of the 8-class age head.
var ageBuckets = []int{1, 5, 10, 17, 28, 40, 50, 80}

type onnxService struct {
	classifier gocv.CascadeClassifier

	embedSession    *ort.DynamicAdvancedSession
	livenessSession *ort.DynamicAdvancedSession
	emotionSession  *ort.DynamicAdvancedSession
	ageSession      *ort.DynamicAdvancedSession
}

// NewOnnx builds the ONNX-backed stage provider. All models are loaded
// eagerly so a misconfigured deployment fails at startup instead of on
// the first frame. Sessions whose feature flag is off are not loaded
// and their stages report absent.
func NewOnnx(cfgSvc config.IService) (IService, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, err
	}

	svc := &onnxService{}

	svc.classifier = gocv.NewCascadeClassifier()
	if !svc.classifier.Load(cfgSvc.GetFaceCascadeFile()) {
		svc.classifier.Close()
		return nil, xerrors.New(fmt.Sprintf("error loading face cascade %s", cfgSvc.GetFaceCascadeFile()))
	}

	var err error
	svc.embedSession, err = newSession(cfgSvc.GetEmbeddingModelFile(), "input.1", "683")
	if err != nil {
		svc.Close()
		return nil, err
	}

	if cfgSvc.IsLivenessEnabled() {
		svc.livenessSession, err = newSession(cfgSvc.GetLivenessModelFile(), "input", "output")
		if err != nil {
			svc.Close()
			return nil, err
		}
	}

	if cfgSvc.IsEmotionEnabled() {
		svc.emotionSession, err = newSession(cfgSvc.GetEmotionModelFile(), "Input3", "Plus692_Output_0")
		if err != nil {
			svc.Close()
			return nil, err
		}
	}

	if cfgSvc.IsAgeEnabled() {
		svc.ageSession, err = newSession(cfgSvc.GetAgeModelFile(), "input", "loss3/loss3_Y")
		if err != nil {
			svc.Close()
			return nil, err
		}
	}

	return svc, nil
}

func newSession(modelPath, inputName, outputName string) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	// CPU-bound edge box: keep each session on a couple of threads so
	// concurrent source pumps do not starve each other.
	opts.SetIntraOpNumThreads(2)
	opts.SetInterOpNumThreads(1)

	return ort.NewDynamicAdvancedSession(modelPath, []string{inputName}, []string{outputName}, opts)
}

func (svc *onnxService) LocateFaces(img gocv.Mat) ([]Face, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	rects := svc.classifier.DetectMultiScale(gray)
	faces := make([]Face, 0, len(rects))
	for _, r := range rects {
		faces = append(faces, Face{Box: r, Confidence: 1.0})
	}
	return faces, nil
}

func (svc *onnxService) CheckLiveness(img gocv.Mat, box image.Rectangle) (bool, float64, error) {
	if svc.livenessSession == nil {
		return true, 0.0, nil
	}

	crop, err := cropFace(img, box)
	if err != nil {
		return true, 0.0, err
	}
	defer crop.Close()

	input, err := chwTensor(crop, livenessSize, livenessSize,
		[3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	if err != nil {
		return true, 0.0, err
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		return true, 0.0, err
	}
	defer output.Destroy()

	if err := svc.livenessSession.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return true, 0.0, err
	}

	// MiniFASNet heads: index 1 is the live class.
	scores := softmax(output.GetData())
	realScore := float64(scores[1])
	isReal := scores[1] >= scores[0] && scores[1] >= scores[2]
	return isReal, realScore, nil
}

func (svc *onnxService) ExtractEmbedding(img gocv.Mat, box image.Rectangle) ([]float32, error) {
	crop, err := cropFace(img, box)
	if err != nil {
		return nil, err
	}
	defer crop.Close()

	input, err := chwTensor(crop, embedSize, embedSize,
		[3]float32{127.5, 127.5, 127.5}, [3]float32{1.0 / 127.5, 1.0 / 127.5, 1.0 / 127.5})
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, embedDim))
	if err != nil {
		return nil, err
	}
	defer output.Destroy()

	if err := svc.embedSession.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, err
	}

	embedding := make([]float32, embedDim)
	copy(embedding, output.GetData())
	normalize(embedding)
	return embedding, nil
}

func (svc *onnxService) EstimateEmotion(face gocv.Mat) (string, error) {
	if svc.emotionSession == nil {
		return "", nil
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(face, &gray, gocv.ColorBGRToGray)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Pt(emotionSize, emotionSize), 0, 0, gocv.InterpolationLinear)

	pixels, err := resized.DataPtrUint8()
	if err != nil {
		return "", err
	}
	data := make([]float32, emotionSize*emotionSize)
	for i, p := range pixels {
		data[i] = float32(p)
	}

	input, err := ort.NewTensor(ort.NewShape(1, 1, emotionSize, emotionSize), data)
	if err != nil {
		return "", err
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(emotionLabels))))
	if err != nil {
		return "", err
	}
	defer output.Destroy()

	if err := svc.emotionSession.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return "", err
	}

	return emotionLabels[argmax(output.GetData())], nil
}

func (svc *onnxService) EstimateAge(face gocv.Mat) (int, error) {
	if svc.ageSession == nil {
		return 0, nil
	}

	input, err := chwTensor(face, ageSize, ageSize,
		[3]float32{104.0, 117.0, 123.0}, [3]float32{1, 1, 1})
	if err != nil {
		return 0, err
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(ageBuckets))))
	if err != nil {
		return 0, err
	}
	defer output.Destroy()

	if err := svc.ageSession.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return 0, err
	}

	return ageBuckets[argmax(output.GetData())], nil
}

func (svc *onnxService) EstimatePose(_ gocv.Mat) (*model.PoseData, error) {
	// TODO: wire a MoveNet singlepose export here; until then the pose
	// stage reports absent and the pipeline leaves the fields unset.
	return nil, nil
}

func (svc *onnxService) Close() error {
	svc.classifier.Close()
	for _, s := range []*ort.DynamicAdvancedSession{svc.embedSession, svc.livenessSession, svc.emotionSession, svc.ageSession} {
		if s != nil {
			s.Destroy()
		}
	}
	return nil
}

// cropFace clips the box to the frame and returns an owned copy of the
// region. The copy keeps the session input independent of the caller's
// frame lifetime.
func cropFace(img gocv.Mat, box image.Rectangle) (gocv.Mat, error) {
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	clipped := box.Intersect(bounds)
	if clipped.Empty() {
		return gocv.Mat{}, xerrors.New("face box outside frame bounds")
	}

	region := img.Region(clipped)
	defer region.Close()
	return region.Clone(), nil
}

// chwTensor resizes a BGR Mat and lays it out as a 1x3xHxW tensor with
// per-channel mean/scale normalization.
func chwTensor(img gocv.Mat, width, height int, mean, scale [3]float32) (*ort.Tensor[float32], error) {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	pixels, err := resized.DataPtrUint8()
	if err != nil {
		return nil, err
	}

	plane := width * height
	data := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			data[c*plane+i] = (float32(pixels[i*3+c]) - mean[c]) * scale[c]
		}
	}

	return ort.NewTensor(ort.NewShape(1, 3, int64(height), int64(width)), data)
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

func softmax(scores []float32) []float32 {
	out := make([]float32, len(scores))
	max := scores[argmax(scores)]
	var sum float64
	for i, s := range scores {
		e := math.Exp(float64(s - max))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func argmax(scores []float32) int {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}
