package pipeline

import (
	"context"
	"image"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/trace"
	"gocv.io/x/gocv"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/config"
	"github.com/sentryvision/sv-go/service/lgr"
	"github.com/sentryvision/sv-go/service/provider"
)

// DetectionPipeline runs one frame through the staged providers with
// early exit. A pipeline run is stateless: the only external state is
// the watchlist cache snapshot it consults. There is deliberately no
// per-stage timeout; a hung provider stalls the owning pump (see the
// stage-timeout note on config.IService).
type DetectionPipeline struct {
	providerSvc provider.IService
	cache       *WatchlistCache

	maxDimension   int
	matchThreshold float64
	enableLiveness bool
	enableEmotion  bool
	enableAge      bool
	enablePose     bool
}

func NewDetectionPipeline(cfgSvc config.IService, providerSvc provider.IService, cache *WatchlistCache) *DetectionPipeline {
	return &DetectionPipeline{
		providerSvc:    providerSvc,
		cache:          cache,
		maxDimension:   cfgSvc.GetMaxFrameDimension(),
		matchThreshold: cfgSvc.GetMatchThreshold(),
		enableLiveness: cfgSvc.IsLivenessEnabled(),
		enableEmotion:  cfgSvc.IsEmotionEnabled(),
		enableAge:      cfgSvc.IsAgeEnabled(),
		enablePose:     cfgSvc.IsPoseEnabled(),
	}
}

// ProcessFrame produces a fresh DetectionOutcome for the frame. The
// frame Mat is treated as read-only.
func (p *DetectionPipeline) ProcessFrame(ctx context.Context, frame gocv.Mat) (model.DetectionOutcome, error) {
	work, owned := boundFrame(frame, p.maxDimension)
	if owned {
		defer work.Close()
	}

	faces, err := p.providerSvc.LocateFaces(work)
	if err != nil {
		return model.DetectionOutcome{IsRealFace: true}, err
	}
	if len(faces) == 0 {
		return model.DetectionOutcome{IsRealFace: true}, nil
	}

	// One face per frame: the largest box wins, first-encountered on
	// ties.
	selected := faces[0]
	for _, f := range faces[1:] {
		if area(f.Box) > area(selected.Box) {
			selected = f
		}
	}
	box := selected.Box

	metadata := map[string]interface{}{
		"faceCount": len(faces),
		"faceSize":  [2]int{box.Dx(), box.Dy()},
		"frameSize": [2]int{work.Cols(), work.Rows()},
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["traceId"] = sc.TraceID().String()
	}

	outcome := model.DetectionOutcome{
		HasFace:      true,
		FaceBox:      box,
		IsRealFace:   true,
		QualityScore: qualityScore(box, work.Cols(), work.Rows()),
		Metadata:     metadata,
	}

	if p.enableLiveness {
		isReal, score, livErr := p.providerSvc.CheckLiveness(work, box)
		if livErr != nil {
			// Fail-open by policy: a broken liveness stage must not
			// block legitimate entry.
			lgr.Logger.Warn("liveness stage failed, treating as real", slog.Any("error", livErr))
			isReal = true
		}
		metadata["livenessScore"] = score
		if !isReal {
			// Spoof short-circuit: skip the costly stages entirely.
			outcome.IsRealFace = false
			metadata["spoofDetected"] = true
			return outcome, nil
		}
	}

	embedding, err := p.providerSvc.ExtractEmbedding(work, box)
	if err != nil {
		lgr.Logger.Warn("embedding stage failed", slog.Any("error", err))
		embedding = nil
	}
	if embedding == nil {
		return outcome, nil
	}
	outcome.Embedding = embedding

	if id, confidence, matched := p.searchWatchlist(embedding); matched {
		outcome.MatchedPersonID = id
		outcome.MatchConfidence = confidence
	}

	if p.enableEmotion || p.enableAge {
		p.analyzeFace(work, box, &outcome)
	}

	if p.enablePose {
		pose, poseErr := p.providerSvc.EstimatePose(work)
		if poseErr != nil {
			lgr.Logger.Debug("pose stage failed", slog.Any("error", poseErr))
		} else {
			outcome.Pose = pose
		}
	}

	return outcome, nil
}

// searchWatchlist compares the query embedding against every cache
// entry independently and keeps the best similarity. Identities with
// multiple enrolled embeddings win on their best single entry.
func (p *DetectionPipeline) searchWatchlist(embedding []float32) (string, float64, bool) {
	var bestID string
	var bestSim float64

	for _, entry := range p.cache.Snapshot() {
		if sim := cosineSimilarity(embedding, entry.Embedding); sim > bestSim {
			bestSim = sim
			bestID = entry.PersonID
		}
	}

	if bestID == "" || bestSim < p.matchThreshold {
		return "", 0, false
	}
	return bestID, bestSim, true
}

// analyzeFace runs the optional emotion/age estimators on the face
// crop. Either stage failing yields an absent field only.
func (p *DetectionPipeline) analyzeFace(work gocv.Mat, box image.Rectangle, outcome *model.DetectionOutcome) {
	clipped := box.Intersect(image.Rect(0, 0, work.Cols(), work.Rows()))
	if clipped.Empty() {
		return
	}

	crop := work.Region(clipped)
	defer crop.Close()

	if p.enableEmotion {
		emotion, err := p.providerSvc.EstimateEmotion(crop)
		if err != nil {
			lgr.Logger.Debug("emotion stage failed", slog.Any("error", err))
		} else {
			outcome.Emotion = emotion
		}
	}

	if p.enableAge {
		age, err := p.providerSvc.EstimateAge(crop)
		if err != nil {
			lgr.Logger.Debug("age stage failed", slog.Any("error", err))
		} else {
			outcome.Age = age
		}
	}
}

// boundFrame caps the longest frame side at maxDimension to bound
// downstream stage cost. Returns the working Mat and whether the caller
// owns (and must close) it.
func boundFrame(frame gocv.Mat, maxDimension int) (gocv.Mat, bool) {
	rows, cols := frame.Rows(), frame.Cols()
	longest := rows
	if cols > longest {
		longest = cols
	}
	if maxDimension <= 0 || longest <= maxDimension {
		return frame, false
	}

	scale := float64(maxDimension) / float64(longest)
	resized := gocv.NewMat()
	gocv.Resize(frame, &resized, image.Pt(int(float64(cols)*scale), int(float64(rows)*scale)), 0, 0, gocv.InterpolationArea)
	return resized, true
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// qualityScore combines a size term (faces should cover 5-50% of the
// frame, linear ramps outside) with a position term (1.0 at frame
// center, decaying with normalized distance), clamped to [0,1].
func qualityScore(box image.Rectangle, frameWidth, frameHeight int) float64 {
	if frameWidth <= 0 || frameHeight <= 0 {
		return 0
	}

	faceArea := float64(area(box))
	frameArea := float64(frameWidth * frameHeight)

	sizeRatio := faceArea / frameArea
	var sizeScore float64
	switch {
	case sizeRatio < 0.05:
		sizeScore = sizeRatio / 0.05
	case sizeRatio > 0.5:
		sizeScore = (1.0 - sizeRatio) * 2
	default:
		sizeScore = 1.0
	}

	centerX := float64(box.Min.X+box.Max.X) / 2
	centerY := float64(box.Min.Y+box.Max.Y) / 2
	dx := (centerX - float64(frameWidth)/2) / float64(frameWidth)
	dy := (centerY - float64(frameHeight)/2) / float64(frameHeight)
	positionScore := 1.0 - math.Sqrt(dx*dx+dy*dy)*2
	if positionScore < 0 {
		positionScore = 0
	}

	quality := (sizeScore + positionScore) / 2
	return math.Min(1.0, math.Max(0.0, quality))
}

// cosineSimilarity is the embedding comparison metric. Enrolled and
// query embeddings are unit-normalized by the provider, but the full
// form keeps the math correct for arbitrary vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
