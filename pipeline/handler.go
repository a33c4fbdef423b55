package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/lgr"
)

// NewDetectionHandler builds the per-source frame handler: ring buffer
// maintenance, motion gate, staged detection, evidence decision and
// persistence. Each source gets its own gate, recorder and pipeline;
// the watchlist cache is the only shared collaborator.
func NewDetectionHandler(ctx context.Context, svcs ServicesFactory, src model.Source, cache *WatchlistCache, errorStream, statsStream chan interface{}) Handler {
	gate := NewMotionGate(svcs.CfgSvc.GetMotionThreshold())
	recorder := NewBufferedRecorder(src, src.BufferSeconds, svcs.CfgSvc.GetRecordingsFolder(), svcs.StorageSvc)
	engine := NewDecisionEngine(svcs.CfgSvc)
	detector := NewDetectionPipeline(svcs.CfgSvc, svcs.ProviderSvc, cache)

	postEventSeconds := svcs.CfgSvc.GetPostEventSeconds()
	statsEvery := time.Duration(svcs.CfgSvc.GetStatsPeriodicTimeout()) * time.Second

	stats := model.PipelineStats{
		Name:   "detectionPipeline",
		Source: src.ID,
	}
	startTime := time.Now()
	lastStats := time.Now()
	var procTotal time.Duration
	var closeOnce sync.Once

	emitStats := func() {
		stats.Uptime = int64(time.Since(startTime).Seconds())
		stats.Timestamp = time.Now().Unix()
		if stats.Frames > 0 {
			stats.AvgProcTime = procTotal.Seconds() * 1000 / float64(stats.Frames)
		}
		select {
		case statsStream <- stats:
		default:
		}
		select {
		case statsStream <- recorder.Stats():
		default:
		}
	}

	reportError := func(err error, msgf string, args ...interface{}) {
		stats.Errors++
		custom := model.GenError("detectionHandler", err,
			map[string]interface{}{"source": src.ID}, msgf, args...)
		select {
		case errorStream <- custom:
		default:
		}
	}

	return func(sourceID string, frame FrameData) error {
		if ctx.Err() != nil {
			closeOnce.Do(func() {
				emitStats()
				recorder.Close()
				gate.Close()
			})
			return nil
		}

		// Ring buffer first so every frame is available as lead-up
		// footage regardless of what the gate decides.
		recorder.AddFrame(frame)
		if recorder.Active() {
			recorder.WriteContinuationFrame(frame)
		}

		stats.Frames++
		if time.Since(lastStats) >= statsEvery {
			lastStats = time.Now()
			emitStats()
		}

		if !gate.HasMotion(frame.Mat) {
			stats.Gated++
			return nil
		}

		procStart := time.Now()
		outcome, err := detector.ProcessFrame(ctx, frame.Mat)
		procTotal += time.Since(procStart)
		if err != nil {
			reportError(err, "detection failed on frame %d", frame.Seq)
			return nil
		}
		if !outcome.HasFace {
			return nil
		}
		stats.Faces++

		if outcome.MatchedPersonID != "" {
			stats.Matches++
			if entry, found := cache.Lookup(outcome.MatchedPersonID); found {
				if err := svcs.DataSvc.UpdateWatchlistLastSeen(entry.PersonID, src.ID); err != nil {
					reportError(err, "error updating last seen for %s", entry.PersonID)
				}
				if err := svcs.NotifySvc.NotifyMatch(entry, src.ID, outcome.MatchConfidence); err != nil {
					reportError(err, "error notifying match for %s", entry.PersonID)
				}
			}
		}

		if !engine.ShouldPersist(outcome) {
			return nil
		}

		detection := model.Detection{
			EventID:    uuid.NewString(),
			SourceID:   src.ID,
			Type:       model.DetermineDetectionType(outcome),
			Confidence: outcome.QualityScore,
			Outcome:    outcome,
			Timestamp:  frame.Timestamp.Unix(),
		}
		if outcome.MatchedPersonID != "" {
			detection.Confidence = outcome.MatchConfidence
		}

		if jpeg, err := encodeJPEG(frame.Mat); err != nil {
			reportError(err, "error encoding evidence frame %d", frame.Seq)
		} else {
			detection.Frame = jpeg
		}

		// Matches and spoof attempts are worth a clip with the lead-up
		// footage; emotion alerts and sampled frames keep the still only.
		if detection.Type == model.DetectionTypeFaceMatch || detection.Type == model.DetectionTypeSpoofAttempt {
			if !recorder.Active() {
				if path, err := recorder.Trigger(detection.EventID, postEventSeconds); err != nil {
					reportError(err, "error triggering evidence clip for %s", detection.EventID)
				} else {
					detection.ClipURL = path
				}
			}
		}

		if err := svcs.DataSvc.NewDetection(detection); err != nil {
			reportError(err, "error persisting detection %s", detection.EventID)
		}
		if err := svcs.NotifySvc.BroadcastDetection(detection); err != nil {
			reportError(err, "error broadcasting detection %s", detection.EventID)
		}

		lgr.Logger.Info(
			"detection persisted",
			slog.String("source", src.ID),
			slog.String("eventID", detection.EventID),
			slog.String("type", detection.Type),
			slog.Float64("confidence", detection.Confidence),
		)
		return nil
	}
}

// encodeJPEG copies the encoded bytes out of the native buffer before
// releasing it.
func encodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	encoded := make([]byte, len(buf.GetBytes()))
	copy(encoded, buf.GetBytes())
	return encoded, nil
}
