package model

import (
	"fmt"
	"image"
	"runtime/debug"
	"strings"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// Source describes one configured video input. The locator is either a
// local device index ("0"), a network URL (rtsp://...) or a file path.
// A source is immutable once its pump is running; changing it requires
// RemoveSource followed by AddSource.
type Source struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Locator       string `json:"locator"`
	FPS           int    `json:"fps"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Enabled       bool   `json:"enabled"`
	BufferSeconds int    `json:"bufferSeconds"`
}

// IsNetwork reports whether the locator points at a network stream, which
// selects the read-failure recovery policy (reconnect controller vs
// immediate retry).
func (s Source) IsNetwork() bool {
	return strings.HasPrefix(s.Locator, "rtsp://") ||
		strings.HasPrefix(s.Locator, "rtsps://") ||
		strings.HasPrefix(s.Locator, "http://") ||
		strings.HasPrefix(s.Locator, "https://")
}

// MaskedLocator hides credentials embedded in network URLs so they never
// reach the logs.
func (s Source) MaskedLocator() string {
	if !s.IsNetwork() {
		return s.Locator
	}
	at := strings.Index(s.Locator, "@")
	if at < 0 {
		return s.Locator
	}
	scheme := strings.Index(s.Locator, "://")
	if scheme < 0 || scheme > at {
		return s.Locator
	}
	return s.Locator[:scheme+3] + "***:***" + s.Locator[at:]
}

// WatchlistEntry is one enrolled reference embedding. An identity may
// contribute multiple entries; each is compared independently and the
// identity's best single entry wins.
type WatchlistEntry struct {
	PersonID       string    `json:"personId"`
	Name           string    `json:"name"`
	Embedding      []float32 `json:"embedding"`
	AlertOnMatch   bool      `json:"alertOnMatch"`
	LastSeenAt     int64     `json:"lastSeenAt"`
	LastSeenSource string    `json:"lastSeenSource"`
}

// PoseData carries the optional pose estimation result.
type PoseData struct {
	Keypoints       map[int][2]float64 `json:"keypoints"`
	BodyOrientation string             `json:"bodyOrientation"`
	Action          string             `json:"action"`
}

// DetectionOutcome is created fresh per processed frame and never mutated
// after it is returned. Optional fields use zero values for absence:
// empty Emotion, zero Age, nil Embedding, nil Pose.
type DetectionOutcome struct {
	HasFace         bool                   `json:"hasFace"`
	FaceBox         image.Rectangle        `json:"faceBox"`
	Embedding       []float32              `json:"embedding,omitempty"`
	QualityScore    float64                `json:"qualityScore"`
	IsRealFace      bool                   `json:"isRealFace"`
	Emotion         string                 `json:"emotion,omitempty"`
	Age             int                    `json:"age,omitempty"`
	Pose            *PoseData              `json:"pose,omitempty"`
	MatchedPersonID string                 `json:"matchedPersonId,omitempty"`
	MatchConfidence float64                `json:"matchConfidence"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

const (
	DetectionTypeFaceMatch    = "face_match"
	DetectionTypeSpoofAttempt = "spoof_attempt"
	DetectionTypeEmotionAlert = "emotion_alert"
	DetectionTypeFace         = "face_detection"
)

// DetermineDetectionType classifies an outcome for persistence and
// alerting. Match wins over spoof wins over emotion, mirroring the
// persistence policy priority.
func DetermineDetectionType(outcome DetectionOutcome) string {
	switch {
	case outcome.MatchedPersonID != "":
		return DetectionTypeFaceMatch
	case !outcome.IsRealFace:
		return DetectionTypeSpoofAttempt
	case outcome.Emotion == "angry" || outcome.Emotion == "fear":
		return DetectionTypeEmotionAlert
	default:
		return DetectionTypeFace
	}
}

// Detection is the evidence record handed to the persistence collaborator.
type Detection struct {
	EventID    string           `json:"eventId"`
	SourceID   string           `json:"sourceId"`
	Type       string           `json:"type"`
	Confidence float64          `json:"confidence"`
	Frame      []byte           `json:"frame,omitempty"` // JPEG-encoded evidence frame
	ClipURL    string           `json:"clipUrl,omitempty"`
	Outcome    DetectionOutcome `json:"outcome"`
	Timestamp  int64            `json:"timestamp"`
}

type PumpStats struct {
	Name          string `json:"name"`
	Source        string `json:"source"`
	FPS           int    `json:"fps"`
	Frames        int    `json:"frames"`
	SkippedFrames int    `json:"skippedFrames"`
	Errors        int    `json:"errors"`
	Reconnects    int    `json:"reconnects"`
	Uptime        int64  `json:"uptime"`
	Timestamp     int64  `json:"timestamp"`
}

type PipelineStats struct {
	Name        string  `json:"name"`
	Source      string  `json:"source"`
	Frames      int     `json:"frames"`
	Gated       int     `json:"gated"` // frames dropped by the motion gate
	Faces       int     `json:"faces"`
	Matches     int     `json:"matches"`
	Errors      int     `json:"errors"`
	Uptime      int64   `json:"uptime"`
	AvgProcTime float64 `json:"avgProcTime"`
	Timestamp   int64   `json:"timestamp"`
}

type RecorderStats struct {
	Name      string `json:"name"`
	Source    string `json:"source"`
	Frames    int    `json:"frames"`
	Clips     int    `json:"clips"`
	Errors    int    `json:"errors"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}
