package config

import (
	"fmt"
	"os"
	"strconv"
)

type envService struct {
}

// NewEnv returns a config service backed by environment variables with
// built-in defaults. Main loads .env via godotenv in dev runs, so every
// getter is a plain os.Getenv read.
func NewEnv() IService {
	return &envService{}
}

func (svc *envService) GetModeMaxShutdownTime() int {
	return getInt("MODE_MAX_SHUTDOWN_TIME", 5)
}

func (svc *envService) GetInputFolder() string {
	return getString("INPUT_FOLDER", "./settings")
}

func (svc *envService) GetSourcesInputFile() string {
	return fmt.Sprintf("%s/sources.json", svc.GetInputFolder())
}

func (svc *envService) GetWatchlistInputFile() string {
	return fmt.Sprintf("%s/watchlist.json", svc.GetInputFolder())
}

func (svc *envService) GetRecordingsFolder() string {
	return getString("RECORDINGS_FOLDER", "./recordings")
}

func (svc *envService) GetStatsPeriodicTimeout() int {
	return getInt("STATS_PERIODIC_TIMEOUT", 30)
}

func (svc *envService) GetLiveViewPort() int {
	return getInt("LIVE_VIEW_PORT", 8088)
}

func (svc *envService) GetMotionThreshold() float64 {
	// Mean absolute pixel difference on a 0-255 grayscale.
	return getFloat("MOTION_THRESHOLD", 25.0)
}

func (svc *envService) GetMaxFrameDimension() int {
	return getInt("MAX_FRAME_DIMENSION", 640)
}

func (svc *envService) GetMatchThreshold() float64 {
	return getFloat("MATCH_THRESHOLD", 0.4)
}

func (svc *envService) GetQualityEmotionThreshold() float64 {
	return getFloat("QUALITY_EMOTION_THRESHOLD", 0.7)
}

func (svc *envService) GetStageTimeout() int {
	// Deliberately no default: a hung stage provider stalls its source
	// pump unless the deployment opts into a deadline.
	return getInt("STAGE_TIMEOUT", 0)
}

func (svc *envService) IsLivenessEnabled() bool {
	return getBool("ENABLE_LIVENESS", true)
}

func (svc *envService) IsEmotionEnabled() bool {
	return getBool("ENABLE_EMOTION", true)
}

func (svc *envService) IsAgeEnabled() bool {
	return getBool("ENABLE_AGE", false)
}

func (svc *envService) IsPoseEnabled() bool {
	return getBool("ENABLE_POSE", true)
}

func (svc *envService) GetWatchlistCacheTTL() int {
	return getInt("WATCHLIST_CACHE_TTL", 300)
}

func (svc *envService) GetEvidenceSamplingRate() float64 {
	return getFloat("EVIDENCE_SAMPLING_RATE", 0.01)
}

func (svc *envService) GetPostEventSeconds() int {
	return getInt("POST_EVENT_SECONDS", 5)
}

func (svc *envService) GetFrameTimeout() int {
	return getInt("FRAME_TIMEOUT", 10)
}

func (svc *envService) GetReconnectDelay() int {
	return getInt("RECONNECT_DELAY", 5)
}

func (svc *envService) GetNotifyCooldown() int {
	return getInt("NOTIFY_COOLDOWN", 60)
}

func (svc *envService) GetModelsFolder() string {
	return getString("MODELS_FOLDER", "./models")
}

func (svc *envService) GetFaceCascadeFile() string {
	return fmt.Sprintf("%s/haarcascade_frontalface_default.xml", svc.GetModelsFolder())
}

func (svc *envService) GetEmbeddingModelFile() string {
	return fmt.Sprintf("%s/w600k_r50.onnx", svc.GetModelsFolder())
}

func (svc *envService) GetLivenessModelFile() string {
	return fmt.Sprintf("%s/minifasnet_v2.onnx", svc.GetModelsFolder())
}

func (svc *envService) GetEmotionModelFile() string {
	return fmt.Sprintf("%s/emotion_ferplus.onnx", svc.GetModelsFolder())
}

func (svc *envService) GetAgeModelFile() string {
	return fmt.Sprintf("%s/age_googlenet.onnx", svc.GetModelsFolder())
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
