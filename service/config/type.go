package config

type IService interface {
	GetModeMaxShutdownTime() int
	GetInputFolder() string
	GetSourcesInputFile() string
	GetWatchlistInputFile() string
	GetRecordingsFolder() string
	GetStatsPeriodicTimeout() int
	GetLiveViewPort() int

	// Motion gate
	GetMotionThreshold() float64

	// Detection pipeline
	GetMaxFrameDimension() int
	GetMatchThreshold() float64
	GetQualityEmotionThreshold() float64
	GetStageTimeout() int // seconds; 0 disables the per-stage deadline
	IsLivenessEnabled() bool
	IsEmotionEnabled() bool
	IsAgeEnabled() bool
	IsPoseEnabled() bool

	// Watchlist cache
	GetWatchlistCacheTTL() int

	// Evidence decision
	GetEvidenceSamplingRate() float64

	// Buffered recorder
	GetPostEventSeconds() int

	// Network source recovery
	GetFrameTimeout() int
	GetReconnectDelay() int

	// Notification
	GetNotifyCooldown() int

	// Provider model files
	GetModelsFolder() string
	GetFaceCascadeFile() string
	GetEmbeddingModelFile() string
	GetLivenessModelFile() string
	GetEmotionModelFile() string
	GetAgeModelFile() string
}
