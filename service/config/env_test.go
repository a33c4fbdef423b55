package config

import "testing"

func TestDefaults(t *testing.T) {
	svc := NewEnv()

	if got := svc.GetMotionThreshold(); got != 25.0 {
		t.Errorf("GetMotionThreshold() = %f, want 25.0", got)
	}
	if got := svc.GetMatchThreshold(); got != 0.4 {
		t.Errorf("GetMatchThreshold() = %f, want 0.4", got)
	}
	if got := svc.GetMaxFrameDimension(); got != 640 {
		t.Errorf("GetMaxFrameDimension() = %d, want 640", got)
	}
	if got := svc.GetWatchlistCacheTTL(); got != 300 {
		t.Errorf("GetWatchlistCacheTTL() = %d, want 300", got)
	}
	if got := svc.GetEvidenceSamplingRate(); got != 0.01 {
		t.Errorf("GetEvidenceSamplingRate() = %f, want 0.01", got)
	}
	if got := svc.GetFrameTimeout(); got != 10 {
		t.Errorf("GetFrameTimeout() = %d, want 10", got)
	}
	if got := svc.GetReconnectDelay(); got != 5 {
		t.Errorf("GetReconnectDelay() = %d, want 5", got)
	}
	if got := svc.GetStageTimeout(); got != 0 {
		t.Errorf("GetStageTimeout() = %d, want 0 (disabled)", got)
	}
	if !svc.IsLivenessEnabled() {
		t.Error("liveness must default on")
	}
	if svc.IsAgeEnabled() {
		t.Error("age estimation must default off")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "0.6")
	t.Setenv("ENABLE_LIVENESS", "false")
	t.Setenv("POST_EVENT_SECONDS", "8")
	t.Setenv("MODELS_FOLDER", "/opt/models")

	svc := NewEnv()

	if got := svc.GetMatchThreshold(); got != 0.6 {
		t.Errorf("GetMatchThreshold() = %f, want 0.6", got)
	}
	if svc.IsLivenessEnabled() {
		t.Error("ENABLE_LIVENESS=false must disable liveness")
	}
	if got := svc.GetPostEventSeconds(); got != 8 {
		t.Errorf("GetPostEventSeconds() = %d, want 8", got)
	}
	if got := svc.GetEmbeddingModelFile(); got != "/opt/models/w600k_r50.onnx" {
		t.Errorf("GetEmbeddingModelFile() = %q", got)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "not-a-number")
	t.Setenv("FRAME_TIMEOUT", "10s")
	t.Setenv("ENABLE_POSE", "maybe")

	svc := NewEnv()

	if got := svc.GetMatchThreshold(); got != 0.4 {
		t.Errorf("GetMatchThreshold() = %f, want default 0.4", got)
	}
	if got := svc.GetFrameTimeout(); got != 10 {
		t.Errorf("GetFrameTimeout() = %d, want default 10", got)
	}
	if !svc.IsPoseEnabled() {
		t.Error("malformed ENABLE_POSE must fall back to default true")
	}
}
