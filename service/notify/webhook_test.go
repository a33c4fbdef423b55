package notify

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/config"
)

func TestNotifyMatchCooldown(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewWebhook(config.NewEnv(), server.URL)
	entry := model.WatchlistEntry{PersonID: "p1", Name: "Alice", AlertOnMatch: true}

	if err := svc.NotifyMatch(entry, "cam1", 0.9); err != nil {
		t.Fatalf("NotifyMatch() error = %v", err)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}

	// A second match inside the cooldown window is swallowed.
	if err := svc.NotifyMatch(entry, "cam1", 0.95); err != nil {
		t.Fatalf("NotifyMatch() error = %v", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1 (cooldown)", hits)
	}

	// A different identity alerts independently.
	other := model.WatchlistEntry{PersonID: "p2", Name: "Bob", AlertOnMatch: true}
	if err := svc.NotifyMatch(other, "cam1", 0.8); err != nil {
		t.Fatalf("NotifyMatch() error = %v", err)
	}
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
}

func TestNotifyMatchRespectsAlertFlag(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
	}))
	defer server.Close()

	svc := NewWebhook(config.NewEnv(), server.URL)
	entry := model.WatchlistEntry{PersonID: "p1", AlertOnMatch: false}

	if err := svc.NotifyMatch(entry, "cam1", 0.9); err != nil {
		t.Fatalf("NotifyMatch() error = %v", err)
	}
	if hits != 0 {
		t.Errorf("hits = %d, want 0 for muted entry", hits)
	}
}

func TestBroadcastDetection(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewWebhook(config.NewEnv(), server.URL)

	detection := model.Detection{EventID: "evt1", SourceID: "cam1", Type: model.DetectionTypeFace}
	for i := 0; i < 2; i++ {
		if err := svc.BroadcastDetection(detection); err != nil {
			t.Fatalf("BroadcastDetection() error = %v", err)
		}
	}
	if hits != 2 {
		t.Errorf("hits = %d, want 2 (no cooldown on broadcasts)", hits)
	}
}

func TestBroadcastDetectionServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewWebhook(config.NewEnv(), server.URL)
	if err := svc.BroadcastDetection(model.Detection{EventID: "evt1"}); err == nil {
		t.Error("expected non-2xx response to surface an error")
	}
}

func TestEmptyURLIsLogOnly(t *testing.T) {
	svc := NewWebhook(config.NewEnv(), "")

	entry := model.WatchlistEntry{PersonID: "p1", AlertOnMatch: true}
	if err := svc.NotifyMatch(entry, "cam1", 0.9); err != nil {
		t.Errorf("log-only NotifyMatch() error = %v", err)
	}
	if err := svc.BroadcastDetection(model.Detection{EventID: "evt1"}); err != nil {
		t.Errorf("log-only BroadcastDetection() error = %v", err)
	}
}
