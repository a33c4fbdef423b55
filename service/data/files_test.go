package data

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/config"
)

func newTestDB(t *testing.T) (IService, string) {
	t.Helper()
	folder := t.TempDir()
	t.Setenv("INPUT_FOLDER", folder)
	return NewFilesDB(config.NewEnv()), folder
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRetrieveSources(t *testing.T) {
	svc, folder := newTestDB(t)

	writeJSON(t, filepath.Join(folder, "sources.json"), []model.Source{
		{ID: "cam1", Name: "Front Door", Locator: "rtsp://host/cam1", FPS: 10, Enabled: true},
		{ID: "cam2", Name: "Garage", Locator: "0", FPS: 15},
	})

	sources, err := svc.RetrieveSources()
	if err != nil {
		t.Fatalf("RetrieveSources() error = %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(sources))
	}
	if sources[0].ID != "cam1" || !sources[0].Enabled {
		t.Errorf("sources[0] = %+v", sources[0])
	}
}

func TestRetrieveSourceByID(t *testing.T) {
	svc, folder := newTestDB(t)

	writeJSON(t, filepath.Join(folder, "sources.json"), []model.Source{
		{ID: "cam1", Name: "Front Door"},
	})

	source, err := svc.RetrieveSourceByID("cam1")
	if err != nil {
		t.Fatalf("RetrieveSourceByID() error = %v", err)
	}
	if source.Name != "Front Door" {
		t.Errorf("Name = %q, want Front Door", source.Name)
	}

	if _, err := svc.RetrieveSourceByID("ghost"); err == nil {
		t.Error("expected unknown source to fail")
	}
}

func TestRetrieveWatchlistMissingFile(t *testing.T) {
	svc, _ := newTestDB(t)

	entries, err := svc.RetrieveWatchlist()
	if err != nil {
		t.Fatalf("missing watchlist must not fail, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestUpdateWatchlistLastSeen(t *testing.T) {
	svc, folder := newTestDB(t)

	writeJSON(t, filepath.Join(folder, "watchlist.json"), []model.WatchlistEntry{
		{PersonID: "p1", Name: "Alice"},
		{PersonID: "p2", Name: "Bob"},
	})

	if err := svc.UpdateWatchlistLastSeen("p1", "cam1"); err != nil {
		t.Fatalf("UpdateWatchlistLastSeen() error = %v", err)
	}

	entries, err := svc.RetrieveWatchlist()
	if err != nil {
		t.Fatalf("RetrieveWatchlist() error = %v", err)
	}
	if entries[0].LastSeenAt == 0 || entries[0].LastSeenSource != "cam1" {
		t.Errorf("entries[0] = %+v, want last seen on cam1", entries[0])
	}
	if entries[1].LastSeenAt != 0 {
		t.Errorf("entries[1] must be untouched, got %+v", entries[1])
	}
}

func TestNewDetectionAppends(t *testing.T) {
	svc, folder := newTestDB(t)

	for i := 0; i < 2; i++ {
		err := svc.NewDetection(model.Detection{
			EventID:  "evt",
			SourceID: "cam1",
			Type:     model.DetectionTypeFace,
		})
		if err != nil {
			t.Fatalf("NewDetection() error = %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(folder, "detections.json"))
	if err != nil {
		t.Fatalf("detections file not written: %v", err)
	}
	var detections []model.Detection
	if err := json.Unmarshal(data, &detections); err != nil {
		t.Fatal(err)
	}
	if len(detections) != 2 {
		t.Errorf("got %d detections, want 2", len(detections))
	}
	if detections[0].Timestamp == 0 {
		t.Error("detection timestamp not stamped")
	}
}

func TestNewErrorAcceptsAnyShape(t *testing.T) {
	svc, folder := newTestDB(t)

	custom := model.GenError("pump", os.ErrClosed, nil, "read failed on %s", "cam1")
	if err := svc.NewError(custom); err != nil {
		t.Fatalf("NewError(custom) error = %v", err)
	}
	if err := svc.NewError(os.ErrClosed); err != nil {
		t.Fatalf("NewError(plain) error = %v", err)
	}
	if err := svc.NewError("stringly typed"); err != nil {
		t.Fatalf("NewError(string) error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(folder, "errors.json"))
	if err != nil {
		t.Fatalf("errors file not written: %v", err)
	}
	var errors []map[string]interface{}
	if err := json.Unmarshal(data, &errors); err != nil {
		t.Fatal(err)
	}
	if len(errors) != 3 {
		t.Errorf("got %d errors, want 3", len(errors))
	}
}
