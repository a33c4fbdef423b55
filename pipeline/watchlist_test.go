package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/sentryvision/sv-go/model"
)

// fakeDataSvc is the in-memory data service shared by the pipeline
// tests. Only the members a given test exercises are populated.
type fakeDataSvc struct {
	entries        []model.WatchlistEntry
	watchlistErr   error
	watchlistCalls int

	detections []model.Detection
	lastSeen   []string
}

func (svc *fakeDataSvc) RetrieveSources() ([]model.Source, error) {
	return nil, nil
}

func (svc *fakeDataSvc) RetrieveSourceByID(_ string) (model.Source, error) {
	return model.Source{}, nil
}

func (svc *fakeDataSvc) RetrieveWatchlist() ([]model.WatchlistEntry, error) {
	svc.watchlistCalls++
	if svc.watchlistErr != nil {
		return nil, svc.watchlistErr
	}
	return svc.entries, nil
}

func (svc *fakeDataSvc) UpdateWatchlistLastSeen(personID, sourceID string) error {
	svc.lastSeen = append(svc.lastSeen, personID+"@"+sourceID)
	return nil
}

func (svc *fakeDataSvc) NewDetection(detection model.Detection) error {
	svc.detections = append(svc.detections, detection)
	return nil
}

func (svc *fakeDataSvc) NewError(_ interface{}) error                 { return nil }
func (svc *fakeDataSvc) NewPumpStats(_ model.PumpStats) error         { return nil }
func (svc *fakeDataSvc) NewPipelineStats(_ model.PipelineStats) error { return nil }
func (svc *fakeDataSvc) NewRecorderStats(_ model.RecorderStats) error { return nil }

func TestWatchlistCacheRefreshOnTTL(t *testing.T) {
	dataSvc := &fakeDataSvc{
		entries: []model.WatchlistEntry{{PersonID: "p1", Name: "Alice"}},
	}

	now := time.Now()
	cache := NewWatchlistCache(dataSvc, 300*time.Second)
	cache.clock = func() time.Time { return now }

	// First snapshot loads from the data service.
	if got := cache.Snapshot(); len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if dataSvc.watchlistCalls != 1 {
		t.Fatalf("expected 1 refresh, got %d", dataSvc.watchlistCalls)
	}

	// Within the TTL the cached snapshot is served.
	now = now.Add(299 * time.Second)
	cache.Snapshot()
	if dataSvc.watchlistCalls != 1 {
		t.Fatalf("expected cached snapshot within TTL, got %d refreshes", dataSvc.watchlistCalls)
	}

	// Past the TTL the snapshot is refreshed synchronously.
	dataSvc.entries = append(dataSvc.entries, model.WatchlistEntry{PersonID: "p2", Name: "Bob"})
	now = now.Add(2 * time.Second)
	if got := cache.Snapshot(); len(got) != 2 {
		t.Fatalf("expected refreshed snapshot with 2 entries, got %d", len(got))
	}
	if dataSvc.watchlistCalls != 2 {
		t.Fatalf("expected 2 refreshes, got %d", dataSvc.watchlistCalls)
	}
}

func TestWatchlistCacheServesStaleOnRefreshError(t *testing.T) {
	dataSvc := &fakeDataSvc{
		entries: []model.WatchlistEntry{{PersonID: "p1"}},
	}

	now := time.Now()
	cache := NewWatchlistCache(dataSvc, time.Second)
	cache.clock = func() time.Time { return now }

	cache.Snapshot()

	dataSvc.watchlistErr = errors.New("store unavailable")
	now = now.Add(2 * time.Second)

	if got := cache.Snapshot(); len(got) != 1 || got[0].PersonID != "p1" {
		t.Fatalf("expected stale snapshot to survive refresh failure, got %v", got)
	}
}

func TestWatchlistCacheLookup(t *testing.T) {
	dataSvc := &fakeDataSvc{
		entries: []model.WatchlistEntry{
			{PersonID: "p1", Name: "Alice"},
			{PersonID: "p2", Name: "Bob"},
		},
	}

	cache := NewWatchlistCache(dataSvc, time.Minute)

	// Before any snapshot there is nothing to look up.
	if _, found := cache.Lookup("p1"); found {
		t.Error("expected lookup miss before first snapshot")
	}

	cache.Snapshot()

	entry, found := cache.Lookup("p2")
	if !found || entry.Name != "Bob" {
		t.Errorf("Lookup(p2) = %v, %v; want Bob, true", entry, found)
	}
	if _, found := cache.Lookup("p3"); found {
		t.Error("expected lookup miss for unknown identity")
	}
}
