package data

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/config"
)

type filesDBService struct {
	CfgSvc config.IService
}

// NewFilesDB persists everything as JSON files under the input folder.
// The real deployment swaps this for a database-backed implementation;
// the interface is the contract.
func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc: cfgsvc,
	}
}

func (svc *filesDBService) RetrieveSources() ([]model.Source, error) {
	sources := []model.Source{}

	input := svc.CfgSvc.GetSourcesInputFile()
	data, err := os.ReadFile(input)
	if err != nil {
		return sources, err
	}

	err = json.Unmarshal(data, &sources)
	if err != nil {
		return sources, err
	}

	return sources, nil
}

func (svc *filesDBService) RetrieveSourceByID(id string) (model.Source, error) {
	sources, err := svc.RetrieveSources()
	if err != nil {
		return model.Source{}, err
	}

	for _, source := range sources {
		if source.ID == id {
			return source, nil
		}
	}

	return model.Source{}, xerrors.New(fmt.Sprintf("source %s not found", id))
}

func (svc *filesDBService) RetrieveWatchlist() ([]model.WatchlistEntry, error) {
	entries := []model.WatchlistEntry{}

	input := svc.CfgSvc.GetWatchlistInputFile()
	data, err := os.ReadFile(input)
	if err != nil {
		// No watchlist file means an empty watchlist, not a failure.
		if os.IsNotExist(err) {
			return entries, nil
		}
		return entries, err
	}

	err = json.Unmarshal(data, &entries)
	if err != nil {
		return entries, err
	}

	return entries, nil
}

func (svc *filesDBService) UpdateWatchlistLastSeen(personID, sourceID string) error {
	entries, err := svc.RetrieveWatchlist()
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	for i, entry := range entries {
		if entry.PersonID == personID {
			entries[i].LastSeenAt = now
			entries[i].LastSeenSource = sourceID
		}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(svc.CfgSvc.GetWatchlistInputFile(), data, 0644)
}

func (svc *filesDBService) NewDetection(detection model.Detection) error {
	detection.Timestamp = time.Now().Unix()
	return newEntity(detection, "detections", svc.CfgSvc)
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	if custom, ok := err.(model.CustomError); ok {
		customErr = custom
	} else if plain, ok := err.(error); ok {
		customErr = model.CustomError{
			Processor:  "N/A",
			Inner:      plain,
			Message:    plain.Error(),
			StackTrace: "N/A",
		}
	} else {
		customErr = model.CustomError{
			Processor:  "N/A",
			Inner:      fmt.Errorf("%v", err),
			Message:    fmt.Sprintf("%v", err),
			StackTrace: "N/A",
		}
	}

	errorData := struct {
		Timestamp  int64                  `json:"timestamp"`
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      customErr.Inner.Error(),
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}
	return newEntity(errorData, "errors", svc.CfgSvc)
}

func (svc *filesDBService) NewPumpStats(stats model.PumpStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "pump-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewPipelineStats(stats model.PipelineStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "pipeline-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewRecorderStats(stats model.RecorderStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "recorder-stats", svc.CfgSvc)
}

func newEntity[T any](entity T, filename string, cfgsvc config.IService) error {
	entities, err := retrieveEntities[T](filename, cfgsvc)
	if err != nil {
		return err
	}

	entities = append(entities, entity)

	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return err
	}

	output := fmt.Sprintf("%s/%s.json", cfgsvc.GetInputFolder(), filename)
	return os.WriteFile(output, data, 0644)
}

func retrieveEntities[T any](filename string, cfgsvc config.IService) ([]T, error) {
	var entities []T

	data, err := os.ReadFile(fmt.Sprintf("%s/%s.json", cfgsvc.GetInputFolder(), filename))
	if err != nil {
		// File not created yet: start with an empty slice.
		return entities, nil
	}

	err = json.Unmarshal(data, &entities)
	if err != nil {
		return nil, err
	}

	return entities, nil
}
