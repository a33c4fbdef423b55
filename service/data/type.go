package data

import "github.com/sentryvision/sv-go/model"

type IService interface {
	RetrieveSources() ([]model.Source, error)
	RetrieveSourceByID(id string) (model.Source, error)

	RetrieveWatchlist() ([]model.WatchlistEntry, error)
	UpdateWatchlistLastSeen(personID, sourceID string) error

	NewDetection(detection model.Detection) error

	NewError(err interface{}) error
	NewPumpStats(stats model.PumpStats) error
	NewPipelineStats(stats model.PipelineStats) error
	NewRecorderStats(stats model.RecorderStats) error
}
