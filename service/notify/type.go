package notify

import "github.com/sentryvision/sv-go/model"

type IService interface {
	// BroadcastDetection pushes every persisted detection to live
	// listeners (dashboards, websockets) via the transport collaborator.
	BroadcastDetection(detection model.Detection) error

	// NotifyMatch raises a watchlist alert. Implementations apply a
	// per-identity cooldown so a person standing in front of a camera
	// does not generate an alert per frame.
	NotifyMatch(entry model.WatchlistEntry, sourceID string, confidence float64) error
}
