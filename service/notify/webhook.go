package notify

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/xerrors"

	"github.com/sentryvision/sv-go/model"
	"github.com/sentryvision/sv-go/service/config"
	"github.com/sentryvision/sv-go/service/lgr"
)

type webhookService struct {
	CfgSvc     config.IService
	WebhookURL string
	Client     *http.Client
	cooldowns  *gocache.Cache
}

// NewWebhook posts alerts to a configured webhook URL. An empty URL
// turns the service into a log-only notifier, which is the dev default.
func NewWebhook(cfgsvc config.IService, webhookURL string) IService {
	cooldown := time.Duration(cfgsvc.GetNotifyCooldown()) * time.Second
	return &webhookService{
		CfgSvc:     cfgsvc,
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
		cooldowns:  gocache.New(cooldown, 2*cooldown),
	}
}

func (svc *webhookService) BroadcastDetection(detection model.Detection) error {
	payload := map[string]interface{}{
		"eventId":         detection.EventID,
		"sourceId":        detection.SourceID,
		"detectionType":   detection.Type,
		"confidence":      detection.Confidence,
		"matchedPersonId": detection.Outcome.MatchedPersonID,
		"timestamp":       time.Now().Format(time.RFC3339),
	}
	return svc.post(payload)
}

func (svc *webhookService) NotifyMatch(entry model.WatchlistEntry, sourceID string, confidence float64) error {
	if !entry.AlertOnMatch {
		return nil
	}

	// Per-identity cooldown: one alert per person per window.
	if _, onCooldown := svc.cooldowns.Get(entry.PersonID); onCooldown {
		return nil
	}
	svc.cooldowns.Set(entry.PersonID, struct{}{}, gocache.DefaultExpiration)

	lgr.Logger.Info(
		"watchlist match",
		slog.String("person", entry.Name),
		slog.String("source", sourceID),
		slog.Float64("confidence", confidence),
	)

	payload := map[string]interface{}{
		"personId":   entry.PersonID,
		"personName": entry.Name,
		"sourceId":   sourceID,
		"confidence": confidence,
		"timestamp":  time.Now().Format(time.RFC3339),
	}
	return svc.post(payload)
}

func (svc *webhookService) post(payload map[string]interface{}) error {
	if svc.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := svc.Client.Post(svc.WebhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return xerrors.New("webhook returned " + resp.Status)
	}
	return nil
}
