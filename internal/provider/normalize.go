package provider

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/strideleague/pointsd/internal/domain"
)

// ActivitySummary is one row of an athlete activity listing. It carries just
// enough to decide whether a detail fetch is worth a window slot.
type ActivitySummary struct {
	ID             int64     `json:"id"`
	SportType      string    `json:"sport_type"`
	Distance       float64   `json:"distance"`
	MovingTime     int       `json:"moving_time"`
	StartDateLocal time.Time `json:"start_date_local"`
}

// ParseListing decodes a list-activities response body.
func ParseListing(payload []byte) ([]ActivitySummary, error) {
	var listing []ActivitySummary
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("decode activity listing: %w", err)
	}
	return listing, nil
}

type activityDetail struct {
	ID             int64     `json:"id"`
	SportType      string    `json:"sport_type"`
	Distance       float64   `json:"distance"`
	MovingTime     int       `json:"moving_time"`
	StartDateLocal time.Time `json:"start_date_local"`
	BestEfforts    []struct {
		Name        string `json:"name"`
		ElapsedTime int    `json:"elapsed_time"`
	} `json:"best_efforts"`
}

// Normalize converts a detail payload into the canonical activity record for
// the given user.
func Normalize(payload []byte, userID string) (domain.NormalizedActivity, error) {
	var detail activityDetail
	if err := json.Unmarshal(payload, &detail); err != nil {
		return domain.NormalizedActivity{}, fmt.Errorf("decode activity detail: %w", err)
	}

	activity := domain.NormalizedActivity{
		ID:             detail.ID,
		UserID:         userID,
		Sport:          detail.SportType,
		DistanceMeters: detail.Distance,
		MovingTimeSecs: detail.MovingTime,
		StartedAtLocal: detail.StartDateLocal,
	}

	for _, effort := range detail.BestEfforts {
		if effort.Name == "" || effort.ElapsedTime <= 0 {
			continue
		}
		activity.BestEfforts = append(activity.BestEfforts, domain.BestEffort{
			ActivityID:     detail.ID,
			UserID:         userID,
			Name:           effort.Name,
			ElapsedSeconds: effort.ElapsedTime,
		})
	}

	return activity, nil
}
