// Package leaderboard derives completion status and competition ranking from
// scored-activity history. Everything is recomputed on demand; nothing here
// is a source of truth.
package leaderboard

import "math"

// CompletionConfig carries the event's completion gate settings.
type CompletionConfig struct {
	MinPercentage float64
	GraceDays     int
}

// Completion is the outcome of the completion gate for one user.
type Completion struct {
	RequiredDays         int
	CompletionPercentage float64
	IsComplete           bool
}

// ComputeCompletion derives the required active-day count and whether the
// user has met it. requiredDays never drops below 1, even with generous
// grace days.
func ComputeCompletion(activeDays, totalEventDays int, cfg CompletionConfig) Completion {
	required := int(math.Ceil(float64(totalEventDays)*cfg.MinPercentage/100)) - cfg.GraceDays
	if required < 1 {
		required = 1
	}

	percentage := 0.0
	if totalEventDays > 0 {
		percentage = float64(activeDays) / float64(totalEventDays) * 100
	}

	return Completion{
		RequiredDays:         required,
		CompletionPercentage: percentage,
		IsComplete:           activeDays >= required,
	}
}
