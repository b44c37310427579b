package leaderboard

import (
	"sort"

	"github.com/strideleague/pointsd/internal/domain"
)

// Entry is one ranked leaderboard row.
type Entry struct {
	UserID               string  `json:"user_id"`
	ActiveDays           int     `json:"active_days"`
	TotalDays            int     `json:"total_days"`
	RequiredDays         int     `json:"required_days"`
	CompletionPercentage float64 `json:"completion_percentage"`
	IsComplete           bool    `json:"is_complete"`
	Rank                 int     `json:"rank"`
}

// BuildEntries turns raw standings into completed, ranked leaderboard rows
// for one event.
func BuildEntries(event domain.Event, standings []domain.Standing) []Entry {
	total := event.TotalDays()
	cfg := CompletionConfig{MinPercentage: event.MinPercentage, GraceDays: event.GraceDays}

	entries := make([]Entry, 0, len(standings))
	for _, standing := range standings {
		completion := ComputeCompletion(standing.ActiveDays, total, cfg)
		entries = append(entries, Entry{
			UserID:               standing.UserID,
			ActiveDays:           standing.ActiveDays,
			TotalDays:            total,
			RequiredDays:         completion.RequiredDays,
			CompletionPercentage: completion.CompletionPercentage,
			IsComplete:           completion.IsComplete,
		})
	}
	return Rank(entries)
}

// Rank sorts by completion percentage then active days, both descending, and
// assigns competition ranks: ties share a rank, and the next distinct entry
// takes its 1-based position in the sorted order.
func Rank(entries []Entry) []Entry {
	ranked := make([]Entry, len(entries))
	copy(ranked, entries)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].CompletionPercentage != ranked[j].CompletionPercentage {
			return ranked[i].CompletionPercentage > ranked[j].CompletionPercentage
		}
		if ranked[i].ActiveDays != ranked[j].ActiveDays {
			return ranked[i].ActiveDays > ranked[j].ActiveDays
		}
		return ranked[i].UserID < ranked[j].UserID
	})

	for i := range ranked {
		if i > 0 &&
			ranked[i].CompletionPercentage == ranked[i-1].CompletionPercentage &&
			ranked[i].ActiveDays == ranked[i-1].ActiveDays {
			ranked[i].Rank = ranked[i-1].Rank
			continue
		}
		ranked[i].Rank = i + 1
	}
	return ranked
}
