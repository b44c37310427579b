// Package rules evaluates one normalized activity against an event's rule
// set and emits the points verdict. Everything here is pure: the engine only
// reads its inputs, so it is safe under any amount of concurrency.
package rules

import (
	"sort"

	"github.com/strideleague/pointsd/internal/domain"
)

// Input bundles everything Score may read. History is supplied by the caller
// because the engine itself never touches storage.
type Input struct {
	Activity domain.NormalizedActivity
	EventID  string
	Rules    []domain.EventRule
	History  domain.DayHistory
}

// Score applies the event's blocking rules and then at most one bonus rule.
// The first failing blocking rule zeroes the score and is recorded for
// user-facing messaging; bonuses are only considered for unblocked
// activities, and of all eligible bonuses only the highest-priority one is
// applied. Base points are the activity's distance in kilometers.
func Score(in Input) domain.ScoredActivity {
	activity := in.Activity

	scored := domain.ScoredActivity{
		ActivityID:   activity.ID,
		UserID:       activity.UserID,
		EventID:      in.EventID,
		ActivityDate: activity.Day(),
		BasePoints:   activity.DistanceKm(),
	}

	for _, rule := range in.Rules {
		if rule.Type.IsBonus() {
			continue
		}
		if ok, reason := checkBlocking(rule, activity, in.History); !ok {
			scored.Blocked = true
			scored.BlockedRule = rule.Type
			scored.BlockedReason = reason
			scored.FinalPoints = 0
			return scored
		}
	}

	eligible := collectBonuses(in.Rules, activity)
	if len(eligible) == 0 {
		scored.FinalPoints = scored.BasePoints
		return scored
	}

	// Highest declared priority wins; every other eligible bonus is retained
	// as rejected so users can see what almost applied.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Rule.BonusPriority() > eligible[j].Rule.BonusPriority()
	})

	applied := eligible[0]
	scored.AppliedBonus = &applied
	scored.RejectedBonus = eligible[1:]
	scored.FinalPoints = scored.BasePoints * applied.Multiplier
	return scored
}
