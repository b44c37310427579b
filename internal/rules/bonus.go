package rules

import (
	"math"

	"github.com/strideleague/pointsd/internal/domain"
)

const holidayDateLayout = "2006-01-02"

// collectBonuses returns every configured bonus rule the activity is eligible
// for, in configuration order.
func collectBonuses(configured []domain.EventRule, activity domain.NormalizedActivity) []domain.BonusApplication {
	var eligible []domain.BonusApplication
	for _, rule := range configured {
		if !rule.Type.IsBonus() {
			continue
		}
		if bonus, ok := evaluateBonus(rule, activity); ok {
			eligible = append(eligible, bonus)
		}
	}
	return eligible
}

func evaluateBonus(rule domain.EventRule, activity domain.NormalizedActivity) (domain.BonusApplication, bool) {
	cfg := rule.Config

	multiplier := cfg.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}
	bonus := domain.BonusApplication{Rule: rule.Type, Multiplier: multiplier}

	switch rule.Type {
	case domain.RuleHolidayBonus:
		day := activity.StartedAtLocal.Format(holidayDateLayout)
		for _, holiday := range cfg.Holidays {
			if holiday == day {
				return bonus, true
			}
		}

	case domain.RuleLuckyDistance:
		km := activity.DistanceKm()
		for _, lucky := range cfg.LuckyDistancesKm {
			if math.Abs(km-lucky) <= cfg.ToleranceKm {
				return bonus, true
			}
		}

	case domain.RuleWeekdayBonus:
		weekday := activity.StartedAtLocal.Weekday()
		for _, configured := range cfg.Weekdays {
			if configured == weekday {
				return bonus, true
			}
		}
	}

	return domain.BonusApplication{}, false
}
