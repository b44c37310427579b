package rules

import (
	"fmt"

	"github.com/strideleague/pointsd/internal/domain"
)

// checkBlocking evaluates one blocking rule. A false result carries the
// reason shown to the user.
func checkBlocking(rule domain.EventRule, activity domain.NormalizedActivity, history domain.DayHistory) (bool, string) {
	cfg := rule.Config

	switch rule.Type {
	case domain.RuleMinDistance:
		if activity.DistanceKm() < cfg.MinDistanceKm {
			return false, fmt.Sprintf("distance %.2f km below required %.2f km", activity.DistanceKm(), cfg.MinDistanceKm)
		}

	case domain.RulePaceRange:
		pace := activity.PaceMinPerKm()
		if cfg.MinPaceMinPerKm > 0 && pace < cfg.MinPaceMinPerKm {
			return false, fmt.Sprintf("pace %.2f min/km faster than allowed %.2f min/km", pace, cfg.MinPaceMinPerKm)
		}
		if cfg.MaxPaceMinPerKm > 0 && pace > cfg.MaxPaceMinPerKm {
			return false, fmt.Sprintf("pace %.2f min/km slower than allowed %.2f min/km", pace, cfg.MaxPaceMinPerKm)
		}

	case domain.RuleTimeWindow:
		if !inHourWindow(activity.StartedAtLocal.Hour(), cfg.StartHour, cfg.EndHour) {
			return false, fmt.Sprintf("started at %02d:00, outside window %02d:00-%02d:00",
				activity.StartedAtLocal.Hour(), cfg.StartHour, cfg.EndHour)
		}

	case domain.RuleDailyIncrease:
		return checkDailyIncrease(cfg, activity, history)

	case domain.RuleMinParticipants:
		if history.DayParticipants < cfg.MinParticipants {
			return false, fmt.Sprintf("only %d participants today, %d required", history.DayParticipants, cfg.MinParticipants)
		}
	}

	return true, ""
}

func checkDailyIncrease(cfg domain.RuleConfig, activity domain.NormalizedActivity, history domain.DayHistory) (bool, string) {
	if cfg.Scope == domain.ScopeTeam {
		// No previous-day baseline means nothing to increase over.
		if history.PrevDayTeamKm == 0 {
			return true, ""
		}
		today := history.TodayTeamKm + activity.DistanceKm()
		needed := history.PrevDayTeamKm + cfg.MinIncreaseKm
		if today < needed {
			return false, fmt.Sprintf("team total %.2f km has not reached yesterday's %.2f km plus %.2f km",
				today, history.PrevDayTeamKm, cfg.MinIncreaseKm)
		}
		return true, ""
	}

	if history.PrevDayUserKm == 0 {
		return true, ""
	}
	needed := history.PrevDayUserKm + cfg.MinIncreaseKm
	if activity.DistanceKm() < needed {
		return false, fmt.Sprintf("distance %.2f km has not reached yesterday's %.2f km plus %.2f km",
			activity.DistanceKm(), history.PrevDayUserKm, cfg.MinIncreaseKm)
	}
	return true, ""
}

// inHourWindow reports whether hour falls in [start, end), wrapping past
// midnight when start > end.
func inHourWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
