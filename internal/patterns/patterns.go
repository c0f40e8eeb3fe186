package patterns

import (
	"time"

	"bluewatch/internal/config"
	"bluewatch/internal/model"
)

// Time-of-day bucket ranges, evaluated in order; ties between ranges of equal
// density break toward the earliest.
var dayRanges = []struct {
	label      string
	start, end int // [start, end) hours
}{
	{"night", 0, 6},
	{"morning", 6, 12},
	{"afternoon", 12, 18},
	{"evening", 18, 24},
}

// Analyze derives a structured behavioral summary from a device's sighting
// timestamps. The caller supplies the history (typically a bounded recent
// window read from storage); Analyze itself is a pure function, safe to run
// concurrently with ingestion.
func Analyze(times []time.Time, now time.Time, cfg config.PatternsConfig) model.PatternSummary {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = config.DefaultConfig().Patterns.WindowDays
	}
	windowStart := now.AddDate(0, 0, -cfg.WindowDays)

	summary := model.PatternSummary{WindowDays: cfg.WindowDays}
	activeDays := make(map[string]struct{})
	for _, ts := range times {
		if ts.Before(windowStart) || ts.After(now) {
			continue
		}
		local := ts.Local()
		summary.Hourly[local.Hour()]++
		summary.Daily[mondayIndexed(local.Weekday())]++
		summary.SightingCount++
		activeDays[local.Format("2006-01-02")] = struct{}{}
	}
	summary.ActiveDays = len(activeDays)

	if summary.SightingCount < cfg.MinSightings {
		return summary
	}
	summary.OK = true
	summary.TimeOfDay = timeOfDayLabel(summary.Hourly, cfg.SignificanceShare)
	summary.DayType = dayTypeLabel(summary.Daily, cfg.WeekdayShare, cfg.WeekendShare)
	summary.Frequency = frequencyLabel(summary.ActiveDays, cfg)
	return summary
}

func mondayIndexed(d time.Weekday) int {
	// time.Weekday is Sunday-based; histograms index Monday=0.
	return (int(d) + 6) % 7
}

func timeOfDayLabel(hourly [24]int, significance float64) string {
	total := 0
	for _, n := range hourly {
		total += n
	}
	if total == 0 {
		return ""
	}
	best := ""
	bestCount := 0
	for _, r := range dayRanges {
		count := 0
		for h := r.start; h < r.end; h++ {
			count += hourly[h]
		}
		if count > bestCount {
			best, bestCount = r.label, count
		}
	}
	if float64(bestCount)/float64(total) <= significance {
		return ""
	}
	return best
}

func dayTypeLabel(daily [7]int, weekdayShare, weekendShare float64) string {
	total := 0
	weekday := 0
	for i, n := range daily {
		total += n
		if i < 5 {
			weekday += n
		}
	}
	if total == 0 {
		return ""
	}
	weekend := total - weekday
	switch {
	case float64(weekday)/float64(total) >= weekdayShare:
		return "weekdays"
	case float64(weekend)/float64(total) >= weekendShare:
		return "weekends"
	}
	return "daily"
}

func frequencyLabel(activeDays int, cfg config.PatternsConfig) string {
	frac := float64(activeDays) / float64(cfg.WindowDays)
	switch {
	case frac >= cfg.ConstantDays:
		return "constant"
	case frac >= cfg.DailyDays:
		return "daily"
	case frac >= cfg.RegularDays:
		return "regular"
	case frac >= cfg.OccasionalDays:
		return "occasional"
	}
	return "rare"
}
