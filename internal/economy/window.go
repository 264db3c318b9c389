package economy

import (
	"time"

	"github.com/zy54321/after-school/internal/model"
)

// WindowStart returns the start of the purchase-limit window containing now,
// evaluated in loc: midnight for daily, Monday midnight for weekly and the 1st
// of the month for monthly. The result is in UTC. ok is false for unlimited.
func WindowStart(limit model.LimitType, now time.Time, loc *time.Location) (start time.Time, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch limit {
	case model.LimitDaily:
		return midnight.UTC(), true
	case model.LimitWeekly:
		// time.Weekday has Sunday = 0.
		offset := (int(local.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset).UTC(), true
	case model.LimitMonthly:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).UTC(), true
	}
	return time.Time{}, false
}
