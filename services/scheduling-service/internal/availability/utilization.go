package availability

import (
	"math"
	"time"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
)

// Tier buckets a utilization percentage for ranking and display.
type Tier string

const (
	TierOptimal    Tier = "optimal"
	TierGood       Tier = "good"
	TierBusy       Tier = "busy"
	TierOverloaded Tier = "overloaded"
)

// WeekBounds returns the half-open [start, end) of the week containing
// anchor in the business location. Weeks start Sunday 00:00, matching
// DayOfWeek numbering where Sunday is 0.
func WeekBounds(anchor time.Time, loc *time.Location) (time.Time, time.Time) {
	day := DayOf(anchor, loc)
	start := day.AddDate(0, 0, -int(day.Weekday()))
	return start, start.AddDate(0, 0, 7)
}

// WeeklyCapacityMinutes sums the worker's recurring open-window minutes.
// Exceptions are deliberately ignored: capacity reflects the configured
// schedule, not one-off absences.
func WeeklyCapacityMinutes(slots []model.WeeklySlot) int {
	total := 0
	for _, slot := range slots {
		start, err1 := ParseTimeOfDay(slot.StartTime)
		end, err2 := ParseTimeOfDay(slot.EndTime)
		if err1 != nil || err2 != nil || start >= end {
			continue
		}
		total += end - start
	}
	return total
}

// BookedMinutes sums durations of the given jobs, skipping cancelled ones.
// Callers supply the jobs whose scheduled_at falls inside the target week.
func BookedMinutes(jobs []model.Job) int {
	total := 0
	for _, j := range jobs {
		if j.Status == model.JobCancelled {
			continue
		}
		total += j.DurationMinutes
	}
	return total
}

// Utilization is booked over capacity as a percentage in [0, 100]. Zero
// capacity yields zero regardless of booked minutes.
func Utilization(bookedMinutes, capacityMinutes int) int {
	if capacityMinutes <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(bookedMinutes) / float64(capacityMinutes)))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// TierFor applies the fixed efficiency thresholds.
func TierFor(utilization int) Tier {
	switch {
	case utilization <= 60:
		return TierOptimal
	case utilization <= 80:
		return TierGood
	case utilization <= 95:
		return TierBusy
	default:
		return TierOverloaded
	}
}
