package availability

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultTickMinutes quantizes the slot scan; appointments land on
	// human-friendly half-hour boundaries rather than arbitrary minutes.
	DefaultTickMinutes = 30
	// DefaultHorizonDays bounds how far forward a search walks.
	DefaultHorizonDays = 14
)

// Searcher walks forward day by day looking for the first tick where a job
// of the requested duration fits inside an open window and conflicts with
// nothing.
type Searcher struct {
	schedule    ScheduleSource
	bookings    BookingSource
	tickMinutes int
}

func NewSearcher(schedule ScheduleSource, bookings BookingSource, tickMinutes int) *Searcher {
	if tickMinutes <= 0 {
		tickMinutes = DefaultTickMinutes
	}
	return &Searcher{schedule: schedule, bookings: bookings, tickMinutes: tickMinutes}
}

// FindNext returns the first qualifying slot start strictly after
// searchStart, or found=false when the horizon is exhausted. Exhaustion is
// an ordinary outcome, not an error.
func (s *Searcher) FindNext(ctx context.Context, workerID string, durationMinutes int, searchStart time.Time, horizonDays int, loc *time.Location, excludeJobID string) (start time.Time, found bool, err error) {
	if durationMinutes <= 0 {
		return time.Time{}, false, fmt.Errorf("duration must be positive, got %d", durationMinutes)
	}
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}

	slots, err := s.schedule.WeeklySlots(ctx, workerID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("weekly slots for worker %s: %w", workerID, err)
	}

	firstDay := DayOf(searchStart, loc)
	exceptions, err := s.schedule.Exceptions(ctx, workerID, firstDay, firstDay.AddDate(0, 0, horizonDays))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("exceptions for worker %s: %w", workerID, err)
	}

	for dayOffset := 0; dayOffset < horizonDays; dayOffset++ {
		date := firstDay.AddDate(0, 0, dayOffset)
		sched := ResolveDay(date, slots, exceptions)
		if !sched.Open() {
			continue
		}

		dayJobs, err := s.bookings.OverlappingJobs(ctx, workerID, date, date.AddDate(0, 0, 1), excludeJobID)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("jobs on %s for worker %s: %w", date.Format(time.DateOnly), workerID, err)
		}

		for _, win := range sched.Windows {
			lower := win.Start
			if dayOffset == 0 {
				if fromStart := s.ceilToTick(MinuteOfDay(searchStart, loc)); fromStart > lower {
					lower = fromStart
				}
			}
			for tick := s.ceilToTick(lower); tick+durationMinutes <= win.End; tick += s.tickMinutes {
				candidate := InstantAt(date, tick, loc)
				if !candidate.After(searchStart) {
					continue
				}
				res := CheckAgainst(sched, dayJobs, candidate, durationMinutes, loc, excludeJobID)
				if res.Available {
					return candidate, true, nil
				}
			}
		}
	}

	return time.Time{}, false, nil
}

func (s *Searcher) ceilToTick(minute int) int {
	return (minute + s.tickMinutes - 1) / s.tickMinutes * s.tickMinutes
}
