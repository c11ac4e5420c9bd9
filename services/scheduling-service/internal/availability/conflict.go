package availability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
)

// BookingSource answers "which conflict-relevant jobs overlap [start, end)
// for this worker". The store backs it with range predicates today; an
// interval index can replace that without touching the checker.
type BookingSource interface {
	OverlappingJobs(ctx context.Context, workerID string, start, end time.Time, excludeJobID string) ([]model.Job, error)
}

// ScheduleSource supplies a worker's recurring slots and date exceptions.
type ScheduleSource interface {
	WeeklySlots(ctx context.Context, workerID string) ([]model.WeeklySlot, error)
	Exceptions(ctx context.Context, workerID string, from, to time.Time) ([]model.Exception, error)
}

// JobRef identifies a conflicting job in diagnostics.
type JobRef struct {
	ID    string
	Title string
}

const (
	ReasonOutsideHours = "Outside available hours"
	conflictPrefix     = "Conflicts: "
)

// CheckResult reports whether a candidate interval is bookable and, when it
// is not, which of the two checks failed.
type CheckResult struct {
	Available bool
	Reason    string
	Conflicts []JobRef
	Day       DaySchedule
}

// Checker validates a candidate (worker, interval) against existing jobs and
// the worker's open windows for that date.
type Checker struct {
	bookings BookingSource
	schedule ScheduleSource
}

func NewChecker(bookings BookingSource, schedule ScheduleSource) *Checker {
	return &Checker{bookings: bookings, schedule: schedule}
}

// Check runs both validations for [start, start+duration) in the business
// location. excludeJobID names the job being moved so it cannot conflict
// with itself; pass "" when not rescheduling.
func (c *Checker) Check(ctx context.Context, workerID string, start time.Time, durationMinutes int, loc *time.Location, excludeJobID string) (CheckResult, error) {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	jobs, err := c.bookings.OverlappingJobs(ctx, workerID, start, end, excludeJobID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("overlapping jobs for worker %s: %w", workerID, err)
	}
	var conflicts []JobRef
	for _, j := range jobs {
		if !j.Status.ConflictRelevant() || j.ID == excludeJobID {
			continue
		}
		if j.Overlaps(start, end) {
			conflicts = append(conflicts, JobRef{ID: j.ID, Title: j.Title})
		}
	}

	day, err := c.resolveDayFor(ctx, workerID, start, loc)
	if err != nil {
		return CheckResult{}, err
	}

	// The candidate's wall-clock range must sit inside one open window. A
	// range crossing midnight pushes endMinute past the day bound and fails
	// containment, which is the intended verdict for overnight candidates.
	startMinute := MinuteOfDay(start, loc)
	endMinute := startMinute + durationMinutes

	if len(conflicts) > 0 {
		return CheckResult{Reason: conflictReason(conflicts), Conflicts: conflicts, Day: day}, nil
	}
	if !day.ContainsRange(startMinute, endMinute) {
		return CheckResult{Reason: ReasonOutsideHours, Day: day}, nil
	}
	return CheckResult{Available: true, Day: day}, nil
}

// CheckAgainst is the pure variant used when the caller already holds the
// worker's schedule and overlapping jobs for the day.
func CheckAgainst(day DaySchedule, jobs []model.Job, start time.Time, durationMinutes int, loc *time.Location, excludeJobID string) CheckResult {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	var conflicts []JobRef
	for _, j := range jobs {
		if !j.Status.ConflictRelevant() || j.ID == excludeJobID {
			continue
		}
		if j.Overlaps(start, end) {
			conflicts = append(conflicts, JobRef{ID: j.ID, Title: j.Title})
		}
	}
	startMinute := MinuteOfDay(start, loc)
	endMinute := startMinute + durationMinutes
	if len(conflicts) > 0 {
		return CheckResult{Reason: conflictReason(conflicts), Conflicts: conflicts, Day: day}
	}
	if !day.ContainsRange(startMinute, endMinute) {
		return CheckResult{Reason: ReasonOutsideHours, Day: day}
	}
	return CheckResult{Available: true, Day: day}
}

func (c *Checker) resolveDayFor(ctx context.Context, workerID string, at time.Time, loc *time.Location) (DaySchedule, error) {
	day := DayOf(at, loc)
	slots, err := c.schedule.WeeklySlots(ctx, workerID)
	if err != nil {
		return DaySchedule{}, fmt.Errorf("weekly slots for worker %s: %w", workerID, err)
	}
	exceptions, err := c.schedule.Exceptions(ctx, workerID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return DaySchedule{}, fmt.Errorf("exceptions for worker %s: %w", workerID, err)
	}
	return ResolveDay(day, slots, exceptions), nil
}

func conflictReason(conflicts []JobRef) string {
	titles := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		if c.Title != "" {
			titles = append(titles, c.Title)
		} else {
			titles = append(titles, c.ID)
		}
	}
	return conflictPrefix + strings.Join(titles, ", ")
}
