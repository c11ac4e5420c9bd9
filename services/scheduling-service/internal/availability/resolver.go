// Package availability decides, for one worker and one calendar date, which
// time-of-day windows are open, whether a candidate interval is bookable, and
// how utilized a worker's week is. Everything here is pure computation over
// data the storage layer supplies; nothing reads the system clock.
package availability

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
)

// DayStatus tags which schedule layer produced a day's windows.
type DayStatus string

const (
	// StatusRegular means the weekly recurring slots apply unmodified.
	StatusRegular DayStatus = "regular"
	// StatusException means a date exception replaced the weekly slots.
	StatusException DayStatus = "exception"
	// StatusUnavailable means a date exception closed the whole day.
	StatusUnavailable DayStatus = "unavailable"
	// StatusNone means the worker has no weekly slots for this weekday.
	StatusNone DayStatus = "none"
)

// MinutesPerDay bounds minute-of-day values; a full open day is [0, 1440).
const MinutesPerDay = 24 * 60

// Window is a half-open [Start, End) range in minutes of the business-local
// day.
type Window struct {
	Start int
	End   int
}

func (w Window) Minutes() int { return w.End - w.Start }

// Contains reports whether [start, end) fits entirely inside the window. A
// candidate may not span two disjoint windows, so both ends must land in the
// same one.
func (w Window) Contains(start, end int) bool {
	return start >= w.Start && end <= w.End
}

// DaySchedule is the availability verdict for one (worker, date).
type DaySchedule struct {
	Status  DayStatus
	Windows []Window
}

// Open reports whether the day has at least one open window.
func (d DaySchedule) Open() bool { return len(d.Windows) > 0 }

// ContainsRange reports whether some single window contains [start, end).
func (d DaySchedule) ContainsRange(start, end int) bool {
	for _, w := range d.Windows {
		if w.Contains(start, end) {
			return true
		}
	}
	return false
}

// OpenMinutes is the total open time across the day's windows.
func (d DaySchedule) OpenMinutes() int {
	total := 0
	for _, w := range d.Windows {
		total += w.Minutes()
	}
	return total
}

// ResolveDay merges the worker's weekly slots with any exception for the
// date. An exception fully overrides the weekly schedule: closed all day,
// open for a sub-range, or open all day. Without an exception the weekly
// slots matching the date's weekday apply; a weekday with no slots is
// StatusNone. The date's year/month/day are read in its own location, so
// callers must construct it in the business timezone.
func ResolveDay(date time.Time, slots []model.WeeklySlot, exceptions []model.Exception) DaySchedule {
	dateKey := date.Format(time.DateOnly)
	for _, exc := range exceptions {
		if exc.Date != dateKey {
			continue
		}
		if !exc.Available {
			return DaySchedule{Status: StatusUnavailable}
		}
		win := Window{Start: 0, End: MinutesPerDay}
		if exc.StartTime != "" && exc.EndTime != "" {
			start, err1 := ParseTimeOfDay(exc.StartTime)
			end, err2 := ParseTimeOfDay(exc.EndTime)
			if err1 == nil && err2 == nil && start < end {
				win = Window{Start: start, End: end}
			}
		}
		return DaySchedule{Status: StatusException, Windows: []Window{win}}
	}

	var windows []Window
	weekday := int(date.Weekday())
	for _, slot := range slots {
		if slot.DayOfWeek != weekday {
			continue
		}
		start, err1 := ParseTimeOfDay(slot.StartTime)
		end, err2 := ParseTimeOfDay(slot.EndTime)
		if err1 != nil || err2 != nil || start >= end {
			continue
		}
		windows = append(windows, Window{Start: start, End: end})
	}
	if len(windows) == 0 {
		return DaySchedule{Status: StatusNone}
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
	return DaySchedule{Status: StatusRegular, Windows: windows}
}

// CandidateWindows converts a day's schedule into absolute candidate slots
// for the given worker, used by callers that want instants rather than
// minute-of-day windows.
func CandidateWindows(workerID string, date time.Time, sched DaySchedule, loc *time.Location) []model.CandidateSlot {
	source := model.SourceWeekly
	if sched.Status == StatusException {
		source = model.SourceException
	}
	out := make([]model.CandidateSlot, 0, len(sched.Windows))
	for _, w := range sched.Windows {
		out = append(out, model.CandidateSlot{
			WorkerID: workerID,
			Start:    InstantAt(date, w.Start, loc),
			End:      InstantAt(date, w.End, loc),
			Source:   source,
		})
	}
	return out
}

// ParseTimeOfDay parses a zero-padded 24-hour "HH:MM" into minutes of day.
// "24:00" is accepted as the exclusive end-of-day bound.
func ParseTimeOfDay(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if m < 0 || m > 59 || h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return h*60 + m, nil
}

// FormatTimeOfDay renders minutes of day as zero-padded "HH:MM".
func FormatTimeOfDay(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// MinuteOfDay returns t's wall-clock minute of day in loc.
func MinuteOfDay(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	return local.Hour()*60 + local.Minute()
}

// InstantAt builds the absolute instant for a minute of day on date in loc.
func InstantAt(date time.Time, minute int, loc *time.Location) time.Time {
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), minute/60, minute%60, 0, 0, loc)
}

// DayOf truncates t to midnight of its business-local date.
func DayOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
