package availability

import (
	"context"
	"time"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
)

// staticSchedule and staticJobs are in-memory stand-ins for the storage
// layer, behaving like the SQL queries they mirror.

type staticSchedule struct {
	slots      []model.WeeklySlot
	exceptions []model.Exception
}

func (s staticSchedule) WeeklySlots(_ context.Context, workerID string) ([]model.WeeklySlot, error) {
	var out []model.WeeklySlot
	for _, slot := range s.slots {
		if slot.WorkerID == workerID {
			out = append(out, slot)
		}
	}
	return out, nil
}

func (s staticSchedule) Exceptions(_ context.Context, workerID string, from, to time.Time) ([]model.Exception, error) {
	var out []model.Exception
	for _, exc := range s.exceptions {
		if exc.WorkerID != workerID {
			continue
		}
		d, err := time.ParseInLocation(time.DateOnly, exc.Date, from.Location())
		if err != nil {
			continue
		}
		if !d.Before(from) && d.Before(to) {
			out = append(out, exc)
		}
	}
	return out, nil
}

type staticJobs struct {
	jobs []model.Job
}

func (s staticJobs) OverlappingJobs(_ context.Context, workerID string, start, end time.Time, excludeJobID string) ([]model.Job, error) {
	var out []model.Job
	for _, j := range s.jobs {
		if j.WorkerID != workerID || j.ID == excludeJobID || !j.Status.ConflictRelevant() {
			continue
		}
		if j.Overlaps(start, end) {
			out = append(out, j)
		}
	}
	return out, nil
}

func mondaySlot(workerID, start, end string) model.WeeklySlot {
	return model.WeeklySlot{ID: "ws-" + workerID, WorkerID: workerID, DayOfWeek: 1, StartTime: start, EndTime: end}
}

// monday is a fixed Monday used across these tests.
var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func jobAt(id, workerID string, start time.Time, minutes int, status model.JobStatus) model.Job {
	return model.Job{
		ID:              id,
		WorkerID:        workerID,
		Title:           "Job " + id,
		ScheduledAt:     start,
		DurationMinutes: minutes,
		Status:          status,
	}
}
