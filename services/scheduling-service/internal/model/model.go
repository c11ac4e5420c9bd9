// Package model holds the scheduling domain records as they exist in the
// store. The engine never mutates these in place; the one write path goes
// through the storage layer.
package model

import "time"

type WorkerStatus string

const (
	WorkerActive   WorkerStatus = "active"
	WorkerInactive WorkerStatus = "inactive"
)

type Worker struct {
	ID         string
	BusinessID string
	Name       string
	Status     WorkerStatus
}

type JobStatus string

const (
	JobScheduled   JobStatus = "scheduled"
	JobInProgress  JobStatus = "in_progress"
	JobCompleted   JobStatus = "completed"
	JobCancelled   JobStatus = "cancelled"
	JobRescheduled JobStatus = "rescheduled"
)

// ConflictRelevant reports whether a job in this status occupies its worker's
// time. Cancelled and completed jobs never conflict.
func (s JobStatus) ConflictRelevant() bool {
	return s != JobCancelled && s != JobCompleted
}

// Job is a booked unit of work occupying [ScheduledAt, ScheduledAt+Duration).
type Job struct {
	ID              string
	BusinessID      string
	WorkerID        string
	ClientID        string
	Title           string
	ScheduledAt     time.Time
	DurationMinutes int
	Status          JobStatus
	CreatedAt       time.Time
}

func (j Job) End() time.Time {
	return j.ScheduledAt.Add(time.Duration(j.DurationMinutes) * time.Minute)
}

// Overlaps tests half-open interval overlap; jobs that merely touch at an
// endpoint do not overlap.
func (j Job) Overlaps(start, end time.Time) bool {
	return start.Before(j.End()) && j.ScheduledAt.Before(end)
}

// WeeklySlot is one recurring open window for a weekday. DayOfWeek follows
// time.Weekday numbering (0 = Sunday). Times are zero-padded "HH:MM" in the
// business's local wall clock.
type WeeklySlot struct {
	ID        string
	WorkerID  string
	DayOfWeek int
	StartTime string
	EndTime   string
}

// Exception is a date-specific override. When present for a date it fully
// replaces the weekly slots: closed all day (Available=false), open for a
// sub-range (Available=true with times), or open all day (Available=true
// without times). The store enforces at most one per (worker, date).
type Exception struct {
	ID        string
	WorkerID  string
	Date      string // "2006-01-02" in business-local time
	Available bool
	StartTime string // empty means unbounded
	EndTime   string
	Reason    string
}

type Client struct {
	ID         string
	BusinessID string
	Name       string
	Email      string
	Phone      string
}

// SlotSource records which schedule layer produced a candidate slot.
type SlotSource string

const (
	SourceWeekly    SlotSource = "weekly"
	SourceException SlotSource = "exception"
)

// CandidateSlot is a derived, never-persisted (worker, interval) candidate.
type CandidateSlot struct {
	WorkerID string
	Start    time.Time
	End      time.Time
	Source   SlotSource
}
