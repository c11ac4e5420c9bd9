package availability

import (
	"testing"
	"time"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/model"
)

func TestWeekBounds_SundayStart(t *testing.T) {
	// 2026-01-07 is a Wednesday; its week runs Sunday Jan 4 to Sunday Jan 11.
	start, end := WeekBounds(time.Date(2026, 1, 7, 15, 30, 0, 0, time.UTC), time.UTC)
	if !start.Equal(time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected week start %s", start)
	}
	if !end.Equal(time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected week end %s", end)
	}

	// A Sunday anchor is its own week start.
	start, _ = WeekBounds(time.Date(2026, 1, 4, 23, 0, 0, 0, time.UTC), time.UTC)
	if !start.Equal(time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("sunday anchor should start its own week, got %s", start)
	}
}

func TestUtilization_HalfBooked(t *testing.T) {
	// 20 booked hours against 40 weekly capacity hours: 50%, tier good.
	slots := []model.WeeklySlot{
		{WorkerID: "w1", DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"},
		{WorkerID: "w1", DayOfWeek: 2, StartTime: "09:00", EndTime: "17:00"},
		{WorkerID: "w1", DayOfWeek: 3, StartTime: "09:00", EndTime: "17:00"},
		{WorkerID: "w1", DayOfWeek: 4, StartTime: "09:00", EndTime: "17:00"},
		{WorkerID: "w1", DayOfWeek: 5, StartTime: "09:00", EndTime: "17:00"},
	}
	if got := WeeklyCapacityMinutes(slots); got != 40*60 {
		t.Fatalf("expected 2400 capacity minutes, got %d", got)
	}

	var jobs []model.Job
	for i := 0; i < 5; i++ {
		jobs = append(jobs, jobAt("j", "w1", monday.AddDate(0, 0, i).Add(9*time.Hour), 4*60, model.JobScheduled))
	}
	booked := BookedMinutes(jobs)
	if booked != 20*60 {
		t.Fatalf("expected 1200 booked minutes, got %d", booked)
	}

	pct := Utilization(booked, WeeklyCapacityMinutes(slots))
	if pct != 50 {
		t.Fatalf("expected 50%%, got %d", pct)
	}
	// 50% sits in the optimal band: the worker has real load but plenty of
	// headroom, which is exactly who the ranker should favour.
	if tier := TierFor(pct); tier != TierOptimal {
		t.Fatalf("expected tier optimal, got %s", tier)
	}
}

func TestUtilization_ZeroCapacity(t *testing.T) {
	if got := Utilization(600, 0); got != 0 {
		t.Fatalf("zero capacity must yield 0, got %d", got)
	}
}

func TestUtilization_CappedAt100(t *testing.T) {
	if got := Utilization(5000, 600); got != 100 {
		t.Fatalf("expected cap at 100, got %d", got)
	}
}

func TestBookedMinutes_SkipsCancelled(t *testing.T) {
	jobs := []model.Job{
		jobAt("j1", "w1", monday, 60, model.JobScheduled),
		jobAt("j2", "w1", monday, 60, model.JobCancelled),
		jobAt("j3", "w1", monday, 60, model.JobCompleted),
	}
	// Completed work still counts toward utilization; cancelled does not.
	if got := BookedMinutes(jobs); got != 120 {
		t.Fatalf("expected 120, got %d", got)
	}
}

func TestTierThresholds(t *testing.T) {
	cases := []struct {
		pct  int
		want Tier
	}{
		{0, TierOptimal},
		{60, TierOptimal},
		{61, TierGood},
		{80, TierGood},
		{81, TierBusy},
		{95, TierBusy},
		{96, TierOverloaded},
		{100, TierOverloaded},
	}
	for _, tc := range cases {
		if got := TierFor(tc.pct); got != tc.want {
			t.Fatalf("TierFor(%d) = %s, want %s", tc.pct, got, tc.want)
		}
	}
}
